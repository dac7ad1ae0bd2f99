package editsession

import (
	"errors"
	"fmt"
)

var (
	// ErrLockNotHeld is returned by operations that need the edit lock.
	ErrLockNotHeld = errors.New("edit lock not held")

	// ErrSaveInProgress rejects a save issued while another one is active.
	ErrSaveInProgress = errors.New("save already in progress")

	// ErrLockDenied means another user holds the lock.
	ErrLockDenied = errors.New("edit lock held by another user")

	// ErrNoPermission means the user may not edit the document.
	ErrNoPermission = errors.New("no permission to edit document")

	// ErrUnknownField is returned for field ids the session does not track.
	ErrUnknownField = errors.New("unknown field")

	// ErrAutosaveIncomplete aborts a save whose autosave left failed fields.
	ErrAutosaveIncomplete = errors.New("autosave incomplete")
)

// SessionError wraps the failure of one step of a session operation.
type SessionError struct {
	Op         string // lock, fetch, rename, autosave, save, unlock
	DocumentID string
	Err        error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("editsession %s doc=%s: %v", e.Op, e.DocumentID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (s *Session) opError(op string, err error) error {
	return &SessionError{Op: op, DocumentID: s.documentID, Err: err}
}
