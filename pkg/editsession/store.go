package editsession

import (
	"context"
	"errors"
)

// DocumentStore is the server side of the protocol. Implementations must be
// safe for concurrent use; the Session issues per-field writes in parallel.
type DocumentStore interface {
	// RequestEditLock asks for the edit lock. It is idempotent and returns
	// the current status when the caller already holds the lock.
	RequestEditLock(ctx context.Context, documentID string) (LockResponse, error)

	// FetchUpdatedFields returns fields modified after knownModificationTimestamp.
	FetchUpdatedFields(ctx context.Context, documentID string, knownModificationTimestamp int64) ([]FieldUpdate, error)

	// AutosaveField persists one field value.
	AutosaveField(ctx context.Context, fieldID string, value Value) (AutosaveResponse, error)

	// Save performs the authoritative save and optionally releases the lock.
	Save(ctx context.Context, documentID string, unlock bool) (SaveResponse, error)

	// Unlock releases the lock. Callers treat it as best effort.
	Unlock(ctx context.Context, documentID string) error
}

// LockResponse answers RequestEditLock.
type LockResponse struct {
	Status         EditStatus `json:"status"`
	EditorUsername string     `json:"editorUsername,omitempty"`
}

// FieldUpdate is one field as returned by FetchUpdatedFields.
type FieldUpdate struct {
	FieldID               string    `json:"fieldId"`
	Kind                  FieldKind `json:"kind"`
	Value                 string    `json:"value"`
	ModificationTimestamp int64     `json:"modificationTimestamp"`
	MandatorySatisfied    bool      `json:"mandatorySatisfied"`
	Deleted               bool      `json:"deleted,omitempty"`
}

// AutosaveResponse answers AutosaveField.
type AutosaveResponse struct {
	Success         bool   `json:"success"`
	ValidationError string `json:"validationError,omitempty"`
}

// SaveResponse answers Save.
type SaveResponse struct {
	Success        bool   `json:"success"`
	ContentChanged bool   `json:"contentChanged"`
	RedirectURL    string `json:"redirectUrl,omitempty"`
}

// StatusCoder is implemented by store errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// StatusOf extracts the HTTP status from err. Timeouts and errors without a
// status report 0.
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}
