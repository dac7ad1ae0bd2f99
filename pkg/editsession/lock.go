package editsession

import (
	"context"
	"fmt"

	"github.com/houzhh15/eln-editsession/pkg/metrics"
)

// lockResult is the value shared by concurrent RequestEditLock callers.
type lockResult struct {
	state LockState
	err   error
}

// RequestEditLock negotiates the edit lock with the store.
//
// A session already in Held returns immediately. When the document was
// loaded in EDIT_MODE the lock is taken without a network call. Otherwise
// the session moves to Pending and one request is issued; concurrent
// callers share its result. The shared request is bounded by the policy's
// base request timeout rather than by any one caller's context, so a caller
// that gives up returns ctx.Err() while the others still get the outcome. Denials are reported to the notifier as
// blocking notices and are not retried.
func (s *Session) RequestEditLock(ctx context.Context) (LockState, error) {
	s.mu.Lock()
	if s.lockState == Held {
		s.mu.Unlock()
		return Held, nil
	}
	if s.initialStatus == StatusEditMode {
		// granted during load; only honoured once
		s.initialStatus = ""
		s.lockState = Held
		s.currentEditor = ""
		s.mu.Unlock()
		metrics.RecordLockRequest("preloaded")
		s.log.Info("edit lock already granted at load")
		return Held, nil
	}
	s.lockState = Pending
	s.mu.Unlock()

	ch := s.calls.DoChan("edit-lock", func() (any, error) {
		// shared by all callers, so not bound to any one of them
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.RequestTimeout(0))
		defer cancel()
		resp, err := s.store.RequestEditLock(rctx, s.documentID)
		res, n := s.applyLockResponse(resp, err)
		if n != nil {
			s.notify(*n)
		}
		return res, nil
	})
	select {
	case r := <-ch:
		res := r.Val.(lockResult)
		return res.state, res.err
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// applyLockResponse performs the Pending transition for one lock response
// and returns the notice to surface, if any.
func (s *Session) applyLockResponse(resp LockResponse, err error) (lockResult, *Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lockState = NoLock
		metrics.RecordLockRequest("error")
		s.log.Error("edit lock request failed", "error", err, "status", StatusOf(err))
		return lockResult{state: NoLock, err: s.opError("lock", err)}, &Notice{
			Kind:     NoticeLockFailed,
			Severity: Blocking,
			Status:   StatusOf(err),
			Message:  "Could not obtain the edit lock",
			Err:      err,
		}
	}

	switch resp.Status {
	case StatusEditMode:
		s.lockState = Held
		s.currentEditor = ""
		metrics.RecordLockRequest("granted")
		s.log.Info("edit lock granted")
		return lockResult{state: Held}, nil
	case StatusOtherEditing:
		s.lockState = DeniedByOtherEditor
		s.currentEditor = resp.EditorUsername
		metrics.RecordLockRequest("other_editor")
		s.log.Info("edit lock denied", "editor", resp.EditorUsername)
		return lockResult{state: DeniedByOtherEditor, err: fmt.Errorf("%w: %s", ErrLockDenied, resp.EditorUsername)}, &Notice{
			Kind:     NoticeLockDenied,
			Severity: Blocking,
			Message:  fmt.Sprintf("Document is being edited by %s", resp.EditorUsername),
		}
	case StatusNoPermission, StatusViewMode:
		s.lockState = DeniedNoPermission
		s.currentEditor = ""
		metrics.RecordLockRequest("no_permission")
		s.log.Info("edit lock denied, no permission", "status", string(resp.Status))
		return lockResult{state: DeniedNoPermission, err: ErrNoPermission}, &Notice{
			Kind:     NoticeLockNoPermission,
			Severity: Blocking,
			Message:  "You do not have permission to edit this document",
		}
	default:
		s.lockState = NoLock
		metrics.RecordLockRequest("error")
		uerr := fmt.Errorf("unexpected edit status %q", resp.Status)
		s.log.Error("edit lock request failed", "error", uerr)
		return lockResult{state: NoLock, err: s.opError("lock", uerr)}, &Notice{
			Kind:     NoticeLockFailed,
			Severity: Blocking,
			Message:  "Could not obtain the edit lock",
			Err:      uerr,
		}
	}
}

// Unlock releases the lock if it is held. Errors are logged and returned
// but the session always ends in NoLock.
func (s *Session) Unlock(ctx context.Context) error {
	s.mu.Lock()
	if s.lockState != Held {
		s.mu.Unlock()
		return nil
	}
	s.loseLockLocked()
	s.mu.Unlock()

	if err := s.store.Unlock(ctx, s.documentID); err != nil {
		s.log.Warn("unlock failed", "error", err)
		return s.opError("unlock", err)
	}
	s.log.Info("edit lock released")
	return nil
}
