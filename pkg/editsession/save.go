package editsession

import (
	"context"
	"errors"
	"fmt"

	"github.com/houzhh15/eln-editsession/pkg/metrics"
)

// Save runs the explicit save transaction: the before-save hook, an
// autosave of every dirty field, then the authoritative save.
//
// A call made while another save is active is rejected with
// ErrSaveInProgress and has no other effect. On failure the lock state is
// unchanged and unsaved fields stay dirty.
func (s *Session) Save(ctx context.Context, opts SaveOptions) (SaveOutcome, error) {
	s.mu.Lock()
	if s.saveInProgress {
		s.mu.Unlock()
		metrics.RecordSave("rejected")
		s.log.Warn("save ignored, another save is in progress")
		return SavePending, ErrSaveInProgress
	}
	if s.lockState != Held {
		state := s.lockState
		s.mu.Unlock()
		metrics.RecordSave("rejected")
		s.log.Warn("save ignored, edit lock not held", "lock_state", state.String())
		return SaveFailed, s.opError("save", ErrLockNotHeld)
	}
	s.saveInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.saveInProgress = false
		s.mu.Unlock()
	}()

	s.log.Info("save started",
		"close", opts.Close,
		"unlock", opts.Unlock,
		"implicit", opts.Implicit,
	)

	if s.beforeSave != nil {
		if err := s.beforeSave(ctx); err != nil {
			return s.saveFailed(s.opError("rename", err))
		}
	}

	report, err := s.Autosave(ctx, true)
	if err != nil {
		return s.saveFailed(s.opError("autosave", err))
	}
	if n := report.Failures(); n > 0 {
		return s.saveFailed(s.opError("autosave", fmt.Errorf("%w: %d field(s) not persisted", ErrAutosaveIncomplete, n)))
	}
	if s.LockState() != Held {
		return s.saveFailed(s.opError("save", ErrLockNotHeld))
	}

	resp, err := s.store.Save(ctx, s.documentID, opts.Unlock)
	if err != nil {
		return s.saveFailed(s.opError("save", err))
	}
	if !resp.Success {
		return s.saveFailed(s.opError("save", errors.New("store rejected the save")))
	}

	outcome, warn, unchanged := s.completeSave(resp, opts)
	metrics.RecordSave(outcome.String())
	s.log.Info("save completed",
		"outcome", outcome.String(),
		"unchanged_saves", unchanged,
	)

	if warn {
		s.notify(Notice{
			Kind:     NoticeUnexpectedNoChange,
			Severity: Blocking,
			Message:  fmt.Sprintf("The last %d saves reported no changes; your edits may not be reaching the server", unchanged),
		})
	}
	if !opts.Implicit {
		s.notify(Notice{Kind: NoticeSaved, Severity: Toast, Message: "Document saved"})
	}

	if opts.Close {
		s.navigator.Navigate(resp.RedirectURL)
		return outcome, nil
	}
	if err := s.EnsureFieldsSynchronized(ctx, true); err != nil {
		s.log.Warn("resync after save failed", "error", err)
	}
	return outcome, nil
}

// completeSave applies a successful save response to the session state.
func (s *Session) completeSave(resp SaveResponse, opts SaveOptions) (outcome SaveOutcome, warn bool, unchanged int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome = SavedWithChange
	if resp.ContentChanged {
		s.unchangedSaves = 0
	} else {
		outcome = SavedNoChange
		if !opts.Implicit {
			s.unchangedSaves++
			warn = s.unchangedSaves >= s.policy.NoChangeWarnAfter
		}
	}
	if opts.Unlock {
		s.loseLockLocked()
	}
	return outcome, warn, s.unchangedSaves
}

func (s *Session) saveFailed(err error) (SaveOutcome, error) {
	metrics.RecordSave("failed")
	s.log.Error("save failed", "error", err, "status", StatusOf(err))
	s.notify(Notice{
		Kind:     NoticeSaveFailed,
		Severity: Blocking,
		Status:   StatusOf(err),
		Message:  "Save failed, your changes are kept and will be retried",
		Err:      err,
	})
	return SaveFailed, err
}
