package editsession

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/houzhh15/eln-editsession/pkg/logger"
	"github.com/houzhh15/eln-editsession/pkg/metrics"
)

// Autosave persists every dirty field.
//
// Calls are coalesced so that at most one batch is in flight per session:
//
//   - without the lock, nothing happens;
//   - while a save is running, only the save's own call proceeds;
//   - a periodic call that finds a batch in flight queues one follow-up
//     batch and returns;
//   - a save's call that finds a batch in flight cancels the follow-up,
//     waits for the batch, and then persists whatever is still dirty;
//   - periodic calls are throttled by the backoff policy.
//
// The returned report is nil when no batch was started. Write failures are
// recorded in the report, not returned as an error.
func (s *Session) Autosave(ctx context.Context, partOfSave bool) (*BatchReport, error) {
	s.mu.Lock()
	if s.lockState != Held {
		s.mu.Unlock()
		metrics.RecordAutosaveTrigger(partOfSave, "noop")
		return nil, nil
	}
	if s.saveInProgress && !partOfSave {
		s.mu.Unlock()
		metrics.RecordAutosaveTrigger(partOfSave, "noop")
		return nil, nil
	}
	if b := s.inflight; b != nil {
		if !partOfSave {
			s.runAnother = true
			s.mu.Unlock()
			metrics.RecordAutosaveTrigger(partOfSave, "coalesced")
			return nil, nil
		}
		s.runAnother = false
		s.mu.Unlock()
		metrics.RecordAutosaveTrigger(partOfSave, "joined")

		select {
		case <-b.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.Autosave(ctx, true)
	}

	if partOfSave {
		s.resetBackoffLocked()
		metrics.SetConsecutiveFailures(s.documentID, 0)
	} else if s.shouldSkipLocked() {
		skipped := s.backoff
		s.mu.Unlock()
		metrics.RecordAutosaveTrigger(partOfSave, "skipped")
		s.log.Debug("autosave attempt skipped",
			"consecutive_failures", skipped.ConsecutiveFailures,
			"skip_attempts", skipped.SkipAttempts,
		)
		return nil, nil
	}

	b := s.startBatchLocked(partOfSave)
	timeout := s.backoff.RetryTimeout
	s.mu.Unlock()

	if len(b.report.Attempts) == 0 {
		metrics.RecordAutosaveTrigger(partOfSave, "noop")
	} else {
		metrics.RecordAutosaveTrigger(partOfSave, "started")
	}

	g := new(errgroup.Group)
	g.SetLimit(s.policy.MaxParallelWrites)
	for _, a := range b.report.Attempts {
		g.Go(func() error {
			s.postAutosave(ctx, a, timeout)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.inflight = nil
	again := s.runAnother
	s.runAnother = false
	s.mu.Unlock()
	close(b.done)

	if again {
		s.log.Debug("running queued autosave")
		if _, err := s.Autosave(ctx, false); err != nil {
			return b.report, err
		}
	}
	return b.report, nil
}

// startBatchLocked snapshots the dirty fields into a new in-flight batch
// and clears their dirty flags. Caller holds s.mu.
func (s *Session) startBatchLocked(partOfSave bool) *batch {
	report := &BatchReport{PartOfSave: partOfSave}
	for _, id := range s.order {
		f := s.fields[id]
		if !f.pending() {
			continue
		}
		v := f.editor.Value()
		f.dirty = false
		report.Attempts = append(report.Attempts, &AutosaveAttempt{
			FieldID: id,
			Value:   v,
			Outcome: AttemptPending,
		})
	}
	b := &batch{done: make(chan struct{}), report: report}
	s.inflight = b
	return b
}

// postAutosave writes one field and applies the outcome. The field's dirty
// flag was already cleared when the batch started; a failed write sets it
// again so the next batch retries.
func (s *Session) postAutosave(ctx context.Context, a *AutosaveAttempt, timeout time.Duration) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.store.AutosaveField(rctx, a.FieldID, a.Value)
	elapsed := time.Since(start)

	var notices []Notice
	s.mu.Lock()
	if err != nil {
		a.Outcome = AttemptFailure
		a.Err = err
		a.Status = StatusOf(err)
		notices = s.autosaveFailedLocked(a)
	} else {
		a.Outcome = AttemptSuccess
		notices = s.autosaveSucceededLocked(a, resp)
	}
	failures := s.backoff.ConsecutiveFailures
	s.mu.Unlock()

	outcome := "success"
	switch {
	case a.Outcome == AttemptFailure:
		outcome = "failed"
	case a.ValidationError != "":
		outcome = "invalid"
	}
	metrics.RecordFieldWrite(outcome, elapsed.Seconds())
	metrics.SetConsecutiveFailures(s.documentID, failures)
	logger.LogFieldWrite(s.log, s.documentID, a.FieldID, outcome, elapsed.Milliseconds(), a.Status)

	for _, n := range notices {
		s.notify(n)
	}
}

// autosaveFailedLocked re-dirties the field and counts the failure. The
// first failure with a given status is blocking; repeats are toasts.
// Caller holds s.mu.
func (s *Session) autosaveFailedLocked(a *AutosaveAttempt) []Notice {
	if f, ok := s.fields[a.FieldID]; ok {
		f.dirty = true
	}
	s.recordFailureLocked()

	severity := Toast
	if !s.notifiedStatus[a.Status] {
		s.notifiedStatus[a.Status] = true
		severity = Blocking
	}
	notices := []Notice{{
		Kind:     NoticeAutosaveFailed,
		Severity: severity,
		FieldID:  a.FieldID,
		Status:   a.Status,
		Message:  "Autosave failed, changes will be retried",
		Err:      a.Err,
	}}

	// the store answers 409 once our lease is gone
	if a.Status == http.StatusConflict && s.lockState == Held {
		s.loseLockLocked()
		s.log.Warn("edit lock lost during autosave", "field_id", a.FieldID)
		notices = append(notices, Notice{
			Kind:     NoticeLockLost,
			Severity: Blocking,
			FieldID:  a.FieldID,
			Status:   a.Status,
			Message:  "The edit lock was lost, request it again to continue editing",
			Err:      a.Err,
		})
	}
	return notices
}

// autosaveSucceededLocked resets the backoff after a failure streak and
// reports validation errors. A rejected value stays clean. Caller holds s.mu.
func (s *Session) autosaveSucceededLocked(a *AutosaveAttempt, resp AutosaveResponse) []Notice {
	var notices []Notice
	if s.backoff.ConsecutiveFailures > 0 {
		s.resetBackoffLocked()
		s.log.Info("autosave recovered")
		notices = append(notices, Notice{
			Kind:     NoticeAutosaveRecovered,
			Severity: Toast,
			Message:  "Autosave is working again",
		})
	}
	if !resp.Success || resp.ValidationError != "" {
		a.ValidationError = resp.ValidationError
		if a.ValidationError == "" {
			a.ValidationError = "value rejected"
		}
		notices = append(notices, Notice{
			Kind:     NoticeValidationFailed,
			Severity: Blocking,
			FieldID:  a.FieldID,
			Message:  a.ValidationError,
		})
	}
	return notices
}
