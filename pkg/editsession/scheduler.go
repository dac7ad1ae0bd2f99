package editsession

import (
	"context"
	"time"
)

// Start begins periodic autosave in a background goroutine. Each tick
// triggers Autosave(ctx, false) in its own goroutine, so ticks that land
// while a batch is running are coalesced rather than queued.
//
// The loop stops when:
//   - Stop() or Close() is called
//   - ctx is cancelled
//
// Calling Start on a running session does nothing.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	interval := s.policy.Interval
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stop, interval)
	s.log.Info("autosave scheduler started", "interval", interval.String())
}

func (s *Session) loop(ctx context.Context, stop <-chan struct{}, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if _, err := s.Autosave(ctx, false); err != nil {
					s.log.Debug("periodic autosave interrupted", "error", err)
				}
			}()
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stopCh == stop {
				s.running = false
			}
			s.mu.Unlock()
			return
		}
	}
}

// Stop ends the periodic loop and waits for running ticks to finish.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("autosave scheduler stopped")
}

// Close tears the session down: the scheduler is stopped and a lock that
// is still held is released on a best-effort basis.
func (s *Session) Close(ctx context.Context) error {
	s.Stop()
	return s.Unlock(ctx)
}
