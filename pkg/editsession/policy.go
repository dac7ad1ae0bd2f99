package editsession

import "time"

// Policy holds the tuning constants of the autosave scheduler.
type Policy struct {
	// Interval between periodic autosave triggers.
	Interval time.Duration `yaml:"interval"`

	// FailureThreshold is the number of consecutive failures tolerated
	// before periodic attempts start being skipped.
	FailureThreshold int `yaml:"failure_threshold"`

	// RateBase, RateStep and MaxRate define the allowed attempt rate
	// r = min(RateBase + failures/RateStep, MaxRate): only every r-th
	// periodic attempt runs once the threshold is exceeded.
	RateBase int `yaml:"rate_base"`
	RateStep int `yaml:"rate_step"`
	MaxRate  int `yaml:"max_rate"`

	// BaseTimeout is the per-request autosave timeout with no failures.
	// Each consecutive failure adds TimeoutStep, capped at MaxTimeout.
	BaseTimeout time.Duration `yaml:"base_timeout"`
	TimeoutStep time.Duration `yaml:"timeout_step"`
	MaxTimeout  time.Duration `yaml:"max_timeout"`

	// NoChangeWarnAfter is the number of consecutive "no content changed"
	// saves that triggers a warning.
	NoChangeWarnAfter int `yaml:"no_change_warn_after"`

	// MaxParallelWrites bounds concurrent per-field requests of one batch.
	MaxParallelWrites int `yaml:"max_parallel_writes"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		Interval:          10 * time.Second,
		FailureThreshold:  3,
		RateBase:          2,
		RateStep:          10,
		MaxRate:           6,
		BaseTimeout:       15 * time.Second,
		TimeoutStep:       15 * time.Second,
		MaxTimeout:        60 * time.Second,
		NoChangeWarnAfter: 3,
		MaxParallelWrites: 4,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.RateBase <= 0 {
		p.RateBase = d.RateBase
	}
	if p.RateStep <= 0 {
		p.RateStep = d.RateStep
	}
	if p.MaxRate <= 0 {
		p.MaxRate = d.MaxRate
	}
	if p.BaseTimeout <= 0 {
		p.BaseTimeout = d.BaseTimeout
	}
	if p.TimeoutStep < 0 {
		p.TimeoutStep = d.TimeoutStep
	}
	if p.MaxTimeout < p.BaseTimeout {
		p.MaxTimeout = p.BaseTimeout
	}
	if p.NoChangeWarnAfter <= 0 {
		p.NoChangeWarnAfter = d.NoChangeWarnAfter
	}
	if p.MaxParallelWrites <= 0 {
		p.MaxParallelWrites = d.MaxParallelWrites
	}
	return p
}

// AttemptRate returns r for the given failure count: 1 while within the
// threshold, otherwise min(RateBase + failures/RateStep, MaxRate).
func (p Policy) AttemptRate(failures int) int {
	if failures <= p.FailureThreshold {
		return 1
	}
	return min(p.RateBase+failures/p.RateStep, p.MaxRate)
}

// RequestTimeout returns the timeout for an autosave request issued after
// the given number of consecutive failures.
func (p Policy) RequestTimeout(failures int) time.Duration {
	return min(p.BaseTimeout+time.Duration(failures)*p.TimeoutStep, p.MaxTimeout)
}

// BackoffState is a snapshot of the failure bookkeeping.
type BackoffState struct {
	ConsecutiveFailures int
	SkipAttempts        int
	RetryTimeout        time.Duration
}

// shouldSkipLocked decides whether a periodic attempt is throttled. Only
// every r-th attempt past the threshold proceeds. Caller holds s.mu.
func (s *Session) shouldSkipLocked() bool {
	r := s.policy.AttemptRate(s.backoff.ConsecutiveFailures)
	if r <= 1 {
		return false
	}
	s.backoff.SkipAttempts++
	return s.backoff.SkipAttempts%r != 0
}

// resetBackoffLocked clears the failure bookkeeping. Caller holds s.mu.
func (s *Session) resetBackoffLocked() {
	s.backoff.ConsecutiveFailures = 0
	s.backoff.SkipAttempts = 0
	s.backoff.RetryTimeout = s.policy.RequestTimeout(0)
}

// recordFailureLocked counts one failed request. Caller holds s.mu.
func (s *Session) recordFailureLocked() {
	s.backoff.ConsecutiveFailures++
	s.backoff.RetryTimeout = s.policy.RequestTimeout(s.backoff.ConsecutiveFailures)
}
