package bulk

import (
	"errors"
	"math"
	"time"
)

// PollPolicy bounds the status polling of a processing job
type PollPolicy struct {
	// BaseDelay is the wait before the first poll
	BaseDelay time.Duration `yaml:"baseDelay"`
	// Multiplier grows the delay after each poll
	Multiplier float64 `yaml:"multiplier"`
	// MaxDelay caps a single wait
	MaxDelay time.Duration `yaml:"maxDelay"`
	// Jitter is the +/- fraction applied to each delay (0 disables it)
	Jitter float64 `yaml:"jitter"`
	// MaxAttempts caps the number of status polls
	MaxAttempts int `yaml:"maxAttempts"`
	// MaxWait caps the total time spent waiting for the job
	MaxWait time.Duration `yaml:"maxWait"`
	// MaxPollErrors is the number of consecutive failed polls tolerated
	MaxPollErrors int `yaml:"maxPollErrors"`
}

// DefaultPollPolicy returns the policy used when none is configured
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		BaseDelay:     2 * time.Second,
		Multiplier:    2,
		MaxDelay:      30 * time.Second,
		Jitter:        0.2,
		MaxAttempts:   60,
		MaxWait:       10 * time.Minute,
		MaxPollErrors: 3,
	}
}

// Validate checks the policy's bounds
func (p PollPolicy) Validate() error {
	switch {
	case p.BaseDelay <= 0:
		return errors.New("poll base delay must be > 0")
	case p.Multiplier < 1:
		return errors.New("poll multiplier must be >= 1")
	case p.MaxDelay < p.BaseDelay:
		return errors.New("poll max delay must be >= base delay")
	case p.Jitter < 0 || p.Jitter >= 1:
		return errors.New("poll jitter must be in [0, 1)")
	case p.MaxAttempts <= 0:
		return errors.New("poll max attempts must be > 0")
	case p.MaxWait <= 0:
		return errors.New("poll max wait must be > 0")
	case p.MaxPollErrors < 0:
		return errors.New("poll max errors must be >= 0")
	}
	return nil
}

// Delay returns the wait before poll number attempt (0-based).
// rnd is a uniform sample in [0, 1) used for jitter.
func (p PollPolicy) Delay(attempt int, rnd float64) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rnd-1)
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Clock abstracts time for the polling loop
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
