// Package retry wraps remote calls with bounded, classified retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"infinite-experiment/tourdesk/internal/logging"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 1000 * time.Millisecond
)

// maxBackoff caps policies without a MaxDelay so waits never overflow
const maxBackoff = time.Duration(math.MaxInt64 / 2)

// Policy bounds how an operation is retried
type Policy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter adds up to Jitter*delay of random wait on top of each backoff step
	Jitter float64
	// Name labels logs and metrics
	Name string

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries three times starting at one second with exponential backoff
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   DefaultAttempts,
		Delay:      DefaultDelay,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     0.5,
	}
}

// FixedPolicy waits the same delay between every attempt
func FixedPolicy(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 1}
}

// Named returns a copy of the policy labelled for logs and metrics
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// WithSleeper swaps the wait function, used by tests to avoid real delays
func (p Policy) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// Backoff returns the wait before attempt n+1 (n starts at 0), without jitter
func (p Policy) Backoff(n int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 || ceiling > maxBackoff {
		ceiling = maxBackoff
	}
	d := float64(p.Delay)
	for i := 0; i < n; i++ {
		d *= mult
		if d >= float64(ceiling) {
			return ceiling
		}
	}
	if d >= float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}

// Wait is Backoff plus up to Jitter*Backoff of random extra delay
func (p Policy) Wait(n int) time.Duration {
	d := p.Backoff(n)
	if p.Jitter > 0 && d > 0 {
		extra := math.Min(float64(d)*p.Jitter, float64(maxBackoff))
		d += time.Duration(jitterSource.Int63n(int64(extra) + 1))
	}
	return d
}

var jitterSource = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// Observer receives one call per attempt; set by the metrics wiring
var Observer func(operation string, outcome string)

func observe(name, outcome string) {
	if Observer != nil {
		if name == "" {
			name = "unnamed"
		}
		Observer(name, outcome)
	}
}

// Do invokes op until it succeeds, returns a terminal error, or attempts run out
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := op(ctx)
		if err == nil {
			observe(p.Name, "success")
			return val, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			observe(p.Name, "terminal")
			return zero, err
		}

		if attempt == attempts {
			observe(p.Name, "exhausted")
			break
		}

		observe(p.Name, "retry")
		d := p.Wait(attempt - 1)
		logging.Debug("Retrying remote call",
			"operation", p.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"wait_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		if err := sleep(ctx, d); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Run is Do for operations without a result
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// ExhaustedError is returned once every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Classifier lets error types declare whether they are retryable
type Classifier interface {
	Retryable() bool
}

// IsRetryable reports whether another attempt may succeed
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var term *terminalError
	if errors.As(err, &term) {
		return false
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.Retryable()
	}
	return true
}
