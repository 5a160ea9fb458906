package trim

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// WaitConfig controls how a Waiter watches a move.
type WaitConfig struct {
	// Tolerance is the allowed absolute distance from the target.
	Tolerance int

	// MaxWait bounds the whole wait. Granularity is one read plus one PollInterval.
	MaxWait time.Duration

	// PollInterval is the pause between two reads.
	PollInterval time.Duration

	// MaxReadFailures consecutive failed reads abort the wait with a *ReadError.
	// Zero keeps retrying until MaxWait.
	MaxReadFailures int
}

// DefaultWaitConfig returns the settings used for an SC15 in a model.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Tolerance:       20,
		MaxWait:         5 * time.Second,
		PollInterval:    100 * time.Millisecond,
		MaxReadFailures: 3,
	}
}

// Clock is the part of clock.Clock the waiter uses.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
}

var _ Clock = clock.New()

// PositionReader is the read side of a Link.
type PositionReader interface {
	ReadPosition(ctx context.Context) (int, error)
}

// Outcome is the result of one wait.
type Outcome struct {
	Reached bool

	// Position is the last successfully sampled position; valid when Sampled.
	Position int
	Sampled  bool

	Polls   int
	Elapsed time.Duration
}

// Sample is one poll as seen by an observer.
type Sample struct {
	Target   int
	Position int
	Err      error
	Elapsed  time.Duration
}

// ReadError means the waiter gave up because the servo could not be read.
type ReadError struct {
	Target   int
	Attempts int
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("waiting for position %d: %d consecutive reads failed: %v", e.Target, e.Attempts, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Waiter polls a servo until it settles near a target.
type Waiter struct {
	cfg    WaitConfig
	clock  Clock
	logger *zap.SugaredLogger

	// OnSample, when set, is called after every read.
	OnSample func(Sample)
}

// NewWaiter returns a Waiter. A nil clock uses wall time, a nil logger discards.
func NewWaiter(cfg WaitConfig, clk Clock, logger *zap.SugaredLogger) *Waiter {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Waiter{cfg: cfg, clock: clk, logger: logger}
}

// Wait reads the position until it is within tolerance of target or MaxWait
// has passed. A servo already in the band returns after one read without
// sleeping. Running out of time is not an error: the Outcome says so.
//
// Failed reads are never compared with the target. They are retried on the
// normal schedule and abort the wait once MaxReadFailures happen in a row.
func (w *Waiter) Wait(ctx context.Context, r PositionReader, target int) (Outcome, error) {
	var (
		out      Outcome
		failures int
		start    = w.clock.Now()
	)

	for {
		pos, err := r.ReadPosition(ctx)
		out.Polls++
		out.Elapsed = w.clock.Since(start)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			failures++
			w.logger.Warnw("position read failed", "target", target, "consecutive", failures, "error", err)
			if w.cfg.MaxReadFailures > 0 && failures >= w.cfg.MaxReadFailures {
				return out, &ReadError{Target: target, Attempts: failures, Err: err}
			}
		} else {
			failures = 0
			out.Position, out.Sampled = pos, true
			w.logger.Debugw("poll", "target", target, "position", pos, "elapsed", out.Elapsed)
		}

		if w.OnSample != nil {
			w.OnSample(Sample{Target: target, Position: pos, Err: err, Elapsed: out.Elapsed})
		}

		if err == nil && withinTolerance(pos, target, w.cfg.Tolerance) {
			out.Reached = true
			return out, nil
		}

		if out.Elapsed > w.cfg.MaxWait {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-w.clock.After(w.cfg.PollInterval):
		}
	}
}

func withinTolerance(pos, target, tolerance int) bool {
	d := pos - target
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
