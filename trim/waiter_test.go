package trim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWaitConfig() WaitConfig {
	return WaitConfig{
		Tolerance:       20,
		MaxWait:         5 * time.Second,
		PollInterval:    100 * time.Millisecond,
		MaxReadFailures: 3,
	}
}

func TestWaiter_AlreadyWithinTolerance(t *testing.T) {
	tests := []struct {
		name     string
		position int
		target   int
	}{
		{"exact", 500, 500},
		{"undershoot at edge", 480, 500},
		{"overshoot at edge", 520, 500},
		{"near zero", 0, 15},
		{"near top", 1000, 985},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newStepClock()
			sim := &simServo{position: tt.position, target: tt.position}
			w := NewWaiter(testWaitConfig(), clk, nil)

			out, err := w.Wait(context.Background(), sim, tt.target)
			require.NoError(t, err)

			assert.True(t, out.Reached)
			assert.True(t, out.Sampled)
			assert.Equal(t, tt.position, out.Position)
			assert.Equal(t, 1, out.Polls)
			assert.Zero(t, out.Elapsed)
			assert.Empty(t, clk.sleeps, "no delay before an immediate success")
		})
	}
}

func TestWaiter_JustOutsideToleranceIsNotReached(t *testing.T) {
	for _, pos := range []int{479, 521} {
		sim := &simServo{position: pos, target: pos}
		cfg := testWaitConfig()
		cfg.MaxWait = 200 * time.Millisecond
		w := NewWaiter(cfg, newStepClock(), nil)

		out, err := w.Wait(context.Background(), sim, 500)
		require.NoError(t, err)
		assert.False(t, out.Reached, "position %d", pos)
		assert.Equal(t, pos, out.Position)
	}
}

func TestWaiter_Converges(t *testing.T) {
	clk := newStepClock()
	sim := &simServo{position: 100, target: 800, step: 100}
	w := NewWaiter(testWaitConfig(), clk, nil)

	out, err := w.Wait(context.Background(), sim, 800)
	require.NoError(t, err)

	assert.True(t, out.Reached)
	assert.Equal(t, 800, out.Position)
	assert.Equal(t, 8, out.Polls)
	assert.Equal(t, 700*time.Millisecond, out.Elapsed)
	assert.Equal(t, 8, sim.reads, "one read per poll")
	for _, d := range clk.sleeps {
		assert.Equal(t, 100*time.Millisecond, d)
	}
}

func TestWaiter_OvershootSettles(t *testing.T) {
	sim := &simServo{script: []int{100, 500, 870, 830, 815}}
	w := NewWaiter(testWaitConfig(), newStepClock(), nil)

	out, err := w.Wait(context.Background(), sim, 800)
	require.NoError(t, err)

	assert.True(t, out.Reached)
	assert.Equal(t, 815, out.Position)
	assert.Equal(t, 5, out.Polls)
}

func TestWaiter_TimesOut(t *testing.T) {
	cfg := testWaitConfig()
	clk := newStepClock()
	sim := &simServo{position: 100, target: 100}
	w := NewWaiter(cfg, clk, nil)

	out, err := w.Wait(context.Background(), sim, 800)
	require.NoError(t, err, "a timeout is an outcome, not an error")

	assert.False(t, out.Reached)
	assert.True(t, out.Sampled)
	assert.Equal(t, 100, out.Position)
	assert.Greater(t, out.Elapsed, cfg.MaxWait)
	assert.LessOrEqual(t, out.Elapsed, cfg.MaxWait+cfg.PollInterval)
	assert.Equal(t, 52, out.Polls)
}

func TestWaiter_TimeoutReportsLastSample(t *testing.T) {
	cfg := testWaitConfig()
	cfg.MaxWait = 300 * time.Millisecond
	sim := &simServo{script: []int{100, 300, 500, 600, 650}}
	w := NewWaiter(cfg, newStepClock(), nil)

	out, err := w.Wait(context.Background(), sim, 800)
	require.NoError(t, err)

	assert.False(t, out.Reached)
	assert.Equal(t, 650, out.Position)
	assert.Equal(t, 5, out.Polls)
}

func TestWaiter_SlowReadsStretchTimeout(t *testing.T) {
	cfg := testWaitConfig()
	cfg.MaxWait = time.Second
	clk := newStepClock()
	sim := &simServo{position: 0, target: 0, clock: clk, latency: 300 * time.Millisecond}
	w := NewWaiter(cfg, clk, nil)

	out, err := w.Wait(context.Background(), sim, 800)
	require.NoError(t, err)

	assert.False(t, out.Reached)
	assert.Equal(t, 3, out.Polls)
	assert.Equal(t, 1100*time.Millisecond, out.Elapsed)
}

func TestWaiter_RetriesFailedReads(t *testing.T) {
	busErr := errors.New("no status packet")
	sim := &simServo{
		position: 795,
		target:   795,
		readErrs: map[int]error{1: busErr, 2: busErr},
	}
	var samples []Sample
	w := NewWaiter(testWaitConfig(), newStepClock(), nil)
	w.OnSample = func(s Sample) { samples = append(samples, s) }

	out, err := w.Wait(context.Background(), sim, 800)
	require.NoError(t, err)

	assert.True(t, out.Reached)
	assert.Equal(t, 795, out.Position)
	assert.Equal(t, 3, out.Polls)
	require.Len(t, samples, 3)
	assert.ErrorIs(t, samples[0].Err, busErr)
	assert.ErrorIs(t, samples[1].Err, busErr)
	assert.NoError(t, samples[2].Err)
}

func TestWaiter_FailedReadIsNeverCompared(t *testing.T) {
	// A failed read yields 0, which would be within tolerance of target 0.
	busErr := errors.New("no status packet")
	cfg := testWaitConfig()
	cfg.MaxReadFailures = 0
	cfg.MaxWait = 300 * time.Millisecond
	sim := &simServo{alwaysErr: busErr}
	w := NewWaiter(cfg, newStepClock(), nil)

	out, err := w.Wait(context.Background(), sim, 0)
	require.NoError(t, err)

	assert.False(t, out.Reached)
	assert.False(t, out.Sampled)
	assert.Equal(t, 5, out.Polls)
}

func TestWaiter_GivesUpAfterConsecutiveFailures(t *testing.T) {
	busErr := errors.New("no status packet")
	sim := &simServo{alwaysErr: busErr}
	w := NewWaiter(testWaitConfig(), newStepClock(), nil)

	out, err := w.Wait(context.Background(), sim, 800)

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, busErr)
	assert.Equal(t, 800, readErr.Target)
	assert.Equal(t, 3, readErr.Attempts)
	assert.Equal(t, 3, out.Polls)
	assert.False(t, out.Sampled)
}

func TestWaiter_SuccessResetsFailureCount(t *testing.T) {
	busErr := errors.New("no status packet")
	cfg := testWaitConfig()
	cfg.MaxReadFailures = 2
	cfg.MaxWait = 500 * time.Millisecond
	sim := &simServo{
		position: 100,
		target:   100,
		readErrs: map[int]error{1: busErr, 3: busErr, 5: busErr},
	}
	w := NewWaiter(cfg, newStepClock(), nil)

	out, err := w.Wait(context.Background(), sim, 800)
	require.NoError(t, err)
	assert.False(t, out.Reached)
	assert.Equal(t, 100, out.Position)
}

func TestWaiter_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sim := &simServo{position: 100, target: 100}
	w := NewWaiter(testWaitConfig(), clock.NewMock(), nil)
	w.OnSample = func(Sample) { cancel() }

	out, err := w.Wait(ctx, sim, 800)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, out.Polls)
}

func TestWaiter_StuckBusDoesNotHang(t *testing.T) {
	cfg := testWaitConfig()
	mockClock := clock.NewMock()
	sim := &simServo{position: 100, target: 100}
	w := NewWaiter(cfg, mockClock, nil)

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := w.Wait(context.Background(), sim, 800)
		done <- result{out, err}
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.False(t, r.out.Reached)
			assert.Equal(t, 100, r.out.Position)
			assert.Greater(t, r.out.Elapsed, cfg.MaxWait)
			return
		case <-deadline:
			t.Fatal("waiter did not give up on a stuck servo")
		case <-time.After(time.Millisecond):
			mockClock.Add(cfg.PollInterval)
		}
	}
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, withinTolerance(100, 100, 0))
	assert.True(t, withinTolerance(80, 100, 20))
	assert.True(t, withinTolerance(120, 100, 20))
	assert.False(t, withinTolerance(79, 100, 20))
	assert.False(t, withinTolerance(121, 100, 20))
}
