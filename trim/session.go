package trim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Console supplies operator input one line at a time. It returns io.EOF when
// the operator is gone: end of input, an interrupt or a cancelled ctx.
type Console interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
}

// Params are the values entered at the start of each round.
type Params struct {
	Speed     int
	PositionA int
	PositionB int
}

// Limits bound the operator's input.
type Limits struct {
	SpeedMin    int
	SpeedMax    int
	PositionMin int
	PositionMax int
}

// DefaultLimits allows speeds 0-2000 and positions 0-1000.
func DefaultLimits() Limits {
	return Limits{SpeedMax: 2000, PositionMax: 1000}
}

// SetupError means the servo link could not be opened; nothing was acquired.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return "connection failed: " + e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

type phase int

const (
	phaseParameters phase = iota
	phaseCommands
	phaseDone
)

var (
	reachedColor = color.New(color.FgGreen)
	timeoutColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
)

// Session is the interactive trim loop. It is a state machine advanced by
// Step; Run wraps it with link setup and shutdown.
type Session struct {
	link     Link
	console  Console
	out      io.Writer
	logger   *zap.SugaredLogger
	clock    Clock
	waitCfg  WaitConfig
	limits   Limits
	progress bool

	waiter *Waiter
	phase  phase
	params Params

	// nextA selects position A for the next toggle. It survives restarts.
	nextA bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClock replaces wall time in the waiter.
func WithClock(clk Clock) Option {
	return func(s *Session) { s.clock = clk }
}

// WithWaitConfig sets tolerance and timing of the settle wait.
func WithWaitConfig(cfg WaitConfig) Option {
	return func(s *Session) { s.waitCfg = cfg }
}

// WithLimits sets the accepted input ranges.
func WithLimits(l Limits) Option {
	return func(s *Session) { s.limits = l }
}

// WithOutput redirects operator messages, os.Stdout by default.
func WithOutput(w io.Writer) Option {
	return func(s *Session) { s.out = w }
}

// WithProgress prints every sampled position while waiting.
func WithProgress(enabled bool) Option {
	return func(s *Session) { s.progress = enabled }
}

// NewSession returns a session that has not touched the link yet.
func NewSession(link Link, console Console, opts ...Option) *Session {
	s := &Session{
		link:    link,
		console: console,
		out:     os.Stdout,
		logger:  zap.NewNop().Sugar(),
		waitCfg: DefaultWaitConfig(),
		limits:  DefaultLimits(),
		nextA:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.waiter = NewWaiter(s.waitCfg, s.clock, s.logger)
	if s.progress {
		s.waiter.OnSample = s.printSample
	}
	return s
}

// Params returns the parameters of the current round.
func (s *Session) Params() Params {
	return s.params
}

// Done reports whether the operator has quit.
func (s *Session) Done() bool {
	return s.phase == phaseDone
}

// Run opens the link, enables torque and steps until the operator quits or
// something fails. Once the link is open, torque is disabled and the link
// closed exactly once on every path out.
func (s *Session) Run(ctx context.Context) (err error) {
	if err := s.link.Open(ctx); err != nil {
		errorColor.Fprintf(s.out, "Connection failed: %v\n", err)
		return &SetupError{Err: err}
	}
	s.logger.Infow("servo link open")

	defer func() {
		err = multierr.Append(err, s.shutdown())
		fmt.Fprintln(s.out, "Program ended")
	}()

	if err := s.link.SetTorqueEnabled(ctx, true); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}

	for !s.Done() {
		if err := s.Step(ctx); err != nil {
			s.logger.Errorw("session aborted", "error", err)
			return err
		}
	}
	return nil
}

// Step performs one unit of work: a full parameter entry, or one command.
func (s *Session) Step(ctx context.Context) error {
	var err error
	switch s.phase {
	case phaseParameters:
		err = s.enterParameters(ctx)
	case phaseCommands:
		err = s.nextCommand(ctx)
	default:
		return nil
	}

	if errors.Is(err, io.EOF) {
		s.logger.Debugw("input closed")
		s.phase = phaseDone
		return nil
	}
	return err
}

func (s *Session) shutdown() error {
	// The caller's context may already be cancelled; the servo still has to be released.
	ctx := context.Background()

	var err error
	if e := s.link.SetTorqueEnabled(ctx, false); e != nil {
		err = multierr.Append(err, fmt.Errorf("disable torque: %w", e))
	}
	if e := s.link.Close(); e != nil {
		err = multierr.Append(err, fmt.Errorf("close link: %w", e))
	}
	if err != nil {
		s.logger.Errorw("shutdown incomplete", "error", err)
	} else {
		s.logger.Infow("torque disabled, link closed")
	}
	return err
}

func (s *Session) enterParameters(ctx context.Context) error {
	fmt.Fprintln(s.out, "\n--- Servo Trim Program ---")

	if pos, err := s.link.ReadPosition(ctx); err != nil {
		s.logger.Warnw("could not read current position", "error", err)
		fmt.Fprintf(s.out, "Current position: unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(s.out, "Current position: %d\n", pos)
	}

	l := s.limits
	speed, err := s.askNumber(ctx, fmt.Sprintf("Speed (%d-%d): ", l.SpeedMin, l.SpeedMax), l.SpeedMin, l.SpeedMax)
	if err != nil {
		return err
	}
	a, err := s.askNumber(ctx, fmt.Sprintf("First position (%d-%d): ", l.PositionMin, l.PositionMax), l.PositionMin, l.PositionMax)
	if err != nil {
		return err
	}
	b, err := s.askNumber(ctx, fmt.Sprintf("Second position (%d-%d): ", l.PositionMin, l.PositionMax), l.PositionMin, l.PositionMax)
	if err != nil {
		return err
	}

	s.params = Params{Speed: speed, PositionA: a, PositionB: b}
	s.logger.Infow("parameters set", "speed", speed, "position_a", a, "position_b", b)

	s.printHelp()
	s.phase = phaseCommands
	return nil
}

func (s *Session) askNumber(ctx context.Context, prompt string, lo, hi int) (int, error) {
	for {
		line, err := s.console.ReadLine(ctx, prompt)
		if err != nil {
			return 0, err
		}

		v, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			fmt.Fprintln(s.out, "Please enter a valid number")
			continue
		}
		if v < lo || v > hi {
			fmt.Fprintf(s.out, "Value must be between %d and %d\n", lo, hi)
			continue
		}
		return v, nil
	}
}

func (s *Session) nextCommand(ctx context.Context) error {
	line, err := s.console.ReadLine(ctx, "Command: ")
	if err != nil {
		return err
	}

	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "":
	case "t":
		return s.toggle(ctx)
	case "r":
		s.phase = phaseParameters
	case "q":
		s.phase = phaseDone
	case "h", "?":
		s.printHelp()
	default:
		errorColor.Fprintf(s.out, "Unknown command: %s\n", cmd)
	}
	return nil
}

func (s *Session) toggle(ctx context.Context) error {
	target := s.params.PositionB
	if s.nextA {
		target = s.params.PositionA
	}
	s.nextA = !s.nextA

	if err := s.link.WriteSpeed(ctx, s.params.Speed); err != nil {
		return fmt.Errorf("write speed %d: %w", s.params.Speed, err)
	}
	if err := s.link.WriteTargetPosition(ctx, target); err != nil {
		return fmt.Errorf("write target position %d: %w", target, err)
	}
	fmt.Fprintf(s.out, "Moving to position: %d\n", target)

	out, err := s.waiter.Wait(ctx, s.link, target)
	if err != nil {
		return err
	}
	s.logger.Infow("move finished",
		"target", target, "reached", out.Reached, "position", out.Position,
		"polls", out.Polls, "elapsed", out.Elapsed)

	switch {
	case out.Reached:
		// The servo can still creep after the last in-band sample.
		pos, err := s.link.ReadPosition(ctx)
		if err != nil {
			s.logger.Warnw("re-reading reached position failed", "error", err)
			pos = out.Position
		}
		reachedColor.Fprintf(s.out, "Position reached: %d\n", pos)
	case out.Sampled:
		timeoutColor.Fprintf(s.out, "Position not reached within timeout (last position: %d)\n", out.Position)
	default:
		timeoutColor.Fprintln(s.out, "Position not reached within timeout (no position read)")
	}
	return nil
}

func (s *Session) printSample(smp Sample) {
	if smp.Err != nil {
		fmt.Fprintf(s.out, "  position: read failed (%v)\n", smp.Err)
		return
	}
	fmt.Fprintf(s.out, "  position: %d\n", smp.Position)
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out, "\nCommands: 't' = Toggle, 'r' = Restart, 'q' = Quit, 'h' = Help")
}
