// Package console provides operator input for the trim session: a line editor
// for terminals and a plain line reader for pipes and scripts.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/chzyer/readline"
)

// Readline reads operator input with line editing and history.
type Readline struct {
	rl *readline.Instance
}

// NewReadline starts a line editor on the terminal.
func NewReadline() (*Readline, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Readline{rl: rl}, nil
}

// ReadLine shows prompt and returns the entered line. Ctrl-C and Ctrl-D both
// end input with io.EOF. The terminal delivers Ctrl-C to the editor itself, so
// ctx is only checked before the prompt is shown.
func (r *Readline) ReadLine(ctx context.Context, prompt string) (string, error) {
	if ctx.Err() != nil {
		return "", io.EOF
	}
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	return line, endOfInput(err)
}

// Stdout returns a writer that does not garble the prompt.
func (r *Readline) Stdout() io.Writer {
	return r.rl.Stdout()
}

func (r *Readline) Close() error {
	return r.rl.Close()
}

func endOfInput(err error) error {
	if errors.Is(err, readline.ErrInterrupt) {
		return io.EOF
	}
	return err
}

// Reader reads newline separated input, printing each prompt to out. Lines
// are scanned on a background goroutine so a blocked read can be abandoned.
type Reader struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan scanned
}

type scanned struct {
	line string
	err  error
}

// NewReader returns a Reader over in. Prompts go to out unless it is nil.
func NewReader(in io.Reader, out io.Writer) *Reader {
	if out == nil {
		out = io.Discard
	}
	return &Reader{in: in, out: out, lines: make(chan scanned)}
}

// ReadLine returns the next line without its line ending. It returns io.EOF
// at end of input and as soon as ctx is cancelled.
func (r *Reader) ReadLine(ctx context.Context, prompt string) (string, error) {
	if ctx.Err() != nil {
		return "", io.EOF
	}
	fmt.Fprint(r.out, prompt)
	r.once.Do(func() { go r.scan() })

	select {
	case <-ctx.Done():
		return "", io.EOF
	case s, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return s.line, s.err
	}
}

func (r *Reader) scan() {
	defer close(r.lines)

	scanner := bufio.NewScanner(r.in)
	for scanner.Scan() {
		r.lines <- scanned{line: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		r.lines <- scanned{err: err}
	}
}
