// Package console connects a VM to line-oriented text streams, usually the
// process's stdin and stdout.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fortiblox/intcode/pkg/intcode"
	"golang.org/x/term"
)

// ErrBadInput is returned for a line that is not a decimal integer.
var ErrBadInput = errors.New("input is not an integer")

// Input reads one integer per line. Blank lines are skipped. It implements
// intcode.InputSource.
type Input struct {
	scanner *bufio.Scanner
	prompt  io.Writer
	line    int

	// Interactive inputs prompt before each read and ask again after a
	// bad line instead of failing.
	Interactive bool
}

// NewInput reads from r. Prompts go to prompt when r is a terminal.
func NewInput(r io.Reader, prompt io.Writer) *Input {
	in := &Input{
		scanner: bufio.NewScanner(r),
		prompt:  prompt,
	}
	if f, ok := r.(*os.File); ok {
		in.Interactive = term.IsTerminal(int(f.Fd()))
	}
	return in
}

// ReadNext implements intcode.InputSource. End of stream reports
// intcode.ErrInputExhausted.
func (in *Input) ReadNext() (int64, error) {
	for {
		if in.Interactive && in.prompt != nil {
			fmt.Fprint(in.prompt, "> ")
		}
		if !in.scanner.Scan() {
			if err := in.scanner.Err(); err != nil {
				return 0, fmt.Errorf("%w: %v", intcode.ErrInputExhausted, err)
			}
			return 0, intcode.ErrInputExhausted
		}
		in.line++

		text := strings.TrimSpace(in.scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return v, nil
		}
		if !in.Interactive {
			return 0, fmt.Errorf("%w: line %d: %q", ErrBadInput, in.line, text)
		}
		if in.prompt != nil {
			fmt.Fprintf(in.prompt, "not an integer: %q\n", text)
		}
	}
}

// Output prints each value on its own line. It implements
// intcode.OutputSink.
type Output struct {
	w io.Writer
}

// NewOutput writes to w.
func NewOutput(w io.Writer) *Output {
	return &Output{w: w}
}

// WriteValue implements intcode.OutputSink.
func (o *Output) WriteValue(v int64) error {
	_, err := fmt.Fprintln(o.w, v)
	return err
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
