package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
)

func TestInputReadNext(t *testing.T) {
	in := NewInput(strings.NewReader("5\n\n  -12 \n9223372036854775807\n"), nil)
	if in.Interactive {
		t.Fatal("string reader reported interactive")
	}

	for _, want := range []int64{5, -12, 9223372036854775807} {
		got, err := in.ReadNext()
		if err != nil {
			t.Fatalf("ReadNext() error = %v", err)
		}
		if got != want {
			t.Errorf("ReadNext() = %d, want %d", got, want)
		}
	}
	if _, err := in.ReadNext(); !errors.Is(err, intcode.ErrInputExhausted) {
		t.Errorf("ReadNext() at EOF = %v, want ErrInputExhausted", err)
	}
}

func TestInputBadLine(t *testing.T) {
	in := NewInput(strings.NewReader("1\nabc\n"), nil)
	if _, err := in.ReadNext(); err != nil {
		t.Fatalf("ReadNext() error = %v", err)
	}
	_, err := in.ReadNext()
	if !errors.Is(err, ErrBadInput) {
		t.Fatalf("ReadNext() = %v, want ErrBadInput", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not name the line", err)
	}
}

func TestInputInteractive(t *testing.T) {
	var prompt bytes.Buffer
	in := NewInput(strings.NewReader("x\n7\n"), &prompt)
	in.Interactive = true

	got, err := in.ReadNext()
	if err != nil {
		t.Fatalf("ReadNext() error = %v", err)
	}
	if got != 7 {
		t.Errorf("ReadNext() = %d, want 7", got)
	}
	if want := "> not an integer: \"x\"\n> "; prompt.String() != want {
		t.Errorf("prompt output = %q, want %q", prompt.String(), want)
	}
}

func TestOutput(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(&buf)
	for _, v := range []int64{1, -2, 300} {
		if err := out.WriteValue(v); err != nil {
			t.Fatalf("WriteValue() error = %v", err)
		}
	}
	if buf.String() != "1\n-2\n300\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestConsoleDrivesVM(t *testing.T) {
	program, err := loader.Parse("3,9,8,9,10,9,4,9,99,-1,8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		input string
		want  string
	}{
		{"8\n", "1\n"},
		{"3\n", "0\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		vm := intcode.New(program, intcode.Options{
			Input:  NewInput(strings.NewReader(tt.input), nil),
			Output: NewOutput(&buf),
		})
		if state := vm.Run(); state != intcode.StateHalted {
			t.Fatalf("Run(%q) = %v, want halted (%v)", tt.input, state, vm.Err())
		}
		if buf.String() != tt.want {
			t.Errorf("Run(%q) printed %q, want %q", tt.input, buf.String(), tt.want)
		}
	}

	// No input at all faults.
	vm := intcode.New(program, intcode.Options{Input: NewInput(strings.NewReader(""), nil)})
	if state := vm.Run(); state != intcode.StateFaulted {
		t.Errorf("Run(empty) = %v, want faulted", state)
	}
}
