package intcode

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		word  int64
		op    Opcode
		modes [MaxParams]Mode
	}{
		{1002, OpMultiply, [MaxParams]Mode{ModePosition, ModeImmediate, ModePosition}},
		{1, OpAdd, [MaxParams]Mode{}},
		{101, OpAdd, [MaxParams]Mode{ModeImmediate, ModePosition, ModePosition}},
		{1101, OpAdd, [MaxParams]Mode{ModeImmediate, ModeImmediate, ModePosition}},
		{3, OpInput, [MaxParams]Mode{}},
		{104, OpOutput, [MaxParams]Mode{ModeImmediate}},
		{1005, OpJumpIfTrue, [MaxParams]Mode{ModePosition, ModeImmediate}},
		{1106, OpJumpIfFalse, [MaxParams]Mode{ModeImmediate, ModeImmediate}},
		{1107, OpLessThan, [MaxParams]Mode{ModeImmediate, ModeImmediate}},
		{8, OpEquals, [MaxParams]Mode{}},
		{99, OpHalt, [MaxParams]Mode{}},
		// Mode digits beyond the parameter count are ignored.
		{11199, OpHalt, [MaxParams]Mode{}},
		{10104, OpOutput, [MaxParams]Mode{ModeImmediate}},
	}

	for _, tt := range tests {
		ins, err := Decode(tt.word)
		if err != nil {
			t.Errorf("Decode(%d) failed: %v", tt.word, err)
			continue
		}
		if ins.Op != tt.op {
			t.Errorf("Decode(%d).Op = %v, want %v", tt.word, ins.Op, tt.op)
		}
		if ins.Modes != tt.modes {
			t.Errorf("Decode(%d).Modes = %v, want %v", tt.word, ins.Modes, tt.modes)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		word int64
		want error
	}{
		{0, ErrUnknownOpcode},
		{9, ErrUnknownOpcode},
		{55, ErrUnknownOpcode},
		{5555, ErrUnknownOpcode},
		{98, ErrUnknownOpcode},
		{-1, ErrUnknownOpcode},
		{-99, ErrUnknownOpcode},
		{11101, ErrInvalidDestinationMode},
		{10001, ErrInvalidDestinationMode},
		{103, ErrInvalidDestinationMode},
		{10107, ErrInvalidDestinationMode},
		{201, ErrInvalidParameterMode},
		{204, ErrInvalidParameterMode},
		{904, ErrInvalidParameterMode},
	}

	for _, tt := range tests {
		if _, err := Decode(tt.word); !errors.Is(err, tt.want) {
			t.Errorf("Decode(%d) = %v, want %v", tt.word, err, tt.want)
		}
	}
}

func TestOpcodeShape(t *testing.T) {
	tests := []struct {
		op     Opcode
		params int
		dest   int
	}{
		{OpAdd, 3, 3},
		{OpMultiply, 3, 3},
		{OpInput, 1, 1},
		{OpOutput, 1, 0},
		{OpJumpIfTrue, 2, 0},
		{OpJumpIfFalse, 2, 0},
		{OpLessThan, 3, 3},
		{OpEquals, 3, 3},
		{OpHalt, 0, 0},
	}
	for _, tt := range tests {
		if tt.op.Params() != tt.params {
			t.Errorf("%v.Params() = %d, want %d", tt.op, tt.op.Params(), tt.params)
		}
		if tt.op.Dest() != tt.dest {
			t.Errorf("%v.Dest() = %d, want %d", tt.op, tt.op.Dest(), tt.dest)
		}
		if tt.op.Width() != int64(tt.params)+1 {
			t.Errorf("%v.Width() = %d, want %d", tt.op, tt.op.Width(), tt.params+1)
		}
	}
	if Opcode(42).Valid() {
		t.Error("Opcode(42).Valid() = true, want false")
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		op    Opcode
		modes []Mode
		want  int64
	}{
		{OpMultiply, []Mode{ModePosition, ModeImmediate}, 1002},
		{OpAdd, []Mode{ModeImmediate, ModeImmediate}, 1101},
		{OpOutput, []Mode{ModeImmediate}, 104},
		{OpHalt, nil, 99},
	}
	for _, tt := range tests {
		if got := Encode(tt.op, tt.modes...); got != tt.want {
			t.Errorf("Encode(%v, %v) = %d, want %d", tt.op, tt.modes, got, tt.want)
		}
		ins, err := Decode(tt.want)
		if err != nil || ins.Op != tt.op {
			t.Errorf("Decode(Encode(%v)) = %v, %v", tt.op, ins, err)
		}
	}
}

func TestInstructionString(t *testing.T) {
	ins, _ := Decode(1002)
	if got := ins.String(); got != "mul[010]" {
		t.Errorf("String() = %q, want %q", got, "mul[010]")
	}
	halt, _ := Decode(99)
	if got := halt.String(); got != "halt" {
		t.Errorf("String() = %q, want %q", got, "halt")
	}
}
