// Package intcode defines opcodes and instruction decoding.
package intcode

import "fmt"

// Opcode selects the operation of an instruction. It is the low two
// decimal digits of the instruction word.
type Opcode int64

// Opcodes.
const (
	OpAdd         Opcode = 1  // a + b -> dest
	OpMultiply    Opcode = 2  // a * b -> dest
	OpInput       Opcode = 3  // input -> dest
	OpOutput      Opcode = 4  // a -> output
	OpJumpIfTrue  Opcode = 5  // a != 0 ? ip = target
	OpJumpIfFalse Opcode = 6  // a == 0 ? ip = target
	OpLessThan    Opcode = 7  // a < b -> dest
	OpEquals      Opcode = 8  // a == b -> dest
	OpHalt        Opcode = 99 // stop
)

// MaxParams is the largest parameter count of any opcode.
const MaxParams = 3

// Mode is the addressing mode of a single parameter.
type Mode uint8

// Parameter modes.
const (
	ModePosition  Mode = 0 // parameter is an address
	ModeImmediate Mode = 1 // parameter is the value
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// opInfo describes the shape of an opcode.
type opInfo struct {
	name   string
	params int
	// dest is the 1-based index of the write-destination parameter, 0 if none.
	dest int
}

var opTable = map[Opcode]opInfo{
	OpAdd:         {"add", 3, 3},
	OpMultiply:    {"mul", 3, 3},
	OpInput:       {"in", 1, 1},
	OpOutput:      {"out", 1, 0},
	OpJumpIfTrue:  {"jt", 2, 0},
	OpJumpIfFalse: {"jf", 2, 0},
	OpLessThan:    {"lt", 3, 3},
	OpEquals:      {"eq", 3, 3},
	OpHalt:        {"halt", 0, 0},
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opTable[op]
	return ok
}

// Params returns the number of parameters taken by op.
func (op Opcode) Params() int {
	return opTable[op].params
}

// Width returns the number of memory words occupied by an instruction with
// this opcode, including the instruction word itself.
func (op Opcode) Width() int64 {
	return int64(op.Params()) + 1
}

// Dest returns the 1-based index of the parameter op writes to, or 0.
func (op Opcode) Dest() int {
	return opTable[op].dest
}

// String returns the mnemonic of op.
func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(%d)", int64(op))
}

// Instruction is a decoded instruction word.
type Instruction struct {
	Op    Opcode
	Modes [MaxParams]Mode
}

// Mode returns the mode of the 1-based parameter i.
func (ins Instruction) Mode(i int) Mode {
	return ins.Modes[i-1]
}

// String formats the instruction as "mnemonic[modes]".
func (ins Instruction) String() string {
	n := ins.Op.Params()
	if n == 0 {
		return ins.Op.String()
	}
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = '0' + byte(ins.Modes[i])
	}
	return fmt.Sprintf("%s[%s]", ins.Op, b)
}

// Decode splits an instruction word into its opcode and parameter modes.
//
// The two least-significant decimal digits form the opcode; the remaining
// digits, read right to left, give the modes of parameters 1..3. Digits that
// are absent default to position mode. Digits above the opcode's parameter
// count are ignored. A write destination in immediate mode is rejected with
// ErrInvalidDestinationMode.
func Decode(word int64) (Instruction, error) {
	return decode(word, true)
}

func decode(word int64, strictDest bool) (Instruction, error) {
	var ins Instruction
	if word < 0 {
		return ins, fmt.Errorf("%w: negative instruction word %d", ErrUnknownOpcode, word)
	}

	ins.Op = Opcode(word % 100)
	if !ins.Op.Valid() {
		return ins, fmt.Errorf("%w: %d (word %d)", ErrUnknownOpcode, int64(ins.Op), word)
	}

	digits := word / 100
	for i := 0; i < ins.Op.Params(); i++ {
		m := Mode(digits % 10)
		digits /= 10
		if m != ModePosition && m != ModeImmediate {
			return ins, fmt.Errorf("%w: parameter %d has mode %d (word %d)", ErrInvalidParameterMode, i+1, m, word)
		}
		ins.Modes[i] = m
	}

	if d := ins.Op.Dest(); strictDest && d != 0 && ins.Modes[d-1] == ModeImmediate {
		return ins, fmt.Errorf("%w: %s parameter %d (word %d)", ErrInvalidDestinationMode, ins.Op, d, word)
	}

	return ins, nil
}

// Encode builds an instruction word from an opcode and parameter modes.
// It is the inverse of Decode and is mainly useful for building programs
// in tests and tools.
func Encode(op Opcode, modes ...Mode) int64 {
	word := int64(op)
	scale := int64(100)
	for _, m := range modes {
		word += int64(m) * scale
		scale *= 10
	}
	return word
}
