// Package intcode implements memory operations for the intcode VM.
package intcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Program is an intcode program image: the initial contents of memory.
type Program []int64

// Clone returns a copy of the program.
func (p Program) Clone() Program {
	out := make(Program, len(p))
	copy(out, p)
	return out
}

// String returns the program in its comma-separated text form.
func (p Program) String() string {
	var sb strings.Builder
	for i, w := range p {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(w, 10))
	}
	return sb.String()
}

// Memory is the mutable word array of a single VM.
type Memory struct {
	cells []int64
}

// NewMemory creates memory initialised with a copy of program.
func NewMemory(program Program) *Memory {
	cells := make([]int64, len(program))
	copy(cells, program)
	return &Memory{cells: cells}
}

// Len returns the number of addressable words.
func (m *Memory) Len() int64 {
	return int64(len(m.cells))
}

// Check returns ErrOutOfBounds if addr is not addressable.
func (m *Memory) Check(addr int64) error {
	if addr < 0 || addr >= int64(len(m.cells)) {
		return fmt.Errorf("%w: address %d (size %d)", ErrOutOfBounds, addr, len(m.cells))
	}
	return nil
}

// Read returns the word at addr.
func (m *Memory) Read(addr int64) (int64, error) {
	if err := m.Check(addr); err != nil {
		return 0, err
	}
	return m.cells[addr], nil
}

// Write stores value at addr. No other cell is touched.
func (m *Memory) Write(addr, value int64) error {
	if err := m.Check(addr); err != nil {
		return err
	}
	m.cells[addr] = value
	return nil
}

// Snapshot returns a copy of the memory contents.
func (m *Memory) Snapshot() []int64 {
	out := make([]int64, len(m.cells))
	copy(out, m.cells)
	return out
}

// load overwrites memory with program, reusing the backing array when the
// sizes match.
func (m *Memory) load(program Program) {
	if len(m.cells) != len(program) {
		m.cells = make([]int64, len(program))
	}
	copy(m.cells, program)
}
