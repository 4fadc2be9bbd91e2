// Package intcode implements the intcode virtual machine.
//
// An intcode program is a flat sequence of signed integers that is loaded
// into memory and executed in place. Each instruction word carries an opcode
// in its two low decimal digits and one addressing mode per parameter in the
// digits above it:
//   - Position (0): the parameter is the address of the operand
//   - Immediate (1): the parameter is the operand itself
//
// The VM is single-threaded and synchronous. The only suspension point is
// the WaitingForInput state, a cooperative yield back to the caller when the
// input source has nothing to offer yet. Halted and Faulted are terminal.
package intcode

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Errors.
var (
	ErrUnknownOpcode          = errors.New("unknown opcode")
	ErrOutOfBounds            = errors.New("address out of bounds")
	ErrInputExhausted         = errors.New("input exhausted")
	ErrInputPending           = errors.New("input pending")
	ErrInvalidDestinationMode = errors.New("immediate mode on write destination")
	ErrInvalidParameterMode   = errors.New("invalid parameter mode")
	ErrStepLimitExceeded      = errors.New("step limit exceeded")
	ErrOutputFailed           = errors.New("output sink failed")
	ErrAlreadyStarted         = errors.New("execution already started")
)

// Conventional patch addresses used by noun/verb searches.
const (
	NounAddr = int64(1)
	VerbAddr = int64(2)
)

// ctxCheckInterval is how many instructions RunContext executes between
// context checks.
const ctxCheckInterval = 1024

// State is the execution state of a VM.
type State int

// Execution states.
const (
	StateRunning State = iota
	StateHalted
	StateWaitingForInput
	StateFaulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateWaitingForInput:
		return "waiting_for_input"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further progress is possible.
func (s State) Terminal() bool {
	return s == StateHalted || s == StateFaulted
}

// Fault describes why a VM stopped in the Faulted state.
type Fault struct {
	Reason error // wraps one of the package errors
	IP     int64 // instruction pointer of the faulting instruction
	Word   int64 // instruction word, 0 if it could not be read
}

// Error implements error.
func (f *Fault) Error() string {
	return fmt.Sprintf("fault at ip %d (word %d): %v", f.IP, f.Word, f.Reason)
}

// Unwrap returns the underlying reason.
func (f *Fault) Unwrap() error {
	return f.Reason
}

// Kind returns a stable name for the fault category.
func (f *Fault) Kind() string {
	switch {
	case errors.Is(f.Reason, ErrUnknownOpcode):
		return "UnknownOpcode"
	case errors.Is(f.Reason, ErrOutOfBounds):
		return "OutOfBounds"
	case errors.Is(f.Reason, ErrInputExhausted):
		return "InputExhausted"
	case errors.Is(f.Reason, ErrInvalidDestinationMode):
		return "InvalidDestinationMode"
	case errors.Is(f.Reason, ErrInvalidParameterMode):
		return "InvalidParameterMode"
	case errors.Is(f.Reason, ErrStepLimitExceeded):
		return "StepLimitExceeded"
	case errors.Is(f.Reason, ErrOutputFailed):
		return "OutputFailed"
	default:
		return "Unknown"
	}
}

// StepMeter limits the number of instructions a VM may execute.
type StepMeter struct {
	limit uint64
	used  uint64
}

// NewStepMeter creates a meter. A limit of 0 means unlimited.
func NewStepMeter(limit uint64) *StepMeter {
	return &StepMeter{limit: limit}
}

// Consume records n executed instructions.
func (sm *StepMeter) Consume(n uint64) error {
	if sm.limit > 0 && sm.used+n > sm.limit {
		sm.used = sm.limit
		return ErrStepLimitExceeded
	}
	sm.used += n
	return nil
}

// Remaining returns how many instructions may still execute.
func (sm *StepMeter) Remaining() uint64 {
	if sm.limit == 0 {
		return math.MaxUint64
	}
	return sm.limit - sm.used
}

// Used returns the number of instructions executed so far.
func (sm *StepMeter) Used() uint64 {
	return sm.used
}

// tick records one executed instruction without checking the limit.
// Step enforces the limit through Remaining before it executes anything.
func (sm *StepMeter) tick() {
	sm.used++
}

func (sm *StepMeter) reset() {
	sm.used = 0
}

// Options configures a VM.
type Options struct {
	// Input is consulted after values given to Provide are used up.
	// Nil behaves like an open, empty queue.
	Input InputSource

	// Output receives every output value as it is produced.
	Output OutputSink

	// MaxSteps bounds the number of executed instructions. 0 is unlimited.
	MaxSteps uint64

	// LenientDestinations accepts immediate mode on write destinations and
	// treats the parameter as a plain address, instead of faulting.
	LenientDestinations bool

	// Trace is called before each instruction executes.
	Trace func(ip int64, ins Instruction)
}

// VM executes a single intcode program.
type VM struct {
	program Program
	mem     *Memory
	ip      int64

	state   State
	fault   *Fault
	started bool

	output  []int64
	pending []int64

	input   InputSource
	sink    OutputSink
	meter   *StepMeter
	lenient bool
	trace   func(ip int64, ins Instruction)
}

// New creates a VM for program. The program is copied; it is never
// modified by execution and remains available for Reset.
func New(program Program, opts Options) *VM {
	return &VM{
		program: program.Clone(),
		mem:     NewMemory(program),
		state:   StateRunning,
		input:   opts.Input,
		sink:    opts.Output,
		meter:   NewStepMeter(opts.MaxSteps),
		lenient: opts.LenientDestinations,
		trace:   opts.Trace,
	}
}

// State returns the current execution state.
func (vm *VM) State() State {
	return vm.state
}

// Fault returns the fault that stopped the VM, or nil.
func (vm *VM) Fault() *Fault {
	return vm.fault
}

// Err returns the fault as an error, or nil if the VM has not faulted.
func (vm *VM) Err() error {
	if vm.fault == nil {
		return nil
	}
	return vm.fault
}

// IP returns the instruction pointer.
func (vm *VM) IP() int64 {
	return vm.ip
}

// Steps returns the number of instructions executed since creation or the
// last Reset.
func (vm *VM) Steps() uint64 {
	return vm.meter.Used()
}

// Program returns a copy of the original program.
func (vm *VM) Program() Program {
	return vm.program.Clone()
}

// Memory returns a copy of the current memory.
func (vm *VM) Memory() []int64 {
	return vm.mem.Snapshot()
}

// Read returns the word at addr.
func (vm *VM) Read(addr int64) (int64, error) {
	return vm.mem.Read(addr)
}

// Output returns a copy of the output log.
func (vm *VM) Output() []int64 {
	out := make([]int64, len(vm.output))
	copy(out, vm.output)
	return out
}

// LastOutput returns the most recent output value.
func (vm *VM) LastOutput() (int64, bool) {
	if len(vm.output) == 0 {
		return 0, false
	}
	return vm.output[len(vm.output)-1], true
}

// Provide queues values for the input opcode. They are consumed before the
// configured InputSource. A VM waiting for input resumes on the next Step
// or Run.
func (vm *VM) Provide(values ...int64) {
	vm.pending = append(vm.pending, values...)
}

// Patch overwrites one memory cell before execution begins.
func (vm *VM) Patch(addr, value int64) error {
	if vm.started {
		return ErrAlreadyStarted
	}
	return vm.mem.Write(addr, value)
}

// Reset restores memory from the original program, applies overrides and
// returns the VM to its initial state. The output log, provided input and
// step count are cleared. If any override address is out of range the VM
// is left untouched.
func (vm *VM) Reset(overrides map[int64]int64) error {
	size := int64(len(vm.program))
	for addr := range overrides {
		if addr < 0 || addr >= size {
			return fmt.Errorf("%w: override address %d (size %d)", ErrOutOfBounds, addr, size)
		}
	}

	vm.mem.load(vm.program)
	for addr, value := range overrides {
		vm.mem.cells[addr] = value
	}

	vm.ip = 0
	vm.state = StateRunning
	vm.fault = nil
	vm.started = false
	vm.output = vm.output[:0]
	vm.pending = vm.pending[:0]
	vm.meter.reset()
	return nil
}

// Run executes instructions until the VM halts, faults or waits for input.
func (vm *VM) Run() State {
	for {
		if s := vm.Step(); s != StateRunning {
			return s
		}
	}
}

// RunContext is like Run but stops early when ctx is done. In that case the
// VM stays Running and can be resumed.
func (vm *VM) RunContext(ctx context.Context) (State, error) {
	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return vm.state, err
			}
		}
		if s := vm.Step(); s != StateRunning {
			return s, nil
		}
	}
}

// Step executes one instruction. Terminal states are sticky. A VM waiting
// for input retries the input instruction.
func (vm *VM) Step() State {
	if vm.state.Terminal() {
		return vm.state
	}
	vm.started = true

	ip := vm.ip
	word, err := vm.mem.Read(ip)
	if err != nil {
		return vm.fail(err, ip, 0)
	}

	ins, err := decode(word, !vm.lenient)
	if err != nil {
		return vm.fail(err, ip, word)
	}

	if vm.meter.Remaining() == 0 {
		return vm.fail(ErrStepLimitExceeded, ip, word)
	}

	if vm.trace != nil {
		vm.trace(ip, ins)
	}

	switch ins.Op {
	case OpHalt:
		vm.meter.tick()
		vm.state = StateHalted
		return vm.state

	case OpAdd, OpMultiply, OpLessThan, OpEquals:
		a, err := vm.operand(ins, 1)
		if err != nil {
			return vm.fail(err, ip, word)
		}
		b, err := vm.operand(ins, 2)
		if err != nil {
			return vm.fail(err, ip, word)
		}
		dest, err := vm.destination(3)
		if err != nil {
			return vm.fail(err, ip, word)
		}

		var v int64
		switch ins.Op {
		case OpAdd:
			v = a + b
		case OpMultiply:
			v = a * b
		case OpLessThan:
			v = boolWord(a < b)
		case OpEquals:
			v = boolWord(a == b)
		}
		vm.mem.cells[dest] = v
		vm.ip += ins.Op.Width()

	case OpInput:
		dest, err := vm.destination(1)
		if err != nil {
			return vm.fail(err, ip, word)
		}
		v, err := vm.nextInput()
		if errors.Is(err, ErrInputPending) {
			vm.state = StateWaitingForInput
			return vm.state
		}
		if err != nil {
			return vm.fail(err, ip, word)
		}
		vm.mem.cells[dest] = v
		vm.ip += ins.Op.Width()

	case OpOutput:
		a, err := vm.operand(ins, 1)
		if err != nil {
			return vm.fail(err, ip, word)
		}
		if vm.sink != nil {
			if err := vm.sink.WriteValue(a); err != nil {
				return vm.fail(fmt.Errorf("%w: %v", ErrOutputFailed, err), ip, word)
			}
		}
		vm.output = append(vm.output, a)
		vm.ip += ins.Op.Width()

	case OpJumpIfTrue, OpJumpIfFalse:
		a, err := vm.operand(ins, 1)
		if err != nil {
			return vm.fail(err, ip, word)
		}
		target, err := vm.operand(ins, 2)
		if err != nil {
			return vm.fail(err, ip, word)
		}
		if (a != 0) == (ins.Op == OpJumpIfTrue) {
			if err := vm.mem.Check(target); err != nil {
				return vm.fail(fmt.Errorf("jump target: %w", err), ip, word)
			}
			vm.ip = target
		} else {
			vm.ip += ins.Op.Width()
		}
	}

	vm.meter.tick()
	vm.state = StateRunning
	return vm.state
}

// operand resolves the value of the 1-based parameter i of the instruction
// at the instruction pointer.
func (vm *VM) operand(ins Instruction, i int) (int64, error) {
	raw, err := vm.mem.Read(vm.ip + int64(i))
	if err != nil {
		return 0, err
	}
	if ins.Mode(i) == ModeImmediate {
		return raw, nil
	}
	return vm.mem.Read(raw)
}

// destination resolves the write address held by the 1-based parameter i.
// Destinations are always plain addresses.
func (vm *VM) destination(i int) (int64, error) {
	addr, err := vm.mem.Read(vm.ip + int64(i))
	if err != nil {
		return 0, err
	}
	if err := vm.mem.Check(addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// nextInput returns the next provided value, falling back to the input
// source.
func (vm *VM) nextInput() (int64, error) {
	if len(vm.pending) > 0 {
		v := vm.pending[0]
		vm.pending = vm.pending[1:]
		return v, nil
	}
	if vm.input == nil {
		return 0, ErrInputPending
	}
	return vm.input.ReadNext()
}

func (vm *VM) fail(err error, ip, word int64) State {
	vm.fault = &Fault{Reason: err, IP: ip, Word: word}
	vm.state = StateFaulted
	return vm.state
}

func boolWord(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
