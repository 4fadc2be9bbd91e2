package intcode

import "sync"

// InputSource supplies values to the input opcode.
//
// ReadNext returns ErrInputPending when no value is available yet; the VM
// then yields in the WaitingForInput state and retries the same instruction
// on the next Step or Run. ErrInputExhausted means the source is closed and
// no value will ever arrive; the VM faults.
type InputSource interface {
	ReadNext() (int64, error)
}

// OutputSink receives each value produced by the output opcode, in program
// order. The VM records the value in its own output log regardless.
type OutputSink interface {
	WriteValue(v int64) error
}

// InputFunc adapts a function to InputSource.
type InputFunc func() (int64, error)

// ReadNext implements InputSource.
func (f InputFunc) ReadNext() (int64, error) {
	return f()
}

// OutputFunc adapts a function to OutputSink.
type OutputFunc func(v int64) error

// WriteValue implements OutputSink.
func (f OutputFunc) WriteValue(v int64) error {
	return f(v)
}

// Queue is a FIFO input source. Values can be pushed while the VM is
// suspended. An empty open queue reports ErrInputPending; an empty closed
// queue reports ErrInputExhausted.
type Queue struct {
	mu     sync.Mutex
	values []int64
	closed bool
}

// NewQueue creates an open queue holding values.
func NewQueue(values ...int64) *Queue {
	q := &Queue{}
	q.values = append(q.values, values...)
	return q
}

// Values returns a closed queue holding values: a finite input sequence.
func Values(values ...int64) *Queue {
	q := NewQueue(values...)
	q.Close()
	return q
}

// Push appends values to the queue. Pushing to a closed queue is a no-op.
func (q *Queue) Push(values ...int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.values = append(q.values, values...)
}

// Close marks the queue as finite. Remaining values can still be read.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len returns the number of buffered values.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.values)
}

// ReadNext implements InputSource.
func (q *Queue) ReadNext() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.values) == 0 {
		if q.closed {
			return 0, ErrInputExhausted
		}
		return 0, ErrInputPending
	}
	v := q.values[0]
	q.values = q.values[1:]
	return v, nil
}
