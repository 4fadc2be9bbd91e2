// Package vmservice exposes the intcode VM over gRPC.
//
// The service "intcode.VM" has two methods:
//   - Run: unary; one runner.Request in, one runner.Result out.
//   - Session: bidirectional stream for interactive programs. The first
//     SessionRequest names the program; later ones carry input values. The
//     server answers each request with a SessionUpdate once the VM stops
//     (halts, faults or waits for more input).
package vmservice

import (
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/runner"
)

// Full method names.
const (
	ServiceName       = "intcode.VM"
	RunMethod         = "/intcode.VM/Run"
	SessionMethod     = "/intcode.VM/Session"
	tokenMetadataKey  = "x-token"
	defaultMaxMsgSize = 4 << 20 // 4MB
)

// SessionRequest is sent by the client on a Session stream.
type SessionRequest struct {
	// Start is set on the first message only.
	Start *runner.Request `json:"start,omitempty"`

	// Inputs are provided to the VM before it resumes.
	Inputs []int64 `json:"inputs,omitempty"`
}

// SessionUpdate is sent by the server each time the VM stops.
type SessionUpdate struct {
	State     string  `json:"state"`
	Outputs   []int64 `json:"outputs,omitempty"` // values produced since the last update
	IP        int64   `json:"ip"`
	Steps     uint64  `json:"steps"`
	Memory0   int64   `json:"memory0"`
	Fault     string  `json:"fault,omitempty"`
	FaultKind string  `json:"faultKind,omitempty"`
}

// Done reports whether the session has ended.
func (u *SessionUpdate) Done() bool {
	return u.State == intcode.StateHalted.String() || u.State == intcode.StateFaulted.String()
}

// WaitingForInput reports whether the VM needs more input.
func (u *SessionUpdate) WaitingForInput() bool {
	return u.State == intcode.StateWaitingForInput.String()
}

func updateOf(vm *intcode.VM, seen int) (*SessionUpdate, int) {
	out := vm.Output()
	u := &SessionUpdate{
		State:   vm.State().String(),
		Outputs: out[seen:],
		IP:      vm.IP(),
		Steps:   vm.Steps(),
	}
	u.Memory0, _ = vm.Read(0)
	if f := vm.Fault(); f != nil {
		u.Fault = f.Error()
		u.FaultKind = f.Kind()
	}
	return u, len(out)
}
