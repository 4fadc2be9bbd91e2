package vmservice

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"

	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/fortiblox/intcode/pkg/results"
	"github.com/fortiblox/intcode/pkg/runner"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// compareToEight prints 999, 1000 or 1001 for input below, equal to or above 8.
const compareToEight = "3,21,1008,21,8,20,1005,20,22,107,8,21,20,1006,20,31," +
	"1106,0,36,98,0,0,1002,21,125,20,4,20,1105,1,46,104," +
	"999,1105,1,46,1101,1000,1,20,4,20,1105,1,46,98,99"

// =============================================================================
// Helpers
// =============================================================================

func startServer(t *testing.T, config ServerConfig) (*Client, *imagestore.MemoryStore) {
	t.Helper()

	images := imagestore.NewMemoryStore()
	r := runner.New(images, results.NewMemoryCache(), runner.DefaultConfig())
	srv := NewServer(config, r)

	ln := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client, err := Dial(ClientConfig{
		Endpoint: "bufnet",
		Token:    config.Token,
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		},
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})
	return client, images
}

func codeOf(err error) codes.Code {
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

// =============================================================================
// Run
// =============================================================================

func TestRun(t *testing.T) {
	client, images := startServer(t, DefaultServerConfig())
	ctx := context.Background()

	res, err := client.Run(ctx, runner.Request{Program: compareToEight, Inputs: []int64{7}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != "halted" || res.LastOutput == nil || *res.LastOutput != 999 {
		t.Errorf("Run() = %s, last output %v, want halted, 999", res.State, res.LastOutput)
	}

	program, _ := loader.Parse("1,9,10,3,2,3,11,0,99,30,40,50")
	if _, err := images.Put("sample", program); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	res, err = client.Run(ctx, runner.Request{Image: "sample", Dump: true})
	if err != nil {
		t.Fatalf("Run(image) error = %v", err)
	}
	want := []int64{3500, 9, 10, 70, 2, 3, 11, 0, 99, 30, 40, 50}
	if !reflect.DeepEqual(res.Memory, want) {
		t.Errorf("Run(image) memory = %v, want %v", res.Memory, want)
	}
}

func TestRunErrors(t *testing.T) {
	client, _ := startServer(t, DefaultServerConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		req  runner.Request
		want codes.Code
	}{
		{"malformed", runner.Request{Program: "1,,2"}, codes.InvalidArgument},
		{"no program", runner.Request{}, codes.InvalidArgument},
		{"missing image", runner.Request{Image: "nope"}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Run(ctx, tt.req)
			if got := codeOf(err); got != tt.want {
				t.Errorf("Run() code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestRunFaultIsNotAnError(t *testing.T) {
	client, _ := startServer(t, DefaultServerConfig())

	res, err := client.Run(context.Background(), runner.Request{Program: "42"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != "faulted" || res.FaultKind != "UnknownOpcode" {
		t.Errorf("Run() = %s/%s, want faulted/UnknownOpcode", res.State, res.FaultKind)
	}
}

// =============================================================================
// Session
// =============================================================================

func TestSession(t *testing.T) {
	client, _ := startServer(t, DefaultServerConfig())

	tests := []struct {
		input int64
		want  int64
	}{
		{3, 999},
		{8, 1000},
		{12, 1001},
	}
	for _, tt := range tests {
		session, update, err := client.OpenSession(context.Background(), runner.Request{Program: compareToEight})
		if err != nil {
			t.Fatalf("OpenSession() error = %v", err)
		}
		if !update.WaitingForInput() {
			t.Fatalf("first update state = %s, want waiting_for_input", update.State)
		}

		update, err = session.Provide(tt.input)
		if err != nil {
			t.Fatalf("Provide(%d) error = %v", tt.input, err)
		}
		if !update.Done() || update.State != "halted" {
			t.Errorf("Provide(%d) state = %s, want halted", tt.input, update.State)
		}
		if !reflect.DeepEqual(update.Outputs, []int64{tt.want}) {
			t.Errorf("Provide(%d) outputs = %v, want [%d]", tt.input, update.Outputs, tt.want)
		}

		if _, err := session.Provide(1); !errors.Is(err, ErrSessionDone) {
			t.Errorf("Provide() after halt = %v, want ErrSessionDone", err)
		}
		session.Close()
	}
}

func TestSessionOutputsAreIncremental(t *testing.T) {
	client, _ := startServer(t, DefaultServerConfig())

	// Echo two inputs: in, out, in, out, halt.
	session, update, err := client.OpenSession(context.Background(), runner.Request{Program: "3,0,4,0,3,0,4,0,99"}, 5)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	defer session.Close()

	if !update.WaitingForInput() || !reflect.DeepEqual(update.Outputs, []int64{5}) {
		t.Fatalf("first update = %+v", update)
	}
	update, err = session.Provide(6)
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}
	if !reflect.DeepEqual(update.Outputs, []int64{6}) || update.State != "halted" {
		t.Errorf("second update = %+v", update)
	}
}

func TestSessionFault(t *testing.T) {
	client, _ := startServer(t, DefaultServerConfig())

	session, update, err := client.OpenSession(context.Background(), runner.Request{Program: "1,0,0,50,99"})
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	defer session.Close()

	if update.State != "faulted" || update.FaultKind != "OutOfBounds" {
		t.Errorf("update = %s/%s, want faulted/OutOfBounds", update.State, update.FaultKind)
	}
}

func TestSessionErrors(t *testing.T) {
	client, _ := startServer(t, DefaultServerConfig())

	_, _, err := client.OpenSession(context.Background(), runner.Request{Image: "missing"})
	if codeOf(err) != codes.NotFound {
		t.Errorf("OpenSession(missing) = %v, want NotFound", err)
	}
}

// =============================================================================
// Auth
// =============================================================================

func TestTokenAuth(t *testing.T) {
	config := DefaultServerConfig()
	config.Token = "secret"
	client, _ := startServer(t, config)

	if _, err := client.Run(context.Background(), runner.Request{Program: "99"}); err != nil {
		t.Fatalf("Run() with token error = %v", err)
	}

	// A client without the token is rejected.
	images := imagestore.NewMemoryStore()
	srv := NewServer(config, runner.New(images, nil, runner.DefaultConfig()))
	ln := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	anon, err := Dial(ClientConfig{
		Endpoint: "bufnet",
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		},
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer anon.Close()

	if _, err := anon.Run(context.Background(), runner.Request{Program: "99"}); codeOf(err) != codes.Unauthenticated {
		t.Errorf("Run() without token = %v, want Unauthenticated", err)
	}
	if _, _, err := anon.OpenSession(context.Background(), runner.Request{Program: "99"}); codeOf(err) != codes.Unauthenticated {
		t.Errorf("OpenSession() without token = %v, want Unauthenticated", err)
	}
}

// =============================================================================
// Config
// =============================================================================

func TestClientConfig(t *testing.T) {
	if _, err := Dial(ClientConfig{}); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("Dial(empty) = %v, want ErrNoEndpoint", err)
	}

	c := ClientConfig{Endpoint: "localhost:1"}.WithDefaults()
	if c.MaxMessageSize != defaultMaxMsgSize || c.KeepaliveTime == 0 {
		t.Errorf("WithDefaults() = %+v", c)
	}

	client, _ := startServer(t, DefaultServerConfig())
	client.Close()
	if err := client.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
	if _, err := client.Run(context.Background(), runner.Request{Program: "99"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after Close = %v, want ErrClosed", err)
	}
}
