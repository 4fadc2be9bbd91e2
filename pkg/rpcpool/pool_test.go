package rpcpool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/results"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/runner"
	"github.com/fortiblox/intcode/pkg/search"
)

// sumNounVerb stores noun+verb at address 0.
const sumNounVerb = "1101,0,0,0,99"

// newNode starts an intcode JSON-RPC server on an httptest listener.
func newNode(t *testing.T) (*httptest.Server, *rpc.Server) {
	t.Helper()
	r := runner.New(imagestore.NewMemoryStore(), results.NewMemoryCache(), runner.DefaultConfig())
	srv := rpc.New(rpc.DefaultConfig(), r)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

// deadURL returns a URL nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	return url
}

func TestNewPool(t *testing.T) {
	pool := NewPool("http://a", "http://b", "http://a")

	if pool.TotalCount() != 2 {
		t.Errorf("Expected 2 endpoints (duplicates ignored), got %d", pool.TotalCount())
	}
	if pool.HealthyCount() != 2 {
		t.Errorf("Expected endpoints to start healthy, got %d", pool.HealthyCount())
	}
	if pool.healthCheckPeriod != DefaultHealthCheckPeriod {
		t.Errorf("Expected default health check period, got %v", pool.healthCheckPeriod)
	}

	pool.RemoveEndpoint("http://a")
	if pool.TotalCount() != 1 {
		t.Errorf("Expected 1 endpoint after removal, got %d", pool.TotalCount())
	}
}

func TestGetHealthyRoundRobin(t *testing.T) {
	pool := NewPool("http://a", "http://b", "http://c")

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		url, err := pool.GetHealthy()
		if err != nil {
			t.Fatalf("GetHealthy() error = %v", err)
		}
		seen[url]++
	}
	for _, url := range []string{"http://a", "http://b", "http://c"} {
		if seen[url] != 3 {
			t.Errorf("Expected %s to be picked 3 times, got %d", url, seen[url])
		}
	}
}

func TestGetHealthyEmpty(t *testing.T) {
	pool := NewPool()
	if _, err := pool.GetHealthy(); err != ErrNoHealthyEndpoints {
		t.Errorf("Expected ErrNoHealthyEndpoints, got %v", err)
	}
}

func TestMarkUnhealthyThreshold(t *testing.T) {
	pool := NewPool("http://a")

	var changes []bool
	pool.SetOnHealthChange(func(url string, healthy bool) {
		changes = append(changes, healthy)
	})

	pool.MarkUnhealthy("http://a", nil)
	pool.MarkUnhealthy("http://a", nil)
	if pool.HealthyCount() != 1 {
		t.Fatal("Endpoint should stay healthy below the fail threshold")
	}
	pool.MarkUnhealthy("http://a", nil)
	if pool.HealthyCount() != 0 {
		t.Fatal("Endpoint should be unhealthy at the fail threshold")
	}

	pool.MarkHealthy("http://a", time.Millisecond)
	if pool.HealthyCount() != 1 {
		t.Fatal("Endpoint should recover after a success")
	}

	if len(changes) != 2 || changes[0] || !changes[1] {
		t.Errorf("Unexpected health changes %v", changes)
	}

	info := pool.EndpointStatus()[0]
	if info.FailCount != 0 || info.Latency != time.Millisecond {
		t.Errorf("Unexpected endpoint info %+v", info)
	}
}

func TestHealthCheck(t *testing.T) {
	good, _ := newNode(t)
	sick, sickServer := newNode(t)
	sickServer.SetHealthy(false)
	dead := deadURL(t)

	pool := NewPool(good.URL, sick.URL, dead)
	pool.SetFailThreshold(1)
	pool.SetRequestTimeout(2 * time.Second)
	pool.SetHealthCheckPeriod(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	status := make(map[string]EndpointInfo)
	for _, info := range pool.EndpointStatus() {
		status[info.URL] = info
	}

	if !status[good.URL].Healthy {
		t.Errorf("Expected %s to be healthy: %v", good.URL, status[good.URL].LastError)
	}
	if status[sick.URL].Healthy {
		t.Error("Expected the node reporting unhealthy to be excluded")
	}
	if status[dead].Healthy {
		t.Error("Expected the unreachable endpoint to be excluded")
	}
	if status[good.URL].LastCheck.IsZero() {
		t.Error("Expected LastCheck to be set")
	}

	for i := 0; i < 5; i++ {
		url, err := pool.GetHealthy()
		if err != nil {
			t.Fatalf("GetHealthy() error = %v", err)
		}
		if url != good.URL {
			t.Errorf("GetHealthy() = %s, want %s", url, good.URL)
		}
	}
}

func TestStartStop(t *testing.T) {
	var checks atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": "ok"})
	}))
	defer ts.Close()

	pool := NewPool(ts.URL)
	pool.SetHealthCheckPeriod(10 * time.Millisecond)
	pool.Start(context.Background())
	pool.Start(context.Background()) // no-op

	time.Sleep(60 * time.Millisecond)
	pool.Stop()
	pool.Stop() // no-op

	if checks.Load() < 2 {
		t.Errorf("Expected periodic health checks, got %d", checks.Load())
	}
	if _, err := pool.GetHealthy(); err != ErrPoolClosed {
		t.Errorf("Expected ErrPoolClosed after Stop, got %v", err)
	}
}

func TestClientRunAndSearch(t *testing.T) {
	node, _ := newNode(t)
	client := NewClient(NewPool(node.URL), 5*time.Second)
	ctx := context.Background()

	noun, verb := int64(12), int64(2)
	res, err := client.Run(ctx, runner.Request{Program: sumNounVerb, Noun: &noun, Verb: &verb})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != "halted" || res.Memory0 != 14 {
		t.Errorf("Run() = %s memory0 %d, want halted with 14", res.State, res.Memory0)
	}

	want := res.Memory0
	found, err := client.Search(ctx, runner.SearchRequest{
		Program: sumNounVerb,
		Target:  want,
		Nouns:   search.Range{Min: 0, Max: 20},
		Verbs:   search.Range{Min: 0, Max: 20},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if found.Memory0 != want || found.Noun != 0 || found.Verb != 14 {
		t.Errorf("Search() = %+v, want noun 0 verb 14", found)
	}

	_, err = client.Search(ctx, runner.SearchRequest{
		Program: sumNounVerb,
		Target:  -1,
		Nouns:   search.Range{Min: 0, Max: 3},
		Verbs:   search.Range{Min: 0, Max: 3},
	})
	if !IsSearchExhausted(err) {
		t.Errorf("Search(unreachable) = %v, want search exhausted", err)
	}
	if IsRetryable(err) {
		t.Error("Node errors must not be retried")
	}
}

func TestClientImages(t *testing.T) {
	node, _ := newNode(t)
	client := NewClient(NewPool(node.URL), 5*time.Second)
	ctx := context.Background()

	program := intcode.Program{1, 0, 0, 0, 99}
	put, err := client.PutImage(ctx, "add", program)
	if err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}
	if put.Words != len(program) {
		t.Errorf("PutImage() words = %d, want %d", put.Words, len(program))
	}

	info, got, err := client.GetImage(ctx, "add")
	if err != nil {
		t.Fatalf("GetImage() error = %v", err)
	}
	if info.ID != put.ID || got.String() != program.String() {
		t.Errorf("GetImage() = %s %v, want %s %v", info.ID, got, put.ID, program)
	}

	infos, err := client.ListImages(ctx)
	if err != nil {
		t.Fatalf("ListImages() error = %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "add" {
		t.Errorf("ListImages() = %+v", infos)
	}

	if err := client.DeleteImage(ctx, "add"); err != nil {
		t.Fatalf("DeleteImage() error = %v", err)
	}
	if _, _, err := client.GetImage(ctx, "add"); !IsImageNotFound(err) {
		t.Errorf("GetImage(deleted) = %v, want image not found", err)
	}
}

func TestClientNodeInfo(t *testing.T) {
	node, _ := newNode(t)
	client := NewClient(NewPool(node.URL), 5*time.Second)
	ctx := context.Background()

	v, err := client.Version(ctx)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v.Core != rpc.CoreVersion || len(v.Opcodes) == 0 {
		t.Errorf("Version() = %+v", v)
	}

	if _, err := client.Run(ctx, runner.Request{Program: "1,0,0,0,99"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Runner.Runs != 1 {
		t.Errorf("Stats() runs = %d, want 1", stats.Runner.Runs)
	}
}

func TestClientFailover(t *testing.T) {
	node, _ := newNode(t)
	dead := deadURL(t)

	pool := NewPool(dead, node.URL)
	client := NewClient(pool, 2*time.Second)

	for i := 0; i < 4; i++ {
		res, err := client.Run(context.Background(), runner.Request{Program: "1,0,0,0,99"})
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		if res.Memory0 != 2 {
			t.Errorf("Run() memory0 = %d, want 2", res.Memory0)
		}
	}

	for _, info := range pool.EndpointStatus() {
		if info.URL == dead && info.LastError == nil {
			t.Error("Expected the dead endpoint to record its failure")
		}
	}
}

func TestClientAllEndpointsDown(t *testing.T) {
	pool := NewPool(deadURL(t), deadURL(t))
	client := NewClient(pool, time.Second)

	_, err := client.Run(context.Background(), runner.Request{Program: "99"})
	if err == nil {
		t.Fatal("Expected an error with every endpoint down")
	}
	if !IsRetryable(err) {
		t.Errorf("Expected a transport error, got %v", err)
	}
}

func TestConcurrentClient(t *testing.T) {
	node, _ := newNode(t)
	client := NewClient(NewPool(node.URL), 5*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			noun := int64(i % 5)
			_, err := client.Run(context.Background(), runner.Request{Program: "1,0,0,0,99", Noun: &noun})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Run() error = %v", err)
		}
	}
}
