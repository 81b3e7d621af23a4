package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"vigil/internal/clock"
	"vigil/internal/telemetry"
)

type countingBackend struct {
	mu    sync.Mutex
	calls map[string]int
	reply any
	err   error
}

func (b *countingBackend) Handle(op string, params json.RawMessage) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = make(map[string]int)
	}
	b.calls[op]++
	return b.reply, b.err
}

func (b *countingBackend) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func startTestServer(t *testing.T, backend Backend, clk clock.Clock, tracer trace.Tracer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), SocketName)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(path, backend, clk, log, tracer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait for the socket to exist.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return path
		}
		if time.Now().After(deadline) {
			t.Fatal("directory socket never came up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientCallRoundTrip(t *testing.T) {
	backend := &countingBackend{reply: StatusReply{Phase: "running", PID: 99, Cameras: 2}}
	path := startTestServer(t, backend, clock.Real{}, nil)

	var got StatusReply
	if err := NewClient(path).Call(context.Background(), OpStatus, nil, &got); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.Phase != "running" || got.PID != 99 || got.Cameras != 2 {
		t.Errorf("StatusReply = %+v", got)
	}
	if backend.count(OpStatus) != 1 {
		t.Errorf("backend executed %d times", backend.count(OpStatus))
	}
}

func TestBackendErrorReachesClient(t *testing.T) {
	backend := &countingBackend{err: errors.New("no such camera")}
	path := startTestServer(t, backend, clock.Real{}, nil)

	err := NewClient(path).Call(context.Background(), OpCameraRemove,
		map[string]string{"camera": "porch"}, nil)
	if err == nil || err.Error() != "camera.remove: no such camera" {
		t.Fatalf("err = %v", err)
	}
}

// postRaw sends one raw request envelope over the socket, bypassing the
// client's token generation.
func postRaw(t *testing.T, path string, req Request) Response {
	t.Helper()
	httpClient := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.Dial("unix", path)
		},
	}}
	body, _ := json.Marshal(req)
	resp, err := httpClient.Post("http://vigil/v1/ops", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestRepeatedTokenAnsweredFromCache(t *testing.T) {
	backend := &countingBackend{reply: map[string]string{"ok": "yes"}}
	path := startTestServer(t, backend, clock.Real{}, nil)

	req := Request{Token: "11111111-2222-3333-4444-555555555555", Op: OpCameraAdd}
	first := postRaw(t, path, req)
	second := postRaw(t, path, req)

	if backend.count(OpCameraAdd) != 1 {
		t.Fatalf("retried token executed backend %d times", backend.count(OpCameraAdd))
	}
	if !bytes.Equal(first.Result, second.Result) {
		t.Errorf("cached reply differs: %s vs %s", first.Result, second.Result)
	}
}

func TestTokenCacheExpires(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	backend := &countingBackend{}
	path := startTestServer(t, backend, clk, nil)

	req := Request{Token: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", Op: OpCameraEnable}
	postRaw(t, path, req)
	clk.Advance(tokenTTL + time.Second)
	postRaw(t, path, req)

	if got := backend.count(OpCameraEnable); got != 2 {
		t.Fatalf("expired token executed backend %d times, want 2", got)
	}
}

func TestOperationsTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := telemetry.NewProvider(rec)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	backend := &countingBackend{err: errors.New("bad camera")}
	path := startTestServer(t, backend, clock.Real{}, tp.Tracer(telemetry.TracerName))

	req := Request{Token: "99999999-8888-7777-6666-555555555555", Op: OpCameraAdd}
	postRaw(t, path, req)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans", len(spans))
	}
	if got := spans[0].Name(); got != "vigil.directory.camera.add" {
		t.Errorf("span name = %q", got)
	}
	if got := spans[0].Status().Code; got != codes.Error {
		t.Errorf("status = %v, want error", got)
	}

	// A retried token is answered from cache, not re-executed, so no
	// second span.
	postRaw(t, path, req)
	if got := len(rec.Ended()); got != 1 {
		t.Errorf("cached retry traced: %d spans", got)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	backend := &countingBackend{}
	path := startTestServer(t, backend, clock.Real{}, nil)

	httpClient := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.Dial("unix", path)
		},
	}}
	body, _ := json.Marshal(Request{Op: OpStatus})
	resp, err := httpClient.Post("http://vigil/v1/ops", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if backend.count(OpStatus) != 0 {
		t.Error("tokenless request executed")
	}
}
