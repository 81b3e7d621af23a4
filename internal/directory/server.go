package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"vigil/internal/clock"
	"vigil/internal/telemetry"
)

// tokenTTL is how long an answered token stays cached. A client's
// retry window is seconds; minutes of cache is plenty.
const tokenTTL = 5 * time.Minute

// maxRequestBody bounds one request envelope.
const maxRequestBody = 1 << 20

// Backend executes operations on behalf of the server. Implementations
// must be safe for concurrent use; requests arrive on HTTP goroutines.
type Backend interface {
	Handle(op string, params json.RawMessage) (any, error)
}

type cachedReply struct {
	body    []byte
	expires time.Time
}

// Server answers directory requests on a unix socket.
type Server struct {
	path    string
	backend Backend
	clock   clock.Clock
	log     *slog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	answers map[string]cachedReply

	httpSrv *http.Server
}

// NewServer creates a server for the socket at path. A nil tracer
// disables spans.
func NewServer(path string, backend Backend, clk clock.Clock, log *slog.Logger, tracer trace.Tracer) *Server {
	if tracer == nil {
		tracer = telemetry.Noop()
	}
	return &Server{
		path:    path,
		backend: backend,
		clock:   clk,
		log:     log,
		tracer:  tracer,
		answers: make(map[string]cachedReply),
	}
}

// Serve listens on the unix socket until ctx is canceled. A stale
// socket file from a dead process is removed first; the singleton guard
// has already established we are the only orchestrator for this
// directory.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale directory socket: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on directory socket: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ops", s.handleOp)
	s.httpSrv = &http.Server{Handler: mux}

	done := make(chan error, 1)
	go func() { done <- s.httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		_ = os.Remove(s.path)
		return ctx.Err()
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("directory server: %w", err)
	}
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "read request", http.StatusBadRequest)
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "parse request", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.Op == "" {
		http.Error(w, "token and op are required", http.StatusBadRequest)
		return
	}

	if reply, ok := s.cachedAnswer(req.Token); ok {
		s.log.Debug("directory request answered from token cache", "op", req.Op)
		writeJSON(w, reply)
		return
	}

	var resp Response
	_, span := telemetry.DirectoryCall(r.Context(), s.tracer, req.Op)
	result, err := s.backend.Handle(req.Op, req.Params)
	telemetry.EndSpan(span, err)
	if err != nil {
		resp.Error = err.Error()
	} else if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			s.log.Error("directory result not serializable", "op", req.Op, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		resp.Result = data
	}

	out, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.rememberAnswer(req.Token, out)
	writeJSON(w, out)
}

func (s *Server) cachedAnswer(token string) ([]byte, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, c := range s.answers {
		if now.After(c.expires) {
			delete(s.answers, t)
		}
	}
	c, ok := s.answers[token]
	if !ok {
		return nil, false
	}
	return c.body, true
}

func (s *Server) rememberAnswer(token string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[token] = cachedReply{body: body, expires: s.clock.Now().Add(tokenTTL)}
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
