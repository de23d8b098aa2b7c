// Package introspect exposes the daemon's read-only HTTP API (SPEC_FULL.md
// domain-stack supplement): current queue depths, the ordering queue's
// expected sequence number, and the record store's contents, plus a
// Prometheus /metrics endpoint. It never mutates daemon state — control
// (stop/start/log-level/max-childs) is the helper-socket protocol's job
// (spec §4.K), not this API's. Modeled on the teacher's internal/api/server.go
// huma/v2 + humago + http.ServeMux setup, intentionally without that
// server's basic-auth middleware since this listens on loopback only.
package introspect

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/devnoded/internal/recordstore"
)

// Snapshotter is satisfied by *daemon.Daemon; kept as an interface so this
// package doesn't need to import internal/daemon, which keeps the HTTP
// layer testable with a fake.
type Snapshotter interface {
	Snapshot() Snapshot
}

// Snapshot mirrors daemon.Snapshot's fields; duplicated here rather than
// imported so this package does not depend on internal/daemon. main.go converts
// between the two with a one-line adapter.
type Snapshot struct {
	OrderingQueueDepth int
	ExecQueueDepth     int
	WorkersRunning     int
	ExecQueueStopped   bool
	ExpectedSeqnum     uint64
}

type statusResponse struct {
	Body Snapshot
}

type recordsResponse struct {
	Body []recordEntry
}

type recordEntry struct {
	Devpath string `json:"devpath"`
	Name    string `json:"name"`
}

// Server is the introspection HTTP server.
type Server struct {
	api    huma.API
	mux    *http.ServeMux
	snap   Snapshotter
	store  *recordstore.Store
	server *http.Server
}

// New builds a Server. store may be nil if the record store isn't ready yet
// (the records endpoint then returns an empty list rather than failing).
// registry may be nil to omit /metrics entirely.
func New(snap Snapshotter, store *recordstore.Store, registry *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	config := huma.DefaultConfig("devnoded introspection API", "1.0.0")
	config.Info.Description = "Read-only status and record inspection for the running daemon"
	api := humago.New(mux, config)

	s := &Server{api: api, mux: mux, snap: snap, store: store}
	s.registerRoutes()

	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Daemon status",
		Description: "Current queue depths, running worker count, and ordering state",
		Tags:        []string{"status"},
	}, func(_ context.Context, _ *struct{}) (*statusResponse, error) {
		return &statusResponse{Body: s.snap.Snapshot()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Queue depths",
		Description: "Ordering and execution queue depth, duplicated from /status for scripts that only want queue state",
		Tags:        []string{"status"},
	}, func(_ context.Context, _ *struct{}) (*statusResponse, error) {
		return &statusResponse{Body: s.snap.Snapshot()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "Persisted device records",
		Description: "One entry per device the record store remembers a non-default name or symlinks for",
		Tags:        []string{"records"},
	}, func(_ context.Context, _ *struct{}) (*recordsResponse, error) {
		if s.store == nil {
			return &recordsResponse{Body: nil}, nil
		}
		var out []recordEntry
		err := s.store.Scan(func(devpath, name string) error {
			out = append(out, recordEntry{Devpath: devpath, Name: name})
			return nil
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to scan record store", err)
		}
		return &recordsResponse{Body: out}, nil
	})
}

// Start listens and blocks until Stop is called or the listener errors.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{Addr: addr, Handler: s.mux}
	fmt.Printf("devnoded introspection API listening on %s\n", addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
