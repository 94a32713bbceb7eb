// Package diag exposes node and cluster health over HTTP for operators and
// the CLI. It is read-only: the frame loop never depends on it.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"framesync/pkg/cluster"
	"framesync/pkg/coordinator"
	"framesync/pkg/stats"
	"framesync/pkg/tracking"
)

// NodeStatus is the /status response body.
type NodeStatus struct {
	NodeID      string  `json:"node_id"`
	Role        string  `json:"role"`
	Session     string  `json:"session"`
	Frame       uint32  `json:"frame"`
	Barrier     string  `json:"barrier"`
	MissedSyncs uint64  `json:"missed_syncs"`
	Peers       int     `json:"peers"`
	Dt          float64 `json:"dt"`
}

// FrameStats is the /stats response body. All durations are seconds.
type FrameStats struct {
	Dt              float64 `json:"dt"`
	AvgDt           float64 `json:"avg_dt"`
	MinDt           float64 `json:"min_dt"`
	MaxDt           float64 `json:"max_dt"`
	SyncTime        float64 `json:"sync_time"`
	DrawTime        float64 `json:"draw_time"`
	SamplingLatency float64 `json:"sampling_latency"`
	MissedSyncs     uint64  `json:"missed_syncs"`
}

// NodeInfo is one element of the /nodes response body.
type NodeInfo struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	Role     string    `json:"role"`
	State    string    `json:"state"`
	LastSeen time.Time `json:"last_seen"`
}

// SessionSource exposes the node's cluster session identity.
type SessionSource interface {
	Session() string
}

// Server serves the diagnostics endpoints.
type Server struct {
	log     hclog.Logger
	nodes   *cluster.Manager
	coord   *coordinator.Coordinator
	stats   *stats.Statistics
	sampler *tracking.Manager
	session SessionSource
	srv     *http.Server
}

// New creates a diagnostics server over the given components. sampler and
// session may be nil when tracking or transport are absent.
func New(log hclog.Logger, nodes *cluster.Manager, coord *coordinator.Coordinator, st *stats.Statistics, sampler *tracking.Manager, session SessionSource) *Server {
	return &Server{
		log:     log.Named("diag"),
		nodes:   nodes,
		coord:   coord,
		stats:   st,
		sampler: sampler,
		session: session,
	}
}

// Start begins serving on addr. The listen error is returned synchronously
// so a bad address is caught at startup.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("diag: listen on %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: s.routes()}
	s.log.Info("diagnostics endpoint listening", "address", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("diagnostics server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/nodes", s.handleNodes)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	local := s.nodes.Local()
	session := ""
	if s.session != nil {
		session = s.session.Session()
	}
	writeJSON(w, NodeStatus{
		NodeID:      local.ID,
		Role:        string(local.Role),
		Session:     session,
		Frame:       s.coord.Frame(),
		Barrier:     s.coord.Barrier().String(),
		MissedSyncs: s.stats.MissedSyncs(),
		Peers:       len(s.nodes.ConnectedClients()),
		Dt:          s.stats.Dt(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	out := FrameStats{
		Dt:          s.stats.Dt(),
		AvgDt:       s.stats.AvgDt(),
		MinDt:       s.stats.MinDt(),
		MaxDt:       s.stats.MaxDt(),
		SyncTime:    s.stats.LastSyncTime(),
		DrawTime:    s.stats.LastDrawTime(),
		MissedSyncs: s.stats.MissedSyncs(),
	}
	if s.sampler != nil {
		out.SamplingLatency = s.sampler.SamplingTime()
	}
	writeJSON(w, out)
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.nodes.Nodes()
	out := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeInfo{
			ID:       n.ID,
			Address:  n.Address,
			Role:     string(n.Role),
			State:    string(n.State),
			LastSeen: n.LastSeen,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
