// Package ctrlplane implements Percas's cluster-internal HTTP surface: the
// gossip transport's wire endpoint, a membership introspection endpoint, and
// a version endpoint, all served on a listener separate from the data plane
// so that cluster chatter never competes with client traffic for the same
// connection pool.
package ctrlplane

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/scopedb/percas/internal/gossip"
	"github.com/scopedb/percas/internal/membership"
)

// Version is the build version reported by GET /version. Overridden at link
// time via -ldflags "-X .../ctrlplane.Version=...".
var Version = "dev"

// Server is the control-plane HTTP server.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// Config configures a control-plane Server.
type Config struct {
	ListenAddr string
	Gossip     *gossip.State
	Log        zerolog.Logger
}

// New builds a control-plane Server bound to cfg.ListenAddr. It does not
// start listening until Serve is called.
func New(cfg Config) *Server {
	h := &handler{
		gossip: cfg.Gossip,
		log:    cfg.Log.With().Str("component", "ctrlplane").Logger(),
	}

	r := chi.NewRouter()
	r.Get("/members", h.members)
	r.Get("/version", h.version)
	r.Post("/gossip", h.gossip)

	return &Server{
		httpServer: &http.Server{Addr: cfg.ListenAddr, Handler: r},
		log:        h.log,
	}
}

// Serve listens and serves until the listener fails or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control plane listening")
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests for up to 10 seconds, a shorter window
// than the data plane's since control-plane requests are all short-lived
// cluster chatter.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	gossip *gossip.State
	log    zerolog.Logger
}

// memberView is the wire shape of one entry in GET /members: the member's
// identity and believed liveness, plus the vnode digests it currently
// occupies on the hash ring.
type memberView struct {
	NodeID            string    `json:"node_id"`
	ClusterID         string    `json:"cluster_id"`
	AdvertiseAddr     string    `json:"advertise_addr"`
	AdvertisePeerAddr string    `json:"advertise_peer_addr"`
	Incarnation       uint64    `json:"incarnation"`
	Status            string    `json:"status"`
	Heartbeat         time.Time `json:"heartbeat"`
	Vnodes            []uint32  `json:"vnodes"`
}

type membersResponse struct {
	Members []memberView `json:"members"`
}

func (h *handler) members(w http.ResponseWriter, r *http.Request) {
	snapshot := h.gossip.Membership().Snapshot()
	views := make([]memberView, 0, len(snapshot))
	for _, m := range snapshot {
		views = append(views, toMemberView(m, h.gossip.VnodesFor(m.Info.NodeID)))
	}
	writeJSON(w, http.StatusOK, membersResponse{Members: views})
}

func toMemberView(m membership.State, vnodes []uint32) memberView {
	return memberView{
		NodeID:            m.Info.NodeID.String(),
		ClusterID:         m.Info.ClusterID,
		AdvertiseAddr:     m.Info.AdvertiseDataURL,
		AdvertisePeerAddr: m.Info.AdvertiseCtrlURL,
		Incarnation:       m.Info.Incarnation,
		Status:            string(m.Status),
		Heartbeat:         m.Heartbeat,
		Vnodes:            vnodes,
	}
}

type versionResponse struct {
	Version string `json:"version"`
}

func (h *handler) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{Version: Version})
}

func (h *handler) gossip(w http.ResponseWriter, r *http.Request) {
	var msg gossip.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	reply := h.gossip.HandleMessage(msg)
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
