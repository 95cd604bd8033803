// Package router decides, for a given cache key, whether this node should
// serve the request locally or forward it to whichever peer the hash ring
// currently assigns the key to.
package router

import (
	"github.com/rs/zerolog"

	"github.com/scopedb/percas/internal/gossip"
)

// Dest is the outcome of a routing decision.
type Dest struct {
	// Local is true when this node owns the key and should serve it itself.
	Local bool
	// RemoteURL is the peer's data-plane base URL when Local is false.
	RemoteURL string
}

// Router routes cache keys to the node responsible for them, using the
// gossip layer's current membership and hash ring.
type Router struct {
	gossip *gossip.State
	log    zerolog.Logger
}

// New returns a Router backed by gossip.
func New(g *gossip.State, log zerolog.Logger) *Router {
	return &Router{gossip: g, log: log.With().Str("component", "router").Logger()}
}

// Route returns where key should be served. If the ring has no Alive
// candidate for key at all (e.g. every other member is believed Dead, or
// the ring hasn't been built yet), it falls back to serving the key locally
// rather than failing the request outright.
func (r *Router) Route(key []byte) Dest {
	ownerID, ok := r.gossip.LookupAlive(key)
	if !ok {
		r.log.Debug().Bytes("key", key).Msg("no alive target found for key; serving locally")
		return Dest{Local: true}
	}

	self := r.gossip.Current()
	if ownerID == self.NodeID {
		return Dest{Local: true}
	}

	owner, ok := r.gossip.Membership().Get(ownerID)
	if !ok {
		return Dest{Local: true}
	}
	return Dest{Local: false, RemoteURL: owner.Info.AdvertiseDataURL}
}
