// Package gossip implements the peer-to-peer membership protocol that lets
// every Percas node discover its peers, detect failures, and agree on a
// consistent hash ring without a central coordinator.
//
// Three kinds of message flow between nodes: Ping/Ack (liveness probing),
// and Sync (anti-entropy reconciliation of the whole membership table).
// Conflicting observations about a member are resolved by incarnation
// first, then by heartbeat recency, with a one-way Alive->Dead downgrade
// rule at equal incarnation (see internal/membership).
package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scopedb/percas/internal/membership"
	"github.com/scopedb/percas/internal/node"
	"github.com/scopedb/percas/internal/ring"
)

const (
	pingInterval        = time.Second
	syncInterval        = 5 * time.Second
	rebuildRingInterval = 5 * time.Second
	memberDeadline      = 30 * time.Second
)

// ringID adapts uuid.UUID to the ring.Node constraint: hashable as its raw
// 16 bytes, ordered by its canonical string form for deterministic
// same-slot tie-breaks.
type ringID uuid.UUID

func (r ringID) Bytes() []byte {
	u := uuid.UUID(r)
	return u[:]
}

func (r ringID) Less(other any) bool {
	return uuid.UUID(r).String() < uuid.UUID(other.(ringID)).String()
}

// State is one node's view of the gossip protocol: its own identity, its
// membership table, and the hash ring derived from it. The ring is swapped
// in as a whole new value on every rebuild, so readers never observe a
// partially built ring and never block on a writer. The membership table is
// not swapped: it is updated in place under its own read-write lock, so
// readers take a read lock and wait while a writer holds it.
type State struct {
	dir          string
	initialPeers []string

	mu          sync.RWMutex
	currentNode node.Info

	transport  *Transport
	membership *membership.Membership
	ringPtr    atomic.Pointer[ring.HashRing[ringID]]

	log zerolog.Logger

	wg sync.WaitGroup
}

// New constructs gossip State for currentNode. initialPeers are control-plane
// base URLs (http://host:port, no trailing /gossip) used to bootstrap the
// membership table on startup. dir is the node's data directory, used to
// persist an incarnation bump when self-defense fires.
func New(currentNode node.Info, initialPeers []string, dir string, log zerolog.Logger) *State {
	s := &State{
		dir:          dir,
		initialPeers: initialPeers,
		currentNode:  currentNode,
		transport:    NewTransport(),
		membership:   membership.New(),
		log:          log.With().Str("component", "gossip").Logger(),
	}
	s.ringPtr.Store(ring.NewDefault[ringID]())
	return s
}

// Current returns the node's own identity as currently known (its
// incarnation may have advanced since New was called, via self-defense).
func (s *State) Current() node.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentNode
}

// Membership returns the shared membership table.
func (s *State) Membership() *membership.Membership {
	return s.membership
}

// Ring returns the hash ring as of the most recent rebuild.
func (s *State) Ring() *ring.HashRing[ringID] {
	return s.ringPtr.Load()
}

// VnodesFor returns the vnode digests assigned to id on the current ring.
// Exported so control-plane introspection can report vnodes without needing
// to know about ringID, which is an implementation detail of how node ids
// are hashed into the ring.
func (s *State) VnodesFor(id uuid.UUID) []uint32 {
	return s.Ring().ListVnodes(ringID(id))
}

// LookupAlive returns the id of the node that owns key, skipping any node
// not currently believed Alive. It is the basis for internal/router's
// routing decision and is exported here (rather than requiring router to
// know about the ring's internal node type) because ringID itself is an
// implementation detail of how node ids are hashed.
func (s *State) LookupAlive(key []byte) (uuid.UUID, bool) {
	id, ok := s.Ring().LookupUntil(key, func(candidate ringID) bool {
		st, ok := s.membership.Get(uuid.UUID(candidate))
		return ok && st.Status == membership.Alive
	})
	if !ok {
		return uuid.Nil, false
	}
	return uuid.UUID(id), true
}

// ErrNoInitialPeer is returned by Start when bootstrap completes without
// discovering any live peer, leaving the node's own membership table empty.
var ErrNoInitialPeer = errors.New("failed to bootstrap the cluster: no initial peer available")

// Start runs fast bootstrap against initialPeers, then launches the ping,
// anti-entropy, ring-rebuild, and harvest loops as background goroutines
// bound to ctx. It returns ErrNoInitialPeer if, after bootstrap, this node
// still doesn't know about itself or any peer (which can only happen if
// bootstrap found nothing and something cleared the self-seed, since the
// self entry is always added before bootstrap runs).
func (s *State) Start(ctx context.Context) error {
	now := time.Now()
	s.membership.RefreshSelf(s.Current(), now)

	s.fastBootstrap(ctx)

	if s.membership.Len() == 0 {
		return ErrNoInitialPeer
	}

	s.rebuildRing()

	s.spawnLoop(ctx, "ping", pingInterval, s.pingTick)
	s.spawnLoop(ctx, "anti-entropy", syncInterval, s.syncTick)
	s.spawnLoop(ctx, "rebuild-ring", rebuildRingInterval, s.rebuildRingTick)
	s.spawnLoop(ctx, "harvest", memberDeadline, s.harvestTick)

	return nil
}

// Wait blocks until every gossip loop has observed ctx's cancellation and
// returned. Callers drive the shutdown drain deadline through ctx itself.
func (s *State) Wait() {
	s.wg.Wait()
}

func (s *State) spawnLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Str("loop", name).Msg("gossip loop shutting down")
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

func (s *State) pingTick(ctx context.Context) {
	member, ok := s.randomMember()
	if !ok {
		s.log.Error().Msg("no members found in the cluster")
		s.fastBootstrap(ctx)
		return
	}
	if member.Status == membership.Dead {
		s.log.Debug().Str("node_id", member.Info.NodeID.String()).Msg("skipping dead member")
		return
	}
	s.log.Debug().Str("node_id", member.Info.NodeID.String()).Msg("pinging member")
	s.ping(ctx, member.Info)
}

func (s *State) syncTick(ctx context.Context) {
	member, ok := s.randomMember()
	if !ok {
		s.log.Error().Msg("no members found in the cluster")
		s.fastBootstrap(ctx)
		return
	}
	if member.Status == membership.Dead {
		s.log.Debug().Str("node_id", member.Info.NodeID.String()).Msg("skipping dead member")
		return
	}
	s.log.Debug().Str("node_id", member.Info.NodeID.String()).Msg("syncing member")
	s.syncWith(ctx, member.Info)
}

func (s *State) rebuildRingTick(context.Context) {
	s.rebuildRing()
}

// RebuildRing recomputes the hash ring from the current membership table
// immediately, instead of waiting for the periodic rebuild loop. Exposed so
// callers that just changed membership (tests, a manual admin action) can
// observe the effect without the usual 5s delay.
func (s *State) RebuildRing() {
	s.rebuildRing()
}

func (s *State) harvestTick(context.Context) {
	dead := s.removeDeadMembers()
	if len(dead) > 0 {
		s.log.Info().Int("count", len(dead)).Msg("removed dead members")
		s.rebuildRing()
	}
}

func (s *State) randomMember() (membership.State, bool) {
	members := s.membership.Snapshot()
	if len(members) == 0 {
		return membership.State{}, false
	}
	return members[rand.Intn(len(members))], true
}

// HandleMessage applies an incoming gossip message to the membership table
// and returns the reply to send back, if any. Ping is answered with Ack;
// Ack produces no reply; Sync is answered with this node's own membership.
// After every message, if this node observes itself reported Dead, it
// advances its incarnation so the higher incarnation wins on the next
// exchange (self-defense).
func (s *State) HandleMessage(msg Message) *Message {
	s.log.Debug().Str("type", string(msg.Type)).Msg("received gossip message")

	var reply *Message
	switch msg.Type {
	case KindPing:
		s.membership.UpdateMember(membership.State{Info: *msg.Ping, Status: membership.Alive, Heartbeat: time.Now()})
		ack := ackMessage(s.Current())
		reply = &ack

	case KindAck:
		s.membership.UpdateMember(membership.State{Info: *msg.Ack, Status: membership.Alive, Heartbeat: time.Now()})

	case KindSync:
		for _, m := range msg.Sync {
			s.membership.UpdateMember(m)
		}
	}

	if s.membership.IsDead(s.Current().NodeID) {
		s.log.Info().Msg("current node is marked as dead; advancing incarnation")
		s.advanceIncarnation()
	}

	if msg.Type == KindSync {
		s.membership.UpdateMember(membership.State{Info: s.Current(), Status: membership.Alive, Heartbeat: time.Now()})
		out := syncMessage(s.membership.Snapshot())
		reply = &out
	}

	return reply
}

func (s *State) advanceIncarnation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentNode = s.currentNode.AdvanceIncarnation()
	if err := s.currentNode.Persist(node.FilePath(s.dir)); err != nil {
		s.log.Error().Err(err).Msg("failed to persist advanced incarnation")
	}
}

func (s *State) removeDeadMembers() []uuid.UUID {
	dead := s.membership.HarvestDead(time.Now(), memberDeadline)
	for _, id := range dead {
		s.membership.RemoveMember(id)
	}
	return dead
}

func (s *State) ping(ctx context.Context, peer node.Info) {
	reply, err := s.transport.SendWithRetry(ctx, peer.AdvertiseCtrlURL, pingMessage(s.Current()))
	if err == nil && reply.Type == KindAck {
		s.HandleMessage(reply)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("node_id", peer.NodeID.String()).Msg("failed to send ping message")
	}
	s.markDead(peer)
}

func (s *State) syncWith(ctx context.Context, peer node.Info) {
	msg := syncMessage(s.membership.Snapshot())
	reply, err := s.transport.SendWithRetry(ctx, peer.AdvertiseCtrlURL, msg)
	if err == nil && reply.Type == KindSync {
		s.HandleMessage(reply)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("node_id", peer.NodeID.String()).Msg("failed to send sync message")
	}
	s.markDead(peer)
}

// fastBootstrap pings, then syncs with, every configured initial peer. It is
// run once at startup and re-run by the ping/anti-entropy loops whenever the
// membership table is unexpectedly empty (recovering from a total
// membership wipe without requiring a process restart).
func (s *State) fastBootstrap(ctx context.Context) {
	for _, peer := range s.initialPeers {
		reply, err := s.transport.SendWithRetry(ctx, peer, pingMessage(s.Current()))
		if err != nil {
			s.log.Error().Err(err).Str("peer", peer).Msg("failed to send ping message")
			continue
		}
		if reply.Type == KindAck {
			s.HandleMessage(reply)
		}
	}

	for _, peer := range s.initialPeers {
		msg := syncMessage(s.membership.Snapshot())
		reply, err := s.transport.SendWithRetry(ctx, peer, msg)
		if err != nil {
			s.log.Error().Err(err).Str("peer", peer).Msg("failed to send sync message")
			continue
		}
		if reply.Type == KindSync {
			s.HandleMessage(reply)
		}
	}

	s.rebuildRing()
}

func (s *State) rebuildRing() {
	s.membership.UpdateMember(membership.State{Info: s.Current(), Status: membership.Alive, Heartbeat: time.Now()})

	members := s.membership.Snapshot()
	ids := make([]ringID, 0, len(members))
	for _, m := range members {
		ids = append(ids, ringID(m.Info.NodeID))
	}
	s.ringPtr.Store(ring.Build(ring.DefaultVnodes, ids))
}

func (s *State) markDead(peer node.Info) {
	current, ok := s.membership.Get(peer.NodeID)
	if !ok {
		return
	}
	s.membership.UpdateMember(membership.State{Info: peer, Status: membership.Dead, Heartbeat: current.Heartbeat})
}

// String implements fmt.Stringer for debug logging of ring membership.
func (s *State) String() string {
	return fmt.Sprintf("gossip.State{node=%s, members=%d}", s.Current().NodeID, s.membership.Len())
}
