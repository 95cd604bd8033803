package gossip_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopedb/percas/internal/gossip"
	"github.com/scopedb/percas/internal/membership"
	"github.com/scopedb/percas/internal/node"
)

func newState(t *testing.T) (*gossip.State, node.Info) {
	t.Helper()
	self := node.Init("cluster-1", "http://self:8080", "http://self:8081")
	s := gossip.New(self, nil, t.TempDir(), zerolog.Nop())
	return s, self
}

func TestHandleMessage_PingRepliesWithAck(t *testing.T) {
	s, self := newState(t)
	peer := node.Init("cluster-1", "http://peer:8080", "http://peer:8081")

	reply := s.HandleMessage(gossip.Message{Type: gossip.KindPing, Ping: &peer})

	require.NotNil(t, reply)
	assert.Equal(t, gossip.KindAck, reply.Type)
	assert.Equal(t, self.NodeID, reply.Ack.NodeID)

	stored, ok := s.Membership().Get(peer.NodeID)
	require.True(t, ok)
	assert.Equal(t, membership.Alive, stored.Status)
}

func TestHandleMessage_AckHasNoReply(t *testing.T) {
	s, _ := newState(t)
	peer := node.Init("cluster-1", "http://peer:8080", "http://peer:8081")

	reply := s.HandleMessage(gossip.Message{Type: gossip.KindAck, Ack: &peer})

	assert.Nil(t, reply)
	_, ok := s.Membership().Get(peer.NodeID)
	assert.True(t, ok)
}

func TestHandleMessage_SyncMergesAndRepliesWithOwnView(t *testing.T) {
	s, self := newState(t)
	peer := node.Init("cluster-1", "http://peer:8080", "http://peer:8081")

	incoming := []membership.State{{Info: peer, Status: membership.Alive, Heartbeat: time.Now()}}
	reply := s.HandleMessage(gossip.Message{Type: gossip.KindSync, Sync: incoming})

	require.NotNil(t, reply)
	assert.Equal(t, gossip.KindSync, reply.Type)

	_, ok := s.Membership().Get(peer.NodeID)
	assert.True(t, ok)
	selfState, ok := s.Membership().Get(self.NodeID)
	require.True(t, ok)
	assert.Equal(t, membership.Alive, selfState.Status)
}

func TestHandleMessage_SelfReportedDeadTriggersIncarnationBump(t *testing.T) {
	s, self := newState(t)

	// A peer's sync batch claims this node is Dead at the same incarnation.
	incoming := []membership.State{{Info: self, Status: membership.Dead, Heartbeat: time.Now()}}
	s.HandleMessage(gossip.Message{Type: gossip.KindSync, Sync: incoming})

	assert.Greater(t, s.Current().Incarnation, self.Incarnation)
	assert.False(t, s.Membership().IsDead(self.NodeID))
}

func TestStart_SucceedsWithNoPeersBecauseSelfIsSeeded(t *testing.T) {
	// Start always seeds the node's own entry before bootstrapping, so in
	// practice membership is never empty post-bootstrap; ErrNoInitialPeer
	// exists to guard against a future change that removes the self-seed.
	self := node.Init("cluster-1", "http://self:8080", "http://self:8081")
	s := gossip.New(self, nil, t.TempDir(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Membership().Len())

	cancel()
	s.Wait()
}
