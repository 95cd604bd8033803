package gossip_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopedb/percas/internal/gossip"
	"github.com/scopedb/percas/internal/membership"
	"github.com/scopedb/percas/internal/node"
)

func TestMessage_PingMarshalsAsTaggedUnion(t *testing.T) {
	peer := node.Init("cluster-1", "http://peer:8080", "http://peer:8081")
	msg := gossip.Message{Type: gossip.KindPing, Ping: &peer}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasPing := raw["Ping"]
	_, hasType := raw["type"]
	assert.True(t, hasPing)
	assert.False(t, hasType)
}

func TestMessage_RoundTripsThroughJSON(t *testing.T) {
	peer := node.Init("cluster-1", "http://peer:8080", "http://peer:8081")

	for _, original := range []gossip.Message{
		{Type: gossip.KindPing, Ping: &peer},
		{Type: gossip.KindAck, Ack: &peer},
		{Type: gossip.KindSync, Sync: []membership.State{{Info: peer, Status: membership.Alive}}},
	} {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded gossip.Message
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original.Type, decoded.Type)
	}
}

func TestMessage_SyncNestsUnderMembersKey(t *testing.T) {
	peer := node.Init("cluster-1", "http://peer:8080", "http://peer:8081")
	msg := gossip.Message{Type: gossip.KindSync, Sync: []membership.State{{Info: peer, Status: membership.Alive}}}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw struct {
		Sync struct {
			Members []json.RawMessage `json:"members"`
		} `json:"Sync"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw.Sync.Members, 1)
}
