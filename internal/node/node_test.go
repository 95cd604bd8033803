package node_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopedb/percas/internal/node"
)

func TestLoadOrInit_FreshDir(t *testing.T) {
	dir := t.TempDir()

	info, err := node.LoadOrInit(dir, "test-cluster", "http://a:1", "http://a:2")
	require.NoError(t, err)
	assert.Equal(t, "test-cluster", info.ClusterID)
	assert.Equal(t, uint64(0), info.Incarnation)
	assert.NotEqual(t, [16]byte{}, info.NodeID)
}

func TestLoadOrInit_AdvancesIncarnationOnReload(t *testing.T) {
	dir := t.TempDir()

	first, err := node.LoadOrInit(dir, "test-cluster", "http://a:1", "http://a:2")
	require.NoError(t, err)

	second, err := node.LoadOrInit(dir, "test-cluster", "http://b:1", "http://b:2")
	require.NoError(t, err)

	assert.Equal(t, first.NodeID, second.NodeID)
	assert.Equal(t, first.Incarnation+1, second.Incarnation)
	// advertise addresses are never persisted; the new ones must win.
	assert.Equal(t, "http://b:1", second.AdvertiseDataURL)
	assert.Equal(t, "http://b:2", second.AdvertiseCtrlURL)
}

func TestPersist_DoesNotLeakAdvertiseAddrs(t *testing.T) {
	dir := t.TempDir()
	path := node.FilePath(dir)

	info := node.Init("c", "http://secret-host:1", "http://secret-host:2")
	require.NoError(t, info.Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-host")
}
