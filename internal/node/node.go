// Package node implements the identity of a single Percas process: its
// cluster-unique id, its advertise addresses, and the incarnation counter
// used by the gossip layer to resolve conflicting failure reports.
//
// A NodeInfo is created once per data directory and persisted to
// node.json. The persisted form intentionally omits the advertise
// addresses, since they may legitimately change across restarts when a node
// is redeployed in a cloud environment.
package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Info describes a Percas node as it is known to the gossip layer: its
// identity, the cluster it belongs to, the addresses other nodes should use
// to reach it, and its incarnation.
//
// Incarnation is a monotone counter that increases every time the node
// restarts after having been reloaded from a persisted node.json, and again
// whenever the node observes itself reported Dead in its own membership view
// (self-defense, see gossip package). Higher incarnation always wins during
// membership merge, which is what lets a node recover from a stale "Dead"
// rumor.
type Info struct {
	NodeID           uuid.UUID `json:"node_id"`
	ClusterID        string    `json:"cluster_id"`
	AdvertiseDataURL string    `json:"advertise_data_url"`
	AdvertiseCtrlURL string    `json:"advertise_ctrl_url"`
	Incarnation      uint64    `json:"incarnation"`
}

// persistent is the subset of Info that survives a restart. advertise
// addresses are deliberately excluded: they are supplied fresh by
// configuration on every start.
type persistent struct {
	NodeID      uuid.UUID `json:"node_id"`
	ClusterID   string    `json:"cluster_id"`
	Incarnation uint64    `json:"incarnation"`
}

// FilePath returns the path to the node identity file within dir.
func FilePath(dir string) string {
	return filepath.Join(dir, "node.json")
}

// Init creates a fresh Info with incarnation zero, for a node starting in an
// empty data directory.
func Init(clusterID, advertiseDataURL, advertiseCtrlURL string) Info {
	return Info{
		NodeID:           uuid.Must(uuid.NewV7()),
		ClusterID:        clusterID,
		AdvertiseDataURL: advertiseDataURL,
		AdvertiseCtrlURL: advertiseCtrlURL,
		Incarnation:      0,
	}
}

// Load reads the persisted node identity at path, if present, and overlays
// the current advertise addresses (which are never persisted). It returns
// (Info{}, false, nil) if no file exists yet.
func Load(path, advertiseDataURL, advertiseCtrlURL string) (Info, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("read node identity %s: %w", path, err)
	}

	var p persistent
	if err := json.Unmarshal(data, &p); err != nil {
		return Info{}, false, fmt.Errorf("parse node identity %s: %w", path, err)
	}

	return Info{
		NodeID:           p.NodeID,
		ClusterID:        p.ClusterID,
		AdvertiseDataURL: advertiseDataURL,
		AdvertiseCtrlURL: advertiseCtrlURL,
		Incarnation:      p.Incarnation,
	}, true, nil
}

// Persist writes the node identity (sans advertise addresses) to path,
// creating the containing directory if necessary.
func (i Info) Persist(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create node identity dir: %w", err)
	}

	p := persistent{NodeID: i.NodeID, ClusterID: i.ClusterID, Incarnation: i.Incarnation}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal node identity: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write node identity: %w", err)
	}
	return os.Rename(tmp, path)
}

// AdvanceIncarnation increments the node's incarnation and returns the
// updated Info. Called on every restart that finds a persisted identity, and
// whenever the node observes its own entry marked Dead.
func (i Info) AdvanceIncarnation() Info {
	i.Incarnation++
	return i
}

// LoadOrInit loads the node identity from path if present, advancing its
// incarnation (and persisting the bump immediately), or
// initializes a fresh identity and persists it.
func LoadOrInit(dir, clusterID, advertiseDataURL, advertiseCtrlURL string) (Info, error) {
	path := FilePath(dir)
	info, ok, err := Load(path, advertiseDataURL, advertiseCtrlURL)
	if err != nil {
		return Info{}, err
	}
	if ok {
		info = info.AdvanceIncarnation()
		if err := info.Persist(path); err != nil {
			return Info{}, err
		}
		return info, nil
	}

	info = Init(clusterID, advertiseDataURL, advertiseCtrlURL)
	if err := info.Persist(path); err != nil {
		return Info{}, err
	}
	return info, nil
}
