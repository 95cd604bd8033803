// Package membership tracks the cluster's view of its own peers: who is
// known, whether each is believed Alive or Dead, and the merge rules that
// let that view converge across a gossiping cluster without a central
// coordinator.
package membership

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scopedb/percas/internal/node"
)

// Status is a member's believed liveness.
type Status string

const (
	Alive Status = "alive"
	Dead  Status = "dead"
)

// DowngradeTo applies the one-way Alive->Dead transition rule: two Alive
// reports stay Alive, anything else adopts the incoming status. UpdateMember
// applies it only to an observation older than the stored heartbeat, so at
// equal incarnation a stale report can turn Alive into Dead but a stale
// Alive report never revives a Dead entry.
func (s Status) DowngradeTo(other Status) Status {
	if s == Alive && other == Alive {
		return Alive
	}
	return other
}

// State is one member's entry in the membership table: its identity,
// believed status, and the timestamp of the observation that produced it.
type State struct {
	Info      node.Info `json:"info"`
	Status    Status    `json:"status"`
	Heartbeat time.Time `json:"heartbeat"`
}

// Membership is the set of members known to this node, keyed by node id.
// It is safe for concurrent use; callers needing a stable view across
// several reads (e.g. to rebuild a hash ring) should call Snapshot once and
// operate on the returned slice instead of re-reading the map repeatedly.
type Membership struct {
	mu      sync.RWMutex
	members map[uuid.UUID]State
}

// New returns an empty Membership.
func New() *Membership {
	return &Membership{members: make(map[uuid.UUID]State)}
}

// Get returns the current state of id, if known.
func (m *Membership) Get(id uuid.UUID) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.members[id]
	return s, ok
}

// IsDead reports whether id is known and currently believed Dead.
func (m *Membership) IsDead(id uuid.UUID) bool {
	s, ok := m.Get(id)
	return ok && s.Status == Dead
}

// Snapshot returns every member state, ordered by node id, for callers that
// need a stable point-in-time view (ring rebuilds, anti-entropy sync
// payloads, the /members control-plane endpoint).
func (m *Membership) Snapshot() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]State, 0, len(m.members))
	for _, s := range m.members {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info.NodeID.String() < out[j].Info.NodeID.String()
	})
	return out
}

// Len returns the number of known members.
func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// UpdateMember merges an observed member state into the table and reports
// whether the table changed as a result. Merge rules, in order:
//
//   - Unknown node id: the observation is added outright.
//   - Incoming incarnation is higher: the observation replaces the entry
//     wholesale (this is how a node recovers from a stale Dead rumor, by
//     restarting with a bumped incarnation).
//   - Incoming incarnation is lower: the observation is ignored.
//   - Incarnations are equal: the heartbeat is advanced to the later of the
//     two timestamps, and the status is replaced only if the incoming
//     observation is at least as fresh; otherwise the one-way Alive->Dead
//     downgrade rule still applies, so a Dead observation is never lost to a
//     stale Alive report.
func (m *Membership) UpdateMember(incoming State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := incoming.Info.NodeID
	current, ok := m.members[id]
	if !ok {
		m.members[id] = incoming
		return true
	}

	if current.Info.Incarnation < incoming.Info.Incarnation {
		m.members[id] = incoming
		return true
	}
	if current.Info.Incarnation > incoming.Info.Incarnation {
		return false
	}

	prevStatus := current.Status
	prevHeartbeat := current.Heartbeat

	if incoming.Heartbeat.After(current.Heartbeat) {
		current.Heartbeat = incoming.Heartbeat
	}

	if !incoming.Heartbeat.Before(prevHeartbeat) && incoming.Status != current.Status {
		current.Status = incoming.Status
	} else {
		current.Status = current.Status.DowngradeTo(incoming.Status)
	}

	m.members[id] = current
	return current.Status != prevStatus || !current.Heartbeat.Equal(prevHeartbeat)
}

// RemoveMember deletes id from the table unconditionally. Used by the
// harvest loop once a Dead member has exceeded the deadline for removal.
func (m *Membership) RemoveMember(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, id)
}

// RefreshSelf ensures this node's own entry is present and Alive with a
// fresh heartbeat, overriding any Dead report other members may have gossiped
// about it. Called once by gossip's Start to seed this node's own entry
// before bootstrap.
func (m *Membership) RefreshSelf(self node.Info, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[self.NodeID] = State{Info: self, Status: Alive, Heartbeat: now}
}

// HarvestDead returns the ids of members that have been Dead for at least
// deadline, relative to now, so the caller can remove them from the table
// and the hash ring.
func (m *Membership) HarvestDead(now time.Time, deadline time.Duration) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dead []uuid.UUID
	for id, s := range m.members {
		if s.Status == Dead && now.Sub(s.Heartbeat) >= deadline {
			dead = append(dead, id)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].String() < dead[j].String() })
	return dead
}
