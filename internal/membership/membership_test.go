package membership_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopedb/percas/internal/membership"
	"github.com/scopedb/percas/internal/node"
)

func makeInfo(id uuid.UUID, incarnation uint64) node.Info {
	return node.Info{
		NodeID:           id,
		ClusterID:        "c",
		AdvertiseDataURL: "http://a",
		AdvertiseCtrlURL: "http://p",
		Incarnation:      incarnation,
	}
}

func TestUpdateMember_AddsNewMember(t *testing.T) {
	m := membership.New()
	id := uuid.Nil

	changed := m.UpdateMember(membership.State{
		Info:      makeInfo(id, 0),
		Status:    membership.Alive,
		Heartbeat: time.Now(),
	})

	assert.True(t, changed)
	_, ok := m.Get(id)
	assert.True(t, ok)
}

func TestUpdateMember_HeartbeatAdvancesWithinSameIncarnation(t *testing.T) {
	m := membership.New()
	id := uuid.Nil

	t0 := time.Now()
	m.UpdateMember(membership.State{Info: makeInfo(id, 0), Status: membership.Alive, Heartbeat: t0})

	t1 := t0.Add(time.Second)
	m.UpdateMember(membership.State{Info: makeInfo(id, 0), Status: membership.Alive, Heartbeat: t1})

	stored, ok := m.Get(id)
	require.True(t, ok)
	assert.True(t, !stored.Heartbeat.Before(t0))
	assert.True(t, !stored.Heartbeat.Before(t1))
}

func TestUpdateMember_HigherIncarnationReplaces(t *testing.T) {
	m := membership.New()
	id := uuid.Nil

	m.UpdateMember(membership.State{Info: makeInfo(id, 1), Status: membership.Alive, Heartbeat: time.Now()})
	changed := m.UpdateMember(membership.State{Info: makeInfo(id, 2), Status: membership.Dead, Heartbeat: time.Now()})

	require.True(t, changed)
	stored, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(2), stored.Info.Incarnation)
	assert.Equal(t, membership.Dead, stored.Status)
}

func TestUpdateMember_LowerIncarnationIsIgnored(t *testing.T) {
	m := membership.New()
	id := uuid.Nil

	m.UpdateMember(membership.State{Info: makeInfo(id, 5), Status: membership.Alive, Heartbeat: time.Now()})
	changed := m.UpdateMember(membership.State{Info: makeInfo(id, 1), Status: membership.Dead, Heartbeat: time.Now()})

	assert.False(t, changed)
	stored, _ := m.Get(id)
	assert.Equal(t, uint64(5), stored.Info.Incarnation)
	assert.Equal(t, membership.Alive, stored.Status)
}

func TestUpdateMember_StaleDeadReportStillDowngradesAlive(t *testing.T) {
	// An older observation cannot replace the status outright, but the
	// one-way Alive->Dead downgrade still applies to it at equal incarnation.
	m := membership.New()
	id := uuid.Nil

	fresh := time.Now()
	stale := fresh.Add(-time.Minute)

	m.UpdateMember(membership.State{Info: makeInfo(id, 0), Status: membership.Alive, Heartbeat: fresh})
	m.UpdateMember(membership.State{Info: makeInfo(id, 0), Status: membership.Dead, Heartbeat: stale})

	stored, _ := m.Get(id)
	assert.Equal(t, membership.Dead, stored.Status)
}

func TestUpdateMember_FresherAliveReplacesDeadAtSameIncarnation(t *testing.T) {
	// At equal incarnation an observation at least as fresh as the stored
	// heartbeat replaces the status, so a newer Alive report revives a Dead
	// entry.
	m := membership.New()
	id := uuid.Nil

	base := time.Now()
	m.UpdateMember(membership.State{Info: makeInfo(id, 0), Status: membership.Dead, Heartbeat: base})
	m.UpdateMember(membership.State{Info: makeInfo(id, 0), Status: membership.Alive, Heartbeat: base.Add(time.Second)})

	stored, _ := m.Get(id)
	assert.Equal(t, membership.Alive, stored.Status)
}

func TestRefreshSelf_OverridesDeadReportAboutSelf(t *testing.T) {
	m := membership.New()
	self := makeInfo(uuid.New(), 3)

	m.UpdateMember(membership.State{Info: self, Status: membership.Dead, Heartbeat: time.Now()})
	m.RefreshSelf(self, time.Now().Add(time.Second))

	stored, ok := m.Get(self.NodeID)
	require.True(t, ok)
	assert.Equal(t, membership.Alive, stored.Status)
}

func TestHarvestDead_ReturnsOnlyMembersPastDeadline(t *testing.T) {
	m := membership.New()
	now := time.Now()

	longDead := makeInfo(uuid.New(), 0)
	recentlyDead := makeInfo(uuid.New(), 0)
	alive := makeInfo(uuid.New(), 0)

	m.UpdateMember(membership.State{Info: longDead, Status: membership.Dead, Heartbeat: now.Add(-time.Hour)})
	m.UpdateMember(membership.State{Info: recentlyDead, Status: membership.Dead, Heartbeat: now})
	m.UpdateMember(membership.State{Info: alive, Status: membership.Alive, Heartbeat: now})

	dead := m.HarvestDead(now, 30*time.Second)
	require.Len(t, dead, 1)
	assert.Equal(t, longDead.NodeID, dead[0])
}

func TestSnapshot_IsOrderedByNodeID(t *testing.T) {
	m := membership.New()
	a := makeInfo(uuid.MustParse("00000000-0000-0000-0000-000000000002"), 0)
	b := makeInfo(uuid.MustParse("00000000-0000-0000-0000-000000000001"), 0)

	m.UpdateMember(membership.State{Info: a, Status: membership.Alive, Heartbeat: time.Now()})
	m.UpdateMember(membership.State{Info: b, Status: membership.Alive, Heartbeat: time.Now()})

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, b.NodeID, snap[0].Info.NodeID)
	assert.Equal(t, a.NodeID, snap[1].Info.NodeID)
}
