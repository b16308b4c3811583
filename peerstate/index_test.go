package peerstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkKnownAddsServiceAndCancelsReap(t *testing.T) {
	idx := New()
	now := time.Now()

	idx.MarkKnown("w1:1", "steve", now)
	p, ok := idx.Peer("w1:1")
	assert.True(t, ok)
	assert.True(t, p.HasService("steve"))
}

func TestReapIdempotence(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.MarkKnown("w1:1", "steve", now)

	first := idx.RotateReap()
	assert.Empty(t, first)

	second := idx.RotateReap()
	assert.Equal(t, []DeadPeer{{HostPort: "w1:1", Service: "steve"}}, second)

	third := idx.RotateReap()
	assert.Empty(t, third)
}

func TestReapMarksUnrefreshedPeerDead(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.MarkKnown("w1:1", "steve", now)

	idx.RotateReap() // moves w1:1/steve into peersToReap
	dead := idx.RotateReap()
	if assert.Len(t, dead, 1) {
		assert.Equal(t, DeadPeer{HostPort: "w1:1", Service: "steve"}, dead[0])
	}
}

func TestReapSurvivesReRefresh(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.MarkKnown("w1:1", "steve", now)
	idx.RotateReap()

	idx.MarkKnown("w1:1", "steve", now.Add(time.Second))
	dead := idx.RotateReap()
	assert.Empty(t, dead)
}

func TestConnectedPairInvariant(t *testing.T) {
	idx := New()
	idx.AddConnectedPair("steve", "w1:1")
	assert.True(t, idx.IsConnected("steve", "w1:1"))
	assert.Contains(t, idx.ConnectedServicePeers("steve"), "w1:1")
	assert.Contains(t, idx.ConnectedPeerServices("w1:1"), "steve")

	empty := idx.RemoveConnectedPair("steve", "w1:1")
	assert.True(t, empty)
	assert.False(t, idx.IsConnected("steve", "w1:1"))
}

func TestSchedulePruneIsIdempotent(t *testing.T) {
	idx := New()
	now := time.Now()
	idx.SchedulePrune("w1:1", "reason-a", now)
	idx.SchedulePrune("w1:1", "reason-b", now.Add(time.Second))

	entries := idx.RotatePrune()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "reason-a", entries["w1:1"].Reason)
	}
	assert.Empty(t, idx.RotatePrune())
}

func TestCancelPruneRemovesEntry(t *testing.T) {
	idx := New()
	idx.SchedulePrune("w1:1", "reason", time.Now())
	idx.CancelPrune("w1:1")
	assert.False(t, idx.IsScheduledForPrune("w1:1"))
}
