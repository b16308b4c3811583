package partial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeInvalidWhenRelayNotInList(t *testing.T) {
	r := Compute([]string{"h1:1", "h2:1"}, []string{"w1:1"}, "h3:1", 2, 2)
	assert.False(t, r.Valid)
}

func TestComputeCoversAllWorkersAcrossRelays(t *testing.T) {
	relays := Sorted([]string{"h2:1", "h1:1", "h3:1"})
	workers := Sorted([]string{"w5:1", "w1:1", "w2:1", "w3:1", "w4:1"})

	seen := make(map[string]int)
	for _, rh := range relays {
		r := Compute(relays, workers, rh, 2, 2)
		assert.True(t, r.Valid)
		for _, w := range r.AffineWorkers {
			seen[w]++
		}
	}

	for _, w := range workers {
		assert.GreaterOrEqualf(t, seen[w], 2, "worker %s held by fewer than minPeersPerWorker relays", w)
	}
}

func TestComputeWrapsAround(t *testing.T) {
	relays := []string{"h1:1", "h2:1", "h3:1"}
	workers := []string{"w1:1", "w2:1", "w3:1", "w4:1"}

	r := Compute(relays, workers, "h3:1", 2, 2)
	assert.True(t, r.Valid)
	assert.LessOrEqual(t, r.Length, len(workers))
	assert.Equal(t, []string{"w3:1", "w4:1", "w1:1"}, r.AffineWorkers)
}

func TestRangeContains(t *testing.T) {
	r := Compute([]string{"h1:1"}, []string{"w1:1", "w2:1"}, "h1:1", 1, 1)
	assert.True(t, r.Contains("w1:1"))
	assert.False(t, r.Contains("w9:1"))
}
