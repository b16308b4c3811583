// Package partial implements the deterministic partial-affinity worker
// window described in spec §4.4: a mapping from (sorted relays, sorted
// workers, this relay) to the contiguous, wrap-around subset of workers
// this relay should hold connections to.
package partial

import (
	"math"
	"sort"
)

// Range is the computed partial-affinity window for one relay.
type Range struct {
	RelayIndex int
	Ratio      float64
	Length     int
	Start      int
	Stop       int
	// AffineWorkers is the subset of workers this relay should connect to.
	// Wrap-around: if Stop > len(workers), the window wraps to the front.
	AffineWorkers []string
	// Valid is false when this relay does not appear in relays; per §4.4
	// step 1, the range is invalid until the next reconciliation tick.
	Valid bool
}

// Compute derives the Range for relay `rh` given the sorted relay and
// worker lists, per the algorithm in §4.4. relays and workers are assumed
// already sorted (the ring view and peer index both hand out sorted
// slices).
func Compute(relays, workers []string, rh string, minPeersPerWorker, minPeersPerRelay int) Range {
	idx := indexOf(relays, rh)
	if idx < 0 {
		return Range{Valid: false}
	}
	if len(workers) == 0 {
		return Range{RelayIndex: idx, Valid: true}
	}

	ratio := float64(len(workers)) / float64(len(relays))

	length := int(math.Ceil(ratio * float64(minPeersPerWorker)))
	if length < minPeersPerRelay {
		length = minPeersPerRelay
	}
	if length > len(workers) {
		length = len(workers)
	}

	start := int(math.Floor(float64(idx)*ratio)) % len(workers)
	stop := start + length

	affine := make([]string, 0, length)
	for i := start; i < stop; i++ {
		affine = append(affine, workers[i%len(workers)])
	}

	return Range{
		RelayIndex:    idx,
		Ratio:         ratio,
		Length:        length,
		Start:         start,
		Stop:          stop,
		AffineWorkers: affine,
		Valid:         true,
	}
}

func indexOf(ss []string, target string) int {
	for i, s := range ss {
		if s == target {
			return i
		}
	}
	return -1
}

// Sorted returns a sorted copy of hostPorts, the form Compute expects for
// both relays and workers.
func Sorted(hostPorts []string) []string {
	out := append([]string(nil), hostPorts...)
	sort.Strings(out)
	return out
}

// Contains reports whether hp is among r.AffineWorkers.
func (r Range) Contains(hp string) bool {
	for _, w := range r.AffineWorkers {
		if w == hp {
			return true
		}
	}
	return false
}
