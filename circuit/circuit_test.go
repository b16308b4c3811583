package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitTripsOnHighErrorRateAndRecoversAfterProbation(t *testing.T) {
	params := Params{Period: 10 * time.Millisecond, MinRequests: 0, MaxErrorRate: 0.5, Probation: 5}
	reg := New(params, func(string) bool { return true }, nil)

	c := reg.GetOrCreate("bob", "steve", "ifyousayso")
	now := time.Now()
	for i := 0; i < 100; i++ {
		errored := i%5 != 0 // 80% error rate
		c.RecordOutcome(now, errored)
	}

	assert.Equal(t, Unhealthy, c.State())
	assert.False(t, c.ShouldRequest())

	for i := 0; i < params.Probation; i++ {
		c.RecordOutcome(now, false)
	}
	assert.Equal(t, Healthy, c.State())
}

func TestUnnamedCallerSharesSentinelCircuit(t *testing.T) {
	reg := New(DefaultParams(), func(string) bool { return true }, nil)
	a := reg.GetOrCreate("", "steve", "ep")
	b := reg.GetOrCreate("", "steve", "ep")
	assert.Same(t, a, b)
	assert.Equal(t, "no-cn", a.CallerName)
}

func TestUpdateServicesDropsUnownedSubtrees(t *testing.T) {
	owned := map[string]bool{"steve": true}
	reg := New(DefaultParams(), func(sn string) bool { return owned[sn] }, nil)
	reg.GetOrCreate("bob", "steve", "ep")
	reg.GetOrCreate("bob", "gone", "ep")

	reg.UpdateServices()

	snaps := reg.Snapshot()
	assert.Len(t, snaps, 1)
	assert.Equal(t, "steve", snaps[0].ServiceName)
}

func TestStateChangeListenerFires(t *testing.T) {
	params := Params{Period: time.Second, MinRequests: 0, MaxErrorRate: 0.1, Probation: 1}
	done := make(chan struct{}, 1)
	reg := New(params, func(string) bool { return true }, func(c *Circuit, from, to State) {
		if from == Healthy && to == Unhealthy {
			done <- struct{}{}
		}
	})

	c := reg.GetOrCreate("bob", "steve", "ep")
	c.RecordOutcome(time.Now(), true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected state change notification")
	}
}
