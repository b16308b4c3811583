package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omgolab/bahnrouter/config"
)

func TestUpdateTotalLimitPreservesCounterValue(t *testing.T) {
	remote := config.NewRemote()
	l := New(remote, time.Second, 10)
	now := time.Now()

	for i := 0; i < 3; i++ {
		l.IncrementTotal(now)
	}
	l.UpdateTotalLimit(3)
	assert.True(t, l.ShouldRateLimitTotalRequest(now))

	l.UpdateTotalLimit(10)
	assert.False(t, l.ShouldRateLimitTotalRequest(now))
	assert.Equal(t, float64(3), l.TotalRps(now))
}

func TestServiceRpsBoundary(t *testing.T) {
	remote := config.NewRemote()
	l := New(remote, time.Second, 10)
	now := time.Now()
	l.UpdateServiceLimit("steve", 2)

	l.IncrementService("steve", now)
	assert.False(t, l.ShouldRateLimitService("steve", now))
	l.IncrementService("steve", now)
	assert.True(t, l.ShouldRateLimitService("steve", now))
}

func TestBucketsRotateOutOverPeriod(t *testing.T) {
	remote := config.NewRemote()
	l := New(remote, 100*time.Millisecond, 10)
	now := time.Now()
	l.UpdateTotalLimit(1)
	l.IncrementTotal(now)
	assert.True(t, l.ShouldRateLimitTotalRequest(now))

	later := now.Add(200 * time.Millisecond)
	assert.False(t, l.ShouldRateLimitTotalRequest(later))
}

func TestKillSwitchTierAboveSoftLimit(t *testing.T) {
	remote := config.NewRemote()
	l := New(remote, time.Second, 10)
	now := time.Now()
	l.EnsureServiceCounters("steve")
	l.UpdateServiceLimit("steve", 1)

	assert.False(t, l.ShouldKillSwitchService("steve", now))
	for i := 0; i < int(config.DefaultTotalKillSwitchMult); i++ {
		l.IncrementKillSwitchCounters("steve", now)
	}
	assert.True(t, l.ShouldKillSwitchService("steve", now))
}
