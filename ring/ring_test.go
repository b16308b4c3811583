package ring

import (
	"testing"

	glog "github.com/omgolab/go-commons/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omgolab/bahnrouter/config"
)

type fakeMembership struct {
	self  string
	hosts map[string][]string
}

func (f *fakeMembership) Lookup(service string, k int) []string {
	hosts := f.hosts[service]
	if len(hosts) > k {
		hosts = hosts[:k]
	}
	return hosts
}

func (f *fakeMembership) Self() string { return f.self }

func newTestView(t *testing.T, member *fakeMembership) (*View, *config.Remote) {
	t.Helper()
	log, err := glog.New()
	require.NoError(t, err)
	remote := config.NewRemote()
	return New(log, member, remote), remote
}

func TestExitsForIsSortedAndBoundedByK(t *testing.T) {
	member := &fakeMembership{
		self:  "h1:1",
		hosts: map[string][]string{"steve": {"h3:1", "h1:1", "h2:1"}},
	}
	view, remote := newTestView(t, member)
	remote.UpdateServiceKValues(map[string]int{"steve": 2})

	exits := view.ExitsFor("steve")
	assert.Equal(t, []string{"h1:1", "h3:1"}, exits)
}

func TestIsExitForReflectsMembership(t *testing.T) {
	member := &fakeMembership{
		self:  "h1:1",
		hosts: map[string][]string{"steve": {"h1:1", "h2:1"}, "bob": {"h2:1", "h3:1"}},
	}
	view, _ := newTestView(t, member)

	assert.True(t, view.IsExitFor("steve"))
	assert.False(t, view.IsExitFor("bob"))
}

func TestChangedNotifiesAllRegisteredListeners(t *testing.T) {
	member := &fakeMembership{hosts: map[string][]string{}}
	view, _ := newTestView(t, member)

	var calls int
	view.OnChanged(func() { calls++ })
	view.OnChanged(func() { calls++ })
	view.Changed()

	assert.Equal(t, 2, calls)
}
