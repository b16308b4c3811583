package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelForwardModePrefersNotOutbound(t *testing.T) {
	ch := NewChannel("steve", Forward)
	assert.False(t, ch.PreferOutbound())
}

func TestChannelExitModePrefersOutbound(t *testing.T) {
	ch := NewChannel("steve", Exit)
	assert.True(t, ch.PreferOutbound())
}

func TestChannelSetModeClearsPeers(t *testing.T) {
	ch := NewChannel("steve", Forward)
	ch.AddPeer("h1:1")
	ch.SetMode(Exit)
	assert.Empty(t, ch.Peers())
	assert.Equal(t, Exit, ch.Mode())
}

func TestChannelPeersSorted(t *testing.T) {
	ch := NewChannel("steve", Exit)
	ch.AddPeer("z:1")
	ch.AddPeer("a:1")
	ch.AddPeer("m:1")
	assert.Equal(t, []string{"a:1", "m:1", "z:1"}, ch.Peers())
}
