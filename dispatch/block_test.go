package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockerMatchesExactAndWildcardEdges(t *testing.T) {
	b := NewBlocker()
	b.BlockOperator("alice~~steve")

	assert.True(t, b.IsBlocked("alice", "steve"))
	assert.False(t, b.IsBlocked("bob", "steve"))

	b.UnblockOperator("alice~~steve")
	assert.False(t, b.IsBlocked("alice", "steve"))
}

func TestBlockerWildcardServiceAndCaller(t *testing.T) {
	b := NewBlocker()
	b.SetRemoteBlocks([]string{"*~~steve", "bob~~*"})

	assert.True(t, b.IsBlocked("anyone", "steve"))
	assert.True(t, b.IsBlocked("bob", "anything"))
	assert.False(t, b.IsBlocked("alice", "other"))
}

func TestBlockerRejectsWildcardWildcard(t *testing.T) {
	b := NewBlocker()
	b.BlockOperator("*~~*")
	assert.False(t, b.IsBlocked("anyone", "anything"))
}
