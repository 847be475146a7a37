package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/caxton/internal/caxton"
)

func TestSelectRecipientsBroadcastReturnsAllCandidates(t *testing.T) {
	registry := NewRegistry(nil)
	a, b, c := caxton.NewID(), caxton.NewID(), caxton.NewID()
	candidates := []caxton.ID{a, b, c}

	out := selectRecipients(Broadcast, candidates, registry, caxton.NewID())
	assert.ElementsMatch(t, candidates, out)
}

func TestSelectRecipientsSingleRecipientPicksLeastLoaded(t *testing.T) {
	registry := NewRegistry(nil)
	busy, idle := caxton.NewID(), caxton.NewID()
	registry.RegisterAgent(busy, []string{"x"})
	registry.RegisterAgent(idle, []string{"x"})

	done := registry.BeginDelivery(busy)
	defer done()

	out := selectRecipients(SingleRecipient, []caxton.ID{busy, idle}, registry, caxton.NewID())
	require.Len(t, out, 1)
	assert.Equal(t, idle, out[0])
}

func TestPickLeastLoadedIsStableOnFullTie(t *testing.T) {
	registry := NewRegistry(nil)
	a, b := caxton.NewID(), caxton.NewID()
	registry.RegisterAgent(a, []string{"x"})
	registry.RegisterAgent(b, []string{"x"})

	msgID := caxton.NewID()
	first := pickLeastLoaded([]caxton.ID{a, b}, registry, msgID)
	second := pickLeastLoaded([]caxton.ID{a, b}, registry, msgID)
	assert.Equal(t, first, second)
}

func TestPickLeastLoadedWithNoRegisteredLoadFallsBackToHash(t *testing.T) {
	registry := NewRegistry(nil)
	a, b := caxton.NewID(), caxton.NewID()
	// Neither agent registered, so loadFor returns nil for both; the
	// function must not panic and must still return one of the two.
	picked := pickLeastLoaded([]caxton.ID{a, b}, registry, caxton.NewID())
	assert.Contains(t, []caxton.ID{a, b}, picked)
}
