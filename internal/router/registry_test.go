package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/caxton/internal/caxton"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	agent := caxton.NewID()
	r.RegisterAgent(agent, []string{"translate", "summarize"})

	assert.ElementsMatch(t, []caxton.ID{agent}, r.AgentsFor("translate"))
	assert.ElementsMatch(t, []caxton.ID{agent}, r.AgentsFor("summarize"))
	assert.Empty(t, r.AgentsFor("unknown"))
}

func TestRegistryDeregisterRemovesFromAllCapabilities(t *testing.T) {
	r := NewRegistry(nil)
	agent := caxton.NewID()
	r.RegisterAgent(agent, []string{"translate", "summarize"})

	r.DeregisterAgent(agent)

	assert.Empty(t, r.AgentsFor("translate"))
	assert.Empty(t, r.AgentsFor("summarize"))
}

func TestRegistryMultipleAgentsSameCapability(t *testing.T) {
	r := NewRegistry(nil)
	a, b := caxton.NewID(), caxton.NewID()
	r.RegisterAgent(a, []string{"translate"})
	r.RegisterAgent(b, []string{"translate"})

	assert.ElementsMatch(t, []caxton.ID{a, b}, r.AgentsFor("translate"))
}

func TestRegistryBeginDeliveryTracksInFlightAndLatency(t *testing.T) {
	r := NewRegistry(nil)
	agent := caxton.NewID()
	r.RegisterAgent(agent, []string{"translate"})

	require.EqualValues(t, 0, r.InFlight(agent))
	done := r.BeginDelivery(agent)
	assert.EqualValues(t, 1, r.InFlight(agent))
	time.Sleep(time.Millisecond)
	done()
	assert.EqualValues(t, 0, r.InFlight(agent))

	load := r.loadFor(agent)
	require.NotNil(t, load)
	assert.Greater(t, load.averageLatency(), time.Duration(0))
}

func TestRegistryDeregisterUnknownAgentIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	assert.NotPanics(t, func() {
		r.DeregisterAgent(caxton.NewID())
	})
}
