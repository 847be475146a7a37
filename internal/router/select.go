package router

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/caxton-io/caxton/internal/caxton"
)

// Protocol selects how many recipients a message's capability resolves
// to.
type Protocol string

const (
	// SingleRecipient delivers to exactly one agent: the least-loaded,
	// ties broken by lowest average latency, further ties broken by a
	// stable hash of the message ID.
	SingleRecipient Protocol = "single_recipient"
	// Broadcast delivers to every agent advertising the capability at
	// the moment of lookup.
	Broadcast Protocol = "broadcast"
)

// selectRecipients implements routing algorithm step 3. candidates must
// be non-empty; callers handle the NoProvider case before calling this.
func selectRecipients(protocol Protocol, candidates []caxton.ID, registry *Registry, messageID caxton.ID) []caxton.ID {
	if protocol == Broadcast {
		out := make([]caxton.ID, len(candidates))
		copy(out, candidates)
		return out
	}
	return []caxton.ID{pickLeastLoaded(candidates, registry, messageID)}
}

// pickLeastLoaded implements the SingleRecipient tie-break chain:
// fewest in-flight messages, then lowest average latency over the
// sliding window, then the lowest xxhash of (messageID || agentID) for
// a tie-break that is stable across calls but not biased toward any one
// agent's raw ID ordering.
func pickLeastLoaded(candidates []caxton.ID, registry *Registry, messageID caxton.ID) caxton.ID {
	type scored struct {
		id       caxton.ID
		inFlight int64
		latency  int64
		hash     uint64
	}

	scoredCandidates := make([]scored, 0, len(candidates))
	msgBytes := messageID.Bytes()
	for _, id := range candidates {
		load := registry.loadFor(id)
		var inFlight int64
		var latency int64
		if load != nil {
			inFlight = load.inFlight.Load()
			latency = int64(load.averageLatency())
		}
		idBytes := id.Bytes()
		buf := make([]byte, 0, len(msgBytes)+len(idBytes))
		buf = append(buf, msgBytes[:]...)
		buf = append(buf, idBytes[:]...)
		scoredCandidates = append(scoredCandidates, scored{
			id:       id,
			inFlight: inFlight,
			latency:  latency,
			hash:     xxhash.Sum64(buf),
		})
	}

	sort.Slice(scoredCandidates, func(i, j int) bool {
		a, b := scoredCandidates[i], scoredCandidates[j]
		if a.inFlight != b.inFlight {
			return a.inFlight < b.inFlight
		}
		if a.latency != b.latency {
			return a.latency < b.latency
		}
		return a.hash < b.hash
	})

	return scoredCandidates[0].id
}
