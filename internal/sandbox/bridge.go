package sandbox

import "github.com/caxton-io/caxton/internal/caxton"

// HostBridge is implemented by the rest of the core (router, memory
// subsystem, lifecycle manager) and supplies the behavior behind each
// host call a guest module may import. Every method receives the calling
// agent's ID from the Host itself, never from guest-supplied bytes — this
// is what makes host calls unforgeable (spec §4.1 isolation guarantee).
type HostBridge interface {
	// Log records a guest log line at the given level.
	Log(agent caxton.ID, level, message string)

	// SendMessage routes an opaque message payload on behalf of agent to
	// the given capability, returning an error if routing rejects it.
	SendMessage(agent caxton.ID, capability string, payload []byte) error

	// StoreEntity upserts a memory entity and returns its ID bytes.
	StoreEntity(agent caxton.ID, name, entityType string, observations []string) (caxton.ID, error)

	// CreateRelation creates a memory relation between two entities.
	CreateRelation(agent caxton.ID, from, to caxton.ID, relType string, strength, confidence float64) (caxton.ID, error)

	// SearchMemory performs a semantic search scoped to agent and returns
	// a serialized result payload (format owned by internal/memory).
	SearchMemory(agent caxton.ID, queryText string, limit int) ([]byte, error)
}

// NopHostBridge is a HostBridge that performs no routing or persistence;
// useful for tests of the sandbox in isolation and as the zero-value
// fallback when a Host is constructed without one wired in yet.
type NopHostBridge struct{}

func (NopHostBridge) Log(caxton.ID, string, string) {}

func (NopHostBridge) SendMessage(caxton.ID, string, []byte) error { return nil }

func (NopHostBridge) StoreEntity(caxton.ID, string, string, []string) (caxton.ID, error) {
	return caxton.NewID(), nil
}

func (NopHostBridge) CreateRelation(caxton.ID, caxton.ID, caxton.ID, string, float64, float64) (caxton.ID, error) {
	return caxton.NewID(), nil
}

func (NopHostBridge) SearchMemory(caxton.ID, string, int) ([]byte, error) {
	return nil, nil
}
