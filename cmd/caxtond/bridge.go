package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/caxton-io/caxton/internal/memory"
	"github.com/caxton-io/caxton/internal/proto"
	"github.com/caxton-io/caxton/internal/router"
)

// sandboxBridge implements sandbox.HostBridge: it is the composition
// root's translation between a guest's unforgeable host calls and the
// router and memory subsystems. router and memory are nil-checked on
// every call so the bridge can be constructed and wired into the sandbox
// Host before either dependency exists, and populated once the rest of
// the wiring is in place.
type sandboxBridge struct {
	logger *zap.Logger
	router *router.Router
	memory *memory.Store
}

func (b *sandboxBridge) Log(agent caxton.ID, level, message string) {
	fields := []zap.Field{zap.String("agent_id", agent.String())}
	switch level {
	case "debug":
		b.logger.Debug(message, fields...)
	case "warn":
		b.logger.Warn(message, fields...)
	case "error":
		b.logger.Error(message, fields...)
	default:
		b.logger.Info(message, fields...)
	}
}

func (b *sandboxBridge) SendMessage(agent caxton.ID, capability string, payload []byte) error {
	if b.router == nil {
		return nil
	}
	msg := proto.NewMessage(proto.Request, agent, capability, payload)
	now := time.Now()
	results := b.router.Submit(context.Background(), msg, now)
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func (b *sandboxBridge) StoreEntity(agent caxton.ID, name, entityType string, observations []string) (caxton.ID, error) {
	if b.memory == nil {
		return caxton.ID{}, nil
	}
	return b.memory.StoreEntity(context.Background(), memory.ScopeAgent, agent, name, entityType, observations, time.Now())
}

func (b *sandboxBridge) CreateRelation(agent caxton.ID, from, to caxton.ID, relType string, strength, confidence float64) (caxton.ID, error) {
	if b.memory == nil {
		return caxton.ID{}, nil
	}
	return b.memory.CreateRelation(context.Background(), from, to, relType, strength, confidence, nil, time.Now())
}

func (b *sandboxBridge) SearchMemory(agent caxton.ID, queryText string, limit int) ([]byte, error) {
	if b.memory == nil {
		return []byte("[]"), nil
	}
	results, err := b.memory.SemanticSearch(context.Background(), queryText, limit, memory.SearchFilter{
		Scope:    memory.ScopeAgent,
		ScopeKey: agent,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(results)
}
