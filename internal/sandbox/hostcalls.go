package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// agentIDFromModule recovers the calling agent's ID from the Host's own
// instance registry by the module's assigned name, never from guest-
// supplied arguments — the whole point of this lookup is that a guest
// cannot forge another agent's identity in a host call.
func (h *Host) agentIDFromModule(mod api.Module) (caxton.ID, bool) {
	name := mod.Name()
	id, err := caxton.ParseID(name)
	if err != nil {
		return caxton.Nil, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, inst := range h.instances {
		if inst.handle == id {
			return inst.agentID, true
		}
	}
	return caxton.Nil, false
}

func readGuestString(mod api.Module, ptr, length uint32) (string, bool) {
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}

// registerHostModule builds the "host" import module guest code links
// against, mirroring the teacher-pack wazero host's
// NewHostModuleBuilder("host") + NewFunctionBuilder().WithFunc(...).Export(...)
// pattern.
func (h *Host) registerHostModule(ctx context.Context) error {
	builder := h.runtime.NewHostModuleBuilder("host")

	builder.NewFunctionBuilder().WithFunc(h.hostLog).Export("host.log")
	builder.NewFunctionBuilder().WithFunc(h.hostSendMessage).Export("host.send_message")
	builder.NewFunctionBuilder().WithFunc(h.hostStoreEntity).Export("host.memory_store_entity")
	builder.NewFunctionBuilder().WithFunc(h.hostCreateRelation).Export("host.memory_create_relation")
	builder.NewFunctionBuilder().WithFunc(h.hostSearchMemory).Export("host.memory_search")
	builder.NewFunctionBuilder().WithFunc(h.hostTimeNowMillis).Export("host.time_now_millis")

	_, err := builder.Instantiate(ctx)
	return err
}

func (h *Host) hostLog(_ context.Context, mod api.Module, levelPtr, levelLen, msgPtr, msgLen uint32) {
	agentID, ok := h.agentIDFromModule(mod)
	if !ok {
		return
	}
	level, _ := readGuestString(mod, levelPtr, levelLen)
	msg, _ := readGuestString(mod, msgPtr, msgLen)
	h.bridge.Log(agentID, level, msg)
}

func (h *Host) hostSendMessage(_ context.Context, mod api.Module, capPtr, capLen, payloadPtr, payloadLen uint32) uint32 {
	agentID, ok := h.agentIDFromModule(mod)
	if !ok {
		return 0
	}
	capability, okCap := readGuestString(mod, capPtr, capLen)
	payload, okPayload := mod.Memory().Read(payloadPtr, payloadLen)
	if !okCap || !okPayload {
		return 0
	}
	if err := h.bridge.SendMessage(agentID, capability, payload); err != nil {
		h.logger.Warn("host.send_message failed", zap.Error(err))
		return 0
	}
	return 1
}

// observationSep delimits individual observations within the blob a guest
// passes to host.memory_store_entity — guest code joins its observation
// strings with it before the host call, mirroring how hostSearchMemory's
// result blob is a flat byte run rather than a structured encoding.
const observationSep = "\x1f"

func decodeObservations(blob string) []string {
	if blob == "" {
		return nil
	}
	return strings.Split(blob, observationSep)
}

func (h *Host) hostStoreEntity(_ context.Context, mod api.Module, namePtr, nameLen, typePtr, typeLen, obsPtr, obsLen uint32) uint64 {
	agentID, ok := h.agentIDFromModule(mod)
	if !ok {
		return 0
	}
	name, okName := readGuestString(mod, namePtr, nameLen)
	entityType, okType := readGuestString(mod, typePtr, typeLen)
	if !okName || !okType {
		return 0
	}
	var observations []string
	if obsLen > 0 {
		obsBlob, okObs := readGuestString(mod, obsPtr, obsLen)
		if !okObs {
			return 0
		}
		observations = decodeObservations(obsBlob)
	}
	id, err := h.bridge.StoreEntity(agentID, name, entityType, observations)
	if err != nil {
		h.logger.Warn("host.memory_store_entity failed", zap.Error(err))
		return 0
	}
	b := id.Bytes()
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
}

func (h *Host) hostCreateRelation(_ context.Context, mod api.Module, fromPtr, toPtr, typePtr, typeLen uint32) uint64 {
	agentID, ok := h.agentIDFromModule(mod)
	if !ok {
		return 0
	}
	fromBytes, okFrom := mod.Memory().Read(fromPtr, 16)
	toBytes, okTo := mod.Memory().Read(toPtr, 16)
	relType, okType := readGuestString(mod, typePtr, typeLen)
	if !okFrom || !okTo || !okType {
		return 0
	}
	var fromArr, toArr [16]byte
	copy(fromArr[:], fromBytes)
	copy(toArr[:], toBytes)

	id, err := h.bridge.CreateRelation(agentID, caxton.IDFromBytes(fromArr), caxton.IDFromBytes(toArr), relType, 1.0, 1.0)
	if err != nil {
		h.logger.Warn("host.memory_create_relation failed", zap.Error(err))
		return 0
	}
	b := id.Bytes()
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
}

func (h *Host) hostSearchMemory(_ context.Context, mod api.Module, queryPtr, queryLen uint32, limit uint32) uint32 {
	agentID, ok := h.agentIDFromModule(mod)
	if !ok {
		return 0
	}
	query, okQuery := readGuestString(mod, queryPtr, queryLen)
	if !okQuery {
		return 0
	}
	result, err := h.bridge.SearchMemory(agentID, query, int(limit))
	if err != nil || len(result) == 0 {
		return 0
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0
	}
	results, err := alloc.Call(context.Background(), uint64(len(result)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, result) {
		return 0
	}
	return ptr
}

func (h *Host) hostTimeNowMillis(context.Context, api.Module) uint64 {
	return uint64(time.Now().UnixMilli())
}
