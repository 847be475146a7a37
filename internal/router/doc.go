// Package router implements the Message Bus & Router (C3): capability
// registration, recipient selection, delivery-semantics enforcement,
// conversation tracking, and backpressure.
//
// The capability index and per-agent load bookkeeping are grounded on
// the teacher's agent/discovery registry (capabilityIndex keyed by
// capability name) and matcher (load/score/latency weighted selection,
// generalized here to the spec's fixed least-loaded-then-latency-
// then-hash tie-break order rather than a configurable weighted score).
// The stable hash used for the final tie-break is
// github.com/cespare/xxhash/v2, already in the pack's dependency set.
package router
