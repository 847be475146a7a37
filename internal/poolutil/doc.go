// Package poolutil provides bounded-concurrency worker pools and
// sync.Pool-backed object reuse for the subsystems that drive their own
// I/O: the router's fan-out delivery and the wire codec's buffer churn.
package poolutil
