// Package wstrace keeps a bounded in-memory trace of frames crossing the
// module bridge, for the debug API.
package wstrace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxEntries caps the trace; the newest entries win.
const MaxEntries = 500

// Direction marks which way a frame travelled.
type Direction string

const (
	DirectionRX Direction = "rx"
	DirectionTX Direction = "tx"
)

// Entry is one traced frame.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Direction Direction      `json:"direction"`
	ModuleID  string         `json:"module_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// Trace is a fixed-capacity, newest-first frame log.
type Trace struct {
	mu      sync.Mutex
	enabled bool
	entries []Entry
}

// New creates a trace. When enabled is false only forced records are kept.
func New(enabled bool) *Trace {
	return &Trace{enabled: enabled}
}

// Record stores a frame if tracing is enabled.
func (t *Trace) Record(direction Direction, payload map[string]any, moduleID string) {
	t.record(direction, payload, moduleID, false)
}

// RecordForced stores a frame regardless of the enabled flag. Status frames
// use this so the trace always shows module liveness.
func (t *Trace) RecordForced(direction Direction, payload map[string]any, moduleID string) {
	t.record(direction, payload, moduleID, true)
}

func (t *Trace) record(direction Direction, payload map[string]any, moduleID string, force bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled && !force {
		return
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Direction: direction,
		ModuleID:  moduleID,
		Payload:   payload,
	}
	t.entries = append([]Entry{entry}, t.entries...)
	if len(t.entries) > MaxEntries {
		t.entries = t.entries[:MaxEntries]
	}
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (t *Trace) List(limit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, t.entries[:n])
	return out
}

// Clear drops all entries.
func (t *Trace) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
