package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"OutreachEngine/internal/ports"
)

// MemoryStore is a process-local ports.Store used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	log     []ports.LogEntry
	now     func() time.Time
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string][]byte{}, now: time.Now}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return clone(v), nil
}

// Set upserts key.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = clone(value)
	return nil
}

// Insert writes key only if absent.
func (m *MemoryStore) Insert(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = clone(value)
	return true, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Scan returns entries with the prefix ordered by key.
func (m *MemoryStore) Scan(_ context.Context, prefix string) ([]ports.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ports.Entry
	for k, v := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ports.Entry{Key: k, Value: clone(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// AppendLog records an event.
func (m *MemoryStore) AppendLog(_ context.Context, event string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(event, payload)
	return nil
}

// ReadLog returns events named event (all when empty) in insertion order.
func (m *MemoryStore) ReadLog(_ context.Context, event string) ([]ports.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ports.LogEntry
	for _, e := range m.log {
		if event == "" || e.Event == event {
			e.Payload = clone(e.Payload)
			out = append(out, e)
		}
	}
	return out, nil
}

// Update runs fn under the store lock and applies its buffered writes only
// when fn succeeds.
func (m *MemoryStore) Update(_ context.Context, fn func(tx ports.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{base: m.entries}
	if err := fn(tx); err != nil {
		return err
	}

	for _, op := range tx.ops {
		switch op.kind {
		case opSet:
			m.entries[op.key] = op.value
		case opDelete:
			delete(m.entries, op.key)
		case opLog:
			m.appendLocked(op.key, op.value)
		}
	}
	return nil
}

func (m *MemoryStore) appendLocked(event string, payload []byte) {
	m.log = append(m.log, ports.LogEntry{
		ID:      uuid.NewString(),
		Event:   event,
		Payload: clone(payload),
		At:      m.now().UTC(),
	})
}

type opKind int

const (
	opSet opKind = iota
	opDelete
	opLog
)

type memoryOp struct {
	kind  opKind
	key   string
	value []byte
}

type memoryTx struct {
	base map[string][]byte
	ops  []memoryOp
}

// Get sees the transaction's own pending writes first.
func (t *memoryTx) Get(key string) ([]byte, error) {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if op.key != key || op.kind == opLog {
			continue
		}
		if op.kind == opDelete {
			return nil, ports.ErrNotFound
		}
		return clone(op.value), nil
	}
	v, ok := t.base[key]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return clone(v), nil
}

func (t *memoryTx) Set(key string, value []byte) error {
	t.ops = append(t.ops, memoryOp{kind: opSet, key: key, value: clone(value)})
	return nil
}

func (t *memoryTx) Delete(key string) error {
	t.ops = append(t.ops, memoryOp{kind: opDelete, key: key})
	return nil
}

func (t *memoryTx) AppendLog(event string, payload []byte) error {
	t.ops = append(t.ops, memoryOp{kind: opLog, key: event, value: clone(payload)})
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
