package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veridian-Labs/aegis/pkg/canonical"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrChainBroken   = errors.New("hash chain is broken")
)

// Entry is a single immutable record in the audit trail.
type Entry struct {
	EntryID      string                 `json:"entry_id"`
	Sequence     uint64                 `json:"sequence"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource"`
	Payload      json.RawMessage        `json:"payload,omitempty"`
	PayloadHash  string                 `json:"payload_hash"`
	PreviousHash string                 `json:"previous_hash"`
	EntryHash    string                 `json:"entry_hash"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EntryHandler is called when new entries are appended.
type EntryHandler func(entry *Entry)

// Trail is an append-only audit log with hash chaining. Every
// governance operation appends exactly one entry, so the trail
// doubles as the system of record for what happened and when.
type Trail struct {
	mu        sync.RWMutex
	entries   []*Entry
	entryByID map[string]*Entry
	sequence  uint64
	chainHead string
	handlers  []EntryHandler
	clock     func() time.Time
}

// NewTrail creates a new append-only audit trail.
func NewTrail() *Trail {
	return &Trail{
		entries:   make([]*Entry, 0),
		entryByID: make(map[string]*Entry),
		chainHead: "genesis",
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Returns the trail for chaining.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// Attach registers a handler invoked for every appended entry.
// Handlers run inline under the append lock, so they must be fast.
func (t *Trail) Attach(h EntryHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Record implements Logger by appending a chained entry.
func (t *Trail) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	_, err := t.Append(ctx, eventType, action, resource, nil, metadata)
	return err
}

// Append adds a new entry to the trail, linking it to the chain head.
func (t *Trail) Append(ctx context.Context, eventType EventType, action, resource string, payload interface{}, metadata map[string]interface{}) (*Entry, error) {
	var payloadBytes []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize payload: %w", err)
		}
		payloadBytes = b
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequence++
	entry := &Entry{
		EntryID:      uuid.New().String(),
		Sequence:     t.sequence,
		Timestamp:    t.clock().UTC(),
		EventType:    eventType,
		Actor:        actorFrom(ctx),
		Action:       action,
		Resource:     resource,
		Payload:      payloadBytes,
		PayloadHash:  canonical.HashBytes(payloadBytes),
		PreviousHash: t.chainHead,
		Metadata:     metadata,
	}

	entryHash, err := computeEntryHash(entry)
	if err != nil {
		t.sequence-- // rollback sequence on failure
		return nil, fmt.Errorf("failed to compute entry hash: %w", err)
	}
	entry.EntryHash = entryHash
	t.chainHead = entry.EntryHash

	t.entries = append(t.entries, entry)
	t.entryByID[entry.EntryID] = entry

	for _, h := range t.handlers {
		h(entry)
	}

	return entry, nil
}

// computeEntryHash computes the hash of an entry for chaining.
func computeEntryHash(entry *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		EventType    EventType `json:"event_type"`
		Actor        string    `json:"actor"`
		Action       string    `json:"action"`
		Resource     string    `json:"resource"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{
		Sequence:     entry.Sequence,
		Timestamp:    entry.Timestamp,
		EventType:    entry.EventType,
		Actor:        entry.Actor,
		Action:       entry.Action,
		Resource:     entry.Resource,
		PayloadHash:  entry.PayloadHash,
		PreviousHash: entry.PreviousHash,
	}

	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	return canonical.HashBytes(data), nil
}

// Get retrieves an entry by ID.
func (t *Trail) Get(entryID string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entryByID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

// ChainHead returns the current chain head hash.
func (t *Trail) ChainHead() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chainHead
}

// Sequence returns the current sequence number.
func (t *Trail) Sequence() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sequence
}

// Filter defines filtering criteria for trail queries.
type Filter struct {
	EventType  EventType
	Action     string
	Resource   string
	StartTime  *time.Time
	EndTime    *time.Time
	MaxResults int
}

func (f Filter) matches(e *Entry) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Query returns entries matching the filter in append order.
func (t *Trail) Query(filter Filter) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range t.entries {
		if filter.matches(e) {
			results = append(results, e)
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results
}

// VerifyChain verifies the integrity of the hash chain.
func (t *Trail) VerifyChain() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	expectedPrev := "genesis"
	for i, entry := range t.entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d previous hash mismatch", ErrChainBroken, i)
		}
		recomputed, err := computeEntryHash(entry)
		if err != nil {
			return err
		}
		if recomputed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
