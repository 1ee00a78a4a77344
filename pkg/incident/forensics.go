package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/archive"
	"github.com/Veridian-Labs/aegis/pkg/canonical"
	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/keyring"
)

var (
	ErrEvidenceNotFound = errors.New("evidence not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrEvidenceTampered = errors.New("tampered evidence custody is frozen")
	ErrNoEvidenceStore  = errors.New("no evidence archive configured")
)

// CustodyEntry is one link in an evidence custody chain.
type CustodyEntry struct {
	Action string    `json:"action"` // collected or transferred
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Evidence is one piece of collected forensic material. The hash is the
// 16-character content fingerprint; the signature, when a keyring is
// attached, covers the hash so a rewritten fingerprint fails verification
// even if it matches rewritten content.
type Evidence struct {
	ID          string          `json:"id"`
	IncidentID  string          `json:"incident_id"`
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Hash        string          `json:"hash"`
	Signature   string          `json:"signature,omitempty"`
	Integrity   string          `json:"integrity"` // verified or tampered
	Custody     []*CustodyEntry `json:"custody"`
	CollectedAt time.Time       `json:"collected_at"`
}

// IntegrityReport is the result of one integrity verification.
type IntegrityReport struct {
	EvidenceID     string    `json:"evidence_id"`
	Intact         bool      `json:"intact"`
	Signed         bool      `json:"signed"`
	SignatureValid bool      `json:"signature_valid"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Snapshot captures arbitrary system state alongside the evidence store.
type Snapshot struct {
	ID         string                 `json:"id"`
	IncidentID string                 `json:"incident_id"`
	Source     string                 `json:"source"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ForensicsCollector stores evidence with hash fingerprints and custody
// chains, takes state snapshots, and exports evidence bundles to an
// archive store.
type ForensicsCollector struct {
	mu        sync.RWMutex
	evidence  map[string]*Evidence
	order     []string
	snapshots map[string]*Snapshot
	snapOrder []string
	signer    *keyring.Keyring
	archive   archive.Store
	exports   int
	clock     func() time.Time
}

// NewForensicsCollector returns a collector without signing or archival;
// attach those with WithKeyring and WithArchive.
func NewForensicsCollector() *ForensicsCollector {
	return &ForensicsCollector{
		evidence:  make(map[string]*Evidence),
		snapshots: make(map[string]*Snapshot),
		clock:     time.Now,
	}
}

// WithKeyring attaches a signing keyring. Evidence collected afterwards
// carries a signature over its hash.
func (c *ForensicsCollector) WithKeyring(k *keyring.Keyring) *ForensicsCollector {
	c.signer = k
	return c
}

// WithArchive attaches the offsite evidence store used by ExportEvidence.
func (c *ForensicsCollector) WithArchive(store archive.Store) *ForensicsCollector {
	c.archive = store
	return c
}

// WithClock overrides the time source.
func (c *ForensicsCollector) WithClock(clock func() time.Time) *ForensicsCollector {
	c.clock = clock
	return c
}

// CollectEvidence fingerprints the content and stores it with a custody
// chain opened by the collector.
func (c *ForensicsCollector) CollectEvidence(incidentID, evidenceType, content, collectedBy string) (*Evidence, error) {
	if incidentID == "" {
		return nil, errors.New("incident ID is required")
	}
	if evidenceType == "" {
		return nil, errors.New("evidence type is required")
	}
	if content == "" {
		return nil, errors.New("evidence content is required")
	}
	if collectedBy == "" {
		return nil, errors.New("evidence collector is required")
	}

	hash := canonical.ShortHash([]byte(content), 16)
	var sig string
	if c.signer != nil {
		var err error
		sig, err = c.signer.Sign([]byte(hash))
		if err != nil {
			return nil, fmt.Errorf("failed to sign evidence: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	ev := &Evidence{
		ID:          ident.New(ident.PrefixEvidence),
		IncidentID:  incidentID,
		Type:        evidenceType,
		Content:     content,
		Hash:        hash,
		Signature:   sig,
		Integrity:   "verified",
		Custody:     []*CustodyEntry{{Action: "collected", To: collectedBy, At: now}},
		CollectedAt: now,
	}
	c.evidence[ev.ID] = ev
	c.order = append(c.order, ev.ID)
	return ev, nil
}

// VerifyIntegrity recomputes the content fingerprint and checks the
// signature. A mismatch marks the evidence tampered.
func (c *ForensicsCollector) VerifyIntegrity(id string) (*IntegrityReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.evidence[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrEvidenceNotFound)
	}

	intact := canonical.ShortHash([]byte(ev.Content), 16) == ev.Hash
	if intact {
		ev.Integrity = "verified"
	} else {
		ev.Integrity = "tampered"
	}

	report := &IntegrityReport{
		EvidenceID: ev.ID,
		Intact:     intact,
		CheckedAt:  c.clock(),
	}
	if ev.Signature != "" && c.signer != nil {
		report.Signed = true
		report.SignatureValid = c.signer.Verify([]byte(ev.Hash), ev.Signature)
	}
	return report, nil
}

// TransferCustody appends a transfer to the custody chain. Tampered
// evidence stays in the store but its chain accepts no further entries.
func (c *ForensicsCollector) TransferCustody(id, from, to, reason string) (*Evidence, error) {
	if from == "" || to == "" {
		return nil, errors.New("custody transfer needs both holders")
	}
	if reason == "" {
		return nil, errors.New("custody transfer needs a reason")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.evidence[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrEvidenceNotFound)
	}
	if ev.Integrity == "tampered" {
		return nil, fmt.Errorf("evidence %q: %w", id, ErrEvidenceTampered)
	}
	ev.Custody = append(ev.Custody, &CustodyEntry{
		Action: "transferred",
		From:   from,
		To:     to,
		Reason: reason,
		At:     c.clock(),
	})
	return ev, nil
}

// TakeSnapshot records arbitrary system state for an incident.
func (c *ForensicsCollector) TakeSnapshot(incidentID, source string, data map[string]interface{}) (*Snapshot, error) {
	if incidentID == "" {
		return nil, errors.New("incident ID is required")
	}
	if source == "" {
		return nil, errors.New("snapshot source is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &Snapshot{
		ID:         ident.New(ident.PrefixSnapshot),
		IncidentID: incidentID,
		Source:     source,
		Data:       data,
		CreatedAt:  c.clock(),
	}
	c.snapshots[snap.ID] = snap
	c.snapOrder = append(c.snapOrder, snap.ID)
	return snap, nil
}

// ExportEvidence writes the canonical evidence bundle, custody chain
// included, to the attached archive and returns its storage address.
func (c *ForensicsCollector) ExportEvidence(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.archive == nil {
		return "", ErrNoEvidenceStore
	}
	ev, ok := c.evidence[id]
	if !ok {
		return "", fmt.Errorf("%q: %w", id, ErrEvidenceNotFound)
	}

	bundle, err := canonical.JCS(ev)
	if err != nil {
		return "", fmt.Errorf("failed to encode evidence bundle: %w", err)
	}
	ref, err := c.archive.Store(ctx, bundle)
	if err != nil {
		return "", fmt.Errorf("failed to archive evidence %q: %w", id, err)
	}
	c.exports++
	return ref, nil
}

// Evidence returns one piece of evidence by ID.
func (c *ForensicsCollector) Evidence(id string) (*Evidence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.evidence[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrEvidenceNotFound)
	}
	return ev, nil
}

// EvidenceFor lists an incident's evidence in collection order.
func (c *ForensicsCollector) EvidenceFor(incidentID string) []*Evidence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Evidence
	for _, id := range c.order {
		if ev, ok := c.evidence[id]; ok && ev.IncidentID == incidentID {
			out = append(out, ev)
		}
	}
	return out
}

// Snapshot returns a snapshot by ID.
func (c *ForensicsCollector) Snapshot(id string) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrSnapshotNotFound)
	}
	return snap, nil
}

// SnapshotsFor lists an incident's snapshots in capture order.
func (c *ForensicsCollector) SnapshotsFor(incidentID string) []*Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Snapshot
	for _, id := range c.snapOrder {
		if snap, ok := c.snapshots[id]; ok && snap.IncidentID == incidentID {
			out = append(out, snap)
		}
	}
	return out
}

// Stats reports forensics counters.
func (c *ForensicsCollector) Stats() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tampered := 0
	for _, ev := range c.evidence {
		if ev.Integrity == "tampered" {
			tampered++
		}
	}
	return map[string]int{
		"evidence":  len(c.evidence),
		"snapshots": len(c.snapshots),
		"tampered":  tampered,
		"exports":   c.exports,
	}
}
