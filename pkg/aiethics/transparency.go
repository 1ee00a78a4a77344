package aiethics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/archive"
	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var ErrDisclosureNotFound = errors.New("disclosure not found")

// ModelCard documents a model for external review.
type ModelCard struct {
	ID                    string             `json:"id"`
	ModelName             string             `json:"model_name"`
	IntendedUse           string             `json:"intended_use"`
	Limitations           []string           `json:"limitations"`
	TrainingData          string             `json:"training_data"`
	PerformanceMetrics    map[string]float64 `json:"performance_metrics,omitempty"`
	EthicalConsiderations []string           `json:"ethical_considerations,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
}

// ExplanationFactor is one weighted contributor to a decision.
type ExplanationFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// DecisionExplanation narrates a single model decision.
type DecisionExplanation struct {
	ID           string              `json:"id"`
	DecisionID   string              `json:"decision_id"`
	Factors      []ExplanationFactor `json:"factors"`
	Alternatives []string            `json:"alternatives,omitempty"`
	Confidence   float64             `json:"confidence"`
	Audience     string              `json:"audience"` // technical, regulatory, general
	CreatedAt    time.Time           `json:"created_at"`
}

// ReportSection is one titled section of a stakeholder report.
type ReportSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// StakeholderReport is a narrative governance report.
type StakeholderReport struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Sections        []ReportSection `json:"sections"`
	Findings        []string        `json:"findings,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DisclosureStatus is the lifecycle state of a disclosure.
type DisclosureStatus string

const (
	DisclosureDraft     DisclosureStatus = "draft"
	DisclosurePublished DisclosureStatus = "published"
)

// Disclosure wraps a report artifact through draft and publication.
type Disclosure struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"` // model_card, explanation, stakeholder_report
	ArtifactID  string           `json:"artifact_id"`
	Status      DisclosureStatus `json:"status"`
	ArchiveHash string           `json:"archive_hash,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

// TransparencyReporter produces model cards, decision explanations,
// and stakeholder reports, and manages their disclosure lifecycle.
// Published disclosures are archived offsite when a store is wired.
type TransparencyReporter struct {
	mu           sync.RWMutex
	cards        map[string]*ModelCard
	explanations map[string]*DecisionExplanation
	reports      map[string]*StakeholderReport
	disclosures  map[string]*Disclosure
	store        archive.Store
	stats        map[string]int
	clock        func() time.Time
}

// NewTransparencyReporter creates a reporter. The archive store may
// be nil; publication then skips archival.
func NewTransparencyReporter(store archive.Store) *TransparencyReporter {
	return &TransparencyReporter{
		cards:        make(map[string]*ModelCard),
		explanations: make(map[string]*DecisionExplanation),
		reports:      make(map[string]*StakeholderReport),
		disclosures:  make(map[string]*Disclosure),
		store:        store,
		stats:        map[string]int{"model_cards": 0, "explanations": 0, "reports": 0, "published": 0},
		clock:        time.Now,
	}
}

// WithClock overrides the time source. Returns the reporter for chaining.
func (t *TransparencyReporter) WithClock(clock func() time.Time) *TransparencyReporter {
	t.clock = clock
	return t
}

// SetArchive wires an archive store for published disclosures.
func (t *TransparencyReporter) SetArchive(store archive.Store) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = store
}

// CreateModelCard registers a model card and opens a draft disclosure.
func (t *TransparencyReporter) CreateModelCard(name, intendedUse, trainingData string, limitations []string, metrics map[string]float64, considerations []string) (*ModelCard, *Disclosure, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("model name is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	card := &ModelCard{
		ID:                    ident.New(ident.PrefixModelCard),
		ModelName:             name,
		IntendedUse:           intendedUse,
		Limitations:           limitations,
		TrainingData:          trainingData,
		PerformanceMetrics:    metrics,
		EthicalConsiderations: considerations,
		CreatedAt:             t.clock(),
	}
	t.cards[card.ID] = card
	t.stats["model_cards"]++

	disc := t.openDisclosureLocked("model_card", card.ID)
	return card, disc, nil
}

// ExplainDecision registers a decision explanation and opens a draft
// disclosure.
func (t *TransparencyReporter) ExplainDecision(decisionID string, factors []ExplanationFactor, alternatives []string, confidence float64, audience string) (*DecisionExplanation, *Disclosure, error) {
	if decisionID == "" {
		return nil, nil, fmt.Errorf("decision id is required")
	}
	if audience == "" {
		audience = "general"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	exp := &DecisionExplanation{
		ID:           ident.New(ident.PrefixExplanation),
		DecisionID:   decisionID,
		Factors:      factors,
		Alternatives: alternatives,
		Confidence:   confidence,
		Audience:     audience,
		CreatedAt:    t.clock(),
	}
	t.explanations[exp.ID] = exp
	t.stats["explanations"]++

	disc := t.openDisclosureLocked("explanation", exp.ID)
	return exp, disc, nil
}

// CreateStakeholderReport registers a stakeholder report and opens a
// draft disclosure.
func (t *TransparencyReporter) CreateStakeholderReport(title string, sections []ReportSection, findings, recommendations []string) (*StakeholderReport, *Disclosure, error) {
	if title == "" {
		return nil, nil, fmt.Errorf("report title is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	report := &StakeholderReport{
		ID:              ident.New(ident.PrefixReport),
		Title:           title,
		Sections:        sections,
		Findings:        findings,
		Recommendations: recommendations,
		CreatedAt:       t.clock(),
	}
	t.reports[report.ID] = report
	t.stats["reports"]++

	disc := t.openDisclosureLocked("stakeholder_report", report.ID)
	return report, disc, nil
}

func (t *TransparencyReporter) openDisclosureLocked(kind, artifactID string) *Disclosure {
	disc := &Disclosure{
		ID:         ident.New(ident.PrefixDisclosure),
		Kind:       kind,
		ArtifactID: artifactID,
		Status:     DisclosureDraft,
		CreatedAt:  t.clock(),
	}
	t.disclosures[disc.ID] = disc
	return disc
}

// Publish transitions a disclosure from draft to published and, when
// an archive store is wired, stores the artifact JSON offsite.
func (t *TransparencyReporter) Publish(ctx context.Context, disclosureID string) (*Disclosure, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	disc, ok := t.disclosures[disclosureID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", disclosureID, ErrDisclosureNotFound)
	}
	if disc.Status == DisclosurePublished {
		return nil, fmt.Errorf("disclosure %q already published", disclosureID)
	}

	artifact, err := t.artifactLocked(disc)
	if err != nil {
		return nil, err
	}

	if t.store != nil {
		payload, err := json.Marshal(artifact)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize artifact: %w", err)
		}
		hash, err := t.store.Store(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to archive disclosure: %w", err)
		}
		disc.ArchiveHash = hash
	}

	now := t.clock()
	disc.Status = DisclosurePublished
	disc.PublishedAt = &now
	t.stats["published"]++
	return disc, nil
}

func (t *TransparencyReporter) artifactLocked(disc *Disclosure) (interface{}, error) {
	switch disc.Kind {
	case "model_card":
		if card, ok := t.cards[disc.ArtifactID]; ok {
			return card, nil
		}
	case "explanation":
		if exp, ok := t.explanations[disc.ArtifactID]; ok {
			return exp, nil
		}
	case "stakeholder_report":
		if report, ok := t.reports[disc.ArtifactID]; ok {
			return report, nil
		}
	}
	return nil, fmt.Errorf("artifact %q for disclosure %q not found", disc.ArtifactID, disc.ID)
}

// Disclosure returns a disclosure by id.
func (t *TransparencyReporter) Disclosure(id string) (*Disclosure, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	disc, ok := t.disclosures[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrDisclosureNotFound)
	}
	return disc, nil
}

// ModelCard returns a model card by id.
func (t *TransparencyReporter) ModelCard(id string) (*ModelCard, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	card, ok := t.cards[id]
	if !ok {
		return nil, fmt.Errorf("model card %q not found", id)
	}
	return card, nil
}

// Stats returns the reporter's counters.
func (t *TransparencyReporter) Stats() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out
}
