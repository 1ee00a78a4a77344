package aiethics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/aegis/pkg/archive"
)

func TestModelCardDisclosureLifecycle(t *testing.T) {
	r := NewTransparencyReporter(nil)

	card, disc, err := r.CreateModelCard("credit-scorer", "consumer credit decisions",
		"2019-2024 loan book", []string{"not validated outside EU"}, map[string]float64{"auc": 0.91},
		[]string{"disparate impact reviewed quarterly"})
	require.NoError(t, err)
	require.Equal(t, DisclosureDraft, disc.Status)
	require.Equal(t, "model_card", disc.Kind)
	require.Equal(t, card.ID, disc.ArtifactID)

	published, err := r.Publish(context.Background(), disc.ID)
	require.NoError(t, err)
	require.Equal(t, DisclosurePublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	_, err = r.Publish(context.Background(), disc.ID)
	require.Error(t, err, "double publication must fail")
}

func TestPublishArchivesArtifact(t *testing.T) {
	store, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)
	r := NewTransparencyReporter(store)

	card, disc, err := r.CreateModelCard("fraud-detector", "transaction screening", "synthetic", nil, nil, nil)
	require.NoError(t, err)

	published, err := r.Publish(context.Background(), disc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, published.ArchiveHash)

	payload, err := store.Get(context.Background(), published.ArchiveHash)
	require.NoError(t, err)

	var got ModelCard
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, card.ModelName, got.ModelName)
}

func TestExplainDecisionDefaults(t *testing.T) {
	r := NewTransparencyReporter(nil)

	exp, disc, err := r.ExplainDecision("edc_12345678", []ExplanationFactor{
		{Name: "income", Weight: 0.6},
		{Name: "credit_history", Weight: 0.4},
	}, []string{"manual review"}, 0.82, "")
	require.NoError(t, err)
	require.Equal(t, "general", exp.Audience, "audience defaults to general")
	require.Equal(t, "explanation", disc.Kind)

	_, _, err = r.ExplainDecision("", nil, nil, 0.5, "technical")
	require.Error(t, err)
}

func TestStakeholderReportSections(t *testing.T) {
	r := NewTransparencyReporter(nil)

	report, disc, err := r.CreateStakeholderReport("Q2 governance review",
		[]ReportSection{{Title: "bias", Content: "no material findings"}},
		[]string{"one open alert"}, []string{"close alert before Q3"})
	require.NoError(t, err)
	require.Len(t, report.Sections, 1)
	require.Equal(t, "stakeholder_report", disc.Kind)

	_, _, err = r.CreateStakeholderReport("", nil, nil, nil)
	require.Error(t, err)
}

func TestDisclosureLookup(t *testing.T) {
	r := NewTransparencyReporter(nil)

	_, disc, err := r.CreateModelCard("m", "use", "data", nil, nil, nil)
	require.NoError(t, err)

	got, err := r.Disclosure(disc.ID)
	require.NoError(t, err)
	require.Equal(t, disc.ID, got.ID)

	_, err = r.Disclosure("dsc_missing")
	require.True(t, errors.Is(err, ErrDisclosureNotFound))

	_, err = r.Publish(context.Background(), "dsc_missing")
	require.True(t, errors.Is(err, ErrDisclosureNotFound))
}

func TestTransparencyStats(t *testing.T) {
	r := NewTransparencyReporter(nil)

	_, disc, err := r.CreateModelCard("m", "use", "data", nil, nil, nil)
	require.NoError(t, err)
	_, _, err = r.CreateStakeholderReport("t", nil, nil, nil)
	require.NoError(t, err)
	_, err = r.Publish(context.Background(), disc.ID)
	require.NoError(t, err)

	stats := r.Stats()
	require.Equal(t, 1, stats["model_cards"])
	require.Equal(t, 1, stats["reports"])
	require.Equal(t, 1, stats["published"])
}
