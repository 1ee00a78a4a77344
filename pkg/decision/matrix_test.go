package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatrixCovered(t *testing.T) {
	m := Default()
	risks := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
	urgencies := []UrgencyLevel{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical}

	for _, r := range risks {
		for _, u := range urgencies {
			d := m.Lookup(r, u)
			assert.NotEmpty(t, d.Action, "no action for %s/%s", r, u)
			assert.Greater(t, d.Confidence, 0.5, "default cell %s/%s should be confident", r, u)
		}
	}
}

func TestLookupFallsBackToEscalate(t *testing.T) {
	m := NewMatrix()
	d := m.Lookup(RiskHigh, UrgencyHigh)
	assert.Equal(t, ActionEscalate, d.Action)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestSetOverrides(t *testing.T) {
	m := Default()
	m.Set(RiskLow, UrgencyLow, Decision{Action: ActionReject, Confidence: 1.0})
	assert.Equal(t, ActionReject, m.Lookup(RiskLow, UrgencyLow).Action)
}

func TestParseLevels(t *testing.T) {
	r, err := ParseRiskLevel("critical")
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, r)

	_, err = ParseRiskLevel("severe")
	require.Error(t, err)

	u, err := ParseUrgencyLevel("medium")
	require.NoError(t, err)
	assert.Equal(t, UrgencyMedium, u)

	_, err = ParseUrgencyLevel("")
	require.Error(t, err)
}

func TestDispatchCreative(t *testing.T) {
	m := Default()

	// Ad copy grades medium risk.
	d := DispatchCreative(m, CreativeOutput{
		CreativeType: "ad_copy",
		Items:        []map[string]interface{}{{"headline": "Buy now"}},
	})
	assert.Equal(t, m.Lookup(RiskMedium, UrgencyLow), d)

	// Product ideas grade low risk.
	d = DispatchCreative(m, CreativeOutput{
		CreativeType: "product_idea",
		Items:        []map[string]interface{}{{"name": "widget"}},
	})
	assert.Equal(t, m.Lookup(RiskLow, UrgencyLow), d)

	// Empty items upgrade urgency.
	d = DispatchCreative(m, CreativeOutput{CreativeType: "brand_name"})
	assert.Equal(t, m.Lookup(RiskMedium, UrgencyMedium), d)
}
