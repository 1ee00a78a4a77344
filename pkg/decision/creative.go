package decision

// CreativeOutput is the structured payload produced by the external
// creative-content agent. The core only consumes the creative type and the
// item count; the item bodies are passed through untouched.
type CreativeOutput struct {
	CreativeType    string                   `json:"creative_type"`
	Items           []map[string]interface{} `json:"items"`
	Summary         string                   `json:"summary"`
	Recommendations []string                 `json:"recommendations"`
}

// DispatchCreative maps a creative output onto the decision matrix.
// Ad copy and brand names carry trademark and claim risk, so they grade
// medium; all other creative types grade low. An empty item list means the
// agent produced nothing usable and upgrades urgency to medium.
func DispatchCreative(m *Matrix, out CreativeOutput) Decision {
	risk := RiskLow
	switch out.CreativeType {
	case "ad_copy", "brand_name":
		risk = RiskMedium
	}

	urgency := UrgencyLow
	if len(out.Items) == 0 {
		urgency = UrgencyMedium
	}

	return m.Lookup(risk, urgency)
}
