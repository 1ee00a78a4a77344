package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GovernanceProfile is a jurisdiction-specific configuration profile. A
// profile seeds framework sets, retention defaults, and escalation
// thresholds for deployments that must follow regional rules.
type GovernanceProfile struct {
	Name                string   `yaml:"name" json:"name"`
	Code                string   `yaml:"code" json:"code"`
	Frameworks          []string `yaml:"frameworks" json:"frameworks"`
	DataResidency       string   `yaml:"data_residency" json:"data_residency"`
	RetentionDays       int      `yaml:"retention_days" json:"retention_days"`
	AuditLogDays        int      `yaml:"audit_log_days" json:"audit_log_days"`
	RightToErasure      bool     `yaml:"right_to_erasure,omitempty" json:"right_to_erasure,omitempty"`
	EscalationThreshold string   `yaml:"escalation_threshold" json:"escalation_threshold"`
	KeyRotationDays     int      `yaml:"key_rotation_days" json:"key_rotation_days"`
}

// LoadProfile loads a governance profile YAML by jurisdiction code. It
// searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	if profile.RetentionDays <= 0 {
		profile.RetentionDays = 365
	}
	if profile.KeyRotationDays <= 0 {
		profile.KeyRotationDays = 90
	}
	if profile.EscalationThreshold == "" {
		profile.EscalationThreshold = "high"
	}
	return &profile, nil
}

// ListProfiles returns the jurisdiction codes of all profiles in dir.
func ListProfiles(profilesDir string) ([]string, error) {
	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var codes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "profile_") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		codes = append(codes, strings.TrimSuffix(strings.TrimPrefix(name, "profile_"), ".yaml"))
	}
	return codes, nil
}

// Apply overlays profile defaults onto a Config. Explicit environment
// settings win: a field is only overridden when its AEGIS_* variable
// was not set.
func (p *GovernanceProfile) Apply(cfg *Config) {
	if len(p.Frameworks) > 0 && os.Getenv("AEGIS_COMPLIANCE_FRAMEWORKS") == "" {
		cfg.Frameworks = append([]string(nil), p.Frameworks...)
	}
	if p.KeyRotationDays > 0 && os.Getenv("AEGIS_CREDENTIAL_ROTATION_DAYS") == "" {
		cfg.RotationDays = p.KeyRotationDays
	}
}
