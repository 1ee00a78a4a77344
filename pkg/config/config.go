// Package config loads platform configuration from the environment and
// from optional YAML governance profiles.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the recognized platform options. Zero-value semantics follow
// the documented defaults: every subsystem is enabled unless switched off.
type Config struct {
	LogLevel string

	// AI-ethics subsystem.
	AIEthicsEnabled     bool
	BiasDetection       bool
	FairnessMetrics     bool
	AutoAlert           bool
	TransparencyReports bool

	// Compliance subsystem.
	ComplianceEnabled bool
	Frameworks        []string
	AutoRemediate     bool
	ReportFrequency   string
	ConsentRequired   bool

	// Credential-lifecycle subsystem.
	CredentialEnabled bool
	AutoRevoke        bool // revoke on critical leak findings
	AutoRollback      bool // roll back failed rotation verifications
	RotationDays      int  // default rotation interval for provisioned keys

	// Incident-response subsystem.
	IncidentEnabled    bool
	AutoContain        bool
	ForensicCollection bool
	PlaybookEnabled    bool
	LessonLearning     bool

	// Archival sinks (optional; the in-memory core stays authoritative).
	ArchiveDSN    string // postgres DSN for the audit archive, empty disables
	ArchivePath   string // sqlite file for the incident archive, empty disables
	RedisAddr     string // redis address for the distributed alert gate, empty uses in-process
	EvidenceStore string // "fs", "s3", or "gcs"
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		LogLevel: envOr("AEGIS_LOG_LEVEL", "INFO"),

		AIEthicsEnabled:     envBool("AEGIS_AIETHICS_ENABLED", true),
		BiasDetection:       envBool("AEGIS_AIETHICS_BIAS_DETECTION", true),
		FairnessMetrics:     envBool("AEGIS_AIETHICS_FAIRNESS_METRICS", true),
		AutoAlert:           envBool("AEGIS_AIETHICS_AUTO_ALERT", true),
		TransparencyReports: envBool("AEGIS_AIETHICS_TRANSPARENCY_REPORTS", true),

		ComplianceEnabled: envBool("AEGIS_COMPLIANCE_ENABLED", true),
		Frameworks:        envList("AEGIS_COMPLIANCE_FRAMEWORKS", []string{"gdpr"}),
		AutoRemediate:     envBool("AEGIS_COMPLIANCE_AUTO_REMEDIATE", false),
		ReportFrequency:   envOr("AEGIS_COMPLIANCE_REPORT_FREQUENCY", "monthly"),
		ConsentRequired:   envBool("AEGIS_COMPLIANCE_CONSENT_REQUIRED", true),

		CredentialEnabled: envBool("AEGIS_CREDENTIAL_ENABLED", true),
		AutoRevoke:        envBool("AEGIS_CREDENTIAL_AUTO_REVOKE", true),
		AutoRollback:      envBool("AEGIS_CREDENTIAL_AUTO_ROLLBACK", true),
		RotationDays:      envInt("AEGIS_CREDENTIAL_ROTATION_DAYS", 90),

		IncidentEnabled:    envBool("AEGIS_INCIDENT_ENABLED", true),
		AutoContain:        envBool("AEGIS_AUTO_CONTAIN", true),
		ForensicCollection: envBool("AEGIS_FORENSIC_COLLECTION", true),
		PlaybookEnabled:    envBool("AEGIS_PLAYBOOK_ENABLED", true),
		LessonLearning:     envBool("AEGIS_LESSON_LEARNING", true),

		ArchiveDSN:    os.Getenv("AEGIS_ARCHIVE_DSN"),
		ArchivePath:   os.Getenv("AEGIS_ARCHIVE_PATH"),
		RedisAddr:     os.Getenv("AEGIS_REDIS_ADDR"),
		EvidenceStore: envOr("AEGIS_EVIDENCE_STORE", "fs"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
