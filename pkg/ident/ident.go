// Package ident generates the opaque record identifiers used across all
// evaluator stores. An identifier is a short domain prefix joined to the
// first eight hex characters of a UUID, e.g. "inc_3f92ab01". The prefix is
// informational only; consumers must treat the whole token as opaque.
package ident

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Domain prefixes. Collisions between suffixes are not expected and not
// handled; identifiers are unique by construction.
const (
	PrefixDataset       = "bds"  // bias dataset
	PrefixBiasDetection = "bdet" // bias detection run
	PrefixFairness      = "fair" // fairness analysis
	PrefixEthicsEval    = "eevl" // ethics rule evaluation
	PrefixEthicsRule    = "erl"  // ethics rule
	PrefixDecision      = "edc"  // audited decision
	PrefixAuditReport   = "ear"  // decision audit report
	PrefixEthicsAlert   = "eal"  // ethics violation alert
	PrefixEscalation    = "esc"  // alert escalation
	PrefixObservation   = "obs"  // protected-class observation
	PrefixSuggestion    = "sug"  // remediation suggestion
	PrefixPlan          = "rpl"  // remediation plan
	PrefixModelCard     = "mcd"  // transparency model card
	PrefixExplanation   = "exp"  // decision explanation
	PrefixReport        = "rpt"  // stakeholder report
	PrefixDisclosure    = "dsc"  // transparency disclosure
	PrefixModelEval     = "mev"  // orchestrated model evaluation
	PrefixFramework     = "fw"   // compliance framework
	PrefixRequirement   = "rq"   // framework requirement
	PrefixPolicy        = "pl"   // compliance policy
	PrefixPolicyEval    = "pev"  // policy enforcement run
	PrefixViolation     = "vio"  // policy violation
	PrefixRemediation   = "rem"  // policy remediation
	PrefixException     = "exc"  // rule/policy exception
	PrefixAsset         = "da"   // data asset
	PrefixFlow          = "df"   // data flow
	PrefixAccessLog     = "acc"  // access audit entry
	PrefixRetention     = "rp"   // retention policy
	PrefixRecord        = "rec"  // retained record
	PrefixLegalHold     = "lh"   // legal hold
	PrefixConsent       = "cns"  // consent grant
	PrefixPurpose       = "pur"  // processing purpose
	PrefixGap           = "cg"   // compliance gap
	PrefixAssessment    = "asm"  // compliance assessment
	PrefixRoadmap       = "rmp"  // remediation roadmap
	PrefixAccessReview  = "arv"  // access review
	PrefixComplianceChk = "cck"  // orchestrated compliance check
	PrefixComplAlert    = "cal"  // compliance alert
	PrefixComplReport   = "crp"  // compliance report
	PrefixSweep         = "swp"  // retention deletion sweep
	PrefixKey           = "ki"   // managed key
	PrefixRotationPol   = "rpo"  // rotation policy
	PrefixSchedule      = "rs"   // rotation schedule
	PrefixRotation      = "rt"   // rotation execution
	PrefixUsage         = "us"   // usage window
	PrefixUsageEvent    = "ue"   // usage event
	PrefixAnomaly       = "an"   // usage anomaly
	PrefixScan          = "sc"   // permission/leak scan
	PrefixLeak          = "lk"   // detected leak
	PrefixLeakAlert     = "la"   // leak alert
	PrefixRevocation    = "rv"   // revocation
	PrefixCascade       = "csc"  // revocation cascade
	PrefixNotification  = "ntf"  // revocation notification
	PrefixCredAlert     = "kal"  // credential alert
	PrefixHealthCheck   = "hc"   // key health check
	PrefixVerification  = "vl"   // rotation verification
	PrefixRollback      = "rb"   // verification rollback
	PrefixIncident      = "inc"  // security incident
	PrefixPattern       = "pat"  // detection pattern
	PrefixIncAlert      = "ia"   // incident alert
	PrefixCorrelation   = "cor"  // incident correlation
	PrefixContainment   = "cnt"  // containment action
	PrefixQuarantine    = "qt"   // quarantine
	PrefixSuspension    = "sp"   // account suspension
	PrefixEvidence      = "ev"   // forensic evidence
	PrefixSnapshot      = "snp"  // forensic snapshot
	PrefixAnalysis      = "rca"  // root-cause analysis
	PrefixImpact        = "imp"  // impact assessment
	PrefixRecoveryPlan  = "rcp"  // recovery plan
	PrefixRecoveryAct   = "ra"   // recovery action
	PrefixCheckpoint    = "cp"   // recovery checkpoint
	PrefixLesson        = "ls"   // lesson record
	PrefixPlaybook      = "pb"   // response playbook
	PrefixProcedure     = "prc"  // playbook procedure
	PrefixAutomation    = "aut"  // playbook automation
	PrefixAuditEvent    = "ae"   // audit trail event
)

// New returns a fresh identifier for the given domain prefix.
func New(prefix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_%s", prefix, raw[:8])
}

// Prefix extracts the domain prefix of an identifier, or "" when the token
// carries none. Callers should not branch on this outside of diagnostics.
func Prefix(id string) string {
	i := strings.IndexByte(id, '_')
	if i <= 0 {
		return ""
	}
	return id[:i]
}
