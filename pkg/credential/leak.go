package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrPatternExists   = errors.New("leak pattern already registered")
	ErrPatternNotFound = errors.New("leak pattern not found")
	ErrLeakNotFound    = errors.New("leak not found")
)

// monitoredPattern names the synthetic pattern used for monitored key
// prefixes found in scanned content.
const monitoredPattern = "monitored_key_prefix"

// LeakPattern is one regex the scanner applies to content. All patterns
// match case-insensitively.
type LeakPattern struct {
	Name     string         `json:"name"`
	Pattern  string         `json:"pattern"`
	Severity severity.Level `json:"severity"`
	Active   bool           `json:"active"`
	Builtin  bool           `json:"builtin"`

	re *regexp.Regexp
}

// LeakFinding is one pattern hit within a scan.
type LeakFinding struct {
	Pattern  string         `json:"pattern"`
	Severity severity.Level `json:"severity"`
	Matches  int            `json:"matches"`
	Sample   string         `json:"sample"`
	KeyID    string         `json:"key_id,omitempty"`
}

// Leak is a stored exposure record derived from a finding.
type Leak struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Pattern    string         `json:"pattern"`
	Severity   severity.Level `json:"severity"`
	Status     string         `json:"status"`
	KeyID      string         `json:"key_id,omitempty"`
	Sample     string         `json:"sample"`
	DetectedAt time.Time      `json:"detected_at"`
}

// LeakAlert notifies on a leak. AutoRevoked signals the orchestrator to
// revoke the exposed key.
type LeakAlert struct {
	ID          string         `json:"id"`
	LeakID      string         `json:"leak_id"`
	Severity    severity.Level `json:"severity"`
	AutoRevoked bool           `json:"auto_revoked"`
	Message     string         `json:"message"`
	RaisedAt    time.Time      `json:"raised_at"`
}

// LeakScan is the result of scanning one piece of content.
type LeakScan struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Findings  []*LeakFinding `json:"findings,omitempty"`
	LeakIDs   []string       `json:"leak_ids,omitempty"`
	AlertIDs  []string       `json:"alert_ids,omitempty"`
	ScannedAt time.Time      `json:"scanned_at"`
}

// Commit is one git history entry handed to ScanGitHistory.
type Commit struct {
	Hash   string `json:"hash"`
	Author string `json:"author"`
	Diff   string `json:"diff"`
}

// BreachRecord is one entry of a breach dump: a source label and the
// SHA-256 hex of the leaked material.
type BreachRecord struct {
	Source string `json:"source"`
	Hash   string `json:"hash"`
}

// DarkWebResult reports whether a monitored key's material hash appears
// in a breach list.
type DarkWebResult struct {
	KeyID    string   `json:"key_id"`
	Breached bool     `json:"breached"`
	Sources  []string `json:"sources,omitempty"`
}

// LeakDetector scans content for credential exposures. Content is NFKC
// normalized before matching so width and compatibility variants of a
// secret still hit.
type LeakDetector struct {
	mu         sync.RWMutex
	patterns   map[string]*LeakPattern
	monitored  map[string]string // key id -> material prefix
	leaks      map[string]*Leak
	alerts     []*LeakAlert
	scans      []*LeakScan
	autoRevoke bool
	clock      func() time.Time
}

type builtinLeakPattern struct {
	name     string
	pattern  string
	severity severity.Level
}

var builtinLeakPatterns = []builtinLeakPattern{
	{"generic_api_key", `(api[_-]?key|apikey|access[_-]?token)\s*[:=]\s*["']?[a-z0-9_\-]{16,}`, severity.High},
	{"aws_access_key", `AKIA[0-9A-Z]{16}`, severity.Critical},
	{"jwt_token", `eyJ[a-z0-9_\-]+\.eyJ[a-z0-9_\-]+\.[a-z0-9_\-]*`, severity.High},
	{"password_assignment", `password\s*[:=]\s*["']?[^\s"']{6,}`, severity.Medium},
	{"private_key_block", `-----BEGIN\s+(rsa\s+|ec\s+|dsa\s+|openssh\s+)?private\s+key-----`, severity.Critical},
}

// NewLeakDetector creates a detector seeded with the five built-in
// patterns, all active, with auto-revocation off.
func NewLeakDetector() *LeakDetector {
	d := &LeakDetector{
		patterns:  make(map[string]*LeakPattern),
		monitored: make(map[string]string),
		leaks:     make(map[string]*Leak),
		clock:     time.Now,
	}
	for _, b := range builtinLeakPatterns {
		d.patterns[b.name] = &LeakPattern{
			Name:     b.name,
			Pattern:  b.pattern,
			Severity: b.severity,
			Active:   true,
			Builtin:  true,
			re:       regexp.MustCompile(`(?i)` + b.pattern),
		}
	}
	return d
}

// WithClock overrides the time source. Returns the detector for chaining.
func (d *LeakDetector) WithClock(clock func() time.Time) *LeakDetector {
	d.clock = clock
	return d
}

// SetAutoRevoke toggles auto-revocation marking for critical and
// emergency findings.
func (d *LeakDetector) SetAutoRevoke(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoRevoke = on
}

// AddPattern registers a custom scan pattern.
func (d *LeakDetector) AddPattern(name, pattern string, sev severity.Level) (*LeakPattern, error) {
	if name == "" || pattern == "" {
		return nil, fmt.Errorf("pattern name and expression are required")
	}
	if _, err := severity.Parse(string(sev)); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.patterns[name]; exists {
		return nil, fmt.Errorf("%q: %w", name, ErrPatternExists)
	}
	p := &LeakPattern{Name: name, Pattern: pattern, Severity: sev, Active: true, re: re}
	d.patterns[name] = p
	return p, nil
}

// SetPatternActive enables or disables a pattern without removing it.
func (d *LeakDetector) SetPatternActive(name string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.patterns[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrPatternNotFound)
	}
	p.Active = active
	return nil
}

// Patterns lists all patterns sorted by name.
func (d *LeakDetector) Patterns() []*LeakPattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*LeakPattern, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// MonitorPrefix watches for a key's material prefix in scanned content.
// A hit produces an emergency finding bound to the key.
func (d *LeakDetector) MonitorPrefix(keyID, prefix string) error {
	if keyID == "" || prefix == "" {
		return fmt.Errorf("key id and prefix are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitored[keyID] = prefix
	return nil
}

// ScanContent runs all active patterns and monitored prefixes against the
// content. Each finding yields a Leak record and a LeakAlert; critical and
// emergency findings are marked for auto-revocation when enabled.
func (d *LeakDetector) ScanContent(source, content string) (*LeakScan, error) {
	if source == "" {
		return nil, fmt.Errorf("scan source is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanLocked(source, content), nil
}

func (d *LeakDetector) scanLocked(source, content string) *LeakScan {
	normalized := norm.NFKC.String(content)
	now := d.clock()
	scan := &LeakScan{
		ID:        ident.New(ident.PrefixScan),
		Source:    source,
		ScannedAt: now,
	}

	names := make([]string, 0, len(d.patterns))
	for name := range d.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := d.patterns[name]
		if !p.Active {
			continue
		}
		matches := p.re.FindAllString(normalized, -1)
		if len(matches) == 0 {
			continue
		}
		scan.Findings = append(scan.Findings, &LeakFinding{
			Pattern:  p.Name,
			Severity: p.Severity,
			Matches:  len(matches),
			Sample:   truncateSample(matches[0]),
		})
	}

	keyIDs := make([]string, 0, len(d.monitored))
	for keyID := range d.monitored {
		keyIDs = append(keyIDs, keyID)
	}
	sort.Strings(keyIDs)
	for _, keyID := range keyIDs {
		prefix := d.monitored[keyID]
		if !strings.Contains(normalized, prefix) {
			continue
		}
		scan.Findings = append(scan.Findings, &LeakFinding{
			Pattern:  monitoredPattern,
			Severity: severity.Emergency,
			Matches:  strings.Count(normalized, prefix),
			Sample:   truncateSample(prefix),
			KeyID:    keyID,
		})
	}

	for _, f := range scan.Findings {
		leak := &Leak{
			ID:         ident.New(ident.PrefixLeak),
			Source:     source,
			Pattern:    f.Pattern,
			Severity:   f.Severity,
			Status:     "open",
			KeyID:      f.KeyID,
			Sample:     f.Sample,
			DetectedAt: now,
		}
		alert := &LeakAlert{
			ID:       ident.New(ident.PrefixLeakAlert),
			LeakID:   leak.ID,
			Severity: f.Severity,
			Message:  fmt.Sprintf("%s detected in %s (%d matches)", f.Pattern, source, f.Matches),
			RaisedAt: now,
		}
		if d.autoRevoke && severity.AtLeast(f.Severity, severity.Critical) {
			leak.Status = "auto_revoked"
			alert.AutoRevoked = true
		}
		d.leaks[leak.ID] = leak
		d.alerts = append(d.alerts, alert)
		scan.LeakIDs = append(scan.LeakIDs, leak.ID)
		scan.AlertIDs = append(scan.AlertIDs, alert.ID)
	}

	d.scans = append(d.scans, scan)
	return scan
}

func truncateSample(s string) string {
	const max = 48
	if len(s) > max {
		return s[:max]
	}
	return s
}

// ScanGitHistory applies ScanContent to each commit diff. The scan source
// is the repo name qualified by the commit hash.
func (d *LeakDetector) ScanGitHistory(repo string, commits []Commit) ([]*LeakScan, error) {
	if repo == "" {
		return nil, fmt.Errorf("repo name is required")
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("at least one commit is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	scans := make([]*LeakScan, 0, len(commits))
	for _, c := range commits {
		hash := c.Hash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		scans = append(scans, d.scanLocked(repo+"@"+hash, c.Diff))
	}
	return scans, nil
}

// CheckDarkWeb compares the SHA-256 of a monitored key's prefix against a
// breach dump. Hash comparison is case-insensitive.
func (d *LeakDetector) CheckDarkWeb(keyID string, breaches []BreachRecord) (*DarkWebResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	prefix, ok := d.monitored[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q is not monitored", keyID)
	}
	sum := sha256.Sum256([]byte(prefix))
	want := hex.EncodeToString(sum[:])

	result := &DarkWebResult{KeyID: keyID}
	for _, b := range breaches {
		if strings.EqualFold(b.Hash, want) {
			result.Breached = true
			result.Sources = append(result.Sources, b.Source)
		}
	}
	return result, nil
}

// Leak returns a stored leak by id.
func (d *LeakDetector) Leak(id string) (*Leak, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.leaks[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrLeakNotFound)
	}
	return l, nil
}

// Alerts returns all raised leak alerts, oldest first.
func (d *LeakDetector) Alerts() []*LeakAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*LeakAlert(nil), d.alerts...)
}

// Stats returns the detector's counters.
func (d *LeakDetector) Stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	autoRevoked := 0
	for _, l := range d.leaks {
		if l.Status == "auto_revoked" {
			autoRevoked++
		}
	}
	return map[string]int{
		"patterns":     len(d.patterns),
		"monitored":    len(d.monitored),
		"scans":        len(d.scans),
		"leaks":        len(d.leaks),
		"alerts":       len(d.alerts),
		"auto_revoked": autoRevoked,
	}
}
