package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/aiethics"
	"github.com/Veridian-Labs/aegis/pkg/alertgate"
	"github.com/Veridian-Labs/aegis/pkg/archive"
	"github.com/Veridian-Labs/aegis/pkg/audit"
	"github.com/Veridian-Labs/aegis/pkg/compliance"
	"github.com/Veridian-Labs/aegis/pkg/config"
	"github.com/Veridian-Labs/aegis/pkg/credential"
	"github.com/Veridian-Labs/aegis/pkg/incident"
	"github.com/Veridian-Labs/aegis/pkg/keyring"
)

const version = "0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "profiles":
		return runProfilesCmd(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "aegis v%s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: aegis <command> [arguments]")
	_, _ = fmt.Fprintln(w, "\nCommands:")
	_, _ = fmt.Fprintln(w, "  server     Run the governance daemon (default)")
	_, _ = fmt.Fprintln(w, "  health     Check health of a running daemon")
	_, _ = fmt.Fprintln(w, "  profiles   List or inspect governance profiles")
	_, _ = fmt.Fprintln(w, "  version    Show version information")
	_, _ = fmt.Fprintln(w, "  help       Show this help")
}

//nolint:gocognit
func runServer() {
	log.Println("[aegis] governance daemon starting")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	applyProfileFromEnv(cfg)
	logger := initLoggerFromEnv(cfg.LogLevel)

	// 1. Audit trail and archival sinks
	trail := audit.NewTrail()
	closers := attachAuditArchives(ctx, trail, cfg, logger)
	log.Println("[aegis] audit trail: ready")

	// 2. Alert gate
	gateStore := initAlertGateStoreFromEnv(cfg)
	gate := alertgate.New(gateStore, alertgate.DefaultPolicy())
	if c, ok := gateStore.(io.Closer); ok {
		closers = append(closers, c)
	}

	// 3. Evidence archive
	evStore, err := archive.NewStore(ctx, archive.StoreType(cfg.EvidenceStore))
	if err != nil {
		log.Fatalf("Failed to init evidence archive: %v", err)
	}
	log.Printf("[aegis] evidence archive: %s", cfg.EvidenceStore)

	// Signing keyring. The in-memory provider generates a fresh key
	// per process; evidence signed in one run does not verify in the next.
	provider, err := keyring.NewMemoryProvider()
	if err != nil {
		log.Fatalf("Failed to init keyring: %v", err)
	}
	ring := keyring.New(provider)
	log.Printf("[aegis] trust root: %x", ring.PublicKey())

	// 4. Observability
	obs, err := initObservabilityFromEnv(ctx)
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}

	// === SUBSYSTEM WIRING ===
	ethics, err := aiethics.NewOrchestrator(cfg)
	if err != nil {
		log.Fatalf("Failed to init ai-ethics: %v", err)
	}
	ethics.WithAuditLogger(trail).
		WithAlertGate(gate).
		WithObservability(obs).
		WithArchive(evStore).
		WithLogger(logger.With("subsystem", "aiethics"))
	log.Println("[aegis] ai-ethics: ready")

	comp, err := compliance.NewOrchestrator(cfg)
	if err != nil {
		log.Fatalf("Failed to init compliance: %v", err)
	}
	comp.WithAuditLogger(trail).
		WithAlertGate(gate).
		WithObservability(obs).
		WithArchive(evStore).
		WithLogger(logger.With("subsystem", "compliance"))
	log.Println("[aegis] compliance: ready")

	creds, err := credential.NewOrchestrator(cfg)
	if err != nil {
		log.Fatalf("Failed to init credential-lifecycle: %v", err)
	}
	creds.WithAuditLogger(trail).
		WithAlertGate(gate).
		WithObservability(obs).
		WithLogger(logger.With("subsystem", "credential"))
	log.Println("[aegis] credential-lifecycle: ready")

	inc, err := incident.NewOrchestrator(cfg)
	if err != nil {
		log.Fatalf("Failed to init incident-response: %v", err)
	}
	inc.WithAuditLogger(trail).
		WithAlertGate(gate).
		WithObservability(obs).
		WithEvidenceArchive(evStore).
		WithKeyring(ring).
		WithLogger(logger.With("subsystem", "incident"))
	log.Println("[aegis] incident-response: ready")

	_ = trail.Record(ctx, audit.EventSystem, "daemon_start", "aegis", map[string]interface{}{
		"version": version,
	})

	// 5. Housekeeping loops
	if cfg.CredentialEnabled {
		go credentialSweepLoop(ctx, creds, getenvDurationDefault("AEGIS_ROTATION_CHECK_INTERVAL", time.Hour))
	}
	if cfg.ComplianceEnabled {
		go complianceSweepLoop(ctx, comp, getenvDurationDefault("AEGIS_RETENTION_SWEEP_INTERVAL", 6*time.Hour))
	}
	if mem, ok := gateStore.(*alertgate.MemoryStore); ok {
		go gateSweepLoop(ctx, mem)
	}

	// Health Server
	healthAddr := getenvDefault("AEGIS_HEALTH_ADDR", ":8081")
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	healthMux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"version":    version,
			"aiethics":   ethics.Analytics(),
			"compliance": comp.Analytics(),
			"credential": creds.Analytics(),
			"incident":   inc.Analytics(),
		})
	})

	go func() {
		log.Printf("[aegis] health server: %s", healthAddr)
		//nolint:gosec // Intentionally listening on all interfaces
		if err := http.ListenAndServe(healthAddr, healthMux); err != nil {
			log.Printf("[aegis] health server error: %v", err)
		}
	}()

	log.Println("[aegis] governance daemon: ready")
	log.Println("[aegis] press ctrl+c to stop")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[aegis] shutting down")

	_ = trail.Record(ctx, audit.EventSystem, "daemon_stop", "aegis", nil)
	cancel()
	for _, c := range closers {
		_ = c.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = obs.Shutdown(shutdownCtx)
	log.Println("[aegis] shutdown complete")
}

func runHealthCmd(out, errOut io.Writer) int {
	addr := getenvDefault("AEGIS_HEALTH_ADDR", ":8081")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}

func runProfilesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("profiles", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dir        string
		jsonOutput bool
	)
	cmd.StringVar(&dir, "dir", "profiles", "Directory containing profile YAML files")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if code := cmd.Arg(0); code != "" {
		profile, err := config.LoadProfile(dir, code)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading profile: %v\n", err)
			return 1
		}
		if jsonOutput {
			data, _ := json.MarshalIndent(profile, "", "  ")
			fmt.Fprintln(stdout, string(data))
			return 0
		}
		fmt.Fprintf(stdout, "Profile:    %s (%s)\n", profile.Name, profile.Code)
		fmt.Fprintf(stdout, "Frameworks: %s\n", strings.Join(profile.Frameworks, ", "))
		fmt.Fprintf(stdout, "Residency:  %s\n", profile.DataResidency)
		fmt.Fprintf(stdout, "Retention:  %d days (audit %d)\n", profile.RetentionDays, profile.AuditLogDays)
		fmt.Fprintf(stdout, "Rotation:   %d days\n", profile.KeyRotationDays)
		fmt.Fprintf(stdout, "Escalation: %s\n", profile.EscalationThreshold)
		return 0
	}

	codes, err := config.ListProfiles(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error listing profiles: %v\n", err)
		return 1
	}
	if jsonOutput {
		data, _ := json.MarshalIndent(codes, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}
	if len(codes) == 0 {
		fmt.Fprintln(stdout, "No profiles found.")
		return 0
	}
	for _, c := range codes {
		fmt.Fprintln(stdout, c)
	}
	return 0
}
