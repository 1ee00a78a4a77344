package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/alertgate"
	"github.com/Veridian-Labs/aegis/pkg/audit"
	"github.com/Veridian-Labs/aegis/pkg/compliance"
	"github.com/Veridian-Labs/aegis/pkg/config"
	"github.com/Veridian-Labs/aegis/pkg/credential"
	"github.com/Veridian-Labs/aegis/pkg/observability"
)

func initLoggerFromEnv(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// applyProfileFromEnv overlays a jurisdiction profile when AEGIS_PROFILE
// is set. Explicit environment settings stay in force.
func applyProfileFromEnv(cfg *config.Config) {
	code := os.Getenv("AEGIS_PROFILE")
	if code == "" {
		return
	}
	dir := getenvDefault("AEGIS_PROFILES_DIR", "profiles")
	profile, err := config.LoadProfile(dir, code)
	if err != nil {
		log.Fatalf("Failed to load governance profile: %v", err)
	}
	profile.Apply(cfg)
	log.Printf("[aegis] governance profile: %s (%s)", profile.Name, profile.Code)
}

func initAlertGateStoreFromEnv(cfg *config.Config) alertgate.LimiterStore {
	if cfg.RedisAddr != "" {
		log.Printf("[aegis] alert gate: redis at %s", cfg.RedisAddr)
		return alertgate.NewRedisStore(cfg.RedisAddr, os.Getenv("AEGIS_REDIS_PASSWORD"), 0)
	}

	log.Printf("[aegis] alert gate: in-memory")
	return alertgate.NewMemoryStore()
}

func initObservabilityFromEnv(ctx context.Context) (*observability.Provider, error) {
	ocfg := observability.DefaultConfig()
	endpoint := os.Getenv("AEGIS_OTLP_ENDPOINT")
	if endpoint == "" {
		ocfg.Enabled = false
		log.Println("[aegis] observability: disabled")
		return observability.New(ctx, ocfg)
	}
	ocfg.OTLPEndpoint = endpoint
	ocfg.Insecure = os.Getenv("AEGIS_OTLP_INSECURE") == "1"
	ocfg.Environment = getenvDefault("AEGIS_ENVIRONMENT", "production")
	log.Printf("[aegis] observability: otlp at %s", endpoint)
	return observability.New(ctx, ocfg)
}

// attachAuditArchives forwards trail entries to the configured relational
// sinks. The in-memory trail stays authoritative; a failed archive write
// is logged and the entry remains on the chain.
func attachAuditArchives(ctx context.Context, trail *audit.Trail, cfg *config.Config, logger *slog.Logger) []io.Closer {
	var closers []io.Closer

	if cfg.ArchiveDSN != "" {
		pg, err := audit.OpenPostgresArchive(cfg.ArchiveDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres audit archive: %v", err)
		}
		trail.Attach(func(e *audit.Entry) {
			if err := pg.Store(ctx, e); err != nil {
				logger.Warn("audit archive store failed", "sink", "postgres", "error", err)
			}
		})
		closers = append(closers, pg)
		log.Println("[aegis] audit archive: postgres")
	}

	if cfg.ArchivePath != "" {
		lite, err := audit.OpenSQLiteArchive(cfg.ArchivePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite audit archive: %v", err)
		}
		trail.Attach(func(e *audit.Entry) {
			if err := lite.Store(ctx, e); err != nil {
				logger.Warn("audit archive store failed", "sink", "sqlite", "error", err)
			}
		})
		closers = append(closers, lite)
		log.Printf("[aegis] audit archive: sqlite at %s", cfg.ArchivePath)
	}

	return closers
}

// credentialSweepLoop checks rotation deadlines and expires stale keys
// until the context is cancelled.
func credentialSweepLoop(ctx context.Context, o *credential.Orchestrator, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			due, err := o.CheckDue(ctx)
			if err != nil {
				log.Printf("[aegis] rotation check error: %v", err)
			} else if len(due) > 0 {
				log.Printf("[aegis] rotation check: %d schedule(s) due", len(due))
			}

			expired, err := o.SweepExpiredKeys(ctx)
			if err != nil {
				log.Printf("[aegis] key sweep error: %v", err)
			} else if expired > 0 {
				log.Printf("[aegis] key sweep: %d key(s) expired", expired)
			}
		}
	}
}

// complianceSweepLoop runs retention deletion and consent expiry passes
// until the context is cancelled.
func complianceSweepLoop(ctx context.Context, o *compliance.Orchestrator, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweep, err := o.SweepRetention(ctx)
			if err != nil {
				log.Printf("[aegis] retention sweep error: %v", err)
			} else if sweep.Deleted > 0 {
				log.Printf("[aegis] retention sweep: %d record(s) deleted, %d held", sweep.Deleted, sweep.Held)
			}

			moved, err := o.SweepConsents(ctx)
			if err != nil {
				log.Printf("[aegis] consent sweep error: %v", err)
			} else if moved > 0 {
				log.Printf("[aegis] consent sweep: %d consent(s) expired", moved)
			}
		}
	}
}

// gateSweepLoop drops idle alert-gate buckets. Redis buckets expire on
// their own; only the in-memory store needs sweeping.
func gateSweepLoop(ctx context.Context, store *alertgate.MemoryStore) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			store.Sweep(30 * time.Minute)
		}
	}
}
