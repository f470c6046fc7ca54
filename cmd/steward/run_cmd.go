package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quorumworks/steward/pkg/archive"
	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/checkpoint"
	"github.com/quorumworks/steward/pkg/config"
	"github.com/quorumworks/steward/pkg/contracts"
	"github.com/quorumworks/steward/pkg/counter"
	"github.com/quorumworks/steward/pkg/engine"
	"github.com/quorumworks/steward/pkg/execution"
	"github.com/quorumworks/steward/pkg/feed"
	"github.com/quorumworks/steward/pkg/ledger"
	"github.com/quorumworks/steward/pkg/lifecycle"
	"github.com/quorumworks/steward/pkg/observability"
	"github.com/quorumworks/steward/pkg/runner"

	_ "github.com/lib/pq" // postgres driver
)

// shutdownGrace bounds how long quiescing runs may finish their
// current item before persist and release proceed anyway.
const shutdownGrace = 30 * time.Second

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	signer   *attest.Signer
	ledger   *ledger.AttestationLedger
	counter  *counter.LedgerCounter
	store    checkpoint.Store
	archiver *archive.Archiver

	sourceKeys   []string
	coordinators map[string]*runner.Coordinator
	lifecycle    *lifecycle.Coordinator
	provider     *observability.Provider
}

func runRunCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		once       bool
		dryRun     bool
		sourceKeys string
	)
	fs.BoolVar(&once, "once", false, "Run one cycle and exit, ignoring RUN_INTERVAL")
	fs.BoolVar(&dryRun, "dry-run", false, "Decide but do not submit or attest")
	fs.StringVar(&sourceKeys, "source-keys", "", "Comma-separated source keys (overrides SOURCE_KEYS)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if dryRun {
		cfg.DryRun = true
	}
	if sourceKeys != "" {
		cfg.SourceKeys = splitKeys(sourceKeys)
	}
	if len(cfg.SourceKeys) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: no source keys configured (set SOURCE_KEYS or --source-keys)")
		return 2
	}

	logger := setupLogger(cfg.LogLevel, stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// A signal quiesces active runs; a naturally finished loop cancels
	// ctx and drives the same shutdown protocol.
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- a.lifecycle.WatchSignals(ctx)
	}()

	a.runLoop(ctx, once)
	cancel()

	if err := <-watchDone; err != nil {
		logger.Error("shutdown finished with errors", "error", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "steward stopped cleanly")
	return 0
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

//nolint:gocyclo // linear wiring of collaborators
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	contract, err := attest.ParseAddress(cfg.VerifyingContract)
	if err != nil {
		return nil, fmt.Errorf("verifying contract: %w", err)
	}
	schema, err := attest.ParseHash32(cfg.SchemaUID)
	if err != nil {
		return nil, fmt.Errorf("schema uid: %w", err)
	}
	recipient, err := attest.ParseAddress(cfg.Recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}

	domain := attest.Domain{
		Name:              "AttestationLedger",
		Version:           "1",
		ChainID:           cfg.ChainID,
		VerifyingContract: contract,
	}
	signer, err := attest.NewSigner(cfg.SignerPrivateKey, domain)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	l := ledger.New(domain)
	l.RegisterSchema(schema)

	// The signer is its own controller for a single-agent deployment.
	ctr, err := counter.New(signer.Address(), l)
	if err != nil {
		return nil, err
	}
	if err := ctr.SetActive(signer.Address(), signer.Address(), true); err != nil {
		return nil, fmt.Errorf("activate signer: %w", err)
	}
	l.SetActivePolicy(ctr.IsActive)

	store, err := openCheckpointStore(cfg)
	if err != nil {
		return nil, err
	}

	var lock runner.RunLock
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		lock = runner.NewRedisLock(redis.NewClient(opt), 0)
	} else {
		lock = runner.NewLocalLock()
	}

	source, err := feed.NewHTTPSource(feed.HTTPSourceConfig{
		BaseURL:     cfg.FeedURL,
		TokenSecret: cfg.FeedJWTSecret,
		TokenIssuer: "steward",
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("feed source: %w", err)
	}

	surface, err := execution.NewHTTPSurface(execution.HTTPSurfaceConfig{
		BaseURL: cfg.SurfaceURL,
		APIKey:  cfg.SurfaceAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("execution surface: %w", err)
	}

	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    "steward",
		ServiceVersion: version,
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	var strategies map[string]*config.StrategyProfile
	if cfg.StrategyDir != "" {
		strategies, err = config.LoadAllStrategies(cfg.StrategyDir)
		if err != nil {
			return nil, fmt.Errorf("strategies: %w", err)
		}
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		signer:       signer,
		ledger:       l,
		counter:      ctr,
		store:        store,
		sourceKeys:   cfg.SourceKeys,
		coordinators: make(map[string]*runner.Coordinator, len(cfg.SourceKeys)),
		lifecycle:    lifecycle.NewCoordinator(shutdownGrace, logger),
		provider:     provider,
	}

	if cfg.ArchiveBackend != "" {
		objStore, err := archive.NewStore(ctx, archive.Backend(cfg.ArchiveBackend), cfg.ArchiveBucket)
		if err != nil {
			return nil, fmt.Errorf("archive store: %w", err)
		}
		a.archiver, err = archive.NewArchiver(l, objStore, logger)
		if err != nil {
			return nil, err
		}
	}

	for _, key := range cfg.SourceKeys {
		coord, err := buildCoordinator(cfg, strategies[key], runner.Deps{
			Source:  source,
			Surface: surface,
			Signer:  signer,
			Counter: ctr,
			Store:   store,
			Lock:    lock,
			Metrics: provider,
			Logger:  logger,
		}, schema, recipient)
		if err != nil {
			return nil, fmt.Errorf("coordinator for %s: %w", key, err)
		}
		a.coordinators[key] = coord
		a.lifecycle.Register(coord)
	}
	a.lifecycle.Register(provider)

	return a, nil
}

// buildCoordinator applies strategy overrides on top of the
// environment defaults for one source key.
func buildCoordinator(cfg *config.Config, strategy *config.StrategyProfile, deps runner.Deps, schema attest.Hash32, recipient attest.Address) (*runner.Coordinator, error) {
	rc := runner.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxItemsPerRun:      cfg.MaxItemsPerRun,
		DryRun:              cfg.DryRun,
		SchemaUID:           schema,
		Recipient:           recipient,
		AttestationTTL:      cfg.AttestationTTL,
	}

	var (
		allow, deny []string
		expr        string
	)
	engineKind := "llm"
	strategyName := "default"

	if strategy != nil {
		strategyName = strategy.Name
		if strategy.ConfidenceThreshold != nil {
			rc.ConfidenceThreshold = *strategy.ConfidenceThreshold
		}
		if strategy.MaxItemsPerRun != nil {
			rc.MaxItemsPerRun = *strategy.MaxItemsPerRun
		}
		if strategy.DryRun != nil {
			rc.DryRun = *strategy.DryRun
		}
		if strategy.Engine != "" {
			engineKind = strategy.Engine
		}
		allow, deny, expr = strategy.AllowOrigins, strategy.DenyOrigins, strategy.FilterExpr
	}

	switch engineKind {
	case "rules":
		rules := make([]engine.Rule, 0, len(strategy.Rules))
		for _, r := range strategy.Rules {
			rules = append(rules, engine.Rule{
				Keyword:    r.Keyword,
				Verdict:    contracts.Verdict(strings.ToUpper(strings.TrimSpace(r.Verdict))),
				Confidence: r.Confidence,
			})
		}
		deps.Engine = engine.NewRulesEngine(rules)
	default:
		deps.Engine = engine.NewLLMEngine(cfg.EngineURL, strategyName, 0)
	}

	filter, err := runner.NewFilter(allow, deny, expr)
	if err != nil {
		return nil, err
	}
	deps.Filter = filter

	return runner.New(rc, deps)
}

func openCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.CheckpointBackend {
	case "sqlite", "":
		return checkpoint.OpenSQLite(cfg.CheckpointDSN)
	case "postgres":
		db, err := sql.Open("postgres", cfg.CheckpointDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return checkpoint.NewPostgresStore(db)
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.CheckpointBackend)
	}
}

// runLoop drives run cycles until ctx is canceled. With no interval
// configured, or with --once, a single cycle runs.
func (a *app) runLoop(ctx context.Context, once bool) {
	a.runCycle(ctx)
	if once || a.cfg.RunInterval <= 0 {
		return
	}

	ticker := time.NewTicker(a.cfg.RunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

func (a *app) runCycle(ctx context.Context) {
	for _, key := range a.sourceKeys {
		if ctx.Err() != nil {
			return
		}
		summary, err := a.coordinators[key].Run(ctx, key)
		if err != nil {
			a.logger.Error("run failed", "source_key", key, "error", err)
			continue
		}
		for _, itemErr := range summary.Errors {
			a.logger.Warn("item failed",
				"source_key", key,
				"item_id", itemErr.ItemID,
				"phase", itemErr.Phase,
				"reason", itemErr.Reason)
		}
	}

	if a.archiver != nil {
		if _, err := a.archiver.Export(ctx); err != nil {
			a.logger.Error("archive export failed", "error", err)
		} else if _, err := a.archiver.ExportManifest(ctx); err != nil {
			a.logger.Error("manifest export failed", "error", err)
		}
	}
}

func splitKeys(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
