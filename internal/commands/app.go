package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/config"
	"github.com/jask/bankfeed/internal/database"
	"github.com/jask/bankfeed/internal/llm"
	"github.com/jask/bankfeed/internal/secrets"
	"github.com/jask/bankfeed/internal/service"
)

// app is the per-invocation wiring of database, aggregator and engine.
type app struct {
	db     *sql.DB
	engine *service.Engine
	log    *slog.Logger
}

func (o *RootOptions) open(ctx context.Context) (*app, error) {
	cfg := o.cfg
	log := o.log
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}

	sealer, err := secrets.NewSealer(cfg.Secrets.CredentialKey())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("credential key ($%s): %w", cfg.Secrets.KeyEnv, err)
	}

	client := o.Aggregator
	if client == nil {
		if cfg.Aggregator.ClientID == "" || cfg.Aggregator.Secret == "" {
			_ = db.Close()
			return nil, fmt.Errorf("aggregator.client_id and aggregator.secret must be configured")
		}
		client = aggregator.NewPlaidClient(cfg.Aggregator.BaseURL, cfg.Aggregator.ClientID, cfg.Aggregator.Secret, cfg.Aggregator.Timeout)
	}

	deps := service.SQLiteStores(db)
	deps.Aggregator = client
	deps.Classifier = classifier(cfg.Categorize, log)
	deps.Credentials = sealer
	deps.Logger = log

	engine, err := service.NewEngine(deps, service.Options{
		PageSize:      cfg.Aggregator.PageSize,
		Concurrency:   cfg.Sync.Concurrency,
		StaleAfter:    cfg.Sync.StaleAfter,
		MaxCandidates: cfg.Categorize.MaxCandidates,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &app{db: db, engine: engine, log: log}, nil
}

func (a *app) Close() error {
	a.engine.Wait()
	return a.db.Close()
}

// classifier picks the configured provider. A missing OpenAI key degrades
// to the offline heuristic classifier.
func classifier(cfg config.CategorizeConfig, log *slog.Logger) llm.Classifier {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		key := resolveAPIKey(cfg)
		c, err := llm.NewOpenAIClassifier(key, cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			log.Warn("openai classifier unavailable; using heuristic classifier", "err", err)
			return llm.NewHeuristicClassifier()
		}
		return c
	case "heuristic":
		return llm.NewHeuristicClassifier()
	case "", "none":
		return nil
	default:
		log.Warn("unknown classifier provider; rules only", "provider", cfg.Provider)
		return nil
	}
}

func resolveAPIKey(cfg config.CategorizeConfig) string {
	if k := cfg.ResolveAPIKey(); k != "" {
		return k
	}
	store, err := secrets.DefaultKeyStore()
	if err != nil {
		return ""
	}
	if k, err := store.FetchProviderKey(cfg.Provider); err == nil {
		return k
	}
	return ""
}
