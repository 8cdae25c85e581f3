package cli

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"kinforge/internal/commit"
	"kinforge/internal/extract"
	"kinforge/internal/logging"
	"kinforge/internal/model"
	"kinforge/internal/pipeline"
	"kinforge/internal/ssot"
	"kinforge/internal/store"
)

// app holds the wired-up dependencies shared by the subcommands.
type app struct {
	cfg       *model.Config
	st        *store.Store
	log       *slog.Logger
	client    ssot.Client
	committer *commit.Engine
	pipe      *pipeline.Pipeline
}

// newApp loads config, opens the store, overlays stored threshold overrides,
// and connects the record store. withOracle also builds the extraction
// pipeline; commands that only read local state skip it.
func newApp(withOracle bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel)

	path := cfg.Store.Path
	if path == "" {
		path = store.DefaultDBPath
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	thresholds, err := st.LoadThresholds(context.Background(), cfg.Thresholds)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load threshold overrides: %w", err)
	}
	cfg.Thresholds = thresholds
	cfg.Cache.CacheExpiryDays = st.LoadCacheExpiry(context.Background(), cfg.Cache.CacheExpiryDays)

	a := &app{cfg: cfg, st: st, log: log}

	if cfg.SSOT.BaseURL != "" {
		a.client = ssot.NewHTTPClient(cfg.SSOT.BaseURL, cfg.SSOT.Token, cfg.SSOT.Timeout)
	} else {
		log.Warn("no record store configured; using an in-process store that forgets everything on exit")
		a.client = ssot.NewMemoryClient()
	}
	a.committer = commit.NewEngine(a.client, st, cfg.Thresholds, log)

	if withOracle {
		oracle, err := extract.NewOracle(cfg.Extractor)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("extraction provider: %w", err)
		}
		cached := extract.NewCachedOracle(oracle, st, cfg.Extractor.Model, log)
		a.pipe = pipeline.New(cfg, st, a.client, cached, log)
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.st.Close(); err != nil {
		a.log.Error("closing store", "error", err)
	}
}

func unmarshalConfig(data []byte, cfg *model.Config) error {
	return yaml.Unmarshal(data, cfg)
}
