// Package main provides runtime wiring for the review pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/vinayprograms/reviewd/internal/artifact"
	"github.com/vinayprograms/reviewd/internal/config"
	"github.com/vinayprograms/reviewd/internal/events"
	"github.com/vinayprograms/reviewd/internal/history"
	"github.com/vinayprograms/reviewd/internal/router"
	"github.com/vinayprograms/reviewd/internal/session"
	"github.com/vinayprograms/reviewd/internal/state"
	"github.com/vinayprograms/reviewd/internal/toolkit"
	"github.com/vinayprograms/reviewd/internal/worker"
)

// runtime owns every long-lived component behind a router.
type runtime struct {
	cfg *config.Config

	// Components
	users     state.UserStore
	index     *history.Index
	artifacts *artifact.Store
	sessions  *session.Manager
	gateway   *toolkit.Gateway
	wkr       worker.Worker
	telem     telemetry.Exporter
	sink      events.Sink
	stream    *events.ChannelSink
	router    *router.Router

	// Storage
	storagePath string

	// Cleanup
	closers []func()
}

// newRuntime loads config and initializes all components. withStream adds an
// in-process channel sink for live progress.
func newRuntime(configPath string, offline, withStream bool) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	if err := rt.setup(offline, withStream); err != nil {
		rt.cleanup()
		return nil, err
	}
	return rt, nil
}

// loadConfig loads the given config file, or reviewd.toml from the current
// directory, falling back to defaults when neither exists.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.LoadFile("reviewd.toml")
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup initializes all runtime components. Returns error on failure.
func (rt *runtime) setup(offline, withStream bool) error {
	rt.resolveStoragePath()
	if err := os.MkdirAll(rt.storagePath, 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	if err := rt.openStores(); err != nil {
		return err
	}
	if err := rt.createGateway(); err != nil {
		return err
	}
	if err := rt.createWorker(offline); err != nil {
		return err
	}
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	if err := rt.setupSinks(withStream); err != nil {
		return err
	}

	var err error
	rt.router, err = router.New(rt.cfg, rt.sessions, rt.users, rt.gateway, rt.wkr, rt.sink)
	if err != nil {
		return fmt.Errorf("building pipelines: %w", err)
	}
	return nil
}

// resolveStoragePath expands the configured storage path.
func (rt *runtime) resolveStoragePath() {
	rt.storagePath = rt.cfg.Storage.Path
	if rt.storagePath == "" {
		home, _ := os.UserHomeDir()
		rt.storagePath = filepath.Join(home, ".local", "reviewd")
	}
	if len(rt.storagePath) > 0 && rt.storagePath[0] == '~' {
		home, _ := os.UserHomeDir()
		rt.storagePath = filepath.Join(home, rt.storagePath[1:])
	}
}

// openStores opens the persistent stores under the storage path.
func (rt *runtime) openStores() error {
	users, err := state.NewSQLiteUserStore(filepath.Join(rt.storagePath, "users.db"))
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	rt.users = users
	rt.addCloser(func() { users.Close() })

	rt.index, err = history.NewIndex(filepath.Join(rt.storagePath, "history.bleve"))
	if err != nil {
		return fmt.Errorf("opening history index: %w", err)
	}
	rt.addCloser(func() { rt.index.Close() })

	rt.artifacts, err = artifact.NewStore(filepath.Join(rt.storagePath, "artifacts"))
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}

	store, err := session.NewFileStore(filepath.Join(rt.storagePath, "sessions"))
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	rt.sessions = session.NewManager(store)
	return nil
}

// createGateway registers the built-in tools.
func (rt *runtime) createGateway() error {
	gateway, err := toolkit.NewGateway(rt.cfg.ToolTimeout(),
		&toolkit.StoreArtifactTool{Store: rt.artifacts},
		&toolkit.SearchHistoryTool{Index: rt.index},
		&toolkit.RecordFeedbackTool{Index: rt.index},
		&toolkit.RecordProgressTool{},
	)
	if err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	rt.gateway = gateway
	return nil
}

// createWorker builds the task worker: LLM-backed by default, the
// deterministic static worker in offline mode.
func (rt *runtime) createWorker(offline bool) error {
	if offline {
		rt.wkr = worker.NewStaticWorker()
		return nil
	}

	if rt.cfg.LLM.Provider == "" {
		rt.cfg.LLM.Provider = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if rt.cfg.LLM.Provider == "" && rt.cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured (use --offline for the static worker)")
	}

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  rt.cfg.LLM.Provider,
		Model:     rt.cfg.LLM.Model,
		APIKey:    rt.cfg.GetAPIKey(),
		MaxTokens: rt.cfg.LLM.MaxTokens,
		BaseURL:   rt.cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}

	critic, err := rt.createCritic()
	if err != nil {
		return err
	}

	rt.wkr = worker.NewLLMWorker(provider, critic)
	return nil
}

// createCritic builds the separate judgment model, nil when none is
// configured (the worker model then handles judgment tasks too).
func (rt *runtime) createCritic() (llm.Provider, error) {
	if rt.cfg.CriticLLM.Model == "" {
		return nil, nil
	}

	criticCfg := rt.cfg.CriticOrWorker()
	if criticCfg.Provider == "" {
		criticCfg.Provider = llm.InferProviderFromModel(criticCfg.Model)
	}

	critic, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  criticCfg.Provider,
		Model:     criticCfg.Model,
		APIKey:    rt.cfg.GetCriticAPIKey(),
		MaxTokens: criticCfg.MaxTokens,
		BaseURL:   criticCfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating critic provider: %w", err)
	}
	return critic, nil
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// setupSinks wires event delivery: NATS when configured, plus the in-process
// stream when live progress was requested. The stream is closed by the
// caller when its pipeline run finishes, never by cleanup.
func (rt *runtime) setupSinks(withStream bool) error {
	var sinks []events.Sink

	if rt.cfg.Events.NATSUrl != "" {
		nats, err := events.NewNATSPublisher(rt.cfg.Events.NATSUrl, rt.cfg.Events.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connecting event publisher: %w", err)
		}
		sinks = append(sinks, nats)
		rt.addCloser(func() { nats.Close() })
	}

	if withStream {
		rt.stream = events.NewChannelSink(1024)
		sinks = append(sinks, rt.stream)
	}

	rt.sink = events.NewMultiSink(sinks...)
	return nil
}

// runReview runs the review pass, then the fix pass when requested and the
// review offered one.
func (rt *runtime) runReview(ctx context.Context, sub router.Submission, fix bool) (*router.ReviewOutcome, *router.FixOutcome, error) {
	review, err := rt.router.Submit(ctx, sub)
	if err != nil {
		return nil, nil, err
	}
	if !fix || !review.FixWorthy {
		return review, nil, nil
	}

	fixOutcome, err := rt.router.RunFix(ctx, review.SessionID)
	if err != nil {
		return review, nil, fmt.Errorf("fix pass: %w", err)
	}
	return review, fixOutcome, nil
}

// cleanup runs all registered cleanup functions.
func (rt *runtime) cleanup() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// openHistory opens just the feedback index, for read-only commands.
func openHistory(cfg *config.Config) (*history.Index, error) {
	rt := &runtime{cfg: cfg}
	rt.resolveStoragePath()

	index, err := history.NewIndex(filepath.Join(rt.storagePath, "history.bleve"))
	if err != nil {
		return nil, fmt.Errorf("opening history index: %w", err)
	}
	return index, nil
}
