package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/simvis/simvis/pkg/config"
	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/dispatch"
	"github.com/simvis/simvis/pkg/extract"
	"github.com/simvis/simvis/pkg/registry"
	"github.com/simvis/simvis/pkg/remote"
	"github.com/simvis/simvis/pkg/telemetry"
	"github.com/simvis/simvis/pkg/tui"
)

// app is the engine assembled from configuration for one CLI invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	fs        *remote.Router
	registry  *registry.Registry
	extractor *extract.Extractor
	metrics   *telemetry.Metrics
	tracing   *telemetry.Tracing
	progress  *tui.Progress
}

// newApp wires config, logging, file access, parsers and the dispatcher.
// progressTo receives a progress bar when non-nil.
func newApp(ctx context.Context, progressTo io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		fs:      remote.NewRouter(cfg.RemoteConfig(), logger),
		metrics: telemetry.NewMetrics(),
	}

	opts := cfg.ParserOptions()
	opts.Logger = logger
	loaders := registry.Builtin(opts)
	declared, err := registry.Declarative(cfg.Plugins.Dir, opts)
	if err != nil {
		logger.Warn("parser specs not loaded", "dir", cfg.Plugins.Dir, "error", err)
	}
	loaders = append(loaders, declared...)
	if a.registry, err = registry.Build(logger, registry.Without(loaders, cfg.Plugins.Disabled)...); err != nil {
		return nil, err
	}

	dopts := []dispatch.Option{
		dispatch.WithPolicy(cfg.Policy()),
		dispatch.WithLogger(logger),
		dispatch.WithRecorder(a.metrics),
	}
	if cfg.Telemetry.Enabled {
		otlp := telemetry.DefaultOTLPConfig("simvis")
		otlp.Endpoint = cfg.Telemetry.Endpoint
		otlp.SamplingRatio = cfg.Telemetry.SamplingRatio
		otlp.ServiceVersion = version
		a.tracing = telemetry.NewTracing(otlp)
		if err := a.tracing.Init(ctx); err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			dopts = append(dopts, dispatch.WithTracer(a.tracing.Tracer("github.com/simvis/simvis")))
		}
	}
	if progressTo != nil {
		a.progress = tui.NewProgress(progressTo, "extracting")
		dopts = append(dopts, dispatch.WithProgress(a.progress.Update))
	}

	d := dispatch.New(a.registry, a.fs, dopts...)
	a.extractor = extract.New(d, a.fs, logger)
	a.extractor.SetObserver(a.metrics)
	return a, nil
}

// request builds a request from CLI target arguments.
func (a *app) request(args []string, mode core.Mode) (core.Request, error) {
	session := sessionID
	if session == "" {
		session = extract.NewSessionID()
	}
	req := core.Request{Session: session, Mode: mode}
	for _, arg := range args {
		req.Targets = append(req.Targets, remote.ParseTarget(arg))
	}
	if err := req.Validate(); err != nil {
		return core.Request{}, err
	}
	a.logger.Debug("request", "session", session, "targets", req.String(), "mode", mode.String())
	return req, nil
}

// Close releases remote connections and flushes traces.
func (a *app) Close() {
	if a.progress != nil {
		a.progress.Finish()
	}
	if err := a.fs.Close(); err != nil {
		a.logger.Warn("closing remote connections", "error", err)
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("flushing traces", "error", err)
		}
	}
}

// withApp runs fn with an engine built for cmd and closes it afterwards.
func withApp(cmd *cobra.Command, progress bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var w io.Writer
	if progress {
		w = cmd.ErrOrStderr()
	}
	a, err := newApp(ctx, w)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := fn(ctx, a); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return nil
}
