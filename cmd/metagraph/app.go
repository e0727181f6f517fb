package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"metagraph/internal/blob"
	"metagraph/internal/config"
	"metagraph/internal/core"
	"metagraph/internal/logging"
	"metagraph/plugins/asset"
	"metagraph/plugins/exporttag"
	"metagraph/plugins/group"
)

// app bundles what a command needs: the graph service over the configured
// backend, the archive store, the logger and the configured telemetry.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	svc       *core.Service
	blobs     blob.Store
	telemetry *telemetry
}

func builtinPlugins() []core.Plugin {
	return []core.Plugin{group.New(), asset.New(), exporttag.New()}
}

func openApp(ctx context.Context, configPath string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	tel, err := openTelemetry(cfg.Observe, stderr)
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewRulesEngine(), logger)
	if err != nil {
		return nil, errors.Join(err, tel.close(ctx))
	}
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetrics(tel.metrics),
		core.WithTracer(tel.tracer),
		core.WithWalkLimit(cfg.Graph.WalkLimit),
		core.WithHandleCacheSize(cfg.Graph.CacheSize),
	)
	for _, p := range builtinPlugins() {
		if _, err := svc.InstallPlugin(p); err != nil {
			return nil, errors.Join(fmt.Errorf("install %s: %w", p.Name(), err), svc.Close(), tel.close(ctx))
		}
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open archive: %w", err), svc.Close(), tel.close(ctx))
	}
	logger.Debug("metagraph ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blob", string(blobs.Driver())),
		zap.String("metrics", cfg.Observe.Metrics),
		zap.String("tracing", cfg.Observe.Tracing))
	return &app{cfg: cfg, logger: logger, svc: svc, blobs: blobs, telemetry: tel}, nil
}

func (a *app) close(ctx context.Context) error {
	err := errors.Join(a.svc.Close(), a.telemetry.close(ctx))
	_ = a.logger.Sync()
	return err
}
