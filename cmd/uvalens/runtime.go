package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/uvalang/uvalens/internal/adapter/analyzer"
	cfnats "github.com/uvalang/uvalens/internal/adapter/nats"
	"github.com/uvalang/uvalens/internal/adapter/natskv"
	cfotel "github.com/uvalang/uvalens/internal/adapter/otel"
	"github.com/uvalang/uvalens/internal/adapter/ristretto"
	"github.com/uvalang/uvalens/internal/adapter/tiered"
	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/port/cache"
	"github.com/uvalang/uvalens/internal/resilience"
	"github.com/uvalang/uvalens/internal/service"
)

// runtime is the wired analysis stack shared by all commands.
type runtime struct {
	cfg        *config.Config
	supervisor *analyzer.Supervisor // nil in one-shot mode
	analyzer   *service.AnalyzerService
	projector  *service.Projector
	metrics    *cfotel.Metrics
	bus        *cfnats.Bus // nil without a NATS URL

	closers []func(context.Context) error
}

// newRuntime wires telemetry, the optional NATS bus, the result cache and
// the analyzer dispatcher. The supervisor is created but not started.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg, projector: service.ProjectorFromConfig(cfg.Projection)}

	tel := cfg.Telemetry
	if tel.ServiceVersion == "" {
		tel.ServiceVersion = version
	}
	shutdown, err := cfotel.Init(ctx, tel, cfg.Logging.Service)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.closers = append(rt.closers, shutdown)

	rt.metrics, err = cfotel.NewMetrics()
	if err != nil {
		_ = rt.close(ctx)
		return nil, fmt.Errorf("metrics: %w", err)
	}

	if cfg.Events.NATSURL != "" {
		bus, err := cfnats.Connect(ctx, cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			slog.Warn("nats unavailable, events stay local", "url", cfg.Events.NATSURL, "error", err)
		} else {
			rt.bus = bus
			rt.closers = append(rt.closers, func(context.Context) error { return bus.Drain() })
			slog.Info("nats connected", "url", cfg.Events.NATSURL)
		}
	}

	resultCache, err := rt.newCache(ctx)
	if err != nil {
		_ = rt.close(ctx)
		return nil, err
	}

	command := analyzer.ResolveCommand(cfg.Analyzer.Binary, cfg.Analyzer.DevMode, cfg.Analyzer.DevPath, cfg.Session.Workspace)
	pool := resilience.NewPool(cfg.Analyzer.MaxOneShot)
	oneShot := analyzer.NewOneShot(command, cfg.Analyzer.TokenArgs, cfg.Session.Workspace, cfg.Analyzer.RequestTimeout, pool)

	var dispatcher analyzer.Dispatcher = oneShot
	if cfg.Analyzer.Mode == config.ModeServer {
		rt.supervisor, err = analyzer.NewSupervisor(analyzer.Options{
			Command:        command,
			Args:           cfg.Analyzer.ServerArgs,
			Dir:            cfg.Session.Workspace,
			Framing:        analyzer.Framing(cfg.Analyzer.Framing),
			RequestTimeout: cfg.Analyzer.RequestTimeout,
			StopTimeout:    cfg.Analyzer.StopTimeout,
			RestartPolicy:  cfg.Restart.Policy,
			RestartBackoff: cfg.Restart.Backoff,
			MaxBackoff:     cfg.Restart.MaxBackoff,
			EventBuffer:    cfg.Analyzer.EventBuffer,
			Stderr:         os.Stderr,
		})
		if err != nil {
			_ = rt.close(ctx)
			return nil, fmt.Errorf("analyzer: %w", err)
		}
		dispatcher = rt.supervisor
	}

	var breaker *resilience.Breaker
	if cfg.Breaker.MaxFailures > 0 {
		breaker = service.NewDispatchBreaker(cfg.Breaker)
	}
	rt.analyzer = service.NewAnalyzerService(cfg, dispatcher, oneShot, resultCache, breaker, rt.metrics)
	return rt, nil
}

// newCache returns the local result cache, tiered over the shared NATS KV
// bucket when sharing is enabled and NATS is connected.
func (rt *runtime) newCache(ctx context.Context) (cache.Cache, error) {
	cfg := rt.cfg.Cache
	if !cfg.Enabled {
		return nil, nil
	}
	local, err := ristretto.New(cfg.MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error {
		st := local.Stats()
		slog.Debug("result cache stats", "hits", st.Hits, "misses", st.Misses, "hit_ratio", st.HitRatio, "evicted", st.Evicted)
		local.Close()
		return nil
	})

	if !cfg.Shared || rt.bus == nil {
		return local, nil
	}
	kv, err := rt.bus.KeyValue(ctx, cfg.Bucket, cfg.TTL)
	if err != nil {
		slog.Warn("shared result cache unavailable, using local cache only", "bucket", cfg.Bucket, "error", err)
		return local, nil
	}
	slog.Info("shared result cache enabled", "bucket", cfg.Bucket)
	return tiered.New(local, natskv.New(kv), cfg.TTL), nil
}

// startAnalyzer launches the analyzer server, if any.
func (rt *runtime) startAnalyzer(ctx context.Context) error {
	if rt.supervisor == nil {
		return nil
	}
	if err := rt.supervisor.Start(ctx); err != nil {
		if errors.Is(err, analysis.ErrSpawnFailure) {
			return errors.New(service.SpawnFailureMessage)
		}
		return err
	}
	return nil
}

// close releases everything newRuntime acquired, newest first. The analyzer
// server is stopped as well.
func (rt *runtime) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var errs []error
	if rt.supervisor != nil {
		if err := rt.supervisor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop analyzer: %w", err))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
