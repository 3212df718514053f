package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/uvalang/uvalens/internal/adapter/fswatch"
	cfhttp "github.com/uvalang/uvalens/internal/adapter/http"
	"github.com/uvalang/uvalens/internal/adapter/ws"
	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/logger"
	"github.com/uvalang/uvalens/internal/port/broadcast"
	"github.com/uvalang/uvalens/internal/service"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host bridge for editors",
		Long: `serve starts the analyzer server and exposes the editor session over HTTP.
Decorations, diagnostics, tokens and analyzer notifications are pushed to
WebSocket clients on /ws and, when configured, published to NATS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	stringOverride(cmd, &c.overrides.Addr, "addr", "HTTP listen address")
	stringOverride(cmd, &c.overrides.NATSURL, "nats-url", "NATS server URL for the event stream")
	cmd.Flags().VarPF(&optionalBool{dst: &c.overrides.Watch}, "watch", "", "re-analyze on workspace file changes").NoOptDefVal = "true"
	return cmd
}

func (c *cli) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := c.cfg
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(ctx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()
	hubs := broadcast.Multi{hub}
	if rt.bus != nil {
		hubs = append(hubs, rt.bus)
	}

	var server service.Server
	if rt.supervisor != nil {
		server = rt.supervisor
	}
	session := service.NewSession(rt.analyzer, rt.projector, hubs, server, cfg.Analyzer.Mode, cfg.Session.TokenPollInterval, rt.metrics)

	router := cfhttp.NewRouter(cfg.Server, &cfhttp.Handlers{
		Session:   session,
		Analyzer:  rt.analyzer,
		Projector: rt.projector,
		Hub:       hub,
		Version:   version,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Session.Watch {
		w, err := c.newWatcher(session)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", cfg.Session.Workspace, err)
		}
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(gctx) })
	g.Go(func() error {
		slog.Info("host bridge listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("host bridge stopped")
	return err
}

// newWatcher reports on-disk document changes to the session and reloads
// the config when its file changes.
func (c *cli) newWatcher(session *service.Session) (*fswatch.Watcher, error) {
	cfg := c.cfg
	configPath, err := filepath.Abs(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	holder := config.NewHolder(cfg, c.configPath, c.overrides)

	return fswatch.New(cfg.Session.Workspace, func(changes []fswatch.Change) {
		ctx := context.Background()
		for _, ch := range changes {
			if ch.Path == configPath {
				if err := holder.Reload(); err == nil {
					logger.SetLevel(holder.Get().Logging.Level)
				}
				continue
			}
			session.FileChanged(ctx, ch.Path)
		}
	}, fswatch.Options{
		Debounce:   cfg.Session.Debounce,
		Extensions: cfg.Session.Extensions,
		Ignore:     fswatch.DefaultIgnore,
		Files:      []string{configPath},
	})
}

// originPatterns turns the CORS origin into a WebSocket origin pattern,
// which matches on host only.
func originPatterns(origin string) []string {
	if origin == "" {
		return nil
	}
	if _, host, ok := strings.Cut(origin, "://"); ok {
		return []string{host}
	}
	return []string{origin}
}

type optionalBool struct {
	dst **bool
}

func (o *optionalBool) String() string {
	if o.dst == nil || *o.dst == nil {
		return "false"
	}
	if **o.dst {
		return "true"
	}
	return "false"
}

func (o *optionalBool) Set(v string) error {
	b := v == "true" || v == "1"
	if !b && v != "false" && v != "0" {
		return fmt.Errorf("invalid boolean %q", v)
	}
	*o.dst = &b
	return nil
}

func (o *optionalBool) Type() string { return "bool" }

func (o *optionalBool) IsBoolFlag() bool { return true }
