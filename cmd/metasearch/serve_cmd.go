package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"metasearch/internal/adapter/gateway"
	"metasearch/internal/usecase/scheduling"
)

// networkIdleSchedule is how often idle upstream connections are released.
const networkIdleSchedule = "10m"

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP search API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")
	return cmd
}

// serve runs the API server and the background tasks until ctx is done.
func serve(ctx context.Context, a *app) error {
	sched := scheduling.NewScheduler(a.logger)
	if err := sched.Add(scheduling.Task{
		Name:     scheduling.TaskNetworkIdle,
		Schedule: networkIdleSchedule,
		Run: func(context.Context) error {
			a.networks.Close()
			return nil
		},
	}); err != nil {
		return err
	}

	deps := gateway.HandlerDeps{
		Engines:           a.engines,
		Plugins:           a.plugins,
		Answerers:         a.answerers,
		Bangs:             a.bangs,
		Tasks:             sched,
		Search:            a.cfg.Search,
		MaxRequestTimeout: a.cfg.Outgoing.MaxRequestTimeout,
		Weights:           a.engines.Weights(),
		TrustedProxies:    a.cfg.Server.RateLimit.TrustedProxies,
		Logger:            a.logger,
	}

	if a.cfg.Checker.Enabled {
		checker := a.newChecker()
		if err := sched.Add(scheduling.Task{
			Name:       scheduling.TaskEngineCheck,
			Schedule:   a.cfg.Checker.Schedule,
			Run:        checker.Action,
			RunOnStart: a.cfg.Checker.RunOnStart,
		}); err != nil {
			return err
		}
		deps.Checker = checker
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	srv := gateway.NewServer(gateway.NewHandler(deps), a.cfg.Server, a.logger)
	return srv.Start(ctx)
}
