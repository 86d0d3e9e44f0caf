package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/dispatch/internal/adapters/http/api"
	service "github.com/okian/dispatch/internal/app"
	"github.com/okian/dispatch/internal/simulation"
	"github.com/okian/dispatch/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		addr     string
		simulate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its health, stats and metrics endpoints",
		Long: `serve runs the command bus and the ops endpoints /healthz, /stats and /metrics.
Dispatch operations are not exposed over the network. With --simulate the
load simulation, sized by the sim_* settings, drives the engine so the
endpoints report live traffic.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				c.cfg.Addr = addr
			}
			return c.serve(cmd.Context(), simulate)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "drive the engine with the load simulation while serving")
	return cmd
}

// serve blocks until ctx is done, then shuts the server and the engine down.
func (c *cli) serve(ctx context.Context, simulate bool) error {
	log := logger.Named("serve")

	svc := newService(c.cfg)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	if simulate {
		simCtx, cancelSim := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.drive(simCtx, svc, log)
		}()
		// The simulation must stop using the bus before the service stops.
		defer func() {
			cancelSim()
			<-done
		}()
	}

	mux := http.NewServeMux()
	api.NewServer(svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              c.cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", c.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			return err
		}
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
		return err
	}
	log.Info(ctx, "server stopped")
	return nil
}

// drive runs one simulation through svc and logs its outcome.
func (c *cli) drive(ctx context.Context, svc *service.Service, log logger.Logger) {
	rep, err := simulation.Run(ctx, svc, svc.Registry(), simDefaults(c.cfg))
	switch {
	case err != nil && ctx.Err() != nil:
		log.Info(ctx, "simulation interrupted by shutdown")
	case err != nil:
		log.Error(ctx, "simulation failed", logger.Error(err))
	case !rep.OK():
		log.Error(ctx, "simulation invariant violated", logger.Any("violations", rep.Violations))
	default:
		log.Info(ctx, "simulation finished",
			logger.Int("submitted", int(rep.Submitted)),
			logger.Int("completed", int(rep.Completed)),
			logger.Duration("duration", rep.Duration))
	}
}
