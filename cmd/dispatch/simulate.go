package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okian/dispatch/internal/adapters/repository"
	service "github.com/okian/dispatch/internal/app"
	"github.com/okian/dispatch/internal/config"
	"github.com/okian/dispatch/internal/domain/dispatch"
	"github.com/okian/dispatch/internal/simulation"
	"github.com/okian/dispatch/pkg/logger"
)

var errInvariantViolated = errors.New("simulation invariant violated")

func (c *cli) simulateCmd() *cobra.Command {
	var (
		sim    simulation.Config
		direct bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run concurrent requesters and fulfillers and verify the registry afterwards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := simConfig(cmd, c.cfg, sim)
			log := logger.Named("simulate")

			var (
				rep *simulation.Report
				err error
			)
			if direct {
				store := repository.NewTreapStore(ctx, repository.WithSeed(uint64(cfg.Seed)))
				defer func() { _ = store.Close() }()
				reg := dispatch.New(store, dispatch.WithLogger(logger.Named("dispatch")))
				rep, err = simulation.Run(ctx, simulation.Direct(reg), reg, cfg)
			} else {
				svc := newService(c.cfg, service.WithSeed(uint64(cfg.Seed)))
				if err := svc.Start(ctx); err != nil {
					return err
				}
				defer svc.Stop()
				rep, err = simulation.Run(ctx, svc, svc.Registry(), cfg)
			}
			if err != nil {
				return err
			}
			log.Info(ctx, "simulation finished",
				logger.Int("submitted", int(rep.Submitted)),
				logger.Duration("duration", rep.Duration),
				logger.Bool("ok", rep.OK()))

			out := cmd.OutOrStdout()
			if c.json {
				if err := printJSON(out, rep); err != nil {
					return err
				}
			} else {
				renderReport(out, rep)
			}
			if !rep.OK() {
				return fmt.Errorf("%w: %s", errInvariantViolated, strings.Join(rep.Violations, "; "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sim.Requesters, "requesters", 0, "concurrent requesters (default from config)")
	cmd.Flags().IntVar(&sim.Fulfillers, "fulfillers", 0, "concurrent fulfillers (default from config)")
	cmd.Flags().IntVar(&sim.Venues, "venues", 0, "venues, 0 for rides only (default from config)")
	cmd.Flags().IntVar(&sim.Rounds, "rounds", 0, "requests per requester (default from config)")
	cmd.Flags().Int64Var(&sim.Seed, "seed", 0, "random seed (default from config)")
	cmd.Flags().IntVar(&sim.TopN, "top", 0, "heatmap entries to report (default from config)")
	cmd.Flags().BoolVar(&direct, "direct", false, "call the registry directly instead of going through the command bus")
	return cmd
}

// simDefaults sizes a simulation from the sim_* config keys.
func simDefaults(cfg *config.Config) simulation.Config {
	return simulation.Config{
		Requesters: cfg.SimRequesters,
		Fulfillers: cfg.SimFulfillers,
		Venues:     cfg.SimVenues,
		Rounds:     cfg.SimRounds,
		Seed:       cfg.SimSeed,
		TopN:       cfg.DefaultTopN,
	}
}

// simConfig takes config values for every flag the user did not set.
func simConfig(cmd *cobra.Command, cfg *config.Config, flags simulation.Config) simulation.Config {
	out := simDefaults(cfg)
	set := cmd.Flags().Changed
	if set("requesters") {
		out.Requesters = flags.Requesters
	}
	if set("fulfillers") {
		out.Fulfillers = flags.Fulfillers
	}
	if set("venues") {
		out.Venues = flags.Venues
	}
	if set("rounds") {
		out.Rounds = flags.Rounds
	}
	if set("seed") {
		out.Seed = flags.Seed
	}
	if set("top") {
		out.TopN = flags.TopN
	}
	return out
}

// newService builds a service sized by cfg. Later options win.
func newService(cfg *config.Config, extra ...service.Option) *service.Service {
	opts := []service.Option{
		service.WithLogger(logger.Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithStatsTopN(cfg.DefaultTopN),
	}
	return service.New(append(opts, extra...)...)
}
