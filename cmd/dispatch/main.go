// Command dispatch runs the fulfillment dispatch engine: scripted demos, a
// concurrent load simulation and the ops server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/dispatch/internal/config"
	"github.com/okian/dispatch/pkg/logger"
)

// cli holds state shared by every subcommand once the root pre-run is done.
type cli struct {
	cfg  *config.Config
	json bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "dispatch",
		Short: "On-demand fulfillment dispatch engine",
		Long: `dispatch matches requesters with fulfillers for rides and food orders.
- Requesters submit a ride between two places or an order at a venue.
- Fulfillers see pending requests nearest first and accept one at a time.
- Completing a request frees the fulfiller and counts the route in the heatmap.
- Requesters rate their last completed request; orders may also rate the venue.
Configuration comes from defaults, the YAML file in DISPATCH_CONFIG and DISPATCH_* variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.Context(), cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().BoolVar(&c.json, "json", false, "output JSON")
	root.AddCommand(c.demoCmd(), c.simulateCmd(), c.serveCmd())
	return root
}

// init loads the configuration and sets up logging from it.
func (c *cli) init(ctx context.Context, logs io.Writer) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithWriter(logs), logger.WithJSON(cfg.JSONLogs())); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	c.cfg = cfg
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
