package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"vert/internal/daemon"
	"vert/internal/deps"
	"vert/internal/journal"
	"vert/internal/logging"
	"vert/internal/metrics"
	"vert/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			if missing := deps.MissingRequired(preflight.CheckSystemDeps(cfg)); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, status := range missing {
					names = append(names, fmt.Sprintf("%s (%s)", status.Name, status.Detail))
				}
				return fmt.Errorf("required tools unavailable: %s", strings.Join(names, ", "))
			}
			if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg)); len(failed) > 0 {
				return fmt.Errorf("%s: %s", failed[0].Name, failed[0].Detail)
			}

			j, err := journal.Open(cfg.JournalPath(), journal.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			m := metrics.New()

			mgr, err := ctx.newManager(logger, j, m)
			if err != nil {
				_ = j.Close()
				return err
			}
			d, err := daemon.New(cfg, mgr, j, logger, daemon.WithMetrics(m))
			if err != nil {
				_ = j.Close()
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			if err := d.Start(signalCtx); err != nil {
				return err
			}
			status := d.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "vert daemon running (pid %d)", status.PID)
			if status.APIAddress != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " on http://%s", status.APIAddress)
			}
			fmt.Fprintln(cmd.OutOrStdout())

			<-signalCtx.Done()
			logger.Info("vert daemon shutting down")
			return nil
		},
	}
}
