/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/forcerig/internal/journal"
	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/vna"
)

var sweepOnce bool

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Capture RF sweeps without the actuator",
	Long: `Sweep the analyzer on a fixed interval and write each result to
sweep_<timestamp>.s2p. A hung analyzer is recovered by power cycling its
USB port (usb.method). Press Ctrl+C to stop.

Examples:
  forcerig sweep --once
  forcerig sweep --interval 2m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}

		store, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		report := func(r vna.SweepReport) {
			printSweep(r)
			if store == nil {
				return
			}
			e := journal.SweepEntry{
				Label:    r.Label,
				Path:     r.Path,
				Started:  r.Started,
				Duration: r.Duration,
				Success:  r.Err == nil,
			}
			if r.Err != nil {
				e.Error = r.Err.Error()
			}
			if _, err := store.RecordSweep(context.WithoutCancel(ctx), e); err != nil {
				logger.Error("journal sweep failed", "error", err)
			}
		}

		analyzer := newAnalyzer(vna.WithReporter(report))
		if err := analyzer.Connect(ctx, true); err != nil {
			return err
		}

		if !sweepOnce {
			analyzer.Run(ctx, cfg.VNA.Interval)
			return nil
		}

		defer analyzer.Close()
		start := time.Now()
		label := start.Format(vna.LabelLayout)
		path, err := analyzer.SweepAndSave(ctx, cfg.VNA.Segments, cfg.VNA.PointsPerSegment, label)
		report(vna.SweepReport{Label: label, Path: path, Started: start, Duration: time.Since(start), Err: err})
		return err
	},
}

func printSweep(r vna.SweepReport) {
	if r.Err != nil {
		fmt.Printf("%s %s  %v\n", errStyle.Render("sweep failed"), labelStyle.Render(r.Label), r.Err)
		return
	}
	fmt.Printf("%s %s  %s %s\n", okStyle.Render("sweep saved "), labelStyle.Render(r.Label), r.Path,
		dimStyle.Render(r.Duration.Round(100*time.Millisecond).String()))
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")
	sweepCmd.Flags().Duration("interval", 0, "Time between sweep starts (overrides vna.interval)")
}
