/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/forcerig/internal/journal"
	"github.com/allbin/forcerig/internal/link"
	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/record"
	"github.com/allbin/forcerig/internal/session"
	"github.com/allbin/forcerig/internal/touchstone"
	"github.com/allbin/forcerig/internal/vna"
)

var (
	measureRepeat  int
	measureLabel   string
	measureWarmup  bool
	measureNoSweep bool
)

// warmup move: a light press that seats the actuator tip before the first session
const (
	warmupForce = 1.0
	warmupHold  = 1
	warmupWait  = 2 * time.Second
)

// measureCmd represents the measure command
var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Run force-deflection measurement sessions",
	Long: `Run one or more measurement sessions. Each session commands the
actuator to the target force, records force and deflection to
fd_<label>.csv, sweeps the analyzer during the logging window into
sweep_<label>.s2p and waits for the actuator to return home.

Files of sessions that do not complete cleanly are removed unless
output.keep_failed is set. Press Ctrl+C to stop after the current session.

Examples:
  forcerig measure
  forcerig measure --repeat 10 --label batch7
  forcerig measure --force 5 --hold 10 --no-sweep`,
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

		if measureWarmup {
			if err := warmup(ctx); err != nil {
				logger.Warn("warmup failed", "error", err)
			}
		}

		failed := 0
		for i := 0; i < measureRepeat; i++ {
			if ctx.Err() != nil {
				break
			}
			label := cycleLabel(measureLabel, i, measureRepeat)

			out, err := measureOnce(ctx, store, label)
			if err != nil {
				failed++
				fmt.Printf("%s %s  %v\n", errStyle.Render(fmt.Sprintf("%-13s", "failed")), labelStyle.Render(label), err)
				continue
			}
			fmt.Println(formatOutcome(out))
			if !out.Success {
				failed++
			}
		}

		if ctx.Err() != nil {
			fmt.Println(dimStyle.Render("stopped"))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sessions failed", failed, measureRepeat)
		}
		return nil
	},
}

// cycleLabel returns the label for cycle i of n.
func cycleLabel(base string, i, n int) string {
	if base == "" {
		base = time.Now().Format(vna.LabelLayout)
	}
	if n > 1 {
		return fmt.Sprintf("%s_%02d", base, i+1)
	}
	return base
}

// measureOnce runs a single session with its own link, sink and analyzer.
func measureOnce(ctx context.Context, store *journal.Store, label string) (session.Outcome, error) {
	log := logger.With("label", label)

	lnk := link.New(cfg.Link.LinkSettings())
	if err := lnk.Connect(ctx); err != nil {
		return session.Outcome{}, err
	}

	csvPath := filepath.Join(cfg.Output.Dir, record.FileName(label))
	sink, err := record.Create(csvPath)
	if err != nil {
		lnk.Close()
		return session.Outcome{}, err
	}

	opts := []session.Option{session.WithLabel(label)}

	var (
		sweep    *journal.SweepEntry
		analyzer *vna.Controller
	)
	if !skipSweep() {
		analyzer = newAnalyzer()
		if err := analyzer.Connect(ctx, true); err != nil {
			log.Error("analyzer unavailable, session will fail its sweep", "error", err)
			analyzer.Close()
			analyzer = nil
		}
	}
	if analyzer != nil {
		defer analyzer.Close()
		opts = append(opts, session.WithSweep(func(ctx context.Context) bool {
			started := time.Now()
			path, err := analyzer.SweepAndSave(ctx, cfg.VNA.Segments, cfg.VNA.PointsPerSegment, label)
			sweep = &journal.SweepEntry{
				Label:    label,
				Path:     path,
				Started:  started,
				Duration: time.Since(started),
				Success:  err == nil,
			}
			if err != nil {
				sweep.Error = err.Error()
			}
			return err == nil
		}))
	}

	sc := cfg.Session.SessionSettings()
	sc.SkipSweep = skipSweep()
	out := session.New(lnk, sink, sc, opts...).Run(ctx)

	if store != nil {
		// the run may have been interrupted; journaling still completes
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := store.RecordSession(jctx, out); err != nil {
			log.Error("journal session failed", "error", err)
		}
		if sweep != nil {
			sweep.SessionID = out.ID
			if _, err := store.RecordSweep(jctx, *sweep); err != nil {
				log.Error("journal sweep failed", "error", err)
			}
		}
		cancel()
	}

	if !out.Quality.Keep() && !cfg.Output.KeepFailed {
		removeOutputs(log, csvPath, filepath.Join(cfg.Output.Dir, touchstone.FileName(label)))
	}
	return out, nil
}

// skipSweep reports whether the operator opted out of the RF sweep, either
// with --no-sweep or by disabling the analyzer in the config.
func skipSweep() bool {
	return measureNoSweep || !cfg.VNA.Enabled
}

func removeOutputs(log logger.Logger, paths ...string) {
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			log.Info("removed output of failed session", "path", p)
		case !errors.Is(err, os.ErrNotExist):
			log.Warn("remove output failed", "path", p, "error", err)
		}
	}
}

// warmup presses lightly once so the first real session starts from a
// seated actuator tip.
func warmup(ctx context.Context) error {
	lnk := link.New(cfg.Link.LinkSettings())
	if err := lnk.Connect(ctx); err != nil {
		return err
	}
	defer lnk.Close()

	logger.Info("warmup move", "target_n", warmupForce, "hold_s", warmupHold)
	if err := lnk.MoveToForce(ctx, warmupForce, warmupHold); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(warmupHold*time.Second + warmupWait):
	}

	t := time.NewTicker(cfg.Session.HomingPoll)
	defer t.Stop()
	deadline := time.After(cfg.Session.HomingTimeout)
	for !lnk.IsMeasurementLikelyComplete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.New("actuator did not return to rest after warmup")
		case <-t.C:
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(measureCmd)

	measureCmd.Flags().IntVarP(&measureRepeat, "repeat", "n", 1, "Number of sessions to run")
	measureCmd.Flags().StringVarP(&measureLabel, "label", "l", "", "Label for output files (default: timestamp)")
	measureCmd.Flags().BoolVar(&measureWarmup, "warmup", false, "Run a light warmup press before the first session")
	measureCmd.Flags().BoolVar(&measureNoSweep, "no-sweep", false, "Skip the RF sweep")
	measureCmd.Flags().Float64("force", 0, "Target force in N (overrides session.target_force)")
	measureCmd.Flags().Int("hold", 0, "Hold time in seconds (overrides session.hold_seconds)")
}
