/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/forcerig/internal/journal"
)

var (
	historyLimit  int
	historySweeps bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show journaled sessions and sweeps",
	Long: `List recent measurement sessions from the journal, newest first.
Given a session id, show that session with its warnings and errors.

Examples:
  forcerig history
  forcerig history -n 50
  forcerig history --sweeps
  forcerig history 3f0c1a52-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !cfg.Journal.Enabled {
			return errors.New("journal is disabled (journal.enabled)")
		}
		store, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			s, err := store.Session(ctx, args[0])
			if err != nil {
				return err
			}
			printSessionDetail(s)
			return nil
		}

		if historySweeps {
			sweeps, err := store.RecentSweeps(ctx, historyLimit)
			if err != nil {
				return err
			}
			printSweepTable(sweeps)
			return nil
		}

		sessions, err := store.RecentSessions(ctx, historyLimit)
		if err != nil {
			return err
		}
		printSessionTable(sessions)
		return nil
	},
}

func printSessionTable(sessions []journal.SessionEntry) {
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return
	}
	header := fmt.Sprintf("%-19s %-24s %-14s %-14s %8s %6s  %s",
		"Started", "Label", "State", "Quality", "Readings", "Errors", "ID")
	fmt.Println(headerStyle.Render(header))
	for _, s := range sessions {
		row := fmt.Sprintf("%-19s %-24s %-14s %s %8d %6d  %s",
			s.Started.Local().Format("2006-01-02 15:04:05"),
			s.Label,
			s.State,
			qualityCell(s.Quality),
			s.Readings,
			s.ErrorTotal,
			dimStyle.Render(s.ID))
		fmt.Println(cellStyle.Render(row))
	}
}

func qualityCell(q string) string {
	cell := fmt.Sprintf("%-14s", q)
	switch q {
	case "complete":
		return okStyle.Render(cell)
	case "clean-failure":
		return warnStyle.Render(cell)
	default:
		return errStyle.Render(cell)
	}
}

func printSessionDetail(s journal.SessionEntry) {
	fmt.Printf("Session %s\n\n", s.ID)
	fmt.Printf("  Label:      %s\n", s.Label)
	fmt.Printf("  State:      %s\n", s.State)
	fmt.Printf("  Quality:    %s\n", qualityCell(s.Quality))
	fmt.Printf("  Success:    %t\n", s.Success)
	fmt.Printf("  Sweep:      %t\n", s.SweepSucceeded)
	fmt.Printf("  Homed:      %t\n", s.HomingConfirmed)
	fmt.Printf("  Started:    %s\n", s.Started.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Duration:   %s\n", s.Finished.Sub(s.Started).Round(100 * time.Millisecond))
	fmt.Printf("  Readings:   %d\n", s.Readings)
	if s.AbortReason != "" {
		fmt.Printf("  Aborted:    %s\n", s.AbortReason)
	}
	if s.CriticalError {
		fmt.Printf("  %s\n", errStyle.Render("critical actuator error"))
	}
	for _, w := range s.Warnings {
		fmt.Printf("  %s %s\n", warnStyle.Render("warning:"), w)
	}
	if len(s.Errors) > 0 {
		fmt.Printf("\n  Errors (%d total, most recent shown):\n", s.ErrorTotal)
		for _, e := range s.Errors {
			fmt.Printf("    %s %s %s\n", dimStyle.Render(e.Time.Local().Format("15:04:05")), e.Kind, e.Message)
		}
	}
}

func printSweepTable(sweeps []journal.SweepEntry) {
	if len(sweeps) == 0 {
		fmt.Println("No sweeps recorded")
		return
	}
	header := fmt.Sprintf("%-19s %-24s %-7s %9s  %s", "Started", "Label", "Result", "Duration", "Path / Error")
	fmt.Println(headerStyle.Render(header))
	for _, s := range sweeps {
		result, detail := okStyle.Render(fmt.Sprintf("%-7s", "ok")), s.Path
		if !s.Success {
			result, detail = errStyle.Render(fmt.Sprintf("%-7s", "failed")), s.Error
		}
		row := fmt.Sprintf("%-19s %-24s %s %9s  %s",
			s.Started.Local().Format("2006-01-02 15:04:05"),
			s.Label,
			result,
			s.Duration.Round(100 * time.Millisecond),
			detail)
		fmt.Println(cellStyle.Render(row))
	}
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
	historyCmd.Flags().BoolVar(&historySweeps, "sweeps", false, "List sweeps instead of sessions")
}
