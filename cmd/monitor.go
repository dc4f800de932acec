/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/forcerig/internal/link"
)

var (
	monitorReplay string
	monitorRaw    bool
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print actuator telemetry",
	Long: `Connect to the actuator and print parsed telemetry until interrupted.
No command is sent; use this to watch a move started elsewhere or to check
the link.

With --replay, lines are read from a captured log file instead and
classified offline.

Examples:
  forcerig monitor
  forcerig monitor --port /dev/ttyACM1 --raw
  forcerig monitor --replay capture.log`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if monitorReplay != "" {
			f, err := os.Open(monitorReplay)
			if err != nil {
				return err
			}
			defer f.Close()
			return replay(f)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lnk := link.New(cfg.Link.LinkSettings())
		events, unsubscribe := lnk.Subscribe()
		defer unsubscribe()
		if err := lnk.Connect(ctx); err != nil {
			return err
		}
		defer lnk.Close()

		fmt.Printf("Monitoring %s\n", cfg.Link.Port)
		fmt.Println("Press Ctrl+C to stop")

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nStopping monitor...")
				printState(lnk.Snapshot())
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				printEvent(ev)
				if ev.Kind == link.EventLinkDown {
					return ev.Err
				}
			}
		}
	},
}

func replay(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		printEvent(link.ParseLine(line))
	}
	return sc.Err()
}

func printEvent(ev link.Event) {
	ts := dimStyle.Render(time.Now().Format("15:04:05.000"))
	if !ev.Time.IsZero() {
		ts = dimStyle.Render(ev.Time.Format("15:04:05.000"))
	}

	switch ev.Kind {
	case link.EventReading:
		fmt.Printf("[%s] force=%7.3f N  steps=%d\n", ts, ev.Force, ev.Steps)
	case link.EventError:
		fmt.Printf("[%s] %s %s\n", ts, errStyle.Render("error"), ev.ErrKind.String())
	case link.EventStartup:
		fmt.Printf("[%s] %s\n", ts, warnStyle.Render("actuator startup"))
	case link.EventLinkDown:
		fmt.Printf("[%s] %s %v\n", ts, errStyle.Render("link down"), ev.Err)
	default:
		if monitorRaw || monitorReplay != "" {
			fmt.Printf("[%s] %s\n", ts, dimStyle.Render(ev.Raw))
		}
	}
}

func printState(s link.State) {
	fmt.Printf("  Connected:          %t\n", s.Connected)
	fmt.Printf("  Errors:             %d (consecutive %d, last %s)\n", s.ErrorCount, s.ConsecutiveErrors, s.LastError.String())
	fmt.Printf("  Last force:         %.3f N\n", s.LastForce)
	fmt.Printf("  Last position:      %d\n", s.LastPosition)
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVarP(&monitorReplay, "replay", "r", "", "Classify lines from a log file instead of the live link")
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Also print unrecognized lines")
}
