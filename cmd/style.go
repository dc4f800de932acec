/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/forcerig/internal/session"
)

var (
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color("240")).
			PaddingBottom(1)

	cellStyle = lipgloss.NewStyle().
			PaddingRight(2)
)

func qualityStyle(q session.Quality) lipgloss.Style {
	switch q {
	case session.QualityComplete:
		return okStyle
	case session.QualityCleanFailure:
		return warnStyle
	default:
		return errStyle
	}
}

// formatOutcome renders a one-line summary plus any warnings.
func formatOutcome(out session.Outcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s  %s  readings=%d errors=%d sweep=%t homed=%t %s",
		qualityStyle(out.Quality).Render(fmt.Sprintf("%-13s", out.Quality.String())),
		labelStyle.Render(out.Label),
		out.State.String(),
		out.Readings,
		out.ErrorSummary.Total,
		out.SweepSucceeded,
		out.HomingConfirmed,
		dimStyle.Render(out.Duration().Round(100*time.Millisecond).String()),
	)
	if out.AbortReason != "" {
		fmt.Fprintf(&b, "\n  %s %s", errStyle.Render("aborted:"), out.AbortReason)
	}
	for _, w := range out.Warnings {
		fmt.Fprintf(&b, "\n  %s %s", warnStyle.Render("warning:"), w)
	}
	for _, r := range out.ErrorSummary.Recent {
		fmt.Fprintf(&b, "\n  %s %s %s", dimStyle.Render(r.Time.Format("15:04:05")), r.Kind.String(), r.Message)
	}
	return b.String()
}
