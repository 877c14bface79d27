package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/calendar"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/persistence/postgres"
	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// Console colours.
var (
	criticalColor = color.New(color.FgRed, color.Bold)
	highColor     = color.New(color.FgMagenta, color.Bold)
	mediumColor   = color.New(color.FgYellow)
	lowColor      = color.New(color.FgCyan)
	okColor       = color.New(color.FgGreen)
	mutedColor    = color.New(color.FgHiBlack)
)

// priorityLabel colours a priority by severity.
func priorityLabel(p intervention.Priority) string {
	switch p {
	case intervention.PriorityCritical:
		return criticalColor.Sprint(p.String())
	case intervention.PriorityHigh:
		return highColor.Sprint(p.String())
	case intervention.PriorityMedium:
		return mediumColor.Sprint(p.String())
	default:
		return lowColor.Sprint(p.String())
	}
}

// statusLabel colours open statuses loudly and closed ones quietly.
func statusLabel(s intervention.Status) string {
	switch s {
	case intervention.StatusPending:
		return mediumColor.Sprint(string(s))
	case intervention.StatusInProgress:
		return highColor.Sprint(string(s))
	case intervention.StatusResolved:
		return okColor.Sprint(string(s))
	default:
		return mutedColor.Sprint(string(s))
	}
}

func yesNo(b bool) string {
	if b {
		return okColor.Sprint("yes")
	}
	return mutedColor.Sprint("no")
}

func percent(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

// ══════════════════════════════════════════════════════════════════════════════
// TABLES
// ══════════════════════════════════════════════════════════════════════════════

// writeWeeks lists the academic year, marking the week containing now.
func writeWeeks(w io.Writer, weeks []calendar.AcademicWeek, current int) error {
	rows := make([][]string, 0, len(weeks))
	for _, wk := range weeks {
		label := wk.Label()
		if wk.Number == current {
			label = okColor.Sprint(label + " *")
		}
		note := ""
		if wk.IsBreak {
			note = mutedColor.Sprint(wk.BreakName)
		}
		rows = append(rows, []string{
			label,
			wk.Start.Format(timeutil.FormatDate),
			wk.End.Format(timeutil.FormatDate),
			note,
		})
	}
	return renderTable(w, []string{"Week", "Start", "End", "Break"}, rows)
}

func writeThresholds(w io.Writer, items []intervention.Threshold) error {
	rows := make([][]string, 0, len(items))
	for _, t := range items {
		rows = append(rows, []string{
			t.ID.String(),
			t.Name,
			t.Scope.String(),
			fmt.Sprintf("%.0f-%.0f%%", t.MinScorePercent, t.MaxScorePercent),
			fmt.Sprintf("%d of %d", t.FailuresRequired, t.WeeksToReview),
			priorityLabel(t.AlertPriority),
			yesNo(t.IsActive),
		})
	}
	if err := renderTable(w, []string{"ID", "Name", "Subject", "Band", "Failures", "Priority", "Active"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d threshold(s)\n", len(items))
	return err
}

func writeAlerts(w io.Writer, alerts []intervention.Alert, total int) error {
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []string{
			a.ID.String(),
			a.StudentName,
			a.Subject,
			priorityLabel(a.Priority),
			statusLabel(a.Status),
			strconv.Itoa(a.WeeksFailing),
			percent(a.CurrentAverage),
			a.CreatedAt.Format(timeutil.FormatDate),
		})
	}
	if err := renderTable(w, []string{"ID", "Student", "Subject", "Priority", "Status", "Weeks", "Current", "Created"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Showing %d of %d alert(s)\n", len(alerts), total)
	return err
}

func writeFlagged(w io.Writer, students []intervention.FlaggedStudent, total int) error {
	rows := make([][]string, 0, len(students))
	for _, st := range students {
		rows = append(rows, []string{
			st.StudentID.String(),
			st.StudentName,
			strconv.Itoa(st.ActiveAlerts),
			priorityLabel(st.HighestPriority),
			strings.Join(st.Subjects, ", "),
			st.LatestAlertAt.Format(timeutil.FormatDate),
		})
	}
	if err := renderTable(w, []string{"Student ID", "Student", "Active", "Highest", "Subjects", "Latest"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Showing %d of %d flagged student(s)\n", len(students), total)
	return err
}

func writeAudit(w io.Writer, entries []intervention.AuditEntry, total int) error {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		actor := mutedColor.Sprint("system")
		if e.ActorID != nil {
			actor = e.ActorID.String()
		}
		rows = append(rows, []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Action),
			e.AlertID.String(),
			actor,
		})
	}
	if err := renderTable(w, []string{"When", "Action", "Alert", "Actor"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Showing %d of %d audit entries\n", len(entries), total)
	return err
}

func writeMigrations(w io.Writer, migrations []postgres.Migration) error {
	rows := make([][]string, 0, len(migrations))
	for _, m := range migrations {
		applied := mutedColor.Sprint("pending")
		if m.IsApplied {
			applied = okColor.Sprint(m.AppliedAt.Format(time.RFC3339))
		}
		rows = append(rows, []string{strconv.Itoa(m.Version), m.Name, applied})
	}
	return renderTable(w, []string{"Version", "Name", "Applied"}, rows)
}

// writeCheckResult summarises a run and lists the alerts it raised.
func writeCheckResult(w io.Writer, res *command.RunInterventionCheckResult) error {
	if res.Skipped {
		_, err := fmt.Fprintln(w, mediumColor.Sprint("Skipped: another check run holds the lock."))
		return err
	}
	if res.Week == 0 {
		_, err := fmt.Fprintln(w, mutedColor.Sprint("Outside the academic year, nothing to check."))
		return err
	}

	if _, err := fmt.Fprintf(w, "Week %d: %d student(s) evaluated against %d threshold(s), %d alert(s) created in %v\n",
		res.Week, res.Evaluated, res.Thresholds, len(res.Alerts), res.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, e := range res.Errors {
		if _, err := fmt.Fprintf(w, "%s student %s: %v\n", criticalColor.Sprint("failed"), e.StudentID, e.Err); err != nil {
			return err
		}
	}
	if len(res.Alerts) == 0 {
		return nil
	}
	return writeAlerts(w, res.Alerts, len(res.Alerts))
}
