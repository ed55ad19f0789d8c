package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
	"github.com/openfroyo/pgfroyo/pkg/stores"
)

var (
	changedColor = color.New(color.FgGreen)
	okColor      = color.New(color.FgCyan)
	failedColor  = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow)
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

// actionLabel colors an operation action by outcome.
func actionLabel(action string) string {
	switch action {
	case postgres.ActionFailed:
		return failedColor.Sprint(action)
	case postgres.ActionAlreadyPresent, postgres.ActionAlreadyAbsent:
		return okColor.Sprint(action)
	case "":
		return "-"
	default:
		return changedColor.Sprint(action)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

// printResult writes one operation result line.
func printResult(out io.Writer, result *postgres.OperationResult) {
	fmt.Fprintf(out, "%-16s %-24s %s (%s)\n",
		result.Operation, result.Target, actionLabel(result.Action), formatDuration(result.Duration))
}

// printResults writes a result table followed by a change summary.
func printResults(out io.Writer, results []*postgres.OperationResult) {
	w := newTable(out)
	fmt.Fprintln(w, "OPERATION\tTARGET\tDURATION\tACTION")
	changed := 0
	for _, r := range results {
		if r.Changed {
			changed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Operation, r.Target, formatDuration(r.Duration), actionLabel(r.Action))
	}
	_ = w.Flush()

	summary := fmt.Sprintf("%d %s, %d changed", len(results), plural(len(results), "operation"), changed)
	if changed > 0 {
		changedColor.Fprintln(out, summary)
	} else {
		okColor.Fprintln(out, summary)
	}
}

func printResolved(out io.Writer, rc postgres.ResolvedContext) {
	w := newTable(out)
	fmt.Fprintf(w, "version\t%s\n", rc.Version)
	fmt.Fprintf(w, "source\t%s\n", rc.Source)
	fmt.Fprintf(w, "platform\t%s\n", rc.Platform)
	fmt.Fprintf(w, "data_dir\t%s\n", rc.DataDir)
	fmt.Fprintf(w, "conf_dir\t%s\n", rc.ConfDir)
	fmt.Fprintf(w, "service\t%s\n", rc.ServiceName)
	_ = w.Flush()
}

func printRuns(out io.Writer, runs []*stores.Run, now time.Time) {
	w := newTable(out)
	fmt.Fprintln(w, "ID\tCOMMAND\tHOST\tSTARTED\tDURATION\tSTATUS")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = formatDuration(r.CompletedAt.Sub(r.StartedAt))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.Command, r.Host,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"), duration, runStatusLabel(r.Status))
	}
	_ = w.Flush()
}

func printOperations(out io.Writer, ops []*stores.OperationRecord, now time.Time) {
	w := newTable(out)
	fmt.Fprintln(w, "ID\tOPERATION\tTARGET\tEXIT\tSTARTED\tDURATION\tACTION")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			shortID(op.ID), op.Operation, op.Target, op.ExitStatus,
			humanize.RelTime(op.StartedAt, now, "ago", "from now"), formatDuration(op.Duration), actionLabel(op.Action))
	}
	_ = w.Flush()
	for _, op := range ops {
		if op.Error != nil {
			fmt.Fprintf(out, "%s %s\n", failedColor.Sprint(shortID(op.ID)), *op.Error)
		}
	}
}

func runStatusLabel(status stores.RunStatus) string {
	switch status {
	case stores.RunStatusCompleted:
		return changedColor.Sprint(status)
	case stores.RunStatusFailed:
		return failedColor.Sprint(status)
	default:
		return warnColor.Sprint(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// parseSettings turns key=value pairs into an attribute map.
func parseSettings(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	settings := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid setting %q (expected key=value)", p)
		}
		settings[strings.TrimSpace(key)] = value
	}
	return settings, nil
}
