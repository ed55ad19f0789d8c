package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
	"github.com/openfroyo/pgfroyo/pkg/stores"
)

// openJournalOnly opens the operation journal without touching any host.
func openJournalOnly(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	res, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	path := res.Config.Journal.Path
	if path != ":memory:" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no journal at %s (journal.enabled must be set for runs to be recorded)", path)
		}
	}

	store, err := stores.NewSQLiteStore(res.Config.Journal.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	ctx := cmd.Context()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return store, nil
}

func withJournal(cmd *cobra.Command, fn func(ctx context.Context, store *stores.SQLiteStore) error) error {
	store, err := openJournalOnly(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

// parseAge parses a Go duration, with d (days) and w (weeks) also accepted.
func parseAge(s string) (time.Duration, error) {
	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	}
	if unit != 0 {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSuffix(s, "d"), "w"))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the operation journal",
		Long: `Read the local operation journal. Every command run with journal.enabled
records one run and one entry per lifecycle operation it performed.`,
	}

	cmd.AddCommand(newHistoryRunsCommand())
	cmd.AddCommand(newHistoryOperationsCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				printRuns(cmd.OutOrStdout(), runs, time.Now())
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}

func newHistoryOperationsCommand() *cobra.Command {
	var runID, operation, target, since string
	var limit int

	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List journaled operations",
		Example: `  pgfroyo history operations --since 7d
  pgfroyo history operations --operation create_role --target app_user`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.OperationFilter{
				Operation: postgres.Operation(operation),
				Target:    target,
				Limit:     limit,
			}
			if since != "" {
				age, err := parseAge(since)
				if err != nil {
					return err
				}
				filter.Since = time.Now().Add(-age)
			}

			return withJournal(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				if runID != "" {
					id, err := expandRunID(ctx, store, runID)
					if err != nil {
						return err
					}
					filter.RunID = id
				}
				ops, err := store.ListOperations(ctx, filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), ops)
				}
				printOperations(cmd.OutOrStdout(), ops, time.Now())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "only operations of this run (full or short ID)")
	cmd.Flags().StringVar(&operation, "operation", "", "only this operation, e.g. create_database")
	cmd.Flags().StringVar(&target, "target", "", "only this target")
	cmd.Flags().StringVar(&since, "since", "", "only operations newer than this age, e.g. 24h or 7d")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of operations")
	return cmd
}

// expandRunID turns a short run ID, as printed by history runs, into the
// full one.
func expandRunID(ctx context.Context, store stores.Store, id string) (string, error) {
	if _, err := store.GetRun(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, stores.ErrNotFound) {
		return "", err
	}

	runs, err := store.ListRuns(ctx, 1000, 0)
	if err != nil {
		return "", err
	}
	match := ""
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if match != "" {
				return "", fmt.Errorf("run ID %q is ambiguous", id)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("run %q: %w", id, stores.ErrNotFound)
	}
	return match, nil
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete old journal entries",
		Example: `  pgfroyo history prune --older-than 90d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-age)

			return withJournal(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				n, err := store.PruneOperations(ctx, cutoff)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{"pruned": n, "before": cutoff})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %s %s started before %s\n",
					humanize.Comma(n), plural(int(n), "operation"), cutoff.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "age of the entries to delete, e.g. 720h or 30d")
	return cmd
}
