package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vert/internal/journal"
	"vert/internal/logging"
	"vert/internal/media"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var kindFlag string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded conversion tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind media.Kind
			if strings.TrimSpace(kindFlag) != "" {
				parsed, err := media.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kind = parsed
			}
			j, err := ctx.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List(cmd.Context(), journal.ListOptions{Kind: kind, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []journal.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversions recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "", "Only show one kind")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished history entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			j, err := ctx.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			removed, err := j.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d history entries\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff, e.g. 720h")
	return cmd
}

func (c *commandContext) openJournal() (*journal.Journal, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.fileLogger()
	if err != nil {
		logger = logging.NewNop()
	}
	j, err := journal.Open(cfg.JournalPath(), journal.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

func renderHistory(entries []journal.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		state := string(entry.State)
		if entry.Removed() {
			state += " (removed)"
		}
		rows = append(rows, []string{
			shortID(entry.Task.ID),
			string(entry.Task.Kind),
			state,
			filepath.Base(entry.Task.InputPath) + " -> " + filepath.Base(entry.Task.OutputPath),
			entry.UpdatedAt.Local().Format("2006-01-02 15:04"),
			entry.Message,
		})
	}
	return renderTable([]string{"ID", "Kind", "State", "Files", "Updated", "Message"}, rows, nil)
}

// shortID keeps the random tail of a v7 id; its head is a timestamp shared
// by tasks created close together.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
