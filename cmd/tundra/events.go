package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/tundra/internal/events"
	"github.com/cloud-shuttle/tundra/internal/journal"
)

func eventsCmd(a *app) *cobra.Command {
	var (
		q        journal.Query
		since    time.Duration
		jsonMode bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List journaled events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := journal.Open(a.cfg.JournalPath, journal.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer j.Close()
			if err := j.InitSchema(); err != nil {
				return fmt.Errorf("initializing journal: %w", err)
			}

			if since > 0 {
				q.Since = time.Now().Add(-since)
			}

			records, err := j.List(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, rec := range records {
				if jsonMode {
					line, err := json.Marshal(rec)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(line))
					continue
				}
				if ev, ok := rec.Event(); ok {
					fmt.Fprintln(out, events.FormatEventCompact(ev))
					continue
				}
				fmt.Fprintf(out, "[%s] %s task=%s agent=%s %s\n",
					rec.Timestamp.Format(time.RFC3339), rec.Kind, rec.TaskID, rec.AgentID, rec.Message)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&q.TaskID, "task", "", "only events of this task")
	flags.StringVar(&q.Kind, "kind", "", "only messages of this kind (event, agent_output, task_update, error)")
	flags.StringVar(&q.Type, "type", "", "only events of this type")
	flags.IntVar(&q.Limit, "limit", 0, "maximum number of records")
	flags.DurationVar(&since, "since", 0, "only records newer than this")
	flags.BoolVar(&jsonMode, "json", false, "print records as JSON lines")

	return cmd
}
