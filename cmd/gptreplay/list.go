package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/gptreplay/internal/config"
	"github.com/zulandar/gptreplay/internal/db"
	"github.com/zulandar/gptreplay/internal/timeline"
)

func newListCmd() *cobra.Command {
	var (
		configPath string
		runs       bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imported participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs {
				return runListRuns(cmd, configPath, limit)
			}
			return runList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to gptreplay config file")
	cmd.Flags().BoolVar(&runs, "runs", false, "list recent ingest runs instead")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of ingest runs to show")
	return cmd
}

func runList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ps, err := db.ListParticipants(gormDB)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ps) == 0 {
		fmt.Fprintln(out, "No participants imported.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLABEL\tDURATION\tMESSAGES\tOPS\tPASTES")
	for _, p := range ps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			p.Key, p.Label, timeline.FormatClock(float64(p.DurationMs)/1000),
			p.EventCount, p.OpCount, p.PasteCount)
	}
	return w.Flush()
}

func runListRuns(cmd *cobra.Command, configPath string, limit int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	rs, err := db.ListIngestRuns(gormDB, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rs) == 0 {
		fmt.Fprintln(out, "No ingest runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tTRIGGER\tSTATUS\tPARTICIPANTS\tSKIPPED")
	for _, r := range rs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			shortID(r.RunID), r.StartedAt.Format(time.DateTime), r.Trigger, r.Status, r.Participants, r.Skipped)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
