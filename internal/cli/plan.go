// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

func newPlanCmd(g *globalFlags) *cobra.Command {
	var (
		since  int64
		format string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the sync decision for a client at a given version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			comp, err := components(cmd, cfg)
			if err != nil {
				return err
			}
			defer comp.Close()

			d, err := comp.SyncService.Plan(cmd.Context(), since)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(d.ChangesResponse())
			case "table":
				renderDecision(cmd.OutOrStdout(), d, comp.SyncService.Planner().Threshold())
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "Client version to plan for")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")
	return cmd
}

func decisionColor(kind speciesync.DecisionKind) *color.Color {
	switch kind {
	case speciesync.DecisionUpToDate:
		return color.New(color.FgGreen)
	case speciesync.DecisionIncremental:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgYellow)
	}
}

func renderDecision(w io.Writer, d *speciesync.SyncDecision, threshold int) {
	decisionColor(d.Kind).Fprintf(w, "%s", d.Kind)
	if d.Reason != "" {
		fmt.Fprintf(w, " (%s)", d.Reason)
	}
	fmt.Fprintf(w, ": since %d, latest %d, %d changed entities, threshold %d\n",
		d.SinceVersion, d.LatestVersion, d.ChangeCount, threshold)

	if len(d.Changed) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Entity", "ID", "Version"})
	for _, c := range d.Changed {
		t.AppendRow(table.Row{c.EntityType, c.EntityID, c.Version})
	}
	t.Render()
}
