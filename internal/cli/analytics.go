// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

func newAnalyticsCmd(g *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show user activity and dataset coverage",
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

			ov, err := comp.SyncService.AnalyticsOverview(cmd.Context())
			if err != nil {
				return err
			}
			users, err := comp.SyncService.UserAnalytics(cmd.Context())
			if err != nil {
				return err
			}
			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"overview": ov, "users": users})
			case "table":
				renderAnalytics(cmd.OutOrStdout(), ov, users)
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")
	return cmd
}

func renderAnalytics(w io.Writer, ov *speciesync.AnalyticsOverview, users []speciesync.UserActivity) {
	fmt.Fprintf(w, "users %d (%d active), logins %d, average session %.2fs\n",
		ov.TotalUsers, ov.ActiveUsers, ov.TotalLogins, ov.AverageSessionDuration)
	fmt.Fprintf(w, "species %d, with media %d\n", ov.TotalSpecies, ov.SpeciesWithMedia)
	if len(users) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Role", "Active", "Logins", "Avg (s)", "Last login"})
	for _, u := range users {
		last := "-"
		if u.LastLogin != nil {
			last = u.LastLogin.Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{u.UserID, u.Name, u.Role, u.IsActive, u.LoginCount, u.AverageDuration, last})
	}
	t.Render()
}
