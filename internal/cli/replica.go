// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ZB1234D/Species-Database-App-123/speciesqlite"
	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

type replicaFlags struct {
	dbPath    string
	serverURL string
	token     string
}

func (f *replicaFlags) open(cmd *cobra.Command) (*speciesqlite.Client, func(), error) {
	db, err := sql.Open("sqlite3", f.dbPath)
	if err != nil {
		return nil, nil, err
	}
	var tok func(context.Context) (string, error)
	if f.token != "" {
		tok = func(context.Context) (string, error) { return f.token, nil }
	}
	cfg := speciesqlite.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	c, err := speciesqlite.NewClient(db, f.serverURL, tok, cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return c, func() { _ = db.Close() }, nil
}

func newReplicaCmd() *cobra.Command {
	f := &replicaFlags{}
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Maintain a local SQLite replica of the dataset",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.dbPath, "db", "speciesync-replica.db", "Path to the SQLite replica")
	pf.StringVar(&f.serverURL, "server", "http://localhost:8080", "speciesync server base URL")
	pf.StringVar(&f.token, "token", "", "Bearer token sent with sync requests")

	var force bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the replica up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeFn, err := f.open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := c.Sync(cmd.Context(), force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Type == speciesqlite.SyncNone {
				color.New(color.FgGreen).Fprintf(out, "up to date at version %d\n", res.Version)
				return nil
			}
			color.New(color.FgCyan).Fprintf(out, "%s sync", res.Type)
			if res.Reason != "" {
				fmt.Fprintf(out, " (%s)", res.Reason)
			}
			fmt.Fprintf(out, ": version %d -> %d, %d en / %d tet species, %d media, %d deleted\n",
				res.PreviousVersion, res.Version, res.SpeciesEN, res.SpeciesTET, res.Media, res.Deleted)
			return nil
		},
	}
	syncCmd.Flags().BoolVar(&force, "force", false, "Download the full bundle")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the replica's sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeFn, err := f.open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			return renderReplicaStatus(cmd.Context(), cmd.OutOrStdout(), c)
		},
	}

	cmd.AddCommand(syncCmd, statusCmd)
	return cmd
}

func renderReplicaStatus(ctx context.Context, w io.Writer, c *speciesqlite.Client) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	en, err := c.SpeciesCount(ctx, speciesync.LangEnglish)
	if err != nil {
		return err
	}
	tet, err := c.SpeciesCount(ctx, speciesync.LangTetum)
	if err != nil {
		return err
	}

	lastSync := "never"
	if st.LastSync != nil {
		lastSync = st.LastSync.Local().Format("2006-01-02 15:04:05")
	}
	status := st.Status
	if st.Status == "error" {
		status = color.RedString("error")
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Status", status},
		{"Version", st.Version},
		{"Last sync", lastSync},
		{"Species (en)", en},
		{"Species (tet)", tet},
	})
	if st.Error != "" {
		t.AppendRow(table.Row{"Error", st.Error})
	}
	t.Render()
	return nil
}
