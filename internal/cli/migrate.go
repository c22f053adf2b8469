// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	withPool := func(fn func(cmd *cobra.Command, pool *pgxpool.Pool) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer pool.Close()
			return fn(cmd, pool)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withPool(func(cmd *cobra.Command, pool *pgxpool.Pool) error {
				if err := speciesync.MigrateUp(pool, nil); err != nil {
					return err
				}
				return printVersion(cmd, pool)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all migrations (drops every speciesync table)",
			Args:  cobra.NoArgs,
			RunE: withPool(func(cmd *cobra.Command, pool *pgxpool.Pool) error {
				if err := speciesync.MigrateDown(pool); err != nil {
					return err
				}
				return printVersion(cmd, pool)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE:  withPool(printVersion),
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, pool *pgxpool.Pool) error {
	v, dirty, err := speciesync.SchemaVersion(pool)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "schema version: %d", v)
	if dirty {
		color.New(color.FgRed).Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
