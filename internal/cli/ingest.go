// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newIngestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.xlsx|file.csv>",
		Short: "Translate and bulk-load a species spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			comp, err := components(cmd, cfg)
			if err != nil {
				return err
			}
			defer comp.Close()

			res, err := comp.SyncService.IngestSheet(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "inserted %d species", len(res.SpeciesIDs))
			fmt.Fprintf(out, " at version %d\n", res.Entry.Version)
			if res.Untranslated > 0 {
				color.New(color.FgYellow).Fprintf(out, "%d required fields kept their English text\n", res.Untranslated)
			}
			return nil
		},
	}
}
