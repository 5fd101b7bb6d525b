// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/VdypForward/services/forward/store"
)

func newRunsCmd(a *app) *cobra.Command {
	var remove []string
	cmd := &cobra.Command{
		Use:   "runs <polygon>",
		Short: "List stored runs of a polygon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			results, err := a.openResults()
			if err != nil {
				return err
			}
			for _, id := range remove {
				if err := results.Delete(ctx, id); err != nil {
					return err
				}
				a.printer.Success("deleted " + id)
			}
			runs, err := results.ListByPolygon(ctx, args[0])
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				a.printer.Warning("no stored runs for " + args[0])
				return nil
			}
			a.printer.Table([]string{"RUN ID", "START", "END", "TARGET", "LAST STEP", "SNAPSHOTS", "STORED"}, runRows(runs))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&remove, "delete", nil, "delete these runs first")
	return cmd
}

func runRows(runs []store.Summary) [][]string {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.RunID,
			strconv.Itoa(r.StartYear),
			strconv.Itoa(r.EndYear),
			strconv.Itoa(r.TargetYear),
			r.LastStep.String(),
			strconv.Itoa(r.Snapshots),
			r.StoredAt.Format("2006-01-02 15:04:05"),
		}
	}
	return rows
}
