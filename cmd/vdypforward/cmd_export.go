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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/VdypForward/services/forward/export"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Send results to Cloud Storage or InfluxDB",
	}
	cmd.AddCommand(newExportGCSCmd(a), newExportInfluxCmd(a))
	return cmd
}

func newExportGCSCmd(a *app) *cobra.Command {
	var opts export.GCSOptions
	cmd := &cobra.Command{
		Use:   "gcs [dir]",
		Short: "Upload a result directory to a Cloud Storage bucket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Batch.OutputDir
			if len(args) == 1 {
				dir = args[0]
			}
			gc := a.cfg.Export.GCS
			if opts.Bucket == "" {
				opts.Bucket = gc.Bucket
			}
			if opts.Prefix == "" {
				opts.Prefix = gc.Prefix
			}
			if opts.CredentialsFile == "" {
				opts.CredentialsFile = gc.CredentialsFile
			}
			if opts.Bucket == "" {
				return usageError("export gcs", errors.New("no bucket given and export.gcs.bucket is not configured"))
			}
			opts.Logger = a.slogger()

			ctx := cmd.Context()
			uploader, err := export.NewGCSUploader(ctx, opts)
			if err != nil {
				return err
			}
			defer uploader.Close()

			n, err := uploader.UploadDir(ctx, dir)
			if err != nil {
				return fmt.Errorf("upload %s after %d files: %w", dir, n, err)
			}
			a.printer.Success(fmt.Sprintf("uploaded %d files to gs://%s/%s", n, opts.Bucket, uploader.ObjectName("")))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Bucket, "bucket", "", "destination bucket (default from config)")
	f.StringVar(&opts.Prefix, "prefix", "", "object name prefix (default from config)")
	f.StringVar(&opts.CredentialsFile, "credentials", "", "service account key file")
	f.StringVar(&opts.Endpoint, "endpoint", "", "storage endpoint override, for emulators")
	return cmd
}

func newExportInfluxCmd(a *app) *cobra.Command {
	var (
		polygon string
		runIDs  []string
	)
	cmd := &cobra.Command{
		Use:   "influx",
		Short: "Write the yields of stored runs to InfluxDB",
		Long: `Influx reads runs from the result store, by --run-id or every run of
--polygon, and writes their yearly yields as InfluxDB points.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if polygon == "" && len(runIDs) == 0 {
				return usageError("export influx", errors.New("give --polygon or --run-id"))
			}
			ctx := cmd.Context()
			yields, err := a.newYieldWriter()
			if err != nil {
				return err
			}
			if yields == nil {
				return usageError("export influx", errors.New("export.influx.url is not configured"))
			}
			results, err := a.openResults()
			if err != nil {
				return err
			}

			ids := append([]string(nil), runIDs...)
			if polygon != "" {
				runs, err := results.ListByPolygon(ctx, polygon)
				if err != nil {
					return err
				}
				for _, r := range runs {
					ids = append(ids, r.RunID)
				}
			}
			if len(ids) == 0 {
				a.printer.Warning("no stored runs for " + polygon)
				return nil
			}

			var points int
			for _, id := range ids {
				rec, err := results.Get(ctx, id)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return usageError("export influx", fmt.Errorf("run %s: %w", id, err))
					}
					return err
				}
				n, err := yields.WriteResult(ctx, rec.Result)
				if err != nil {
					return fmt.Errorf("run %s: %w", id, err)
				}
				a.slogger().Debug("wrote yields", slog.String("run_id", id), slog.Int("points", n))
				points += n
			}
			a.printer.Success(fmt.Sprintf("wrote %d points from %d runs", points, len(ids)))
			return nil
		},
	}
	cmd.Flags().StringVar(&polygon, "polygon", "", "export every stored run of this polygon")
	cmd.Flags().StringSliceVar(&runIDs, "run-id", nil, "export these runs")
	return cmd
}
