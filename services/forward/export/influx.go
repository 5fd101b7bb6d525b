// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// InfluxOptions configures a YieldWriter.
type InfluxOptions struct {
	URL         string
	Org         string
	Bucket      string
	Measurement string

	// Token is sealed and opened only while the client is built.
	Token *memguard.Enclave

	Logger *slog.Logger
}

// SealToken moves token into an encrypted enclave. The caller should drop
// its own copy.
func SealToken(token string) *memguard.Enclave {
	if token == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(token))
}

// YieldWriter writes yearly stand yields as InfluxDB points.
//
// Thread Safety: Safe for concurrent use.
type YieldWriter struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	logger      *slog.Logger
}

// NewYieldWriter connects a blocking write API for opts.Org and opts.Bucket.
func NewYieldWriter(opts InfluxOptions) (*YieldWriter, error) {
	if opts.URL == "" || opts.Org == "" || opts.Bucket == "" {
		return nil, errors.New("export: influx url, org and bucket are required")
	}
	if opts.Token == nil {
		return nil, errors.New("export: influx token is required")
	}
	if opts.Measurement == "" {
		opts.Measurement = "vdyp_yield"
	}

	buf, err := opts.Token.Open()
	if err != nil {
		return nil, fmt.Errorf("open influx token: %w", err)
	}
	client := influxdb2.NewClient(opts.URL, buf.String())
	buf.Destroy()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &YieldWriter{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(opts.Org, opts.Bucket),
		measurement: opts.Measurement,
		logger:      logger.With(slog.String("component", "forward.export.influx")),
	}, nil
}

// Close releases the client.
func (w *YieldWriter) Close() {
	w.client.Close()
}

// Points converts a result to points: one per species and one for the
// whole layer, tagged species=ALL, for each year snapshot. Only the
// primary layer is written. Points are stamped January 1 of their year.
func (w *YieldWriter) Points(result *engine.Result) []*write.Point {
	snapshots := result.Years
	if len(snapshots) == 0 && result.Polygon != nil {
		snapshots = []engine.YearSnapshot{{Year: result.Polygon.ID.Year, Polygon: result.Polygon}}
	}

	var points []*write.Point
	for _, snap := range snapshots {
		if snap.Polygon == nil {
			continue
		}
		layer := snap.Polygon.PrimaryLayer()
		if layer == nil {
			continue
		}
		ts := time.Date(snap.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		points = append(points, w.point(result.RunID, snap.Polygon.ID.Base, "ALL", &layer.Utilization, ts))
		for _, sp := range layer.SortedSpecies() {
			points = append(points, w.point(result.RunID, snap.Polygon.ID.Base, sp.Genus, &sp.Utilization, ts))
		}
	}
	return points
}

func (w *YieldWriter) point(runID, base, species string, u *model.Utilization, ts time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(w.measurement).
		AddTag("polygon", base).
		AddTag("run_id", runID).
		AddTag("species", species).
		AddField("basal_area", u.BasalArea.Get(model.All)).
		AddField("trees_per_hectare", u.TreesPerHectare.Get(model.All)).
		AddField("quad_mean_diameter", u.QuadMeanDiameter.Get(model.All)).
		AddField("lorey_height", u.LoreyHeight.Get(model.All)).
		AddField("whole_stem_volume", u.WholeStemVolume.Get(model.All)).
		AddField("close_utilization_volume", u.CloseUtilizationVolume.Get(model.All)).
		AddField("net_volume", u.CUVolumeNetOfDecayWasteAndBreakage.Get(model.All)).
		SetTime(ts)
}

// WriteResult writes the points of one result.
func (w *YieldWriter) WriteResult(ctx context.Context, result *engine.Result) (int, error) {
	if result == nil {
		return 0, errors.New("export: nil result")
	}
	points := w.Points(result)
	if len(points) == 0 {
		return 0, nil
	}
	if err := w.writeAPI.WritePoint(ctx, points...); err != nil {
		return 0, fmt.Errorf("write %d points for run %s: %w", len(points), result.RunID, err)
	}
	w.logger.Debug("wrote yields", slog.String("run_id", result.RunID), slog.Int("points", len(points)))
	return len(points), nil
}
