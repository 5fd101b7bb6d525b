// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/model"
)

func openResults(t *testing.T) *Results {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewResults(db)
}

func testResult(runID, base string, year int) *engine.Result {
	p := &model.Polygon{
		ID:               model.PolygonIdentifier{Base: base, Year: year},
		BecZone:          "IDF",
		PercentAvailable: 90,
		Layers: map[model.LayerType]*model.Layer{
			model.LayerPrimary: {
				LayerType: model.LayerPrimary,
				Species: map[string]*model.Species{
					"PL": {Genus: "PL", GenusIndex: 12, PercentGenus: 100},
				},
			},
		},
	}
	p.Layers[model.LayerPrimary].BasalArea.Set(model.All, 30)
	return &engine.Result{
		RunID:      runID,
		Polygon:    p,
		Years:      []engine.YearSnapshot{{Year: year, Polygon: p}},
		LastStep:   engine.StepAll,
		TargetYear: year,
	}
}

func TestOpenDB_InMemory(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	assert.True(t, db.InMemory())

	err = db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		require.NoError(t, err)
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("v"), val)
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestOpenDB_RequiresPath(t *testing.T) {
	_, err := OpenDB(Config{})
	assert.Error(t, err)
}

func TestOpenDB_PersistsAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCInterval = time.Hour

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	_, err = NewResults(db).Put(context.Background(), 2020, testResult("run-1", "P1", 2025))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(cfg)
	require.NoError(t, err)
	defer db.Close()
	rec, err := NewResults(db).Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2025, rec.Result.Polygon.ID.Year)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = db.WithTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResults_PutGet(t *testing.T) {
	r := openResults(t)
	ctx := context.Background()

	summary, err := r.Put(ctx, 2020, testResult("run-1", "01002 S000001 00", 2023))
	require.NoError(t, err)
	assert.Equal(t, "01002 S000001 00", summary.Polygon)
	assert.Equal(t, 2020, summary.StartYear)
	assert.Equal(t, 2023, summary.EndYear)
	assert.Equal(t, 1, summary.Snapshots)

	rec, err := r.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, rec.Summary.RunID)
	assert.Equal(t, engine.StepAll, rec.Result.LastStep)
	assert.InDelta(t, 30, rec.Result.Polygon.PrimaryLayer().BasalArea.Get(model.All), 1e-9)
	require.Len(t, rec.Result.Years, 1)
}

func TestResults_GetMissing(t *testing.T) {
	r := openResults(t)
	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResults_PutInvalid(t *testing.T) {
	r := openResults(t)
	tests := []struct {
		name   string
		result *engine.Result
	}{
		{"nil", nil},
		{"no run id", &engine.Result{Polygon: testResult("x", "P", 2020).Polygon}},
		{"no polygon", &engine.Result{RunID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Put(context.Background(), 2020, tt.result)
			assert.ErrorIs(t, err, ErrInvalidResult)
		})
	}
}

func TestResults_ListByPolygon(t *testing.T) {
	r := openResults(t)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for _, tc := range []struct{ run, base string }{
		{"b", "P1"}, {"a", "P1"}, {"c", "P10"}, {"d", "P2"},
	} {
		_, err := r.Put(ctx, 2020, testResult(tc.run, tc.base, 2030))
		require.NoError(t, err)
	}

	got, err := r.ListByPolygon(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].RunID)
	assert.Equal(t, "a", got[1].RunID)

	none, err := r.ListByPolygon(ctx, "P3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResults_Delete(t *testing.T) {
	r := openResults(t)
	ctx := context.Background()
	_, err := r.Put(ctx, 2020, testResult("run-1", "P1", 2025))
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "run-1"))
	_, err = r.Get(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := r.ListByPolygon(ctx, "P1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, r.Delete(ctx, "run-1"), ErrNotFound)
}
