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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/VdypForward/services/forward/engine"
)

const (
	resultPrefix  = "result/"
	polygonPrefix = "polygon/"
)

// Summary describes one stored run without its polygons.
type Summary struct {
	RunID      string               `json:"run_id"`
	Polygon    string               `json:"polygon"`
	StartYear  int                  `json:"start_year"`
	EndYear    int                  `json:"end_year"`
	TargetYear int                  `json:"target_year"`
	LastStep   engine.ExecutionStep `json:"last_step"`
	Snapshots  int                  `json:"snapshots"`
	StoredAt   time.Time            `json:"stored_at"`
}

// Record is a stored run.
type Record struct {
	Summary Summary        `json:"summary"`
	Result  *engine.Result `json:"result"`
}

// Results stores engine results.
//
// Thread Safety: Safe for concurrent use.
type Results struct {
	db  *DB
	now func() time.Time
}

// NewResults wraps an open database.
func NewResults(db *DB) *Results {
	return &Results{db: db, now: time.Now}
}

func resultKey(runID string) []byte {
	return []byte(resultPrefix + runID)
}

// polygonIndexPrefix ends in a NUL so one base is never a prefix of
// another.
func polygonIndexPrefix(base string) []byte {
	return []byte(polygonPrefix + base + "\x00")
}

func polygonIndexKey(base, runID string) []byte {
	return append(polygonIndexPrefix(base), runID...)
}

// Put stores result, replacing any earlier result with the same run ID.
//
// Inputs:
//
//	ctx - Checked before the transaction starts.
//	startYear - The year of the polygon the run started from.
//	result - Must carry a run ID and a polygon.
//
// Outputs:
//
//	Summary - What was indexed.
//	error - ErrInvalidResult or a database failure.
func (r *Results) Put(ctx context.Context, startYear int, result *engine.Result) (Summary, error) {
	if result == nil || result.RunID == "" || result.Polygon == nil {
		return Summary{}, ErrInvalidResult
	}
	summary := Summary{
		RunID:      result.RunID,
		Polygon:    result.Polygon.ID.Base,
		StartYear:  startYear,
		EndYear:    result.Polygon.ID.Year,
		TargetYear: result.TargetYear,
		LastStep:   result.LastStep,
		Snapshots:  len(result.Years),
		StoredAt:   r.now().UTC(),
	}
	value, err := json.Marshal(Record{Summary: summary, Result: result})
	if err != nil {
		return Summary{}, fmt.Errorf("encode result %s: %w", result.RunID, err)
	}
	index, err := json.Marshal(summary)
	if err != nil {
		return Summary{}, fmt.Errorf("encode summary %s: %w", result.RunID, err)
	}
	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(resultKey(result.RunID), value); err != nil {
			return err
		}
		return txn.Set(polygonIndexKey(summary.Polygon, summary.RunID), index)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("store result %s: %w", result.RunID, err)
	}
	return summary, nil
}

// Get loads the run with the given ID.
//
// Outputs:
//
//	*Record - The stored run.
//	error - ErrNotFound, or a database or decoding failure.
func (r *Results) Get(ctx context.Context, runID string) (*Record, error) {
	var rec Record
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", runID, err)
	}
	return &rec, nil
}

// ListByPolygon returns the runs of the polygon with the given base
// identifier, oldest first.
func (r *Results) ListByPolygon(ctx context.Context, base string) ([]Summary, error) {
	var out []Summary
	prefix := polygonIndexPrefix(base)
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s Summary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list results for %s: %w", base, err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StoredAt.Equal(out[j].StoredAt) {
			return out[i].StoredAt.Before(out[j].StoredAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

// Delete removes a run and its index entry.
func (r *Results) Delete(ctx context.Context, runID string) error {
	rec, err := r.Get(ctx, runID)
	if err != nil {
		return err
	}
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(resultKey(runID)); err != nil {
			return err
		}
		return txn.Delete(polygonIndexKey(rec.Summary.Polygon, runID))
	})
}
