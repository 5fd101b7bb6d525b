// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/lock"
	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

// fakeProjector grows every polygon by ten years, failing those listed.
type fakeProjector struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (f *fakeProjector) ProcessPolygonUpTo(ctx context.Context, p *model.Polygon, last engine.ExecutionStep) (*engine.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, p.ID.Base)
	err := f.fail[p.ID.Base]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := p.Clone()
	end := p.Clone()
	end.ID = p.ID.ForYear(p.ID.Year + 10)
	return &engine.Result{
		RunID:      "run-" + p.ID.Base,
		Polygon:    end,
		Years:      []engine.YearSnapshot{{Year: p.ID.Year, Polygon: start}, {Year: end.ID.Year, Polygon: end}},
		LastStep:   last,
		TargetYear: end.ID.Year,
	}, nil
}

func (f *fakeProjector) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingSink struct {
	mu   sync.Mutex
	runs map[string]int
	err  error
}

func (s *recordingSink) Put(_ context.Context, startYear int, r *engine.Result) (store.Summary, error) {
	if s.err != nil {
		return store.Summary{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = make(map[string]int)
	}
	s.runs[r.RunID] = startYear
	return store.Summary{RunID: r.RunID}, nil
}

func testPolygon(base string) *model.Polygon {
	return &model.Polygon{
		ID:               model.PolygonIdentifier{Base: base, Year: 2000},
		BecZone:          "IDF",
		PercentAvailable: 100,
		Layers: map[model.LayerType]*model.Layer{
			model.LayerPrimary: {LayerType: model.LayerPrimary, Species: map[string]*model.Species{}},
		},
	}
}

func polygons(bases ...string) []*model.Polygon {
	out := make([]*model.Polygon, len(bases))
	for i, b := range bases {
		out[i] = testPolygon(b)
	}
	return out
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil, Config{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewRunner(&fakeProjector{}, Config{UpTo: engine.ExecutionStep(99)})
	assert.ErrorIs(t, err, engine.ErrUnknownStep)

	_, err = NewRunner(&fakeProjector{}, Config{OutputFormat: "csv"})
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)

	r, err := NewRunner(&fakeProjector{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.cfg.Workers)
	assert.Equal(t, engine.StepAll, r.cfg.UpTo)
	assert.Equal(t, model.FormatJSON, r.cfg.OutputFormat)
}

func TestRun_WritesOutputsAndSink(t *testing.T) {
	out := t.TempDir()
	sink := &recordingSink{}
	proj := &fakeProjector{}
	r, err := NewRunner(proj, Config{Workers: 3, OutputDir: out, Sink: sink})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), polygons("A", "B", "C/1"))
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 3, report.Processed)
	assert.Zero(t, report.Failed)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, "A 2000", report.Outcomes[0].Polygon)
	assert.Equal(t, 2010, report.Outcomes[0].EndYear)
	assert.Equal(t, filepath.Join(out, "C_1_2000.json"), report.Outcomes[2].OutputPath)

	written, err := model.LoadPolygons(report.Outcomes[0].OutputPath)
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, 2000, written[0].ID.Year)
	assert.Equal(t, 2010, written[1].ID.Year)

	assert.Equal(t, map[string]int{"run-A": 2000, "run-B": 2000, "run-C/1": 2000}, sink.runs)
}

func TestRun_YAMLOutput(t *testing.T) {
	out := t.TempDir()
	r, err := NewRunner(&fakeProjector{}, Config{OutputDir: out, OutputFormat: model.FormatYAML})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), polygons("Y"))
	require.NoError(t, err)
	written, err := model.LoadPolygons(filepath.Join(out, "Y_2000.yaml"))
	require.NoError(t, err)
	assert.Len(t, written, 2)
}

func TestRun_FailureDoesNotStopBatch(t *testing.T) {
	proj := &fakeProjector{fail: map[string]error{"B": engine.ErrConvergence}}
	r, err := NewRunner(proj, Config{Workers: 2})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), polygons("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Outcomes[1].Err, engine.ErrConvergence)
	assert.ErrorIs(t, report.Err(), engine.ErrConvergence)
	assert.Contains(t, report.Err().Error(), "B 2000")
}

func TestRun_SinkFailure(t *testing.T) {
	r, err := NewRunner(&fakeProjector{}, Config{Sink: &recordingSink{err: errors.New("disk full")}})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), polygons("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorContains(t, report.Outcomes[0].Err, "disk full")
}

func TestRun_RejectsBadInput(t *testing.T) {
	r, err := NewRunner(&fakeProjector{}, Config{})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), polygons("A", "A"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = r.Run(context.Background(), []*model.Polygon{nil})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRun_BoundsWorkers(t *testing.T) {
	proj := &fakeProjector{delay: 20 * time.Millisecond}
	r, err := NewRunner(proj, Config{Workers: 2})
	require.NoError(t, err)

	bases := make([]string, 8)
	for i := range bases {
		bases[i] = fmt.Sprintf("P%d", i)
	}
	report, err := r.Run(context.Background(), polygons(bases...))
	require.NoError(t, err)
	assert.Equal(t, 8, report.Processed)
	assert.LessOrEqual(t, proj.maxSeen.Load(), int32(2))
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := NewRunner(&fakeProjector{}, Config{})
	require.NoError(t, err)

	report, err := r.Run(ctx, polygons("A", "B"))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Processed)
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	cpPath := filepath.Join(t.TempDir(), "state", "batch.checkpoint")
	first := &fakeProjector{fail: map[string]error{"B": errors.New("boom")}}
	r, err := NewRunner(first, Config{Workers: 2, CheckpointPath: cpPath})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), polygons("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	cp, err := LoadCheckpoint(cpPath)
	require.NoError(t, err)
	assert.True(t, cp.IsDone("A 2000"))
	assert.False(t, cp.IsDone("B 2000"))
	assert.Equal(t, "boom", cp.Failed["B 2000"])

	second := &fakeProjector{}
	r, err = NewRunner(second, Config{Workers: 2, CheckpointPath: cpPath})
	require.NoError(t, err)
	report, err = r.Run(context.Background(), polygons("C", "B", "A"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, second.called())
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, "run-A", report.Outcomes[2].RunID)

	cp, err = LoadCheckpoint(cpPath)
	require.NoError(t, err)
	assert.Len(t, cp.Completed, 3)
	assert.Empty(t, cp.Failed)
}

func TestRun_CheckpointForOtherBatch(t *testing.T) {
	cpPath := filepath.Join(t.TempDir(), "batch.checkpoint")
	r, err := NewRunner(&fakeProjector{}, Config{CheckpointPath: cpPath})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), polygons("A"))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), polygons("A", "B"))
	assert.ErrorIs(t, err, ErrCheckpointMismatch)
}

func TestRun_OutputDirLocked(t *testing.T) {
	lockDir := t.TempDir()
	out := t.TempDir()
	holder, err := lock.NewManager(lockDir, nil)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire(out, "other batch"))
	defer holder.ReleaseAll()

	ours, err := lock.NewManager(lockDir, nil)
	require.NoError(t, err)
	r, err := NewRunner(&fakeProjector{}, Config{OutputDir: out, Locks: ours})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), polygons("A"))
	assert.ErrorIs(t, err, lock.ErrLocked)

	require.NoError(t, holder.Release(out))
	_, err = r.Run(context.Background(), polygons("A"))
	require.NoError(t, err)
	assert.ErrorIs(t, ours.Release(out), lock.ErrNotHeld, "the runner releases its lock")
}

func TestRunFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.yaml")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, model.EncodePolygons(f, model.FormatYAML, polygons("F1", "F2")))
	require.NoError(t, f.Close())

	proj := &fakeProjector{}
	r, err := NewRunner(proj, Config{})
	require.NoError(t, err)
	report, err := r.RunFiles(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)

	_, err = r.RunFiles(context.Background(), filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestOutputFileName(t *testing.T) {
	tests := []struct {
		base   string
		format model.Format
		want   string
	}{
		{"01002 S000001 00", model.FormatJSON, "01002_S000001_00_2000.json"},
		{"a/b", model.FormatYAML, "a_b_2000.yaml"},
		{"plain", model.FormatJSON, "plain_2000.json"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputFileName(model.PolygonIdentifier{Base: tt.base, Year: 2000}, tt.format))
		})
	}
}
