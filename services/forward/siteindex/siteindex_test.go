// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package siteindex

import (
	"testing"

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fittedCurves = []CurveID{
	CurveATCieszewski,
	CurveATGoudie,
	CurveFDCBruce,
	CurvePLICieszewski,
	CurvePLIGoudieDry,
	CurvePLIGoudieWet,
	CurveSBCieszewski,
	CurveSSGoudie,
	CurveSWCieszewski,
	CurveSWGoudiePla,
	CurveSWGoudieNat,
}

func TestLookup(t *testing.T) {
	c, err := Lookup(CurvePLICieszewski)
	require.NoError(t, err)
	assert.Equal(t, "PLI", c.Species)
	assert.Equal(t, ShapeCieszewski, c.Shape)

	_, err = Lookup(CurveID(9999))
	assert.ErrorIs(t, err, ErrCurve)

	all := Curves()
	require.Len(t, all, len(fittedCurves)+1)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestIndexToHeight_SiteIndexAtFifty(t *testing.T) {
	l := New()
	for _, id := range fittedCurves {
		y2bh, err := l.YearsToBreastHeight(id, 20)
		require.NoError(t, err)

		h, err := l.IndexToHeight(id, 50, AgeBreast, 20, y2bh)
		require.NoError(t, err, "curve %d", id)
		assert.InDelta(t, 20.0, h, 1e-6, "curve %d", id)
	}
}

func TestIndexToHeight_Juvenile(t *testing.T) {
	l := New()
	// 5.6 + 42.64/20 = 7.732, on the half-year grid 7.5.
	h, err := l.IndexToHeight(CurvePLICieszewski, 3, AgeTotal, 20, 7.732)
	require.NoError(t, err)
	assert.InDelta(t, 9*1.3/(7.5*7.5), h, 1e-9)

	h, err = l.IndexToHeight(CurvePLICieszewski, 0, AgeTotal, 20, 7.732)
	require.NoError(t, err)
	assert.Zero(t, h)
}

func TestSiteIndexRoundTrip(t *testing.T) {
	l := New()
	for _, id := range fittedCurves {
		y2bh, err := l.YearsToBreastHeight(id, 20)
		require.NoError(t, err)
		for _, age := range []float64{10, 30, 80} {
			h, err := l.IndexToHeight(id, age, AgeBreast, 20, y2bh)
			require.NoError(t, err)

			si, err := l.HeightToIndex(id, age, AgeBreast, h)
			require.NoError(t, err, "curve %d age %v", id, age)
			assert.InDelta(t, 20.0, si, 0.05, "curve %d age %v", id, age)
		}
	}
}

func TestSiteIndexRoundTrip_TotalAge(t *testing.T) {
	l := New()
	y2bh, err := l.YearsToBreastHeight(CurvePLICieszewski, 20)
	require.NoError(t, err)

	h, err := l.IndexToHeight(CurvePLICieszewski, 40, AgeTotal, 20, y2bh)
	require.NoError(t, err)

	si, err := l.HeightToIndex(CurvePLICieszewski, 40, AgeTotal, h)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, si, 0.15)

	age, err := l.HeightToAge(CurvePLICieszewski, h, AgeTotal, 20, y2bh)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, age, 0.1)
}

func TestHeightToAge_RoundTrip(t *testing.T) {
	l := New()
	for _, id := range fittedCurves {
		y2bh, err := l.YearsToBreastHeight(id, 20)
		require.NoError(t, err)
		for _, age := range []float64{20, 60} {
			h, err := l.IndexToHeight(id, age, AgeTotal, 20, y2bh)
			require.NoError(t, err)

			got, err := l.HeightToAge(id, h, AgeTotal, 20, y2bh)
			require.NoError(t, err, "curve %d age %v", id, age)
			assert.InDelta(t, age, got, 0.25, "curve %d age %v", id, age)
		}
	}
}

func TestHeightToAge_Bruce(t *testing.T) {
	l := New()
	h, err := l.IndexToHeight(CurveFDCBruce, 30, AgeBreast, 20, 0)
	require.NoError(t, err)

	age, err := l.HeightToAge(CurveFDCBruce, h, AgeBreast, 20, 0)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, age, 1e-6)

	_, err = l.HeightToAge(CurveFDCBruce, 1000, AgeBreast, 20, 0)
	assert.ErrorIs(t, err, ErrNoAnswer)
}

func TestHeightToAge_NoAnswer(t *testing.T) {
	l := New()
	y2bh, err := l.YearsToBreastHeight(CurveATCieszewski, 20)
	require.NoError(t, err)

	_, err = l.HeightToAge(CurveATCieszewski, 200, AgeTotal, 20, y2bh)
	assert.ErrorIs(t, err, ErrNoAnswer)
}

func TestDomainErrors(t *testing.T) {
	l := New()
	tests := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "unknown curve",
			call: func() error { _, err := l.IndexToHeight(CurveID(1), 50, AgeBreast, 20, 5); return err },
			want: ErrCurve,
		},
		{
			name: "site index below breast height",
			call: func() error { _, err := l.IndexToHeight(CurveATGoudie, 50, AgeBreast, 1.0, 5); return err },
			want: ErrLessThan13,
		},
		{
			name: "breast height age with short tree",
			call: func() error { _, err := l.HeightToIndex(CurveATGoudie, 10, AgeBreast, 1.0); return err },
			want: ErrLessThan13,
		},
		{
			name: "zero total height",
			call: func() error { _, err := l.HeightToIndex(CurveATGoudie, 10, AgeTotal, 0); return err },
			want: ErrNoAnswer,
		},
		{
			name: "zero age",
			call: func() error { _, err := l.HeightToIndex(CurveATGoudie, 0, AgeTotal, 10); return err },
			want: ErrNoAnswer,
		},
		{
			name: "growth intercept from total age",
			call: func() error { _, err := l.HeightToIndex(CurveFDCNighGI, 10, AgeTotal, 5); return err },
			want: ErrGrowthInterceptTotal,
		},
		{
			name: "growth intercept height from total age",
			call: func() error { _, err := l.IndexToHeight(CurveFDCNighGI, 10, AgeTotal, 20, 5); return err },
			want: ErrGrowthInterceptTotal,
		},
		{
			name: "growth intercept below range",
			call: func() error { _, err := l.HeightToIndex(CurveFDCNighGI, 0.4, AgeBreast, 2); return err },
			want: ErrGrowthInterceptMinimum,
		},
		{
			name: "growth intercept above range",
			call: func() error { _, err := l.HeightToIndex(CurveFDCNighGI, 60, AgeBreast, 20); return err },
			want: ErrGrowthInterceptMaximum,
		},
		{
			name: "growth intercept has no years to breast height",
			call: func() error { _, err := l.YearsToBreastHeight(CurveFDCNighGI, 20); return err },
			want: ErrGrowthInterceptTotal,
		},
		{
			name: "breast height age below 1.3 m",
			call: func() error { _, err := l.HeightToAge(CurveATGoudie, 1.0, AgeBreast, 20, 5); return err },
			want: ErrLessThan13,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
}

func TestHeightToAge_TinyTree(t *testing.T) {
	age, err := New().HeightToAge(CurveATGoudie, 0, AgeTotal, 20, 5)
	require.NoError(t, err)
	assert.Zero(t, age)
}

func TestGrowthIntercept(t *testing.T) {
	l := New()
	si, err := l.HeightToIndex(CurveFDCNighGI, 5, AgeBreast, 3.0)
	require.NoError(t, err)
	assert.InDelta(t, 24.2589, si, 1e-3)

	h, err := l.IndexToHeight(CurveFDCNighGI, 5, AgeBreast, si, 0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, h, 0.01)

	age, err := l.HeightToAge(CurveFDCNighGI, 3.0, AgeBreast, si, 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, age)

	_, err = l.GrowthInterceptIterate(CurveFDCNighGI, 3.0, AgeTotal, si)
	assert.ErrorIs(t, err, ErrGrowthInterceptTotal)
}

func TestYearsToBreastHeight(t *testing.T) {
	l := New()
	tests := []struct {
		id   CurveID
		si   float64
		want float64
	}{
		{CurvePLICieszewski, 20, 5.6 + 42.64/20},
		{CurveSWCieszewski, 20, 4.1578 + 110.76/20},
		{CurveSWGoudieNat, 20, 8.1578 + 110.76/20},
		{CurveSBCieszewski, 20, 11.0427 + 61.08/20},
		{CurveSSGoudie, 20, 11.7 - 20/5.4054},
		{CurveSSGoudie, 100, 1},
		{CurveFDCBruce, 20, 13.25 - 20/6.096},
		{CurveATGoudie, 20, 1.331 + 38.56/20},
	}
	for _, tt := range tests {
		got, err := l.YearsToBreastHeight(tt.id, tt.si)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "curve %d si %v", tt.id, tt.si)
	}

	got, err := l.YearsToBreastHeight05(CurvePLICieszewski, 20)
	require.NoError(t, err)
	assert.Equal(t, 7.5, got)

	_, err = l.YearsToBreastHeight(CurvePLICieszewski, 1.0)
	assert.ErrorIs(t, err, ErrLessThan13)
}

func TestAgeToAge(t *testing.T) {
	got, err := AgeToAge(30, AgeBreast, AgeTotal, 7.5)
	require.NoError(t, err)
	assert.Equal(t, 37.5, got)

	got, err = AgeToAge(5, AgeTotal, AgeBreast, 7.5)
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = AgeToAge(5, AgeType(7), AgeBreast, 7.5)
	assert.ErrorIs(t, err, ErrAgeType)
}

func TestObserver(t *testing.T) {
	type call struct {
		kind       SolveKind
		iterations int
		err        error
	}
	var calls []call
	l := New(WithObserver(func(kind SolveKind, iterations int, err error) {
		calls = append(calls, call{kind, iterations, err})
	}))

	_, err := l.HeightToIndex(CurveATGoudie, 30, AgeBreast, 14.121)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, SolveSiteIndex, calls[0].kind)
	assert.Positive(t, calls[0].iterations)
	assert.NoError(t, calls[0].err)

	_, err = l.HeightToAge(CurveATCieszewski, 200, AgeTotal, 20, 3.259)
	require.Error(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, SolveAge, calls[1].kind)
	assert.ErrorIs(t, calls[1].err, ErrNoAnswer)
}

func TestRegionForZone(t *testing.T) {
	for code, want := range map[string]model.Region{"A": model.Coastal, "c": model.Coastal, "D": model.Interior, " L ": model.Interior} {
		got, err := RegionForZone(code)
		require.NoError(t, err)
		assert.Equal(t, want, got, code)
	}
	for _, bad := range []string{"", "M", "AB", "1"} {
		_, err := RegionForZone(bad)
		assert.ErrorIs(t, err, ErrForestInventoryZone, bad)
	}
}

func TestConversionTable(t *testing.T) {
	table := ConversionTable{
		{From: "PL", To: "SW", Region: model.Interior}: {Intercept: 1.5, Slope: 0.9},
	}
	got, err := table.Convert("PL", "SW", model.Interior, 20)
	require.NoError(t, err)
	assert.InDelta(t, 19.5, got, 1e-9)

	got, err = table.Convert("PL", "PL", model.Coastal, 20)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)

	_, err = table.Convert("PL", "SW", model.Coastal, 20)
	assert.ErrorIs(t, err, ErrNoAnswer)

	_, err = table.Convert("PL", "SW", model.Interior, 0)
	assert.ErrorIs(t, err, ErrLessThan13)
}
