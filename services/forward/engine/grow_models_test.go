// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
)

func TestDominantHeightDelta(t *testing.T) {
	const (
		curve = siteindex.CurvePLICieszewski
		si    = 18.0
		ytbh  = 8.0
	)
	p := newTestProcessor(t, DefaultSettings())
	lib := p.eng.sites

	t.Run("within the curve's range", func(t *testing.T) {
		age, err := lib.HeightToAge(curve, 18.5, siteindex.AgeBreast, si, ytbh)
		require.NoError(t, err)
		current, err := lib.IndexToHeight(curve, age, siteindex.AgeBreast, si, ytbh)
		require.NoError(t, err)
		next, err := lib.IndexToHeight(curve, age+1, siteindex.AgeBreast, si, ytbh)
		require.NoError(t, err)

		got, err := p.dominantHeightDelta(18.5, curve, si, ytbh)
		require.NoError(t, err)
		assert.Greater(t, got, 0.0)
		assert.InDelta(t, next-current, got, 1e-9)
	})

	t.Run("at breast height", func(t *testing.T) {
		_, err := p.dominantHeightDelta(siteindex.BreastHeight, curve, si, ytbh)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	// Curve 47 is calibrated to age 200 with T1 20 and T2 60.
	limits := p.eng.cm.SiteCurveAgeMaximum(curve)
	require.Equal(t, 20.0, limits.T1)
	bhAgeLimit := limits.ForRegion(model.Interior) - ytbh
	current, err := lib.IndexToHeight(curve, bhAgeLimit, siteindex.AgeBreast, si, ytbh)
	require.NoError(t, err)
	next, err := lib.IndexToHeight(curve, bhAgeLimit+1, siteindex.AgeBreast, si, ytbh)
	require.NoError(t, err)
	rate := math.Max(next-current, minimumExtensionRate)
	a := math.Log(0.5) / limits.T1

	t.Run("past the curve's range decays", func(t *testing.T) {
		// Five years of growth past the limit.
		got, err := p.dominantHeightDelta(current+5*rate, curve, si, ytbh)
		require.NoError(t, err)
		want := rate * (1 + 5*a) * (math.Exp(a) - 1) / a
		assert.InDelta(t, want, got, 1e-9)
		assert.Less(t, got, rate)
	})

	t.Run("stops after T2 years", func(t *testing.T) {
		// 26 rate units past the limit is about 67 years along the decay.
		got, err := p.dominantHeightDelta(current+26*rate, curve, si, ytbh)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})
}

func TestQuadMeanDiameterYield(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())
	c := []float64{7.6, 1.5, 0, 0.8, 0, 0}

	tests := []struct {
		name string
		dh   float64
		want float64
	}{
		{"below 5m", 4.0, minimumLayerDiameter},
		{"at 5m", 5.0, minimumLayerDiameter},
		{"tall stand", 18.5, 7.6 + 1.5*math.Pow(13.5, 0.8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.quadMeanDiameterYield(c, tt.dh, 10, 50)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestQuadMeanDiameterDelta(t *testing.T) {
	empirical := DefaultSettings()
	empirical.Debug.QuadMeanDiameterGrowthModel = GrowthEmpirical

	t.Run("ceiling binds", func(t *testing.T) {
		p := newTestProcessor(t, empirical)
		// PL's regional QMD cap is 44.
		got, limited, err := p.quadMeanDiameterDelta(52, 30, 18.5, 43.9, 0.3)
		require.NoError(t, err)
		assert.True(t, limited)
		assert.InDelta(t, 44-43.9, got, 1e-9)
	})

	t.Run("below the ceiling", func(t *testing.T) {
		p := newTestProcessor(t, empirical)
		got, limited, err := p.quadMeanDiameterDelta(52, 30, 18.5, 20, 0.3)
		require.NoError(t, err)
		assert.False(t, limited)
		assert.Greater(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0, "stratum 8 caps empirical growth at 1cm")
	})

	t.Run("floored at the minimum diameter", func(t *testing.T) {
		p := newTestProcessor(t, DefaultSettings())
		// A falling yield pulls fiat growth below the 7.6cm floor.
		got, limited, err := p.quadMeanDiameterDelta(52, 30, 18.5, 7.7, -3)
		require.NoError(t, err)
		assert.False(t, limited)
		assert.InDelta(t, minimumLayerDiameter-7.7, got, 1e-9)
	})

	t.Run("short stand", func(t *testing.T) {
		p := newTestProcessor(t, DefaultSettings())
		got, limited, err := p.quadMeanDiameterDelta(6, 30, 4.2, 8, 0.1)
		require.NoError(t, err)
		assert.False(t, limited)
		require.False(t, math.IsNaN(got))

		// Both yields are the minimum, leaving only the fiat convergence.
		fiat, err := p.eng.cm.QuadMeanDiameterGrowthFiat(model.Interior)
		require.NoError(t, err)
		assert.InDelta(t, -fiat.Coefficient(6)*(8-minimumLayerDiameter), got, 1e-9)
	})
}

func TestBasalAreaDelta(t *testing.T) {
	const (
		yabh    = 52.0
		dh      = 18.5
		ba      = 30.0
		dhDelta = 0.3
	)
	deltaFor := func(t *testing.T, variant int) (float64, *processor) {
		t.Helper()
		s := DefaultSettings()
		s.Debug.BasalAreaGrowthModel = variant
		p := newTestProcessor(t, s)
		got, err := p.basalAreaDelta(yabh, dh, ba, model.None[float64](), dhDelta)
		require.NoError(t, err)
		return got, p
	}

	fiatDelta, p := deltaFor(t, GrowthFiat)
	empiricalDelta, _ := deltaFor(t, GrowthEmpirical)
	mixedDelta, _ := deltaFor(t, GrowthMixed)

	t.Run("fiat", func(t *testing.T) {
		cm := p.eng.cm
		bec := p.lps.BecZone.Alias
		c := p.weightedCoefficients(7, p.speciesProportions(), func(g string) ([]float64, bool) { return cm.BasalAreaYield(bec, g) })
		upper, _, err := p.upperBounds()
		require.NoError(t, err)
		yieldStart, err := p.basalAreaYield(c, dh, yabh, model.None[float64](), upper)
		require.NoError(t, err)
		yieldEnd, err := p.basalAreaYield(c, dh+dhDelta, yabh+1, model.None[float64](), upper)
		require.NoError(t, err)
		fiat, err := cm.BasalAreaGrowthFiat(model.Interior)
		require.NoError(t, err)

		assert.InDelta(t, yieldEnd-yieldStart-fiat.Coefficient(yabh)*(ba-yieldStart), fiatDelta, 1e-9)
		assert.Greater(t, fiatDelta, 0.0)
	})

	t.Run("empirical", func(t *testing.T) {
		assert.Greater(t, empiricalDelta, 0.0)
		assert.NotEqual(t, fiatDelta, empiricalDelta)
	})

	t.Run("mixed blends by age", func(t *testing.T) {
		fiat, err := p.eng.cm.BasalAreaGrowthFiat(model.Interior)
		require.NoError(t, err)
		w := fiat.EmpiricalProportion(yabh)
		require.Greater(t, w, 0.0)
		require.Less(t, w, 1.0)
		assert.InDelta(t, w*empiricalDelta+(1-w)*fiatDelta, mixedDelta, 1e-9)
	})
}
