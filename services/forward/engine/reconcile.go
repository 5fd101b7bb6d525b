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
	"fmt"
	"math"

	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// maxReconcileIterations bounds the mode 2 search.
const maxReconcileIterations = 4

// reconcileComponents makes the size band basal areas, densities and QMDs
// of one species mutually consistent with its ALL totals.
//
// Description:
//
//	The band basal areas must already sum to ALL. When even the smallest
//	allowed band QMDs cannot reach the ALL density, basal area is moved
//	down into smaller bands (mode 1). Otherwise the band QMDs are scaled by
//	a common factor, pinning any band that leaves its bounds (mode 2). If
//	pinning exhausts the stand everything lands in one band (mode 3).
//
// Outputs:
//
//	error - The bands do not sum to ALL, the ALL QMD is below 7.5 cm, or
//	        mode 2 does not settle.
func reconcileComponents(ba, tph, dq *model.UtilizationVector) error {
	if ba.Get(model.All) == 0 {
		for _, uc := range model.SizeBands {
			tph.Set(uc, 0)
			ba.Set(uc, 0)
		}
		return nil
	}

	baSum := ba.SumBands()
	if math.Abs(baSum-ba.Get(model.All)) > 0.00003*baSum {
		return invalidf("band basal areas sum to %g, not %g", baSum, ba.Get(model.All))
	}
	dq0 := model.QuadMeanDiameter(ba.Get(model.All), tph.Get(model.All))
	if dq0 < model.U75To125.LowBound() {
		return invalidf("total QMD %g is below %g cm", dq0, model.U75To125.LowBound())
	}

	var tphSumHigh float64
	for _, uc := range model.SizeBands {
		tphSumHigh += model.TreesPerHectare(ba.Get(uc), uc.LowBound())
	}
	if tphSumHigh < tph.Get(model.All) {
		reconcileMode1(ba, tph, dq, tphSumHigh)
		return nil
	}
	if reconciled(ba, tph, dq) {
		return nil
	}
	return reconcileMode2(ba, tph, dq)
}

// reconcileMode1 sets every band to its lower bound and moves basal area
// down from the largest bands until the density total is met.
func reconcileMode1(ba, tph, dq *model.UtilizationVector, tphSumHigh float64) {
	need := tph.Get(model.All) - tphSumHigh
	for _, uc := range model.SizeBands {
		dq.Set(uc, uc.LowBound())
	}
	for _, uc := range []model.UtilizationClass{model.Over225, model.U175To225, model.U125To175} {
		prev := uc.Previous()
		avail := model.TreesPerHectare(ba.Get(uc), prev.LowBound()) - model.TreesPerHectare(ba.Get(uc), uc.LowBound())
		if avail < need {
			ba.Set(prev, ba.Get(prev)+ba.Get(uc))
			ba.Set(uc, 0)
			need -= avail
			continue
		}
		move := ba.Get(uc) * need / avail
		ba.Set(prev, ba.Get(prev)+move)
		ba.Set(uc, ba.Get(uc)-move)
		break
	}
	for _, uc := range model.SizeBands {
		tph.Set(uc, model.TreesPerHectare(ba.Get(uc), dq.Get(uc)))
	}
}

// reconciled reports whether the bands already agree with the totals:
// densities sum to ALL and every occupied band's QMD is in bounds and
// matches its basal area and density.
func reconciled(ba, tph, dq *model.UtilizationVector) bool {
	tphSum := tph.SumBands()
	if math.Abs(tphSum-tph.Get(model.All))/tphSum > 0.00001 {
		return false
	}
	for _, uc := range model.SizeBands {
		if ba.Get(uc) <= 0 {
			continue
		}
		if tph.Get(uc) <= 0 {
			return false
		}
		want := model.QuadMeanDiameter(ba.Get(uc), tph.Get(uc))
		d := dq.Get(uc)
		if d < uc.LowBound() || d > uc.HighBound() || math.Abs(want-d) >= 0.00001 {
			return false
		}
	}
	return true
}

func reconcileMode2(ba, tph, dq *model.UtilizationVector) error {
	var (
		baFixed, tphFixed float64
		pinned            [model.NumUtilizationClasses]bool
		trial             model.UtilizationVector
	)
	for n := 1; ; n++ {
		if n > maxReconcileIterations {
			return fmt.Errorf("%w: band reconciliation exceeded %d iterations", ErrConvergence, maxReconcileIterations)
		}
		var sum float64
		for _, uc := range model.SizeBands {
			b, d := ba.Get(uc), dq.Get(uc)
			if b != 0 && !pinned[uc.Slot()] {
				sum += b / (d * d)
			}
		}
		baFree := ba.Get(model.All) - baFixed
		tphFree := tph.Get(model.All) - tphFixed
		if baFree <= 0 || tphFree <= 0 {
			reconcileMode3(ba, tph, dq)
			return nil
		}
		dqFree := model.QuadMeanDiameter(baFree, tphFree)
		k := math.Sqrt(dqFree * dqFree / baFree * sum)
		for _, uc := range model.SizeBands {
			if !pinned[uc.Slot()] && ba.Get(uc) > 0 {
				trial.Set(uc, dq.Get(uc)*k)
			}
		}

		violator := model.All
		var worst float64
		low := false
		for _, uc := range model.SizeBands {
			t := trial.Get(uc)
			if ba.Get(uc) > 0 && t < uc.LowBound() {
				if v := 1 - t/uc.LowBound(); v > worst {
					worst, violator, low = v, uc, true
				}
			}
			if t > uc.HighBound() {
				if v := t/uc.HighBound() - 1; v > worst {
					worst, violator, low = v, uc, false
				}
			}
		}
		if violator == model.All {
			break
		}
		if low {
			trial.Set(violator, violator.LowBound())
		} else {
			trial.Set(violator, violator.HighBound())
		}
		pinned[violator.Slot()] = true
		baFixed += ba.Get(violator)
		tphFixed += model.TreesPerHectare(ba.Get(violator), trial.Get(violator))
	}

	for _, uc := range model.SizeBands {
		dq.Set(uc, trial.Get(uc))
		tph.Set(uc, model.TreesPerHectare(ba.Get(uc), dq.Get(uc)))
	}
	baSum, tphSum := ba.SumBands(), tph.SumBands()
	if math.Abs(baSum-ba.Get(model.All)) > 0.0002*baSum {
		return fmt.Errorf("%w: basal area bands sum to %g, not %g", ErrConvergence, baSum, ba.Get(model.All))
	}
	if math.Abs(tphSum-tph.Get(model.All)) > 0.0002*tphSum {
		return fmt.Errorf("%w: density bands sum to %g, not %g", ErrConvergence, tphSum, tph.Get(model.All))
	}
	return nil
}

// reconcileMode3 puts the whole stand into the band containing its QMD.
func reconcileMode3(ba, tph, dq *model.UtilizationVector) {
	for _, uc := range model.SizeBands {
		ba.Set(uc, 0)
		tph.Set(uc, 0)
		dq.Set(uc, uc.LowBound()+2.5)
	}
	target := model.Over225
	for _, uc := range model.SizeBands {
		if dq.Get(model.All) < uc.HighBound() {
			target = uc
			break
		}
	}
	ba.Set(target, ba.Get(model.All))
	tph.Set(target, tph.Get(model.All))
	dq.Set(target, dq.Get(model.All))
}
