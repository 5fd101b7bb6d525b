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

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
)

// SpeciesIndex is a Bank row. Row 0 (LayerIndex) holds the layer
// aggregate; rows 1..N hold the included species in ascending genus index.
type SpeciesIndex int

// LayerIndex is the aggregate row.
const LayerIndex SpeciesIndex = 0

// MinBasalArea is the smallest ALL-class basal area that keeps a species in
// the Bank by default.
const MinBasalArea = 0.001

// BankRow is one species (or the layer) in a Bank.
type BankRow struct {
	Genus               string
	GenusIndex          int
	Sp64Distribution    []model.Sp64Share
	PercentForestedLand float64

	AgeTotal            model.Optional[float64]
	YearsAtBreastHeight model.Optional[float64]
	YearsToBreastHeight model.Optional[float64]
	SiteIndex           model.Optional[float64]
	DominantHeight      model.Optional[float64]
	SiteCurve           model.Optional[siteindex.CurveID]

	model.Utilization
}

// Bank is the mutable working state of one layer during processing.
//
// Description:
//
//	A Bank is built from a layer and a species inclusion predicate. Every
//	array is dense over rows 0..N and utilization classes SMALL..OVER225.
//	Updates happen in place; UpdatedLayer writes them back into a fresh
//	copy of the source layer.
//
// Thread Safety:
//
//	Not safe for concurrent use. Each polygon run owns its Banks.
type Bank struct {
	layer *model.Layer
	rows  []BankRow
}

// IncludeByBasalArea is the default inclusion predicate: species whose ALL
// basal area is at least MinBasalArea.
func IncludeByBasalArea(s *model.Species) bool {
	return s.BasalArea.Get(model.All) >= MinBasalArea
}

// NewBank transfers layer into a Bank.
//
// Inputs:
//
//	layer - The source layer. It is not modified.
//	include - Selects the species that get rows. nil includes all.
//
// Outputs:
//
//	*Bank - Rows sorted by genus index.
//	error - Two included species share a genus index, or a genus index is
//	        not positive.
func NewBank(layer *model.Layer, include func(*model.Species) bool) (*Bank, error) {
	if layer == nil {
		return nil, missingf("layer")
	}
	b := &Bank{layer: layer, rows: make([]BankRow, 1, len(layer.Species)+1)}
	b.rows[0].Utilization = layer.Utilization

	last := 0
	for _, s := range layer.SortedSpecies() {
		if include != nil && !include(s) {
			continue
		}
		if s.GenusIndex <= last {
			return nil, invalidf("species %s genus index %d is not above %d", s.Genus, s.GenusIndex, last)
		}
		last = s.GenusIndex
		b.rows = append(b.rows, rowFromSpecies(s))
	}
	return b, nil
}

func rowFromSpecies(s *model.Species) BankRow {
	r := BankRow{
		Genus:               s.Genus,
		GenusIndex:          s.GenusIndex,
		Sp64Distribution:    append([]model.Sp64Share(nil), s.Sp64Distribution...),
		PercentForestedLand: s.PercentGenus,
		Utilization:         s.Utilization,
	}
	r.setSite(s.Site)
	return r
}

func (r *BankRow) setSite(site *model.Site) {
	if site == nil {
		return
	}
	r.AgeTotal = site.AgeTotal
	r.YearsToBreastHeight = site.YearsToBreastHeight
	r.SiteIndex = site.SiteIndex
	r.DominantHeight = site.DominantHeight
	if c, ok := site.SiteCurveNumber.Get(); ok {
		r.SiteCurve = model.Some(siteindex.CurveID(c))
	} else {
		r.SiteCurve = model.None[siteindex.CurveID]()
	}
	r.YearsAtBreastHeight = site.YearsAtBreastHeight
	if !r.YearsAtBreastHeight.IsPresent() {
		age, okAge := site.AgeTotal.Get()
		ytbh, okYtbh := site.YearsToBreastHeight.Get()
		if okAge && okYtbh {
			r.YearsAtBreastHeight = model.Some(age - ytbh)
		}
	}
}

func (r *BankRow) site() *model.Site {
	site := &model.Site{
		AgeTotal:            r.AgeTotal,
		YearsAtBreastHeight: r.YearsAtBreastHeight,
		YearsToBreastHeight: r.YearsToBreastHeight,
		SiteIndex:           r.SiteIndex,
		DominantHeight:      r.DominantHeight,
	}
	if c, ok := r.SiteCurve.Get(); ok {
		site.SiteCurveNumber = model.Some(int(c))
	}
	return site
}

// NSpecies is the number of species rows.
func (b *Bank) NSpecies() int {
	return len(b.rows) - 1
}

// Indices returns the species rows 1..N.
func (b *Bank) Indices() []SpeciesIndex {
	out := make([]SpeciesIndex, b.NSpecies())
	for i := range out {
		out[i] = SpeciesIndex(i + 1)
	}
	return out
}

// Row returns row i for in-place update. It panics when i is out of range.
func (b *Bank) Row(i SpeciesIndex) *BankRow {
	return &b.rows[i]
}

// Lookup finds the row of genus.
func (b *Bank) Lookup(genus string) (SpeciesIndex, bool) {
	for i := 1; i < len(b.rows); i++ {
		if b.rows[i].Genus == genus {
			return SpeciesIndex(i), true
		}
	}
	return 0, false
}

// Copy returns a deep snapshot that shares nothing mutable with b.
func (b *Bank) Copy() *Bank {
	out := &Bank{layer: b.layer, rows: make([]BankRow, len(b.rows))}
	copy(out.rows, b.rows)
	for i := range out.rows {
		out.rows[i].Sp64Distribution = append([]model.Sp64Share(nil), b.rows[i].Sp64Distribution...)
	}
	return out
}

// Refresh re-transfers layer into the existing rows. Species are matched by
// genus; the row set does not change. The layer becomes the write-back
// source.
func (b *Bank) Refresh(layer *model.Layer) error {
	b.layer = layer
	b.rows[0].Utilization = layer.Utilization
	for i := 1; i < len(b.rows); i++ {
		s, ok := layer.Species[b.rows[i].Genus]
		if !ok {
			return missingf("species %s is not in the refreshed layer", b.rows[i].Genus)
		}
		b.rows[i] = rowFromSpecies(s)
	}
	return nil
}

// UpdatedLayer writes the Bank into a copy of its source layer. Species
// without a row are carried over unchanged.
func (b *Bank) UpdatedLayer() *model.Layer {
	out := b.layer.Clone()
	out.Utilization = b.rows[0].Utilization
	for i := 1; i < len(b.rows); i++ {
		r := &b.rows[i]
		s, ok := out.Species[r.Genus]
		if !ok {
			panic(fmt.Sprintf("engine: bank row %d genus %s missing from source layer", i, r.Genus))
		}
		s.Utilization = r.Utilization
		s.PercentGenus = r.PercentForestedLand
		s.Site = r.site()
	}
	return out
}
