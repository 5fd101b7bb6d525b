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
)

// DefaultCombineGroups are the genus pairs whose percentages are pooled
// before the primary species is chosen.
var DefaultCombineGroups = [][]string{{"PL", "PA"}, {"C", "Y"}}

// pureStandPercentage is the primary percentage above which a layer is
// classed by its primary genus alone.
const pureStandPercentage = 79.999

var pureInventoryTypeGroups = map[string]int{
	"AC": 36, "AT": 42, "B": 18, "C": 9, "D": 38, "E": 40, "F": 1, "H": 12,
	"L": 34, "MB": 39, "PA": 28, "PL": 28, "PW": 27, "PY": 32, "S": 21, "Y": 9,
}

var hardwoods = map[string]bool{"AC": true, "AT": true, "D": true, "E": true, "MB": true}

// stratumByGenusIndex maps a primary genus index to its default stratum.
var stratumByGenusIndex = []int{0, 1, 2, 3, 4, 1, 2, 5, 6, 7, 1, 9, 8, 9, 9, 10, 4}

// interiorStratumOffset is added to the stratum of these genus indices in
// the interior.
var interiorStratumOffset = map[int]bool{3: true, 4: true, 5: true, 6: true, 10: true}

func validateCombineGroups(groups [][]string) error {
	for _, g := range groups {
		if len(g) != 2 {
			return fmt.Errorf("%w: combine group %v must name exactly two genera", ErrInvalidSettings, g)
		}
		if g[0] == "" || g[1] == "" {
			return fmt.Errorf("%w: combine group %v has an empty genus", ErrInvalidSettings, g)
		}
	}
	return nil
}

// combinePercentages pools the percentages of each pair present in the
// layer into its larger member.
func combinePercentages(genera []string, groups [][]string, percentages []float64) error {
	if err := validateCombineGroups(groups); err != nil {
		return err
	}
	for _, g := range groups {
		i, j := -1, -1
		for k, genus := range genera {
			switch genus {
			case g[0]:
				i = k
			case g[1]:
				j = k
			}
		}
		if i < 0 || j < 0 {
			continue
		}
		if percentages[j] > percentages[i] {
			i, j = j, i
		}
		percentages[i] += percentages[j]
		percentages[j] = 0
	}
	return nil
}

// determinePolygonRankings picks the primary and secondary species and
// classifies the layer.
func (p *processor) determinePolygonRankings() error {
	bank := p.lps.Bank
	if bank.NSpecies() == 0 {
		return fmt.Errorf("%w: no species to rank", ErrNoWork)
	}

	genera := make([]string, bank.NSpecies()+1)
	percentages := make([]float64, bank.NSpecies()+1)
	for _, s := range bank.Indices() {
		genera[s] = bank.Row(s).Genus
		percentages[s] = bank.Row(s).PercentForestedLand
	}
	if err := combinePercentages(genera, p.eng.combineGroups, percentages); err != nil {
		return err
	}

	highest, second := SpeciesIndex(-1), SpeciesIndex(-1)
	var highestPct, secondPct float64
	for _, s := range bank.Indices() {
		switch pct := percentages[s]; {
		case pct > highestPct:
			second, secondPct = highest, highestPct
			highest, highestPct = s, pct
		case pct > secondPct:
			second, secondPct = s, pct
		}
	}
	if highest < 0 {
		return invalidf("no species covers a positive percentage")
	}

	primary := bank.Row(highest)
	secondaryGenus := ""
	ranking := &Ranking{Primary: highest}
	if second >= 0 {
		ranking.Secondary = model.Some(second)
		secondaryGenus = bank.Row(second).Genus
	}

	itg, err := inventoryTypeGroup(primary.Genus, secondaryGenus, highestPct)
	if err != nil {
		return err
	}
	ranking.InventoryTypeGroup = itg

	group, err := p.eng.cm.DefaultEquationGroup(primary.Genus, p.lps.BecZone.Alias)
	if err != nil {
		return err
	}
	if modified, ok := p.eng.cm.EquationModifier(group, itg); ok {
		group = modified
	}
	ranking.BasalAreaGroup = group

	if primary.GenusIndex <= 0 || primary.GenusIndex >= len(stratumByGenusIndex) {
		return invalidf("primary genus index %d has no stratum", primary.GenusIndex)
	}
	ranking.Stratum = stratumByGenusIndex[primary.GenusIndex]
	if p.lps.Region() == model.Interior && interiorStratumOffset[primary.GenusIndex] {
		ranking.Stratum += 20
	}

	p.lps.ranking = ranking
	return nil
}

// inventoryTypeGroup classifies a layer, 1..42, by its primary and
// secondary genera. secondary is empty for single-species layers.
func inventoryTypeGroup(primary, secondary string, primaryPercentage float64) (int, error) {
	if primaryPercentage > pureStandPercentage {
		itg, ok := pureInventoryTypeGroups[primary]
		if !ok {
			return 0, invalidf("unrecognized primary genus %q", primary)
		}
		return itg, nil
	}
	if primary == secondary {
		return 0, invalidf("primary and secondary genera are both %q", primary)
	}

	switch primary {
	case "F":
		switch secondary {
		case "C", "Y":
			return 2, nil
		case "B", "H":
			return 3, nil
		case "S":
			return 4, nil
		case "PL", "PA":
			return 5, nil
		case "PY":
			return 6, nil
		case "L", "PW":
			return 7, nil
		}
		return 8, nil
	case "C", "Y":
		switch secondary {
		case "H", "B", "S":
			return 11, nil
		}
		return 10, nil
	case "H":
		switch secondary {
		case "C", "Y":
			return 14, nil
		case "B":
			return 15, nil
		case "S":
			return 16, nil
		}
		return 13, nil
	case "B":
		switch secondary {
		case "C", "Y", "H":
			return 19, nil
		}
		return 20, nil
	case "S":
		switch secondary {
		case "C", "Y", "H":
			return 23, nil
		case "B":
			return 24, nil
		case "PL":
			return 25, nil
		}
		if hardwoods[secondary] {
			return 26, nil
		}
		return 22, nil
	case "PW":
		return 27, nil
	case "PL", "PA":
		switch secondary {
		case "PL", "PA":
			return 28, nil
		case "F", "PW", "L", "PY":
			return 29, nil
		}
		if hardwoods[secondary] {
			return 31, nil
		}
		return 30, nil
	case "PY":
		return 32, nil
	case "L":
		if secondary == "F" {
			return 33, nil
		}
		return 34, nil
	case "AC":
		if hardwoods[secondary] {
			return 36, nil
		}
		return 35, nil
	case "D":
		if hardwoods[secondary] {
			return 38, nil
		}
		return 37, nil
	case "MB":
		return 39, nil
	case "E":
		return 40, nil
	case "AT":
		if hardwoods[secondary] {
			return 42, nil
		}
		return 41, nil
	}
	return 0, invalidf("unrecognized primary genus %q", primary)
}
