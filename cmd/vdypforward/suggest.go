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
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/AleutianAI/VdypForward/services/forward/engine"
)

// suggestStep returns the step name nearest to name, or "" when none is
// close enough to be a likely typo.
func suggestStep(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	best, bestDist := "", -1
	for _, s := range engine.Steps() {
		cand := s.String()
		if d := levenshtein.ComputeDistance(name, cand); bestDist < 0 || d < bestDist {
			best, bestDist = cand, d
		}
	}
	if bestDist > max(len(best)/3, 2) {
		return ""
	}
	return best
}
