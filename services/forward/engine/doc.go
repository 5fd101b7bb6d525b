// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine advances a forest inventory polygon through time.
//
// The engine runs an ordered pipeline of ExecutionSteps over the primary
// layer of a polygon. The first steps fill in missing site information and
// rank the species. SET_COMPATIBILITY_VARIABLES then calibrates per-species
// corrections against the starting stand. The GROW steps advance the stand
// by one year and are repeated until the target year.
//
// All working numbers live in a Bank: one row per included species plus
// row 0 for the layer aggregate, and one column per utilization class.
// Each call to ProcessPolygon gets its own Bank, so polygons may be
// processed concurrently by separate goroutines sharing one Engine.
//
// Model variants are selected by Settings, fixed at construction.
package engine
