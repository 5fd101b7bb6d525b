// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package controlmap loads the empirical coefficient tables that drive the
// forward growth engine.
//
// A control map is a single YAML document. Every table is a list of rows
// whose key columns (genus, BEC zone, region, utilization class, equation
// group, stratum) are spelled out, so files stay readable and diffable.
// Load validates row shapes and indexes the rows for constant-time lookup.
// A lookup that misses returns an error wrapping ErrMissingCoefficients
// unless the table has a documented default.
package controlmap
