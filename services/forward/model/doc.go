// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the forest inventory object graph consumed and
// produced by the forward projection engine: polygons, layers, species,
// sites and their per-utilization-class statistics.
//
// The package performs no growth computation. It provides the types, the
// basal area / density / diameter identities shared by every component,
// and JSON/YAML helpers used by the command line and the file watcher.
package model
