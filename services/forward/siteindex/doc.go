// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package siteindex is the site-curve equation library: for each site
// curve it converts between age, height and site index, and estimates the
// years a tree needs to reach breast height.
//
// Curves are held in a registry keyed by CurveID. Each entry pairs a small
// coefficient set with one of a few shared formula shapes (Cieszewski,
// Goudie logistic, Bruce, growth intercept), so adding a curve is adding a
// table row.
//
// Inversions that have no closed form use a bisection solver with an
// adaptive step. Domain violations are reported as typed errors; no
// function returns a numeric error code.
package siteindex
