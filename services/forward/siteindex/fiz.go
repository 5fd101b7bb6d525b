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
	"fmt"
	"strings"

	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// RegionForZone maps a forest inventory zone code to its region. Zones A
// through C are coastal, D through L interior.
func RegionForZone(fiz string) (model.Region, error) {
	code := strings.ToUpper(strings.TrimSpace(fiz))
	if len(code) != 1 {
		return "", fmt.Errorf("%w: %q", ErrForestInventoryZone, fiz)
	}
	switch c := code[0]; {
	case c >= 'A' && c <= 'C':
		return model.Coastal, nil
	case c >= 'D' && c <= 'L':
		return model.Interior, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrForestInventoryZone, fiz)
	}
}
