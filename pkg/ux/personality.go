// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel sets how rich CLI output is.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, boxes and bordered tables.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal uses icons and plain tables.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs tab-separated plain text for scripts.
	PersonalityMachine PersonalityLevel = "machine"
)

// ParsePersonalityLevel converts a string to a level. Unknown values
// mean full.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q", "plain":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// DetectPersonality picks the level for f: VDYP_OUTPUT when set, machine
// when f is not a terminal, full otherwise.
func DetectPersonality(f *os.File) PersonalityLevel {
	if env := os.Getenv("VDYP_OUTPUT"); env != "" {
		return ParsePersonalityLevel(env)
	}
	if f == nil || !IsTerminal(f.Fd()) {
		return PersonalityMachine
	}
	return PersonalityFull
}

// IsTerminal reports whether fd is a terminal, including Cygwin ptys.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
