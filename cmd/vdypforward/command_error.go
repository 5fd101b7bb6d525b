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

import "fmt"

// Process exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	// exitPartial means the batch finished but some polygons failed.
	exitPartial = 3
)

// CommandError carries the exit code a command failure maps to.
//
// Example:
//
//	err := &CommandError{Command: "project", ExitCode: exitPartial, Wrapped: report.Err()}
//	fmt.Println(err.Error()) // "project (exit 3): 01002 S000001 00: ..."
type CommandError struct {
	// Command is the subcommand that failed.
	Command string

	// ExitCode is returned from the process.
	ExitCode int

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns the command, exit code and cause.
func (e *CommandError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

func usageError(command string, err error) *CommandError {
	return &CommandError{Command: command, ExitCode: exitUsage, Wrapped: err}
}
