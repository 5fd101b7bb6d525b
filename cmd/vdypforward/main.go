// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Command vdypforward projects VDYP polygons forward in time.
//
// Usage:
//
//	vdypforward project polygons.json --out out/
//	vdypforward project polygons.yaml --up-to GROW_5_LAYER_BADELTA
//	vdypforward serve --config vdyp.yaml
//	vdypforward watch incoming/
//	vdypforward export gcs out/ --bucket my-yields
//	vdypforward steps
//
// Configuration is read from the file named by --config over built-in
// defaults, then VDYP_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	memguard.CatchInterrupt()
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	memguard.Purge()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err == nil {
		return exitOK
	}

	if a.printer != nil {
		a.printer.Error(err.Error())
	} else {
		fmt.Fprintln(stderr, "Error:", err)
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return exitFailure
}
