// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import "errors"

var (
	// ErrInvalidInput indicates a bad argument to the runner.
	ErrInvalidInput = errors.New("batch: invalid input")

	// ErrCheckpointCorrupt indicates a checkpoint failed its checksum.
	ErrCheckpointCorrupt = errors.New("batch: checkpoint corrupt")

	// ErrCheckpointVersionMismatch indicates a checkpoint written by an
	// incompatible version.
	ErrCheckpointVersionMismatch = errors.New("batch: checkpoint version mismatch")

	// ErrCheckpointMismatch indicates a checkpoint written for another set
	// of inputs.
	ErrCheckpointMismatch = errors.New("batch: checkpoint belongs to another batch")
)
