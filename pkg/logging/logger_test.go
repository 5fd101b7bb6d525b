// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelInfo, Service: "vdyp-test", Format: FormatJSON, Writer: &buf})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("projected", "polygon", "01002 S000001 00 1970")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "projected", rec["msg"])
	assert.Equal(t, "vdyp-test", rec["service"])
	assert.Equal(t, "01002 S000001 00 1970", rec["polygon"])
}

func TestNew_AutoFormatOnBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	require.NoError(t, err)

	logger.Info("hello")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: FormatText, Writer: &buf})
	require.NoError(t, err)

	logger.Warn("slow step", "step", "GROW_5")
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "step=GROW_5")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelWarn, Format: FormatText, Writer: &buf})
	require.NoError(t, err)

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	out := buf.String()
	assert.NotContains(t, out, "msg=d")
	assert.NotContains(t, out, "msg=i")
	assert.Contains(t, out, "msg=w")
	assert.Contains(t, out, "msg=e")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: FormatText, Writer: &buf})
	require.NoError(t, err)

	child := logger.With("run_id", "abc")
	child.Info("step done")
	assert.Contains(t, buf.String(), "run_id=abc")
	assert.NoError(t, child.Close())
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{LogDir: dir, Service: "forward", Quiet: true})
	require.NoError(t, err)

	logger.Info("to file", "k", 1)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	name := "forward_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"msg\":\"to file\"")
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{LogDir: dir, Quiet: true})
	require.NoError(t, err)
	logger.Info("x")
	require.NoError(t, logger.Close())

	_, err = os.Stat(filepath.Join(dir, "vdypforward_"+time.Now().Format("2006-01-02")+".log"))
	assert.NoError(t, err)
}

func TestNew_WithLogDir_Unwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	_, err := New(Config{LogDir: filepath.Join(file, "logs")})
	assert.Error(t, err)
}

func TestNew_MultipleDestinations(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	logger, err := New(Config{LogDir: dir, Writer: &buf, Format: FormatText})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("both")
	assert.Contains(t, buf.String(), "msg=both")
}

func TestDefault(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Slog())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".vdyp/logs"), expandPath("~/.vdyp/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
