// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format is a polygon file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath chooses a Format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func polygonValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the structural constraints of a polygon: identifier,
// BEC zone, layer keys and species genus fields.
//
// Outputs:
//
//	error - Wraps ErrInvalidPolygon with the validator's field errors.
func (p *Polygon) Validate() error {
	if err := polygonValidator().Struct(p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPolygon, p.ID, err)
	}
	for lt, l := range p.Layers {
		if l.LayerType != lt {
			return fmt.Errorf("%w: %s: layer keyed %s has type %s", ErrInvalidPolygon, p.ID, lt, l.LayerType)
		}
		for alias, s := range l.Species {
			if s.Genus != alias {
				return fmt.Errorf("%w: %s: species keyed %s has genus %s", ErrInvalidPolygon, p.ID, alias, s.Genus)
			}
		}
	}
	return nil
}

// DecodePolygons reads one polygon or a list of polygons.
//
// Description:
//
//	The document may be a single polygon object or an array of them. Every
//	decoded polygon is validated.
//
// Inputs:
//
//	r - Source of the document.
//	format - FormatJSON or FormatYAML.
//
// Outputs:
//
//	[]*Polygon - The decoded polygons, in document order.
//	error - Decoding or validation failure.
func DecodePolygons(r io.Reader, format Format) ([]*Polygon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read polygons: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var polygons []*Polygon
	switch format {
	case FormatJSON:
		if trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &polygons)
		} else {
			p := new(Polygon)
			err = json.Unmarshal(trimmed, p)
			polygons = []*Polygon{p}
		}
	case FormatYAML:
		var node yaml.Node
		if err = yaml.Unmarshal(trimmed, &node); err == nil && len(node.Content) > 0 {
			if node.Content[0].Kind == yaml.SequenceNode {
				err = node.Content[0].Decode(&polygons)
			} else {
				p := new(Polygon)
				err = node.Content[0].Decode(p)
				polygons = []*Polygon{p}
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode polygons: %w", err)
	}

	var errs []error
	for _, p := range polygons {
		if p == nil {
			errs = append(errs, fmt.Errorf("%w: null entry", ErrInvalidPolygon))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return polygons, nil
}

// LoadPolygons reads a polygon file whose format follows its extension.
func LoadPolygons(path string) ([]*Polygon, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polygon file: %w", err)
	}
	defer f.Close()
	return DecodePolygons(f, format)
}

// EncodePolygons writes polygons as a JSON array or a YAML sequence.
func EncodePolygons(w io.Writer, format Format, polygons []*Polygon) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(polygons)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(polygons); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
