// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package geo provides the geometry primitives shared across Geoboard:
// positions, viewports, feature geometry, and egress coordinate precision
// reduction.
package geo

import (
	"fmt"
	"math"
)

// Position is a longitude/latitude pair in WGS84 degrees.
type Position struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Valid reports whether the position is within coordinate range.
func (p Position) Valid() bool {
	return !math.IsNaN(p.Lng) && !math.IsNaN(p.Lat) &&
		p.Lng >= -180 && p.Lng <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Viewport is a bounding box used to scope sync queries.
type Viewport struct {
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
}

// Validate rejects non-numeric or out-of-range bounds before they reach a
// storage query.
func (v Viewport) Validate() error {
	for name, val := range map[string]float64{
		"minLng": v.MinLng, "minLat": v.MinLat, "maxLng": v.MaxLng, "maxLat": v.MaxLat,
	} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("viewport %s is not a finite number", name)
		}
	}
	if v.MinLng < -180 || v.MaxLng > 180 {
		return fmt.Errorf("viewport longitude out of range [-180,180]")
	}
	if v.MinLat < -90 || v.MaxLat > 90 {
		return fmt.Errorf("viewport latitude out of range [-90,90]")
	}
	if v.MinLng > v.MaxLng || v.MinLat > v.MaxLat {
		return fmt.Errorf("viewport min bounds exceed max bounds")
	}
	return nil
}

// Contains reports whether the position lies inside the viewport.
func (v Viewport) Contains(p Position) bool {
	return p.Lng >= v.MinLng && p.Lng <= v.MaxLng && p.Lat >= v.MinLat && p.Lat <= v.MaxLat
}

// Geometry is a GeoJSON-shaped geometry. Coordinates hold the nested arrays
// decoded from JSON: []float64 for a point, one more nesting level per
// geometry rank above that.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, decimals int) float64 {
	pow := math.Pow10(decimals)
	return math.Round(v*pow) / pow
}

// ReducePrecision returns a copy of g with every coordinate rounded to the
// given number of decimal places. Five decimals is roughly 1.1 m at the
// equator. The transform is lossy, idempotent, and applied only to egress
// data, never to stored geometry.
func ReducePrecision(g Geometry, decimals int) Geometry {
	return Geometry{
		Type:        g.Type,
		Coordinates: reduceValue(g.Coordinates, decimals),
	}
}

// ReducePosition rounds a position to the given number of decimal places.
func ReducePosition(p Position, decimals int) Position {
	return Position{Lng: Round(p.Lng, decimals), Lat: Round(p.Lat, decimals)}
}

// reduceValue walks the coordinate tree, rounding every number it finds.
// JSON decoding produces float64 leaves and []any branches; typed slices are
// handled for geometry constructed in code.
func reduceValue(v any, decimals int) any {
	switch val := v.(type) {
	case float64:
		return Round(val, decimals)
	case []float64:
		out := make([]float64, len(val))
		for i, f := range val {
			out[i] = Round(f, decimals)
		}
		return out
	case [][]float64:
		out := make([][]float64, len(val))
		for i, row := range val {
			reduced := make([]float64, len(row))
			for j, f := range row {
				reduced[j] = Round(f, decimals)
			}
			out[i] = reduced
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = reduceValue(item, decimals)
		}
		return out
	default:
		return v
	}
}
