// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package geo

import "math"

// Envelope computes the bounding box of a geometry's coordinate tree.
// Returns false when the geometry holds no finite coordinates.
func Envelope(g Geometry) (Viewport, bool) {
	env := Viewport{
		MinLng: math.Inf(1), MinLat: math.Inf(1),
		MaxLng: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	found := walkPositions(g.Coordinates, func(lng, lat float64) {
		env.MinLng = math.Min(env.MinLng, lng)
		env.MinLat = math.Min(env.MinLat, lat)
		env.MaxLng = math.Max(env.MaxLng, lng)
		env.MaxLat = math.Max(env.MaxLat, lat)
	})
	return env, found
}

// walkPositions visits every [lng, lat] pair in a coordinate tree. A leaf is
// any numeric slice of length >= 2.
func walkPositions(v any, visit func(lng, lat float64)) bool {
	switch val := v.(type) {
	case []float64:
		if len(val) >= 2 && isFinite(val[0]) && isFinite(val[1]) {
			visit(val[0], val[1])
			return true
		}
		return false
	case [][]float64:
		found := false
		for _, row := range val {
			if walkPositions(row, visit) {
				found = true
			}
		}
		return found
	case []any:
		// A pair of numbers is a leaf position; otherwise recurse.
		if len(val) >= 2 {
			if lng, okLng := val[0].(float64); okLng {
				if lat, okLat := val[1].(float64); okLat {
					if isFinite(lng) && isFinite(lat) {
						visit(lng, lat)
						return true
					}
					return false
				}
			}
		}
		found := false
		for _, item := range val {
			if walkPositions(item, visit) {
				found = true
			}
		}
		return found
	default:
		return false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
