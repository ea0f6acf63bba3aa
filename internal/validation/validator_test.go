// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	RoomID      string  `validate:"required,min=1,max=128"`
	DisplayName string  `validate:"omitempty,max=16"`
	Lng         float64 `validate:"longitude"`
	Lat         float64 `validate:"latitude"`
	Kind        string  `validate:"omitempty,oneof=point line polygon"`
}

func validSample() samplePayload {
	return samplePayload{RoomID: "map-1", Lng: 10, Lat: 20}
}

func TestValidateStructPasses(t *testing.T) {
	assert.Nil(t, ValidateStruct(validSample()))
}

func TestValidateStructFieldFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*samplePayload)
		field   string
		message string
	}{
		{
			name:    "missing required",
			mutate:  func(p *samplePayload) { p.RoomID = "" },
			field:   "RoomID",
			message: "RoomID is required",
		},
		{
			name:    "string too long",
			mutate:  func(p *samplePayload) { p.DisplayName = "this name is definitely too long" },
			field:   "DisplayName",
			message: "DisplayName must be at most 16 characters",
		},
		{
			name:    "longitude range",
			mutate:  func(p *samplePayload) { p.Lng = 181 },
			field:   "Lng",
			message: "Lng must be a valid longitude (-180 to 180)",
		},
		{
			name:    "latitude range",
			mutate:  func(p *samplePayload) { p.Lat = -91 },
			field:   "Lat",
			message: "Lat must be a valid latitude (-90 to 90)",
		},
		{
			name:    "oneof",
			mutate:  func(p *samplePayload) { p.Kind = "circle" },
			field:   "Kind",
			message: "Kind must be one of: point line polygon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validSample()
			tt.mutate(&p)
			verr := ValidateStruct(p)
			require.NotNil(t, verr)
			require.Len(t, verr.Fields(), 1)
			assert.Equal(t, tt.field, verr.Fields()[0].Field)
			assert.Equal(t, tt.message, verr.Fields()[0].Message)
			assert.Equal(t, tt.message, verr.Error())
		})
	}
}

func TestValidateStructAggregatesAllFailures(t *testing.T) {
	verr := ValidateStruct(samplePayload{Lng: 200, Lat: 100})
	require.NotNil(t, verr)
	assert.Len(t, verr.Fields(), 3)
	assert.Contains(t, verr.Error(), "RoomID is required")
	assert.Contains(t, verr.Error(), "Lng must be a valid longitude")
}
