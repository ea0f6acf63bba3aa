// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package services

import (
	"context"

	"github.com/geoboard/geoboard/internal/quality"
)

// ProberService runs the connection quality monitor's probe loop under
// supervision.
type ProberService struct {
	monitor *quality.Monitor
	send    quality.ProbeSender
}

// NewProberService creates the wrapper.
func NewProberService(monitor *quality.Monitor, send quality.ProbeSender) *ProberService {
	return &ProberService{monitor: monitor, send: send}
}

// Serve implements suture.Service.
func (p *ProberService) Serve(ctx context.Context) error {
	return p.monitor.RunProbes(ctx, p.send)
}

// String implements fmt.Stringer for supervisor logging.
func (p *ProberService) String() string { return "latency-prober" }
