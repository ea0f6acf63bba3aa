// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

// Package api provides HTTP routing using the chi router: the websocket
// upgrade endpoint, map CRUD, an HTTP view of the sync delta, health, and
// metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geoboard/geoboard/internal/config"
	"github.com/geoboard/geoboard/internal/delta"
	"github.com/geoboard/geoboard/internal/store"
	"github.com/geoboard/geoboard/internal/websocket"
)

// Router assembles the HTTP surface.
type Router struct {
	cfg     config.ServerConfig
	handler *Handler
	hub     *websocket.Hub
	session *websocket.Session
}

// NewRouter creates a router over the store and realtime layers.
func NewRouter(cfg config.ServerConfig, db *store.DB, engine *delta.Engine, hub *websocket.Hub, session *websocket.Session) *Router {
	return &Router{
		cfg:     cfg,
		handler: NewHandler(db, engine),
		hub:     hub,
		session: session,
	}
}

// Setup builds the route tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health/live", rt.handler.HealthLive)
	r.Get("/health/ready", rt.handler.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The upgrade endpoint is excluded from the API rate limit; the socket
	// carries its own per-room mutation limiting.
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWS(rt.hub, rt.session, w, req)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.RateLimitReqs > 0 {
			r.Use(httprate.Limit(
				rt.cfg.RateLimitReqs,
				rt.cfg.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}

		r.Route("/maps", func(r chi.Router) {
			r.Get("/", rt.handler.ListMaps)
			r.Post("/", rt.handler.CreateMap)
			r.Route("/{mapID}", func(r chi.Router) {
				r.Get("/", rt.handler.GetMap)
				r.Put("/", rt.handler.UpdateMap)
				r.Get("/features", rt.handler.ListFeatures)
				r.Get("/features/{featureID}", rt.handler.GetFeature)
				r.Get("/updates", rt.handler.GetUpdates)
				r.Get("/history", rt.handler.GetHistory)
			})
		})
	})

	return r
}
