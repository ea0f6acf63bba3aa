// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/geoboard/geoboard/internal/delta"
	"github.com/geoboard/geoboard/internal/geo"
	"github.com/geoboard/geoboard/internal/logging"
	"github.com/geoboard/geoboard/internal/models"
	"github.com/geoboard/geoboard/internal/store"
	"github.com/geoboard/geoboard/internal/validation"
)

// Handler implements the REST endpoints.
type Handler struct {
	db     *store.DB
	engine *delta.Engine
}

// NewHandler creates a handler.
func NewHandler(db *store.DB, engine *delta.Engine) *Handler {
	return &Handler{db: db, engine: engine}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the store must answer a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mapRequest is the create/update payload for a map.
type mapRequest struct {
	ID          string `json:"id" validate:"omitempty,max=128"`
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description" validate:"max=4096"`
}

// ListMaps returns all maps, most recently updated first.
func (h *Handler) ListMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := h.db.ListMaps(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if maps == nil {
		maps = []models.Map{}
	}
	writeJSON(w, http.StatusOK, maps)
}

// CreateMap creates a map record, generating an id when none is supplied.
func (h *Handler) CreateMap(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m := &models.Map{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := h.db.CreateMap(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMap returns one map record.
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	m, err := h.db.GetMap(r.Context(), chi.URLParam(r, "mapID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateMap updates a map's name and description.
func (h *Handler) UpdateMap(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m := &models.Map{
		ID:          chi.URLParam(r, "mapID"),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.db.UpdateMap(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListFeatures returns every live feature on the map.
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := h.db.ListFeatures(r.Context(), chi.URLParam(r, "mapID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if features == nil {
		features = []models.Feature{}
	}
	writeJSON(w, http.StatusOK, features)
}

// GetFeature returns one feature.
func (h *Handler) GetFeature(w http.ResponseWriter, r *http.Request) {
	f, err := h.db.GetFeature(r.Context(), chi.URLParam(r, "featureID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetUpdates is the HTTP view of the realtime delta query. Query parameters:
// since (unix milliseconds), page, limit, and minLng/minLat/maxLng/maxLat for
// the optional viewport.
func (h *Handler) GetUpdates(w http.ResponseWriter, r *http.Request) {
	req := delta.Request{
		MapID: chi.URLParam(r, "mapID"),
		Page:  queryInt(r, "page"),
		Limit: queryInt(r, "limit"),
	}
	if ms := queryInt64(r, "since"); ms > 0 {
		req.Since = time.UnixMilli(ms)
	}
	if viewport, ok := queryViewport(r); ok {
		req.Viewport = viewport
	}

	resp, err := h.engine.GetUpdatesSince(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory returns the map's feature mutation log since a timestamp.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if ms := queryInt64(r, "since"); ms > 0 {
		since = time.UnixMilli(ms)
	}
	limit := queryInt(r, "limit")
	if limit <= 0 {
		limit = 100
	}

	history, err := h.db.HistorySince(r.Context(), chi.URLParam(r, "mapID"), since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []models.FeatureHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

// decodeBody unmarshals and validates a JSON request body, writing the error
// response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed JSON body"))
		return false
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(verr.Error()))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryInt64(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}

// queryViewport parses the four bbox parameters; all or none must be present.
func queryViewport(r *http.Request) (*geo.Viewport, bool) {
	q := r.URL.Query()
	keys := []string{"minLng", "minLat", "maxLng", "maxLat"}
	values := make([]float64, len(keys))
	for i, key := range keys {
		raw := q.Get(key)
		if raw == "" {
			return nil, false
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		values[i] = v
	}
	return &geo.Viewport{MinLng: values[0], MinLat: values[1], MaxLng: values[2], MaxLat: values[3]}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encode response")
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, models.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
	default:
		if current, ok := models.IsVersionConflict(err); ok {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":          err.Error(),
				"currentVersion": current,
			})
			return
		}
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorBody(verr.Error()))
			return
		}
		logging.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
