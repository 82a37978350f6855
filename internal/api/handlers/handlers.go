// Package handlers implements the HTTP Surface (C8): thin adapters from
// gorilla/mux requests to the engine package's DAG/Errors/cache-admin
// operations, and the JSON envelope/header conventions of spec §6.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/lineage-observer/internal/apierrors"
	"github.com/vitaliisemenov/lineage-observer/internal/api/middleware"
	"github.com/vitaliisemenov/lineage-observer/internal/compare"
	"github.com/vitaliisemenov/lineage-observer/internal/engine"
	"github.com/vitaliisemenov/lineage-observer/internal/testreport"
	"github.com/vitaliisemenov/lineage-observer/internal/tieredcache"
)

// Handlers holds the engine the HTTP surface serves requests against.
type Handlers struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

// New builds a Handlers bound to eng.
func New(eng *engine.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{Engine: eng, Logger: logger}
}

func compareRequestFromQuery(q map[string][]string) compare.Request {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return compare.Request{
		CurrentSnapshot:      get("currentSnapshot"),
		PreviousSnapshot:     get("previousSnapshot"),
		PreviousManifestPath: get("previousManifestPath"),
		PreviousCatalogPath:  get("previousCatalogPath"),
	}
}

// DAG handles GET /dag/{id} and POST /dag/{id}?action=invalidate (spec §6).
func (h *Handlers) DAG(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requestID := middleware.GetRequestID(r.Context())

	if r.Method == http.MethodPost {
		if r.URL.Query().Get("action") != "invalidate" {
			writeError(w, apierrors.ParameterInvalid("unsupported action").WithRequestID(requestID))
			return
		}
		n := h.Engine.InvalidateNode(id)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"nodeId":           id,
			"invalidatedCount": n,
		})
		return
	}

	q := r.URL.Query()
	maxDepth := 10
	if v := q.Get("maxDepth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxDepth = n
		} else {
			writeError(w, apierrors.ParameterInvalid("maxDepth must be an integer").WithRequestID(requestID))
			return
		}
	}

	req := engine.DAGRequest{
		NodeID:   id,
		MaxDepth: maxDepth,
		Fresh:    q.Get("fresh") == "true",
		Compare:  compareRequestFromQuery(q),
	}

	result, err := h.Engine.DAG(r.Context(), req)
	if err != nil {
		writeEngineError(w, err, requestID)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=1800")
	setCacheHeaders(w, result.Cached, result.ComputeTimeMs)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          result.Data,
		"cached":        result.Cached,
		"computeTimeMs": result.ComputeTimeMs,
		"nodeId":        result.NodeID,
		"metadata":      result.Metadata,
	})
}

// Errors handles GET /errors/{id} (spec §6).
func (h *Handlers) Errors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requestID := middleware.GetRequestID(r.Context())
	q := r.URL.Query()

	filter := testreport.Filter{
		Type:   testreport.Type(q.Get("testType")),
		Status: testreport.Status(q.Get("statusFilter")),
	}

	req := engine.ErrorsRequest{
		NodeID:  id,
		Filter:  filter,
		Compare: compareRequestFromQuery(q),
	}

	result, err := h.Engine.Errors(r.Context(), req)
	if err != nil {
		writeEngineError(w, err, requestID)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	setCacheHeaders(w, result.Cached, result.ComputeTimeMs)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          result.Data,
		"cached":        result.Cached,
		"computeTimeMs": result.ComputeTimeMs,
	})
}

// CacheStats handles GET /cache/stats (spec §6).
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	info := h.Engine.Cache.DebugInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": nowRFC3339(),
		"cache":     info,
		"performance": map[string]any{
			"hitRate": info.HitRate,
		},
		"ttl": map[string]string{
			"hot":  tieredcache.DefaultTTL(tieredcache.LayerHot).String(),
			"warm": tieredcache.DefaultTTL(tieredcache.LayerWarm).String(),
			"cold": tieredcache.DefaultTTL(tieredcache.LayerCold).String(),
		},
	})
}

// cacheClearRequest is the POST /cache/clear request body (spec §6). The
// validate tags are enforced by middleware.ValidateStruct, the one real
// call site for go-playground/validator/v10's struct validation in this
// surface.
type cacheClearRequest struct {
	Action string            `json:"action" validate:"required,oneof=clear-all clear-layer"`
	Layer  tieredcache.Layer `json:"layer" validate:"omitempty,oneof=hot warm cold"`
}

// CacheClear handles POST /cache/clear (spec §6).
func (h *Handlers) CacheClear(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var body cacheClearRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierrors.ParameterInvalid("request body must be valid JSON").WithRequestID(requestID))
		return
	}
	if err := middleware.ValidateStruct(body); err != nil {
		writeError(w, apierrors.ParameterInvalid("invalid cache-clear request").
			WithDetails(middleware.FormatValidationErrors(err)).
			WithRequestID(requestID))
		return
	}

	switch body.Action {
	case "clear-all":
		h.Engine.Cache.Clear()
		h.Engine.Store.ClearAll()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"action":    body.Action,
			"clearedAt": nowRFC3339(),
		})
	case "clear-layer":
		if body.Layer == "" {
			writeError(w, apierrors.ParameterInvalid("layer is required for clear-layer").WithRequestID(requestID))
			return
		}
		n := h.Engine.Cache.InvalidateLayer(body.Layer)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":           true,
			"action":            body.Action,
			"totalItemsCleared": n,
			"clearedAt":         nowRFC3339(),
		})
	}
}

// Health handles GET /health: a liveness probe reporting whether the
// artifact store currently holds a loaded bundle (spec §6 implies a
// health surface alongside the cache-admin and query endpoints; this
// mirrors the teacher's HealthCheckHandler shape without its
// database/redis/queue checks, which have no analog here).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	_, err := h.Engine.Store.Bundle(r.Context())
	status := "ok"
	code := http.StatusOK
	if err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": nowRFC3339(),
	})
}

func writeEngineError(w http.ResponseWriter, err error, requestID string) {
	if apiErr, ok := err.(*apierrors.APIError); ok {
		writeError(w, apiErr.WithRequestID(requestID))
		return
	}
	writeError(w, apierrors.Internal(err.Error()).WithRequestID(requestID))
}

func writeError(w http.ResponseWriter, err *apierrors.APIError) {
	apierrors.Write(w, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func setCacheHeaders(w http.ResponseWriter, cached bool, computeTimeMs int64) {
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("X-Compute-Time-Ms", strconv.FormatInt(computeTimeMs, 10))
}
