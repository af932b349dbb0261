// Package handler provides the HTTP handlers for the lookup API.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/whoswhip/anilyzer/internal/apierrors"
	"github.com/whoswhip/anilyzer/internal/cache"
	"github.com/whoswhip/anilyzer/internal/dataset"
	"github.com/whoswhip/anilyzer/internal/metrics"
	"github.com/whoswhip/anilyzer/internal/ratelimit"
	"go.uber.org/zap"
)

// SeriesReader is the dataset query surface the handlers depend on.
type SeriesReader interface {
	ByAnilistIDs(ctx context.Context, ids []string) ([]dataset.Series, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// LookupResponse is the success payload of the lookup endpoint.
type LookupResponse struct {
	Count int              `json:"count"`
	Data  []dataset.Series `json:"data"`
}

// lookupRequest is the POST body of the lookup endpoint.
type lookupRequest struct {
	IDs []interface{} `json:"ids"`
}

// Handlers contains the lookup handlers and their dependencies. The
// cache and the bucket are constructed at startup and injected; the
// handlers never create shared state of their own.
type Handlers struct {
	store        SeriesReader
	cache        *cache.Cache[dataset.Series]
	bucket       *ratelimit.TokenBucket
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	metrics      *metrics.Metrics
	maxBatch     int

	countOnce sync.Once
	count     int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	store SeriesReader,
	lookupCache *cache.Cache[dataset.Series],
	bucket *ratelimit.TokenBucket,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	m *metrics.Metrics,
	maxBatch int,
) *Handlers {
	return &Handlers{
		store:        store,
		cache:        lookupCache,
		bucket:       bucket,
		errorHandler: errorHandler,
		logger:       logger,
		metrics:      m,
		maxBatch:     maxBatch,
	}
}

// LookupGET handles GET /lookup?ids=1,2,3 requests.
func (h *Handlers) LookupGET(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	// Admission first: an invalid batch still consumes a token.
	if !h.admit(w, requestID) {
		return
	}

	idsParam := r.URL.Query().Get("ids")
	if idsParam == "" {
		h.errorHandler.WriteValidationError(w, `missing "ids" query parameter`, requestID)
		return
	}

	ids := strings.Split(idsParam, ",")
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}

	if err := h.validateBatch(ids); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	h.resolve(w, r, ids, requestID)
}

// LookupPOST handles POST /lookup requests with body {"ids": [...]}.
func (h *Handlers) LookupPOST(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	if !h.admit(w, requestID) {
		return
	}

	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}

	if req.IDs == nil {
		h.errorHandler.WriteValidationError(w, `"ids" must be an array`, requestID)
		return
	}

	ids := make([]string, 0, len(req.IDs))
	for _, raw := range req.IDs {
		n, ok := raw.(float64)
		if !ok || n != math.Trunc(n) {
			h.errorHandler.WriteValidationError(w, "all ids must be numbers", requestID)
			return
		}
		ids = append(ids, strconv.FormatInt(int64(n), 10))
	}

	if err := h.validateBatch(ids); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	h.resolve(w, r, ids, requestID)
}

// admit runs the token-bucket check, writing the 429 response on
// rejection. It returns whether the request may proceed.
func (h *Handlers) admit(w http.ResponseWriter, requestID string) bool {
	if h.bucket.TryConsume() {
		return true
	}

	h.metrics.RecordRateLimited()
	h.errorHandler.WriteRateLimited(w, h.bucket.RetryAfter(), h.bucket.Capacity(), requestID)
	return false
}

// validateBatch enforces the batch-size bounds.
func (h *Handlers) validateBatch(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("at least one id is required")
	}
	if len(ids) > h.maxBatch {
		return fmt.Errorf("maximum %d ids per request", h.maxBatch)
	}
	return nil
}

// resolve partitions the requested identifiers between the cache and
// the dataset, fills the cache from dataset reads, and writes the
// combined response.
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request, ids []string, requestID string) {
	results := make([]dataset.Series, 0, len(ids))
	uncached := make([]string, 0, len(ids))

	for _, id := range ids {
		if s, ok := h.cache.Get(id); ok {
			results = append(results, s)
		} else {
			uncached = append(uncached, id)
		}
	}

	h.metrics.RecordCacheHit(len(results))
	h.metrics.RecordCacheMiss(len(uncached))

	if len(uncached) > 0 {
		fetched, err := h.store.ByAnilistIDs(r.Context(), uncached)
		if err != nil {
			h.logger.Error("dataset query failed",
				zap.Error(err),
				zap.String("request_id", requestID))
			h.errorHandler.WriteInternalError(w, requestID)
			return
		}

		for _, s := range fetched {
			if key := s.AnilistID(); key != "" {
				h.cache.Set(key, s)
			}
		}

		results = append(results, fetched...)
	}

	h.writeJSONResponse(w, http.StatusOK, LookupResponse{
		Count: len(results),
		Data:  results,
	})
}

// HealthResponse is the payload of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// Health handles GET /health requests. The row count is computed once
// per process; the dataset only changes across a restart.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.countOnce.Do(func() {
		n, err := h.store.Count(r.Context())
		if err != nil {
			h.logger.Error("dataset count failed", zap.Error(err))
			return
		}
		h.count = n
		h.metrics.SetDatasetRows(n)
	})

	h.writeJSONResponse(w, http.StatusOK, HealthResponse{Status: "ok", Count: h.count})
}

// Ready handles GET /ready requests: 200 when the dataset is
// reachable, 503 otherwise.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	if err := h.store.Ping(r.Context()); err != nil {
		h.errorHandler.WriteServiceUnavailable(w, "dataset unavailable", requestID)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
