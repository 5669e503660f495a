package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/store"
)

// Handlers holds the HTTP handlers.
type Handlers struct {
	engine  Adjudicator
	backend Backend
	claims  *semaphore.Weighted
}

// Health reports store reachability and dead-letter depth.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Ping(r.Context()); err != nil {
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	depth, err := h.backend.CountDLQ(r.Context())
	if err != nil {
		zap.L().Warn("api: count dlq failed", zap.Error(err))
	}
	respond(w, http.StatusOK, map[string]any{"status": "ok", "dlq_depth": depth})
}

// AdjudicateClaim adjudicates a claim synchronously and returns the claim
// summary with every line result.
func (h *Handlers) AdjudicateClaim(w http.ResponseWriter, r *http.Request) {
	var claim model.Claim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.claims.Acquire(r.Context(), 1); err != nil {
		respondError(w, http.StatusServiceUnavailable, "request cancelled while waiting for capacity")
		return
	}
	defer h.claims.Release(1)

	res, err := h.engine.AdjudicateClaim(r.Context(), claim)
	if err != nil {
		// The engine only fails a call for a malformed envelope.
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, res)
}

// GetAccumulator returns usage for member, benefit code and period.
func (h *Handlers) GetAccumulator(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetAccumulator(r.Context(),
		chi.URLParam(r, "member"),
		chi.URLParam(r, "code"),
		model.PeriodKey(chi.URLParam(r, "period")),
	)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, rec)
}

// GetResult returns the stored result for a claim line.
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.engine.GetResult(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if res == nil {
		respondError(w, http.StatusNotFound, "no result for claim line "+id)
		return
	}
	respond(w, http.StatusOK, res)
}

// Reverse releases the usage consumed by a committed claim line.
func (h *Handlers) Reverse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	entry, err := h.engine.Reverse(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, entry)
}

// ListResults lists stored results filtered by claim_id, member_id,
// outcome and limit query parameters.
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ResultFilter{
		ClaimID:  q.Get("claim_id"),
		MemberID: q.Get("member_id"),
		Outcome:  model.Outcome(q.Get("outcome")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	results, err := h.backend.ListResults(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	if results == nil {
		results = []model.AdjudicationResult{}
	}
	respond(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	if errors.Is(err, accumulator.ErrNothingToReverse) {
		return http.StatusNotFound
	}
	if f, ok := model.AsFault(err); ok {
		switch f.Class {
		case model.FaultInput:
			return http.StatusUnprocessableEntity
		case model.FaultContention:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	body := map[string]string{"error": eris.ToString(err, false)}
	if f, ok := model.AsFault(err); ok {
		body["reason_code"] = string(f.Code)
	}
	respond(w, status, body)
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

// requestLogger logs each request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
