// Package api exposes HTTP handlers for the training-load service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/auth"
	"example.com/trainingload/internal/domain"
)

const (
	defaultMetricsWindowDays = 42
	// Ten years of days; wider ranges are rejected before any work starts.
	defaultMaxRangeDays = 3660
)

// Option customises a Handler.
type Option func(*Handler)

// WithClock sets the clock that supplies default range ends.
func WithClock(clock domain.Clock) Option {
	return func(h *Handler) { h.now = clock }
}

// WithMaxRangeDays bounds the inclusive day span of backfill and metrics requests.
func WithMaxRangeDays(days int) Option {
	return func(h *Handler) {
		if days > 0 {
			h.maxRangeDays = days
		}
	}
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service      *domain.Service
	now          domain.Clock
	logger       logrus.FieldLogger
	maxRangeDays int
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger logrus.FieldLogger, opts ...Option) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		service:      service,
		now:          domain.SystemClock,
		logger:       logger,
		maxRangeDays: defaultMaxRangeDays,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("POST /v1/activities", h.createActivity)
	mux.HandleFunc("POST /v1/athletes/{id}/backfill", h.backfill)
	mux.HandleFunc("GET /v1/athletes/{id}/metrics", h.listMetrics)
	mux.HandleFunc("GET /v1/athletes/{id}/metrics/latest", h.latestMetrics)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeMetricsWrite)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.AthleteID == "" {
		req.AthleteID = claims.AthleteID
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if !claims.CanAccessAthlete(req.AthleteID) {
		writeError(w, http.StatusForbidden, "forbidden", "token may not act on this athlete")
		return
	}
	if !h.checkRange(w, domain.Day(req.StartTime), domain.Day(h.now())) {
		return
	}

	result, err := h.service.IngestActivity(r.Context(), domain.IngestActivityInput{
		Activity:       req.toActivity(),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if result.Replay {
		status = http.StatusOK
	}
	writeJSON(w, status, CreateActivityResponse{
		Activity: toActivityView(result.Activity),
		Replay:   result.Replay,
		Backfill: toBackfillView(result.Backfill),
	})
}

func (h *Handler) backfill(w http.ResponseWriter, r *http.Request) {
	athleteID, ok := h.athleteRequest(w, r, auth.ScopeMetricsWrite)
	if !ok {
		return
	}

	rawFrom := r.URL.Query().Get("from")
	if rawFrom == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing from parameter")
		return
	}
	from, err := domain.ParseDay(rawFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "from must be YYYY-MM-DD")
		return
	}
	to := domain.Day(h.now())
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = domain.ParseDay(raw); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "to must be YYYY-MM-DD")
			return
		}
	}

	if !h.checkRange(w, from, to) {
		return
	}

	result, err := h.service.BackfillRange(r.Context(), athleteID, from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBackfillView(result))
}

func (h *Handler) listMetrics(w http.ResponseWriter, r *http.Request) {
	athleteID, ok := h.athleteRequest(w, r, auth.ScopeMetricsRead)
	if !ok {
		return
	}

	to := domain.Day(h.now())
	from := to.AddDate(0, 0, -(defaultMetricsWindowDays - 1))
	var err error
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = domain.ParseDay(raw); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "to must be YYYY-MM-DD")
			return
		}
		from = to.AddDate(0, 0, -(defaultMetricsWindowDays - 1))
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = domain.ParseDay(raw); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "from must be YYYY-MM-DD")
			return
		}
	}

	if !h.checkRange(w, from, to) {
		return
	}

	metrics, err := h.service.DailyMetrics(r.Context(), athleteID, from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := ListMetricsResponse{
		AthleteID: athleteID,
		From:      domain.DateKey(from),
		To:        domain.DateKey(to),
		Items:     make([]DailyMetricView, 0, len(metrics)),
	}
	for _, m := range metrics {
		resp.Items = append(resp.Items, toDailyMetricView(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) latestMetrics(w http.ResponseWriter, r *http.Request) {
	athleteID, ok := h.athleteRequest(w, r, auth.ScopeMetricsRead)
	if !ok {
		return
	}

	summary, err := h.service.Summary(r.Context(), athleteID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LatestMetricsResponse{
		Metric:         toDailyMetricView(summary.Latest),
		Form:           summary.Form,
		ACWRBand:       summary.ACWRBand,
		Last7DaysLoad:  summary.Last7DaysLoad,
		Last28DaysLoad: summary.Last28DaysLoad,
		ACWRSimple:     summary.ACWRSimple,
	})
}

// checkRange rejects spans wider than maxRangeDays. Inverted ranges pass through to the
// service, which owns their semantics.
func (h *Handler) checkRange(w http.ResponseWriter, from, to time.Time) bool {
	if days := int(to.Sub(from).Hours()/24) + 1; days > h.maxRangeDays {
		writeError(w, http.StatusBadRequest, "range_too_large",
			fmt.Sprintf("range spans %d days, at most %d allowed", days, h.maxRangeDays))
		return false
	}
	return true
}

// athleteRequest authorizes a request scoped to the {id} path segment.
func (h *Handler) athleteRequest(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	claims, ok := authorize(w, r, scope)
	if !ok {
		return "", false
	}
	athleteID := strings.TrimSpace(r.PathValue("id"))
	if athleteID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing athlete id")
		return "", false
	}
	if !claims.CanAccessAthlete(athleteID) {
		writeError(w, http.StatusForbidden, "forbidden", "token may not act on this athlete")
		return "", false
	}
	return athleteID, true
}

// authorize requires claims with scope; the write scope implies read.
func authorize(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) && !claims.HasScope(auth.ScopeMetricsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrAthleteRequired), errors.Is(err, domain.ErrInvalidActivity), errors.Is(err, domain.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrMetricsNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no daily metrics for athlete")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "canceled", "request canceled")
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
