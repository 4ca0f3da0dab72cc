package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/auth"
	"example.com/trainingload/internal/domain"
)

var today = time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)

func newTestHandler(repo *mockRepo, opts ...Option) (*Handler, *http.ServeMux) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clock := func() time.Time { return today.Add(14 * time.Hour) }

	service := domain.NewService(repo, domain.WithClock(clock), domain.WithLogger(logger))
	handler := NewHandler(service, logger, append([]Option{WithClock(clock)}, opts...)...)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return handler, mux
}

func withClaims(req *http.Request, athleteID string, scopes ...string) *http.Request {
	claims := &auth.Claims{
		Subject:   "tester",
		AthleteID: athleteID,
		Scopes:    map[string]struct{}{},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, scope := range scopes {
		claims.Scopes[scope] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestCreateActivityScoresAndBackfills(t *testing.T) {
	repo := newMockRepo()
	repo.profile = domain.AthleteProfile{FTP: 250}
	_, mux := newTestHandler(repo)

	body := `{"activity_type":"ride","start_time":"2025-06-08T07:00:00Z","duration_seconds":3600,"normalized_power":200}`
	req := httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "req-1")
	req = withClaims(req, "athlete-1", auth.ScopeMetricsWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp CreateActivityResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Activity.AthleteID != "athlete-1" {
		t.Fatalf("expected athlete from token, got %q", resp.Activity.AthleteID)
	}
	if resp.Activity.TSS == nil || *resp.Activity.TSS < 63.99 || *resp.Activity.TSS > 64.01 {
		t.Fatalf("unexpected tss %v", resp.Activity.TSS)
	}
	if resp.Backfill.DaysWritten != 3 || resp.Backfill.From != "2025-06-08" || resp.Backfill.To != "2025-06-10" {
		t.Fatalf("unexpected backfill %+v", resp.Backfill)
	}
	if resp.Backfill.Final == nil || resp.Backfill.Final.CTL <= 0 {
		t.Fatalf("expected final metric with positive ctl, got %+v", resp.Backfill.Final)
	}

	replay := httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(body))
	replay.Header.Set("Idempotency-Key", "req-1")
	replay = withClaims(replay, "athlete-1", auth.ScopeMetricsWrite)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, replay)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay got %d", rr.Code)
	}
	if len(repo.activities) != 1 {
		t.Fatalf("expected one stored activity, got %d", len(repo.activities))
	}
}

func TestCreateActivityValidation(t *testing.T) {
	_, mux := newTestHandler(newMockRepo())

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"zero duration", `{"start_time":"2025-06-08T07:00:00Z","duration_seconds":0}`, http.StatusBadRequest},
		{"missing start", `{"duration_seconds":60}`, http.StatusBadRequest},
		{"bad samples", `{"start_time":"2025-06-08T07:00:00Z","duration_seconds":60,"samples":{"hr":1}}`, http.StatusBadRequest},
		{"other athlete", `{"athlete_id":"athlete-2","start_time":"2025-06-08T07:00:00Z","duration_seconds":60}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(tt.body)), "athlete-1", auth.ScopeMetricsWrite)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected %d got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCreateActivityRequiresWriteScope(t *testing.T) {
	_, mux := newTestHandler(newMockRepo())

	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{}`)), "athlete-1", auth.ScopeMetricsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestBackfillEndpoint(t *testing.T) {
	repo := newMockRepo()
	_, mux := newTestHandler(repo)

	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/athletes/athlete-9/backfill?from=2025-06-01", nil), "", auth.ScopeMetricsWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp BackfillView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DaysWritten != 10 {
		t.Fatalf("expected 10 days written got %d", resp.DaysWritten)
	}

	for _, query := range []string{"", "?from=June", "?from=2025-06-01&to=soon"} {
		req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/athletes/athlete-9/backfill"+query, nil), "", auth.ScopeMetricsWrite)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400 got %d", query, rr.Code)
		}
	}
}

func TestRangeLimits(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		opts   []Option
	}{
		{name: "backfill from the distant past", method: http.MethodPost, target: "/v1/athletes/athlete-1/backfill?from=0001-01-01"},
		{name: "backfill wider than configured", method: http.MethodPost, target: "/v1/athletes/athlete-1/backfill?from=2025-05-01", opts: []Option{WithMaxRangeDays(30)}},
		{name: "metrics wider than configured", method: http.MethodGet, target: "/v1/athletes/athlete-1/metrics?from=2025-01-01&to=2025-06-10", opts: []Option{WithMaxRangeDays(90)}},
		{name: "activity too old to recompute", method: http.MethodPost, target: "/v1/activities",
			body: `{"start_time":"1990-01-01T07:00:00Z","duration_seconds":600}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			_, mux := newTestHandler(repo, tt.opts...)

			req := withClaims(httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)), "athlete-1", auth.ScopeMetricsWrite)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
			}
			var payload map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to decode error: %v", err)
			}
			if payload["type"] != "range_too_large" {
				t.Fatalf("unexpected error type %q", payload["type"])
			}
			if len(repo.metrics) != 0 || len(repo.activities) != 0 {
				t.Fatalf("expected no writes, got %d metrics and %d activities", len(repo.metrics), len(repo.activities))
			}
		})
	}
}

func TestBackfillWithinConfiguredRange(t *testing.T) {
	_, mux := newTestHandler(newMockRepo(), WithMaxRangeDays(10))

	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/athletes/athlete-1/backfill?from=2025-06-01", nil), "athlete-1", auth.ScopeMetricsWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp BackfillView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.To != "2025-06-10" || resp.DaysWritten != 10 {
		t.Fatalf("expected walk to end on the clock's day, got %+v", resp)
	}
}

func TestListMetricsDefaultsToSixWeeks(t *testing.T) {
	repo := newMockRepo()
	for i := 0; i < 60; i++ {
		day := today.AddDate(0, 0, -i)
		repo.metrics = append(repo.metrics, domain.DailyMetric{AthleteID: "athlete-1", Date: day, CTL: float64(i)})
	}
	_, mux := newTestHandler(repo)

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/athletes/athlete-1/metrics", nil), "athlete-1", auth.ScopeMetricsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ListMetricsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 42 {
		t.Fatalf("expected 42 items got %d", len(resp.Items))
	}
	if resp.From != "2025-04-30" || resp.To != "2025-06-10" {
		t.Fatalf("unexpected range %s..%s", resp.From, resp.To)
	}

	req = withClaims(httptest.NewRequest(http.MethodGet, "/v1/athletes/athlete-1/metrics?from=2025-06-09&to=2025-06-01", nil), "athlete-1", auth.ScopeMetricsRead)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range got %d", rr.Code)
	}
}

func TestMetricsForbiddenForOtherAthlete(t *testing.T) {
	_, mux := newTestHandler(newMockRepo())

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/athletes/athlete-2/metrics", nil), "athlete-1", auth.ScopeMetricsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestLatestMetrics(t *testing.T) {
	repo := newMockRepo()
	tss := 70.0
	repo.metrics = []domain.DailyMetric{
		{AthleteID: "athlete-1", Date: today.AddDate(0, 0, -1), CTL: 40, ATL: 30, TSB: 10, ACWR: 0.75},
		{AthleteID: "athlete-1", Date: today, CTL: 42, ATL: 60, TSB: -18, ACWR: 1.43},
	}
	repo.activities = []domain.Activity{
		{ID: "a1", AthleteID: "athlete-1", StartTime: today.Add(6 * time.Hour), Duration: 3600, TSS: &tss},
	}
	_, mux := newTestHandler(repo)

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/athletes/athlete-1/metrics/latest", nil), "athlete-1", auth.ScopeMetricsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp LatestMetricsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Metric.Date != "2025-06-10" || resp.Form != "building" || resp.ACWRBand != "caution" {
		t.Fatalf("unexpected summary %+v", resp)
	}
	if resp.Last7DaysLoad != 70 || resp.Last28DaysLoad != 70 || resp.ACWRSimple != 4 {
		t.Fatalf("unexpected rolling loads %+v", resp)
	}
}

func TestLatestMetricsNotFound(t *testing.T) {
	_, mux := newTestHandler(newMockRepo())

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/athletes/athlete-1/metrics/latest", nil), "athlete-1", auth.ScopeMetricsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if payload["type"] != "not_found" {
		t.Fatalf("unexpected error type %q", payload["type"])
	}
}

type mockRepo struct {
	metrics     []domain.DailyMetric
	activities  []domain.Activity
	idempotency map[string]string
	profile     domain.AthleteProfile
}

func newMockRepo() *mockRepo {
	return &mockRepo{idempotency: make(map[string]string)}
}

func (m *mockRepo) DailyMetric(ctx context.Context, athleteID string, day time.Time) (*domain.DailyMetric, error) {
	for _, metric := range m.metrics {
		if metric.AthleteID == athleteID && metric.Date.Equal(day) {
			found := metric
			return &found, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) UpsertDailyMetric(ctx context.Context, metric domain.DailyMetric) error {
	for i, existing := range m.metrics {
		if existing.AthleteID == metric.AthleteID && existing.Date.Equal(metric.Date) {
			m.metrics[i] = metric
			return nil
		}
	}
	m.metrics = append(m.metrics, metric)
	return nil
}

func (m *mockRepo) LatestDailyMetric(ctx context.Context, athleteID string) (*domain.DailyMetric, error) {
	var latest *domain.DailyMetric
	for i := range m.metrics {
		metric := m.metrics[i]
		if metric.AthleteID == athleteID && (latest == nil || metric.Date.After(latest.Date)) {
			latest = &metric
		}
	}
	return latest, nil
}

func (m *mockRepo) ListDailyMetrics(ctx context.Context, athleteID string, from, to time.Time) ([]domain.DailyMetric, error) {
	out := make([]domain.DailyMetric, 0)
	for _, metric := range m.metrics {
		if metric.AthleteID == athleteID && !metric.Date.Before(from) && !metric.Date.After(to) {
			out = append(out, metric)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *mockRepo) ActivitiesSince(ctx context.Context, athleteID string, since time.Time) ([]domain.Activity, error) {
	out := make([]domain.Activity, 0)
	for _, a := range m.activities {
		if a.AthleteID == athleteID && !a.StartTime.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) FindByIdempotency(ctx context.Context, athleteID, idempotencyKey string) (*domain.Activity, error) {
	id, ok := m.idempotency[athleteID+"|"+idempotencyKey]
	if !ok {
		return nil, nil
	}
	for _, a := range m.activities {
		if a.ID == id {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) CreateActivity(ctx context.Context, activity domain.Activity, idempotencyKey string) error {
	m.activities = append(m.activities, activity)
	if idempotencyKey != "" {
		m.idempotency[activity.AthleteID+"|"+idempotencyKey] = activity.ID
	}
	return nil
}

func (m *mockRepo) AthleteProfile(ctx context.Context, athleteID string) (domain.AthleteProfile, error) {
	profile := m.profile
	profile.AthleteID = athleteID
	return profile, nil
}
