package domain

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepo struct {
	mu          sync.Mutex
	metrics     map[string]DailyMetric
	activities  []Activity
	idempotency map[string]string
	profiles    map[string]AthleteProfile

	upserts        int
	failUpsert     map[string]error
	failSeed       error
	failProfile    error
	failActivities error
	locks          int
	unlocks        int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		metrics:     make(map[string]DailyMetric),
		idempotency: make(map[string]string),
		profiles:    make(map[string]AthleteProfile),
		failUpsert:  make(map[string]error),
	}
}

func metricKey(athleteID string, day time.Time) string {
	return athleteID + "|" + DateKey(day)
}

func (m *memoryRepo) DailyMetric(ctx context.Context, athleteID string, day time.Time) (*DailyMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSeed != nil {
		return nil, m.failSeed
	}
	metric, ok := m.metrics[metricKey(athleteID, day)]
	if !ok {
		return nil, nil
	}
	return &metric, nil
}

func (m *memoryRepo) UpsertDailyMetric(ctx context.Context, metric DailyMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failUpsert[DateKey(metric.Date)]; ok {
		return err
	}
	m.upserts++
	m.metrics[metricKey(metric.AthleteID, metric.Date)] = metric
	return nil
}

func (m *memoryRepo) LatestDailyMetric(ctx context.Context, athleteID string) (*DailyMetric, error) {
	metrics, _ := m.ListDailyMetrics(ctx, athleteID, time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
	if len(metrics) == 0 {
		return nil, nil
	}
	latest := metrics[len(metrics)-1]
	return &latest, nil
}

func (m *memoryRepo) ListDailyMetrics(ctx context.Context, athleteID string, from, to time.Time) ([]DailyMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DailyMetric
	for _, metric := range m.metrics {
		if metric.AthleteID != athleteID || metric.Date.Before(from) || metric.Date.After(to) {
			continue
		}
		out = append(out, metric)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memoryRepo) ActivitiesSince(ctx context.Context, athleteID string, since time.Time) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failActivities != nil {
		return nil, m.failActivities
	}
	var out []Activity
	for _, a := range m.activities {
		if a.AthleteID == athleteID && !a.StartTime.Before(since) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memoryRepo) FindByIdempotency(ctx context.Context, athleteID, idempotencyKey string) (*Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *memoryRepo) CreateActivity(ctx context.Context, activity Activity, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, activity)
	if idempotencyKey != "" {
		m.idempotency[activity.AthleteID+"|"+idempotencyKey] = activity.ID
	}
	return nil
}

func (m *memoryRepo) AthleteProfile(ctx context.Context, athleteID string) (AthleteProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failProfile != nil {
		return AthleteProfile{}, m.failProfile
	}
	profile, ok := m.profiles[athleteID]
	if !ok {
		return AthleteProfile{AthleteID: athleteID}, nil
	}
	return profile, nil
}

type lockingRepo struct {
	*memoryRepo
}

func (l lockingRepo) LockAthlete(ctx context.Context, athleteID string) (func(), error) {
	l.mu.Lock()
	l.locks++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.unlocks++
		l.mu.Unlock()
	}, nil
}

type recordingInsights struct {
	calls   int
	athlete string
	latest  DailyMetric
	recent  []Activity
	err     error
}

func (r *recordingInsights) RequestInsight(ctx context.Context, athleteID string, latest DailyMetric, recent []Activity) error {
	r.calls++
	r.athlete = athleteID
	r.latest = latest
	r.recent = recent
	return r.err
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func float(v float64) *float64 { return &v }
