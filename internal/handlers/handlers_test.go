package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/logger"
	"ropacal-forecast/internal/models"
	"ropacal-forecast/internal/services/growthmodel"
)

var fixedNow = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fakeHistory struct {
	hist       forecast.History
	err        error
	lastFilter forecast.HistoryFilter
}

func (f *fakeHistory) LoadHistory(_ context.Context, filter forecast.HistoryFilter) (forecast.History, error) {
	f.lastFilter = filter
	return f.hist, f.err
}

func daysAgo(d float64) int64 {
	return fixedNow.Add(-time.Duration(d * 24 * float64(time.Hour))).Unix()
}

// addBin registers a bin whose last collection was `elapsed` days ago at
// `fill` percent, with the given predicted growth.
func addBin(h *forecast.History, id string, number int, fill int, elapsed, growth float64) {
	collected := daysAgo(elapsed)
	h.Bins[id] = models.Bin{ID: id, BinNumber: number, Status: "active"}
	h.Events[id] = []models.CollectionEvent{{BinID: id, CollectedAt: &collected, FillPercentage: fill}}
	h.Predictions[id] = models.FillLevelPrediction{BinID: id, PredictedGrowth: growth, GeneratedAt: collected + 60, CycleCollectedAt: collected}
}

func sampleHistory() forecast.History {
	h := forecast.History{
		Bins:        map[string]models.Bin{},
		Events:      map[string][]models.CollectionEvent{},
		Predictions: map[string]models.FillLevelPrediction{},
	}
	addBin(&h, "a", 1, 70, 2, 5)  // 80 -> due
	addBin(&h, "b", 2, 40, 1, 10) // 50 -> 3 days
	addBin(&h, "c", 3, 60, 1, -1) // 59 -> undetermined
	addBin(&h, "d", 4, 10, 1, 1)  // 11 -> 69 days
	return h
}

func getPriorities(t *testing.T, h *fakeHistory, query string) (*httptest.ResponseRecorder, []models.BinPriority) {
	t.Helper()
	handler := GetBinPriorities(h, forecast.NewScorer(80, forecast.BaselineLastObserved), fixedClock, logger.NopLogger{})
	req := httptest.NewRequest(http.MethodGet, "/api/bins/priority"+query, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var rows []models.BinPriority
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	}
	return rec, rows
}

func binIDs(rows []models.BinPriority) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.BinID
	}
	return ids
}

func TestGetBinPrioritiesDefaultsToUrgency(t *testing.T) {
	h := &fakeHistory{hist: sampleHistory()}
	rec, rows := getPriorities(t, h, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", h.lastFilter.Status)
	assert.Equal(t, []string{"a", "b", "d", "c"}, binIDs(rows))

	require.NotNil(t, rows[0].DaysToThreshold)
	assert.Equal(t, 0, *rows[0].DaysToThreshold)
	assert.Equal(t, models.ForecastDue, rows[0].Forecast)
	require.NotNil(t, rows[1].DaysToThreshold)
	assert.Equal(t, 3, *rows[1].DaysToThreshold)
	assert.Nil(t, rows[3].DaysToThreshold)
	assert.Equal(t, models.ForecastUndetermined, rows[3].Forecast)
}

func TestGetBinPrioritiesFiltersAndSorts(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"?filter=due", []string{"a"}},
		{"?filter=undetermined", []string{"c"}},
		{"?sort=fill", []string{"a", "c", "b", "d"}},
		{"?sort=bin_number&limit=2", []string{"a", "b"}},
		{"?limit=1", []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, rows := getPriorities(t, &fakeHistory{hist: sampleHistory()}, tt.query)
			assert.Equal(t, tt.want, binIDs(rows))
		})
	}
}

func TestGetBinPrioritiesStaleFilter(t *testing.T) {
	hist := sampleHistory()
	newer := daysAgo(0.5)
	hist.Events["b"] = append([]models.CollectionEvent{{BinID: "b", CollectedAt: &newer, FillPercentage: 5}}, hist.Events["b"]...)

	_, rows := getPriorities(t, &fakeHistory{hist: hist}, "?filter=stale")
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].BinID)
	assert.True(t, rows[0].Stale)
}

func TestGetBinPrioritiesStatusAll(t *testing.T) {
	h := &fakeHistory{hist: sampleHistory()}
	_, _ = getPriorities(t, h, "?status=all")
	assert.Equal(t, "all", h.lastFilter.Status)
}

func TestGetBinPrioritiesRejectsBadParams(t *testing.T) {
	for _, q := range []string{"?sort=priority", "?filter=full", "?limit=0", "?limit=abc"} {
		rec, _ := getPriorities(t, &fakeHistory{hist: sampleHistory()}, q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestGetBinPrioritiesUsesInjectedClock(t *testing.T) {
	// Two days later bin b (40 + 10/day) is at 70 instead of 50.
	later := func() time.Time { return fixedNow.Add(2 * 24 * time.Hour) }
	handler := GetBinPriorities(&fakeHistory{hist: sampleHistory()}, forecast.NewScorer(80, forecast.BaselineLastObserved), later, logger.NopLogger{})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/bins/priority?filter=all&sort=bin_number", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []models.BinPriority
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, "b", rows[1].BinID)
	assert.InDelta(t, 70, rows[1].EstimatedFill, 1e-9)
	require.NotNil(t, rows[1].DaysToThreshold)
	assert.Equal(t, 1, *rows[1].DaysToThreshold)
}

func TestGetBinPrioritiesHistoryError(t *testing.T) {
	rec, _ := getPriorities(t, &fakeHistory{err: errors.New("connection refused")}, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeStore struct {
	events      []models.CollectionEvent
	predictions []models.FillLevelPrediction
	err         error
	lastBin     string
	lastLimit   uint64
}

func (f *fakeStore) CollectionEvents(_ context.Context, binID string) ([]models.CollectionEvent, error) {
	f.lastBin = binID
	return f.events, f.err
}

func (f *fakeStore) PredictionHistory(_ context.Context, binID string, limit uint64) ([]models.FillLevelPrediction, error) {
	f.lastBin = binID
	f.lastLimit = limit
	return f.predictions, f.err
}

func serveRoute(pattern, target string, h http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get(pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetCollectionEvents(t *testing.T) {
	collected := int64(1_717_000_000)
	store := &fakeStore{events: []models.CollectionEvent{
		{ID: 2, BinID: "bin-12", CollectedAt: &collected, FillPercentage: 70},
		{ID: 1, BinID: "bin-12", FillPercentage: 40},
	}}

	rec := serveRoute("/api/bins/{id}/collections", "/api/bins/bin-12/collections", GetCollectionEvents(store, logger.NopLogger{}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bin-12", store.lastBin)

	var body []models.CollectionEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	require.NotNil(t, body[0].CollectedOnIso)
	assert.Equal(t, "2024-05-29T16:26:40Z", *body[0].CollectedOnIso)
	assert.Nil(t, body[1].CollectedOnIso)
}

func TestGetBinPredictions(t *testing.T) {
	store := &fakeStore{predictions: []models.FillLevelPrediction{
		{BinID: "bin-12", PredictedGrowth: 5, ModelVersion: "growth-v1", GeneratedAt: 1_717_000_100, CycleCollectedAt: 1_717_000_000},
	}}

	rec := serveRoute("/api/bins/{id}/predictions", "/api/bins/bin-12/predictions?limit=5", GetBinPredictions(store, logger.NopLogger{}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(5), store.lastLimit)

	var body []models.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, 5.0, body[0].PredictedGrowth)
	assert.Equal(t, "growth-v1", body[0].ModelVersion)

	rec = serveRoute("/api/bins/{id}/predictions", "/api/bins/bin-12/predictions?limit=-1", GetBinPredictions(store, logger.NopLogger{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.err = errors.New("boom")
	rec = serveRoute("/api/bins/{id}/predictions", "/api/bins/bin-12/predictions", GetBinPredictions(store, logger.NopLogger{}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeRunner struct {
	report forecast.RefreshReport
	err    error
	ctxErr error
}

func (f *fakeRunner) Refresh(ctx context.Context) (forecast.RefreshReport, error) {
	f.ctxErr = ctx.Err()
	return f.report, f.err
}

func postRefresh(runner PassRunner) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/manager/predictions/refresh", nil)
	RefreshPredictions(runner, time.Minute, logger.NopLogger{})(rec, req)
	return rec
}

func TestRefreshPredictionsReportsCounts(t *testing.T) {
	runner := &fakeRunner{report: forecast.RefreshReport{
		RunID:     "run-1",
		Refreshed: 19,
		Failed:    1,
		Outcomes: []forecast.BinOutcome{
			{BinID: "7", State: forecast.StateFailed, Reason: forecast.ReasonModelUnavailable, Err: fmt.Errorf("%w: 503", forecast.ErrPredictionUnavailable)},
		},
	}}

	rec := postRefresh(runner)
	require.Equal(t, http.StatusOK, rec.Code)

	var body RefreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 19, body.Refreshed)
	assert.Equal(t, 1, body.Failed)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, "7", body.Failures[0].BinID)
	assert.Equal(t, forecast.ReasonModelUnavailable, body.Failures[0].Reason)
}

func TestRefreshPredictionsErrors(t *testing.T) {
	rec := postRefresh(&fakeRunner{err: forecast.ErrRefreshInProgress})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = postRefresh(&fakeRunner{err: fmt.Errorf("%w: 20 writes failed", forecast.ErrPersistenceUnavailable)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefreshPredictionsSurvivesClientDisconnect(t *testing.T) {
	runner := &fakeRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/manager/predictions/refresh", nil).WithContext(ctx)
	RefreshPredictions(runner, time.Minute, logger.NopLogger{})(httptest.NewRecorder(), req)
	assert.NoError(t, runner.ctxErr)
}

func TestGetPredictionSummary(t *testing.T) {
	hist := sampleHistory()
	delete(hist.Predictions, "d")
	h := &fakeHistory{hist: hist}

	rec := httptest.NewRecorder()
	GetPredictionSummary(h, logger.NopLogger{})(rec, httptest.NewRequest(http.MethodGet, "/api/manager/predictions/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var s GrowthSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 14.0/3.0, s.Mean, 1e-9)
	assert.InDelta(t, -1.0, s.Min, 1e-9)
	assert.InDelta(t, 10.0, s.Max, 1e-9)
	assert.InDelta(t, 5.0, s.Median, 1e-9)
	assert.Greater(t, s.StdDev, 0.0)
}

func TestSummarizeGrowthEdgeCases(t *testing.T) {
	empty := forecast.History{Predictions: map[string]models.FillLevelPrediction{}}
	assert.Equal(t, GrowthSummary{}, summarizeGrowth(empty))

	one := forecast.History{Predictions: map[string]models.FillLevelPrediction{"a": {PredictedGrowth: 2.5}}}
	s := summarizeGrowth(one)
	assert.Equal(t, 1, s.Count)
	assert.InDelta(t, 2.5, s.Median, 1e-9)
	assert.Zero(t, s.StdDev)
}

type fakePasses struct {
	report *forecast.RefreshReport
}

func (f fakePasses) LastReport() (forecast.RefreshReport, bool) {
	if f.report == nil {
		return forecast.RefreshReport{}, false
	}
	return *f.report, true
}

func (fakePasses) Running() bool { return false }

type fakeCache struct{}

func (fakeCache) Stats() growthmodel.CacheStats { return growthmodel.CacheStats{Hits: 3, Misses: 1} }

type fakeClients int

func (f fakeClients) ClientCount() int { return int(f) }

func TestGetDiagnostics(t *testing.T) {
	report := forecast.RefreshReport{RunID: "run-9", StartedAt: fixedNow, FinishedAt: fixedNow.Add(2 * time.Second), Refreshed: 4}

	rec := httptest.NewRecorder()
	GetDiagnostics(fakePasses{report: &report}, fakeCache{}, fakeClients(2))(rec, httptest.NewRequest(http.MethodGet, "/api/manager/diagnostics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var d Diagnostics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.NotNil(t, d.LastPass)
	assert.Equal(t, "run-9", d.LastPass.RunID)
	assert.InDelta(t, 2.0, d.LastPass.DurationSecs, 1e-9)
	require.NotNil(t, d.ModelCache)
	assert.Equal(t, int64(3), d.ModelCache.Hits)
	assert.Equal(t, 2, d.DashboardClients)

	rec = httptest.NewRecorder()
	GetDiagnostics(fakePasses{}, nil, fakeClients(0))(rec, httptest.NewRequest(http.MethodGet, "/api/manager/diagnostics", nil))
	var empty Diagnostics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Nil(t, empty.LastPass)
	assert.Nil(t, empty.ModelCache)
	assert.Zero(t, empty.DashboardClients)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(fakePinger{})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Health(fakePinger{err: errors.New("down")})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
