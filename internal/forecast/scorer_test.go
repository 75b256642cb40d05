package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropacal-forecast/internal/models"
)

var scoreNow = time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)

func daysAgo(d float64) *int64 {
	return ts(scoreNow.Add(-time.Duration(d * float64(24*time.Hour))))
}

func prediction(growth float64, generatedAt int64) *models.FillLevelPrediction {
	return &models.FillLevelPrediction{PredictedGrowth: growth, GeneratedAt: generatedAt, ModelVersion: "growth-v1"}
}

func TestScoreBin12Scenarios(t *testing.T) {
	s := NewScorer(80, BaselineLastObserved)

	tests := []struct {
		name     string
		elapsed  float64
		wantFill float64
		wantDays int
		want     models.ForecastStatus
	}{
		{name: "three days elapsed is due", elapsed: 3, wantFill: 85, wantDays: 0, want: models.ForecastDue},
		{name: "one day elapsed", elapsed: 1, wantFill: 75, wantDays: 1, want: models.ForecastScheduled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := event("12", daysAgo(tt.elapsed), 70)
			p, ok := s.Score("12", prediction(5.0, *last.CollectedAt), &last, scoreNow)
			require.True(t, ok)
			assert.InDelta(t, tt.wantFill, p.EstimatedFill, 1e-9)
			require.NotNil(t, p.DaysToThreshold)
			assert.Equal(t, tt.wantDays, *p.DaysToThreshold)
			assert.Equal(t, tt.want, p.Forecast)
			assert.False(t, p.Stale)
		})
	}
}

func TestScoreZeroBaseline(t *testing.T) {
	s := NewScorer(80, BaselineZero)
	last := event("12", daysAgo(3), 70)

	p, ok := s.Score("12", prediction(5, 0), &last, scoreNow)
	require.True(t, ok)
	assert.InDelta(t, 15, p.EstimatedFill, 1e-9)
	require.NotNil(t, p.DaysToThreshold)
	assert.Equal(t, 13, *p.DaysToThreshold)
}

func TestScorePositiveGrowthProperty(t *testing.T) {
	s := NewScorer(80, BaselineZero)
	for _, g := range []float64{0.01, 0.5, 1, 3.3, 7, 12.5, 40, 150} {
		for _, d := range []float64{0, 0.25, 1, 2.5, 6, 10, 30} {
			last := event("b", daysAgo(d), 0)
			p, ok := s.Score("b", prediction(g, 0), &last, scoreNow)
			require.True(t, ok)

			want := math.Max(0, math.Min(100, g*d))
			assert.InDelta(t, want, p.EstimatedFill, 1e-6, "g=%v d=%v", g, d)
			require.NotNil(t, p.DaysToThreshold)
			if p.EstimatedFill >= 80 {
				assert.Equal(t, 0, *p.DaysToThreshold)
				continue
			}
			assert.GreaterOrEqual(t, *p.DaysToThreshold, 1, "g=%v d=%v", g, d)
			assert.Equal(t, int(math.Ceil((80-p.EstimatedFill)/g)), *p.DaysToThreshold)
		}
	}
}

func TestScoreNonPositiveGrowthIsUndetermined(t *testing.T) {
	s := NewScorer(80, BaselineLastObserved)
	for _, g := range []float64{0, -0.5, -20} {
		last := event("b", daysAgo(4), 30)
		p, ok := s.Score("b", prediction(g, 0), &last, scoreNow)
		require.True(t, ok)
		assert.Nil(t, p.DaysToThreshold, "g=%v", g)
		assert.Equal(t, models.ForecastUndetermined, p.Forecast)
		assert.True(t, p.Undetermined())
		assert.GreaterOrEqual(t, p.EstimatedFill, 0.0)
	}
}

func TestScoreNonPositiveGrowthAboveThresholdIsDue(t *testing.T) {
	s := NewScorer(80, BaselineLastObserved)
	last := event("b", daysAgo(1), 95)

	p, ok := s.Score("b", prediction(-1, 0), &last, scoreNow)
	require.True(t, ok)
	require.NotNil(t, p.DaysToThreshold)
	assert.Equal(t, 0, *p.DaysToThreshold)
	assert.Equal(t, models.ForecastDue, p.Forecast)
}

func TestScoreClampsFill(t *testing.T) {
	s := NewScorer(80, BaselineLastObserved)
	last := event("b", daysAgo(30), 90)

	p, ok := s.Score("b", prediction(10, 0), &last, scoreNow)
	require.True(t, ok)
	assert.Equal(t, 100.0, p.EstimatedFill)
}

func TestScoreFutureCollectionCountsAsZeroElapsed(t *testing.T) {
	s := NewScorer(80, BaselineLastObserved)
	last := event("b", ts(scoreNow.Add(6*time.Hour)), 40)

	p, ok := s.Score("b", prediction(10, 0), &last, scoreNow)
	require.True(t, ok)
	assert.Equal(t, 0.0, p.DaysElapsed)
	assert.Equal(t, 40.0, p.EstimatedFill)
	assert.Equal(t, 4, *p.DaysToThreshold)
}

func TestScoreExcludesMissingInputs(t *testing.T) {
	s := NewScorer(80, BaselineLastObserved)
	last := event("b", daysAgo(1), 40)
	noTimestamp := event("b", nil, 40)

	_, ok := s.Score("b", nil, &last, scoreNow)
	assert.False(t, ok)
	_, ok = s.Score("b", prediction(2, 0), nil, scoreNow)
	assert.False(t, ok)
	_, ok = s.Score("b", prediction(2, 0), &noTimestamp, scoreNow)
	assert.False(t, ok)
}

func TestScoreMarksStalePrediction(t *testing.T) {
	s := NewScorer(80, BaselineLastObserved)
	last := event("b", daysAgo(1), 40)

	p, ok := s.Score("b", prediction(2, *last.CollectedAt-3600), &last, scoreNow)
	require.True(t, ok)
	assert.True(t, p.Stale)
}

func TestNewScorerDefaults(t *testing.T) {
	s := NewScorer(0, "")
	assert.Equal(t, DefaultThreshold, s.Threshold)
	assert.Equal(t, BaselineLastObserved, s.Baseline)

	s = NewScorer(150, "weird")
	assert.Equal(t, DefaultThreshold, s.Threshold)
	assert.Equal(t, BaselineLastObserved, s.Baseline)
}

func TestRankOrdersAndExcludes(t *testing.T) {
	h := History{
		Bins: map[string]models.Bin{
			"a": {ID: "a", BinNumber: 1},
			"b": {ID: "b", BinNumber: 2},
			"c": {ID: "c", BinNumber: 3},
			"d": {ID: "d", BinNumber: 4},
			"e": {ID: "e", BinNumber: 5},
		},
		Events: map[string][]models.CollectionEvent{
			"a": {event("a", daysAgo(1), 50)},                      // 55 -> 5 days
			"b": {event("b", daysAgo(2), 70)},                      // 90 -> due
			"c": {event("c", daysAgo(1), 10)},                      // growth 0 -> undetermined
			"d": {event("d", daysAgo(1), 10)},                      // no prediction
			"e": {event("e", nil, 10), event("e", daysAgo(3), 60)}, // newest has no timestamp
		},
		Predictions: map[string]models.FillLevelPrediction{
			"a": *prediction(5, 0),
			"b": *prediction(10, 0),
			"c": *prediction(0, 0),
			"e": *prediction(2, 0),
		},
	}

	rows := NewScorer(80, BaselineLastObserved).Rank(h, scoreNow)
	require.Len(t, rows, 3)

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.BinID
	}
	// b due (0), a 55 -> 5 days, c undetermined last
	assert.Equal(t, []string{"b", "a", "c"}, ids)
	assert.Equal(t, 2, rows[0].BinNumber)
	assert.True(t, rows[2].Undetermined())
}

func TestRankExcludesBinWhoseNewestCollectionHasNoTimestamp(t *testing.T) {
	emptied := event("12", nil, 70)
	emptied.CreatedAt = scoreNow.Add(-time.Hour).Unix()
	h := History{
		Bins: map[string]models.Bin{"12": {ID: "12", BinNumber: 12}},
		Events: map[string][]models.CollectionEvent{
			"12": {emptied, event("12", daysAgo(10), 40)},
		},
		Predictions: map[string]models.FillLevelPrediction{"12": *prediction(5, 0)},
	}

	assert.Nil(t, h.LastCollection("12"))
	assert.Nil(t, h.LastCollection("missing"))
	assert.Empty(t, NewScorer(80, BaselineLastObserved).Rank(h, scoreNow))
}

func TestSortHelpers(t *testing.T) {
	five, one := 5, 1
	rows := []models.BinPriority{
		{BinID: "x", BinNumber: 3, EstimatedFill: 20, DaysToThreshold: &five, Forecast: models.ForecastScheduled},
		{BinID: "y", BinNumber: 1, EstimatedFill: 60, Forecast: models.ForecastUndetermined},
		{BinID: "z", BinNumber: 2, EstimatedFill: 70, DaysToThreshold: &one, Forecast: models.ForecastScheduled},
	}

	SortByFill(rows)
	assert.Equal(t, "z", rows[0].BinID)
	assert.Equal(t, "x", rows[2].BinID)

	SortByBinNumber(rows)
	assert.Equal(t, "y", rows[0].BinID)

	SortByUrgency(rows)
	assert.Equal(t, []string{"z", "x", "y"}, []string{rows[0].BinID, rows[1].BinID, rows[2].BinID})
}
