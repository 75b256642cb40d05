package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ropacal-forecast/internal/logger"
	"ropacal-forecast/internal/models"
)

// BinState is the position of a bin in a refresh pass.
type BinState string

const (
	StateEligible          BinState = "eligible"
	StateFeaturesExtracted BinState = "features_extracted"
	StatePredicted         BinState = "predicted"
	StatePersisted         BinState = "persisted"
	StateSkipped           BinState = "skipped"
	StateFailed            BinState = "failed"
)

// Skip and failure reasons reported in BinOutcome.Reason.
const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonTimestampMissing    = "timestamp_missing"
	ReasonUpToDate            = "up_to_date"
	ReasonCyclePersisted      = "cycle_already_persisted"
	ReasonModelUnavailable    = "model_unavailable"
	ReasonModelMalformed      = "model_malformed"
	ReasonPersistence         = "persistence"
	ReasonCancelled           = "cancelled"
	ReasonInternal            = "internal"
)

// DefaultConcurrency bounds simultaneous model calls.
const DefaultConcurrency = 8

// GrowthPrediction is the model answer for one bin.
type GrowthPrediction struct {
	Growth       float64
	ModelVersion string
}

// Predictor calls the external growth-prediction model.
type Predictor interface {
	Predict(ctx context.Context, features CycleFeatures) (GrowthPrediction, error)
}

// PredictionAppender persists one prediction. It reports inserted=false
// without error when a prediction for the same cycle already exists.
type PredictionAppender interface {
	AppendPrediction(ctx context.Context, p models.FillLevelPrediction) (bool, error)
}

// Pinger is optionally implemented by the appender so the orchestrator can
// tell a dead store from isolated write errors.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Recorder observes outcomes, typically for metrics. RecordPass receives the
// error Refresh returns for the pass, nil when it completed.
type Recorder interface {
	RecordOutcome(o BinOutcome)
	RecordPass(r RefreshReport, err error)
}

// Notifier is told about every completed pass.
type Notifier interface {
	NotifyRefresh(r RefreshReport)
}

// BinOutcome is the terminal result for one bin.
type BinOutcome struct {
	BinID  string   `json:"bin_id"`
	State  BinState `json:"state"`
	Reason string   `json:"reason,omitempty"`
	Growth *float64 `json:"growth,omitempty"`
	Err    error    `json:"-"`
}

// Error returns the outcome error message, or "".
func (o BinOutcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// RefreshReport aggregates a pass.
type RefreshReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Refreshed  int          `json:"refreshed"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Outcomes   []BinOutcome `json:"outcomes"`
}

// Duration is the wall time of the pass.
func (r RefreshReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedOutcomes returns only the failed bins.
func (r RefreshReport) FailedOutcomes() []BinOutcome {
	var out []BinOutcome
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// Refresher drives a refresh pass over every bin of a history snapshot.
type Refresher struct {
	history     HistoryLoader
	predictor   Predictor
	writer      PredictionAppender
	recorder    Recorder
	notifier    Notifier
	log         logger.Logger
	concurrency int
	location    *time.Location
	filter      HistoryFilter
	now         func() time.Time

	mu      sync.Mutex
	running bool
	last    *RefreshReport
}

// Option configures a Refresher.
type Option func(*Refresher)

func WithConcurrency(n int) Option {
	return func(r *Refresher) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLocation sets the zone used to derive a cycle's calendar month.
func WithLocation(loc *time.Location) Option {
	return func(r *Refresher) {
		if loc != nil {
			r.location = loc
		}
	}
}

func WithRecorder(rec Recorder) Option      { return func(r *Refresher) { r.recorder = rec } }
func WithNotifier(n Notifier) Option        { return func(r *Refresher) { r.notifier = n } }
func WithLogger(l logger.Logger) Option     { return func(r *Refresher) { r.log = l } }
func WithFilter(f HistoryFilter) Option     { return func(r *Refresher) { r.filter = f } }
func WithClock(now func() time.Time) Option { return func(r *Refresher) { r.now = now } }

// NewRefresher wires the refresh pipeline.
func NewRefresher(history HistoryLoader, predictor Predictor, writer PredictionAppender, opts ...Option) *Refresher {
	r := &Refresher{
		history:     history,
		predictor:   predictor,
		writer:      writer,
		log:         logger.NopLogger{},
		concurrency: DefaultConcurrency,
		location:    time.UTC,
		filter:      HistoryFilter{Status: "active"},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh runs one pass. The report counts every bin; Refreshed is the number
// of bins whose new prediction was persisted. Per-bin failures never produce an
// error. An error is returned only when a pass is already running, the
// history cannot be loaded, or the store is unreachable.
func (r *Refresher) Refresh(ctx context.Context) (RefreshReport, error) {
	if !r.begin() {
		return RefreshReport{}, ErrRefreshInProgress
	}
	defer r.end()

	report := RefreshReport{RunID: uuid.NewString(), StartedAt: r.now()}
	r.log.Infof("[REFRESH-PREDICTIONS] Starting pass %s", report.RunID)

	hist, err := r.history.LoadHistory(ctx, r.filter)
	if err != nil {
		r.log.Errorf("[REFRESH-PREDICTIONS] Failed to load history: %v", err)
		err = fmt.Errorf("%w: load history: %w", ErrPersistenceUnavailable, err)
		report.FinishedAt = r.now()
		r.finish(report, err)
		return report, err
	}

	ids := hist.BinIDs()
	outcomes := make([]BinOutcome, len(ids))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcomes[i] = r.refreshBin(ctx, id, hist)
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = outcomes
	writeAttempts, writeFailures := 0, 0
	for _, o := range outcomes {
		switch o.State {
		case StatePersisted:
			report.Refreshed++
			writeAttempts++
		case StateSkipped:
			report.Skipped++
			if o.Reason == ReasonCyclePersisted {
				writeAttempts++
			}
		default:
			report.Failed++
			if o.Reason == ReasonPersistence {
				writeAttempts++
				writeFailures++
			}
		}
	}
	if writeFailures > 0 && writeFailures == writeAttempts && ctx.Err() == nil && !r.storeReachable(ctx) {
		r.log.Errorf("[REFRESH-PREDICTIONS] Pass %s: all %d writes failed and the store is unreachable", report.RunID, writeFailures)
		err = fmt.Errorf("%w: %d writes failed", ErrPersistenceUnavailable, writeFailures)
		report.FinishedAt = r.now()
		r.finish(report, err)
		return report, err
	}
	report.FinishedAt = r.now()
	r.finish(report, nil)

	r.log.Infof("[REFRESH-PREDICTIONS] Pass %s done in %s: %d refreshed, %d skipped, %d failed",
		report.RunID, report.Duration().Round(time.Millisecond), report.Refreshed, report.Skipped, report.Failed)

	if r.notifier != nil {
		r.notifier.NotifyRefresh(report)
	}
	return report, nil
}

// refreshBin walks a single bin through the state machine. It never returns
// an error; everything ends up in the outcome.
func (r *Refresher) refreshBin(ctx context.Context, binID string, hist History) (out BinOutcome) {
	out = BinOutcome{BinID: binID, State: StateEligible}
	defer func() {
		if rec := recover(); rec != nil {
			out.State = StateFailed
			out.Reason = ReasonInternal
			out.Err = fmt.Errorf("panic refreshing bin %s: %v", binID, rec)
		}
		r.logOutcome(out)
		if r.recorder != nil {
			r.recorder.RecordOutcome(out)
		}
	}()

	if err := ctx.Err(); err != nil {
		return out.fail(ReasonCancelled, err)
	}

	events := hist.Events[binID]
	features, err := ExtractFeatures(binID, events, r.location)
	switch {
	case errors.Is(err, ErrTimestampMissing):
		return out.skip(ReasonTimestampMissing, err)
	case err != nil:
		return out.skip(ReasonInsufficientHistory, err)
	}
	out.State = StateFeaturesExtracted

	if !NeedsRefresh(hist.LatestPrediction(binID), events[0]) {
		return out.skip(ReasonUpToDate, nil)
	}

	prediction, err := r.predictor.Predict(ctx, features)
	if err != nil {
		return out.fail(predictionReason(ctx, err), err)
	}
	out.State = StatePredicted
	growth := prediction.Growth
	out.Growth = &growth

	row := models.FillLevelPrediction{
		BinID:                binID,
		PredictedGrowth:      prediction.Growth,
		GeneratedAt:          r.now().Unix(),
		ModelVersion:         prediction.ModelVersion,
		CycleCollectedAt:     features.CollectedAt,
		CycleDurationDays:    features.CycleDurationDays,
		CycleStartMonth:      features.CycleStartMonth,
		FillAtLastCollection: features.FillAtLastCollection,
	}
	inserted, err := r.writer.AppendPrediction(ctx, row)
	if err != nil {
		if ctx.Err() != nil {
			return out.fail(ReasonCancelled, err)
		}
		return out.fail(ReasonPersistence, fmt.Errorf("%w: bin %s: %w", ErrPersistenceFailure, binID, err))
	}
	if !inserted {
		return out.skip(ReasonCyclePersisted, nil)
	}

	out.State = StatePersisted
	return out
}

// finish stores the report for LastReport and hands it to the recorder.
func (r *Refresher) finish(report RefreshReport, err error) {
	r.remember(report)
	if r.recorder != nil {
		r.recorder.RecordPass(report, err)
	}
}

func (r *Refresher) logOutcome(o BinOutcome) {
	switch o.State {
	case StateFailed:
		r.log.Warnf("[REFRESH-PREDICTIONS] Bin %s failed (%s): %v", o.BinID, o.Reason, o.Err)
	case StatePersisted:
		r.log.Debugw("prediction persisted", map[string]any{"bin_id": o.BinID, "growth": *o.Growth})
	default:
		r.log.Debugw("bin skipped", map[string]any{"bin_id": o.BinID, "reason": o.Reason})
	}
}

func (r *Refresher) storeReachable(ctx context.Context) bool {
	p, ok := r.writer.(Pinger)
	if !ok {
		return false
	}
	return p.Ping(ctx) == nil
}

func (r *Refresher) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Refresher) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Refresher) remember(report RefreshReport) {
	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()
}

// LastReport returns the report of the most recent finished pass.
func (r *Refresher) LastReport() (RefreshReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return RefreshReport{}, false
	}
	return *r.last, true
}

// Running reports whether a pass is in progress.
func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func predictionReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return ReasonCancelled
	case errors.Is(err, ErrPredictionMalformed):
		return ReasonModelMalformed
	default:
		return ReasonModelUnavailable
	}
}

func (o BinOutcome) skip(reason string, err error) BinOutcome {
	o.State = StateSkipped
	o.Reason = reason
	o.Err = err
	return o
}

func (o BinOutcome) fail(reason string, err error) BinOutcome {
	o.State = StateFailed
	o.Reason = reason
	o.Err = err
	return o
}
