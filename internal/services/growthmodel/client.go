package growthmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/logger"
)

// DefaultModelVersion is recorded when the model does not report a version.
const DefaultModelVersion = "growth-v1"

// Request outcomes passed to the latency observer.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
)

// maxResponseBytes bounds how much of a model response is read.
const maxResponseBytes = 1 << 20

// Client calls the external fill-growth model over HTTP.
type Client struct {
	httpClient     *http.Client
	endpoint       string
	apiKey         string
	defaultVersion string
	cache          *ResponseCache
	observe        func(outcome string, elapsed time.Duration)
	log            logger.Logger
}

// PredictRequest is the JSON body sent to the model.
type PredictRequest struct {
	BinID             string `json:"bin_id"`
	FillPercentage    int    `json:"fill_percentage"`
	CycleDurationDays int    `json:"cycle_duration_days"`
	CycleStartMonth   int    `json:"cycle_start_month"`
}

// PredictResponse is the JSON body returned by the model.
type PredictResponse struct {
	PredictedAvgDailyGrowth *float64 `json:"predicted_avg_daily_growth"`
	ModelVersion            string   `json:"model_version,omitempty"`
}

type Option func(*Client)

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = key } }

// WithDefaultVersion overrides DefaultModelVersion.
func WithDefaultVersion(v string) Option {
	return func(c *Client) {
		if strings.TrimSpace(v) != "" {
			c.defaultVersion = v
		}
	}
}

// WithCache serves repeated requests for the same cycle from cache.
func WithCache(cache *ResponseCache) Option { return func(c *Client) { c.cache = cache } }

// WithObserver receives the outcome and latency of every model call that
// reached the network.
func WithObserver(fn func(outcome string, elapsed time.Duration)) Option {
	return func(c *Client) { c.observe = fn }
}

func WithLogger(l logger.Logger) Option { return func(c *Client) { c.log = l } }

// NewClient builds a model client. The request timeout is taken from
// httpClient; a nil httpClient gets a 10 second timeout.
func NewClient(httpClient *http.Client, endpoint string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{
		httpClient:     httpClient,
		endpoint:       endpoint,
		defaultVersion: DefaultModelVersion,
		observe:        func(string, time.Duration) {},
		log:            logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict asks the model for the average daily fill growth of the cycle
// described by f.
func (c *Client) Predict(ctx context.Context, f forecast.CycleFeatures) (forecast.GrowthPrediction, error) {
	key := CacheKey(f)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			c.log.Debugf("📦 Model cache HIT for bin %s cycle %d", f.BinID, f.CollectedAt)
			return cached, nil
		}
	}

	start := time.Now()
	prediction, err := c.call(ctx, f)
	c.observe(outcomeOf(err), time.Since(start))
	if err != nil {
		return forecast.GrowthPrediction{}, err
	}

	if c.cache != nil {
		c.cache.Set(key, prediction)
	}
	return prediction, nil
}

func (c *Client) call(ctx context.Context, f forecast.CycleFeatures) (forecast.GrowthPrediction, error) {
	body, err := json.Marshal(PredictRequest{
		BinID:             f.BinID,
		FillPercentage:    f.FillAtLastCollection,
		CycleDurationDays: f.CycleDurationDays,
		CycleStartMonth:   f.CycleStartMonth,
	})
	if err != nil {
		return forecast.GrowthPrediction{}, fmt.Errorf("%w: encode request: %w", forecast.ErrPredictionUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return forecast.GrowthPrediction{}, fmt.Errorf("%w: build request: %w", forecast.ErrPredictionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return forecast.GrowthPrediction{}, fmt.Errorf("%w: bin %s: %w", forecast.ErrPredictionUnavailable, f.BinID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return forecast.GrowthPrediction{}, fmt.Errorf("%w: bin %s: model returned status %d: %s",
			forecast.ErrPredictionUnavailable, f.BinID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out PredictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return forecast.GrowthPrediction{}, fmt.Errorf("%w: bin %s: %w", forecast.ErrPredictionUnavailable, f.BinID, ctx.Err())
		}
		return forecast.GrowthPrediction{}, fmt.Errorf("%w: bin %s: decode response: %w", forecast.ErrPredictionMalformed, f.BinID, err)
	}
	if out.PredictedAvgDailyGrowth == nil {
		return forecast.GrowthPrediction{}, fmt.Errorf("%w: bin %s: response has no predicted_avg_daily_growth", forecast.ErrPredictionMalformed, f.BinID)
	}
	growth := *out.PredictedAvgDailyGrowth
	if math.IsNaN(growth) || math.IsInf(growth, 0) {
		return forecast.GrowthPrediction{}, fmt.Errorf("%w: bin %s: growth is not finite", forecast.ErrPredictionMalformed, f.BinID)
	}

	version := strings.TrimSpace(out.ModelVersion)
	if version == "" {
		version = c.defaultVersion
	}

	return forecast.GrowthPrediction{Growth: growth, ModelVersion: version}, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, forecast.ErrPredictionMalformed):
		return OutcomeMalformed
	default:
		return OutcomeUnavailable
	}
}
