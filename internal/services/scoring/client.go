// Package scoring is a typed client for the external scoring and decision
// engine: quick scores, grade lookups, Kelly sizing, and Monte-Carlo
// simulation. The coaching service never calls it; analysis stays pure. The
// scenario runner submits non-holdout cohort summaries after a run.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/outtake.studio/internal/platform/timeouts"
)

const tracerName = "scoring"

// Config tunes the scoring client.
type Config struct {
	// BaseURL is the scoring service root, without a trailing slash.
	BaseURL string
	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client
	// RetryInitialInterval seeds the backoff between attempts.
	RetryInitialInterval time.Duration
	// RetryMaxTries caps attempts per request, first try included.
	RetryMaxTries uint
}

func (cfg Config) withDefaults() Config {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: timeouts.ScoringRequest,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: timeouts.ScoringDial}).DialContext,
			},
		}
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 250 * time.Millisecond
	}
	if cfg.RetryMaxTries == 0 {
		cfg.RetryMaxTries = 3
	}
	return cfg
}

// Client calls the scoring service over REST.
type Client struct {
	cfg Config
}

// New builds a scoring client.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scoring base url is required")
	}
	return &Client{cfg: cfg.withDefaults()}, nil
}

// QuickScoreRequest asks for a fast score of one pattern's metrics.
type QuickScoreRequest struct {
	PatternID string             `json:"pattern_id"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// QuickScoreResult is the scored pattern.
type QuickScoreResult struct {
	Score float64 `json:"score"`
	Band  string  `json:"band,omitempty"`
}

// QuickScore scores a pattern's current metrics.
func (c *Client) QuickScore(ctx context.Context, req QuickScoreRequest) (QuickScoreResult, error) {
	req.PatternID = strings.TrimSpace(req.PatternID)
	if req.PatternID == "" {
		return QuickScoreResult{}, fmt.Errorf("pattern id is required")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scoring.QuickScore",
		trace.WithAttributes(attribute.String("pattern_id", req.PatternID)),
	)
	defer span.End()

	var result QuickScoreResult
	if err := c.postJSON(ctx, "/v1/quick-score", req, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quick score failed")
		return QuickScoreResult{}, err
	}
	return result, nil
}

// GradeResult is the engine's letter grade for one pattern.
type GradeResult struct {
	PatternID  string  `json:"pattern_id"`
	Grade      string  `json:"grade"`
	Percentile float64 `json:"percentile"`
}

// Grade looks up a pattern's grade.
func (c *Client) Grade(ctx context.Context, patternID string) (GradeResult, error) {
	patternID = strings.TrimSpace(patternID)
	if patternID == "" {
		return GradeResult{}, fmt.Errorf("pattern id is required")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scoring.Grade",
		trace.WithAttributes(attribute.String("pattern_id", patternID)),
	)
	defer span.End()

	var result GradeResult
	if err := c.getJSON(ctx, "/v1/grades/"+url.PathEscape(patternID), &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade lookup failed")
		return GradeResult{}, err
	}
	return result, nil
}

// KellySizeRequest asks for a position size under the Kelly criterion.
type KellySizeRequest struct {
	WinProbability float64 `json:"win_probability"`
	WinLossRatio   float64 `json:"win_loss_ratio"`
	Bankroll       float64 `json:"bankroll"`
}

// KellySizeResult is the sized position.
type KellySizeResult struct {
	Fraction float64 `json:"fraction"`
	Stake    float64 `json:"stake"`
}

// KellySize sizes a position from win odds and bankroll.
func (c *Client) KellySize(ctx context.Context, req KellySizeRequest) (KellySizeResult, error) {
	if req.WinProbability < 0 || req.WinProbability > 1 {
		return KellySizeResult{}, fmt.Errorf("win probability must be within [0,1]")
	}
	if req.WinLossRatio <= 0 {
		return KellySizeResult{}, fmt.Errorf("win loss ratio must be positive")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scoring.KellySize")
	defer span.End()

	var result KellySizeResult
	if err := c.postJSON(ctx, "/v1/kelly-size", req, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kelly sizing failed")
		return KellySizeResult{}, err
	}
	return result, nil
}

// SimulateRequest asks for a Monte-Carlo run over a pattern's realized
// coaching rates.
type SimulateRequest struct {
	PatternID    string  `json:"pattern_id"`
	Trials       int     `json:"trials"`
	JoinRate     float64 `json:"join_rate"`
	UnknownRate  float64 `json:"unknown_rate"`
	NegativeRate float64 `json:"negative_rate"`
}

// SimulateResult summarizes the simulated score distribution.
type SimulateResult struct {
	Trials    int     `json:"trials"`
	MeanScore float64 `json:"mean_score"`
	P05       float64 `json:"p05"`
	P95       float64 `json:"p95"`
}

// Simulate runs a Monte-Carlo simulation on the engine.
func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (SimulateResult, error) {
	req.PatternID = strings.TrimSpace(req.PatternID)
	if req.PatternID == "" {
		return SimulateResult{}, fmt.Errorf("pattern id is required")
	}
	if req.Trials <= 0 {
		return SimulateResult{}, fmt.Errorf("trials must be positive")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scoring.Simulate",
		trace.WithAttributes(
			attribute.String("pattern_id", req.PatternID),
			attribute.Int("trials", req.Trials),
		),
	)
	defer span.End()

	var result SimulateResult
	if err := c.postJSON(ctx, "/v1/simulate", req, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "simulation failed")
		return SimulateResult{}, err
	}
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode scoring request: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// doJSON performs one request with exponential backoff. Transport failures
// and 5xx responses retry; other failures are permanent.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	operation := func() (struct{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("build scoring request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("scoring request failed: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			msg, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
			if readErr != nil {
				msg = nil
			}
			err := fmt.Errorf("scoring request status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
			if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}

		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("decode scoring response: %w", err))
		}
		return struct{}{}, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.RetryInitialInterval
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.cfg.RetryMaxTries),
	)
	return err
}
