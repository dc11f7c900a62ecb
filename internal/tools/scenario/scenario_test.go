package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Sessions = 24
	cfg.Seed = 7
	cfg.PatternID = "pattern-test"
	return cfg
}

func TestNewRunnerValidatesConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sessions", func(cfg *Config) { cfg.Sessions = 0 }},
		{"missing pattern", func(cfg *Config) { cfg.PatternID = "" }},
		{"unknown mode", func(cfg *Config) { cfg.Mode = "freestyle" }},
		{"bad control ratio", func(cfg *Config) { cfg.ControlRatio = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := NewRunner(cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestRunPartitionsCohort(t *testing.T) {
	cfg := testConfig()
	cfg.Sessions = 40
	cfg.ControlRatio = 0.5

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}

	if report.Sessions != 40 {
		t.Fatalf("sessions = %d, want 40", report.Sessions)
	}
	if got := report.Coached + report.Control + report.Degraded; got != 40 {
		t.Fatalf("cohort partition sums to %d, want 40", got)
	}
	if report.Degraded != 0 {
		t.Fatalf("degraded = %d, want 0 with a local cohort source", report.Degraded)
	}
	if report.Coached < 4 || report.Control < 4 {
		t.Fatalf("cohort split %d/%d too lopsided for ratio 0.5", report.Coached, report.Control)
	}
	if report.ControlRatio <= 0 || report.ControlRatio >= 1 {
		t.Fatalf("realized control ratio = %v", report.ControlRatio)
	}
}

func TestRunCoachedCohortGetsInterventions(t *testing.T) {
	cfg := testConfig()
	cfg.ControlRatio = 0

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}

	if report.Coached != int64(cfg.Sessions) {
		t.Fatalf("coached = %d, want %d", report.Coached, cfg.Sessions)
	}
	// Every take opens with a high-confidence hook violation, so each
	// coached session delivers at least one intervention.
	if report.InterventionsDelivered < int64(cfg.Sessions) {
		t.Fatalf("interventions = %d, want at least %d", report.InterventionsDelivered, cfg.Sessions)
	}
	if report.AvgJoinRate <= 0 {
		t.Fatalf("avg join rate = %v, want positive", report.AvgJoinRate)
	}
	if report.LogGaps != 0 {
		t.Fatalf("log gaps = %d, want 0", report.LogGaps)
	}
}

func TestRunControlCohortStaysSilent(t *testing.T) {
	cfg := testConfig()
	cfg.ControlRatio = 1

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}

	if report.Control != int64(cfg.Sessions) {
		t.Fatalf("control = %d, want %d", report.Control, cfg.Sessions)
	}
	if report.InterventionsDelivered != 0 {
		t.Fatalf("interventions = %d, want 0 for a pure control cohort", report.InterventionsDelivered)
	}
	if report.OutcomesObserved != 0 {
		t.Fatalf("outcomes = %d, want 0 for a pure control cohort", report.OutcomesObserved)
	}
	// Evaluations are still logged for every session.
	if report.TotalEvents < int64(cfg.Sessions)*3 {
		t.Fatalf("events = %d, want at least %d", report.TotalEvents, cfg.Sessions*3)
	}
}

func TestRunSeedIsDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.ControlRatio = 0.3

	first, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Coached != second.Coached || first.Control != second.Control {
		t.Fatalf("cohort split diverged: %d/%d vs %d/%d",
			first.Coached, first.Control, second.Coached, second.Control)
	}
	if first.TotalEvents != second.TotalEvents {
		t.Fatalf("event totals diverged: %d vs %d", first.TotalEvents, second.TotalEvents)
	}
}

func TestRunUsesConfiguredStorePath(t *testing.T) {
	cfg := testConfig()
	cfg.Sessions = 3
	cfg.DBPath = filepath.Join(t.TempDir(), "nested", "scenario.db")

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("run scenario: %v", err)
	}
}

func TestRunSubmitsMeasuredAggregate(t *testing.T) {
	type capturedRequest struct {
		path string
		body map[string]any
	}
	var (
		mu       sync.Mutex
		captured []capturedRequest
	)
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode scoring request: %v", err)
		}
		mu.Lock()
		captured = append(captured, capturedRequest{path: r.URL.Path, body: body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/quick-score":
			_, _ = w.Write([]byte(`{"score": 87.5, "band": "A"}`))
		case "/v1/simulate":
			_, _ = w.Write([]byte(`{"trials": 500, "mean_score": 80.1, "p05": 61.0, "p95": 94.2}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer engine.Close()

	cfg := testConfig()
	cfg.Sessions = 10
	cfg.ControlRatio = 0
	cfg.ScoringBaseURL = engine.URL
	cfg.ScoringTrials = 500

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}

	if report.Score == nil || report.Score.Score != 87.5 {
		t.Fatalf("score = %+v, want 87.5", report.Score)
	}
	if report.Simulation == nil || report.Simulation.Trials != 500 {
		t.Fatalf("simulation = %+v, want 500 trials", report.Simulation)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(captured) != 2 {
		t.Fatalf("scoring calls = %d, want 2", len(captured))
	}
	if captured[0].path != "/v1/quick-score" {
		t.Fatalf("first call path = %q", captured[0].path)
	}
	if got := captured[0].body["pattern_id"]; got != "pattern-test" {
		t.Fatalf("submitted pattern = %v", got)
	}
	metrics, ok := captured[0].body["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("metrics missing from quick score body: %v", captured[0].body)
	}
	if _, ok := metrics["join_rate"]; !ok {
		t.Fatalf("join rate missing from metrics: %v", metrics)
	}
	if captured[1].path != "/v1/simulate" {
		t.Fatalf("second call path = %q", captured[1].path)
	}
	if got, ok := captured[1].body["trials"].(float64); !ok || got != 500 {
		t.Fatalf("submitted trials = %v", captured[1].body["trials"])
	}
}

func TestRunRefusesToScoreAllHoldoutCohort(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("scoring engine was called for a holdout-only cohort: %s", r.URL.Path)
	}))
	defer engine.Close()

	cfg := testConfig()
	cfg.Sessions = 5
	cfg.HoldoutRatio = 1
	cfg.ScoringBaseURL = engine.URL

	_, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error scoring an all-holdout cohort")
	}
	if !strings.Contains(err.Error(), "no measured sessions") {
		t.Fatalf("error = %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	WriteReport(&buf, Report{
		Sessions:     10,
		Coached:      9,
		Control:      1,
		ControlRatio: 0.1,
		TotalEvents:  42,
	})

	out := buf.String()
	if !strings.Contains(out, "sessions: 10 (coached 9, control 1, holdout 0, degraded 0)") {
		t.Fatalf("report output missing session line:\n%s", out)
	}
	if !strings.Contains(out, "realized control ratio: 0.100") {
		t.Fatalf("report output missing ratio line:\n%s", out)
	}
	if strings.Contains(out, "quick score") {
		t.Fatalf("report output has score line without a score:\n%s", out)
	}
}
