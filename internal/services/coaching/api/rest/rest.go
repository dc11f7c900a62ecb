// Package rest exposes the coaching session contract over HTTP-JSON: session
// lifecycle, the three event ingestion endpoints, derived summaries, cohort
// stats, and the websocket feedback stream. Handlers validate wire input and
// delegate every decision to the manager and recorder; no cohort or
// compliance logic lives here.
package rest

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/louisbranch/outtake.studio/internal/platform/httpx"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/grant"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/manager"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/recorder"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/stream"
)

const (
	defaultEventRate  = 25
	defaultEventBurst = 50
)

// Config defines startup inputs for the coaching HTTP surface.
type Config struct {
	Manager  *manager.Manager
	Recorder *recorder.Recorder
	Store    storage.Store
	Hub      *stream.Hub

	// Signer mints stream grants embedded in create responses. Zero value
	// with SignerEnabled false leaves create responses grant-free.
	Signer        grant.SignerConfig
	SignerEnabled bool
	// Verifier gates stream attachments. Zero value with VerifierEnabled
	// false admits any subscriber, the dev-mode posture.
	Verifier        grant.VerifierConfig
	VerifierEnabled bool

	// EventsPerSecond and EventBurst bound per-session event ingestion.
	// Zero selects the defaults; a negative rate disables limiting.
	EventsPerSecond float64
	EventBurst      int

	Now func() time.Time
}

func (cfg Config) withDefaults() Config {
	if cfg.EventsPerSecond == 0 {
		cfg.EventsPerSecond = defaultEventRate
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = defaultEventBurst
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// API wires the coaching handlers into one HTTP surface.
type API struct {
	handlers handlers
}

// New validates config and constructs the API.
func New(cfg Config) (*API, error) {
	cfg = cfg.withDefaults()
	if cfg.Manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("event recorder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	var limits *sessionLimits
	if cfg.EventsPerSecond > 0 {
		limits = newSessionLimits(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst)
	}
	return &API{handlers: handlers{
		manager:    cfg.Manager,
		recorder:   cfg.Recorder,
		store:      cfg.Store,
		hub:        cfg.Hub,
		signer:     cfg.Signer,
		signerOn:   cfg.SignerEnabled,
		verifier:   cfg.Verifier,
		verifierOn: cfg.VerifierEnabled,
		limits:     limits,
		now:        cfg.Now,
	}}, nil
}

// Handler returns the routed coaching surface with the shared middleware
// applied.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, a.handlers)
	return httpx.Chain(mux,
		httpx.RecoverPanic(),
		httpx.RequestID(),
		httpx.Trace("coaching"),
		httpx.LogRequests(),
	)
}

type handlers struct {
	manager    *manager.Manager
	recorder   *recorder.Recorder
	store      storage.Store
	hub        *stream.Hub
	signer     grant.SignerConfig
	signerOn   bool
	verifier   grant.VerifierConfig
	verifierOn bool
	limits     *sessionLimits
	now        func() time.Time
}

// limited wraps an event-ingestion handler with the per-session rate gate.
func (h handlers) limited(fn http.HandlerFunc) http.Handler {
	if h.limits == nil {
		return fn
	}
	return httpx.Chain(fn, httpx.RateLimit(h.limits.limiterFor))
}

// sessionLimits hands out one token bucket per session so a chatty session
// cannot starve the others. Buckets are dropped when the session ends.
type sessionLimits struct {
	rate  rate.Limit
	burst int

	mu   sync.Mutex
	byID map[string]*rate.Limiter
}

func newSessionLimits(r rate.Limit, burst int) *sessionLimits {
	return &sessionLimits{rate: r, burst: burst, byID: make(map[string]*rate.Limiter)}
}

func (l *sessionLimits) limiterFor(r *http.Request) *rate.Limiter {
	if l == nil || r == nil {
		return nil
	}
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if sessionID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.byID[sessionID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.byID[sessionID] = limiter
	}
	return limiter
}

func (l *sessionLimits) forget(sessionID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, sessionID)
}
