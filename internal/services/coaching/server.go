// Package coaching hosts the guided filming coach: session lifecycle with
// one-shot cohort assignment, checklist rule ingestion, selective feedback
// delivery to the coached group, and the derived summary and stats reads.
package coaching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/outtake.studio/internal/platform/timeouts"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/api/rest"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/capture"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/grant"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/manager"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/recorder"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage/sqlite"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/stream"
)

const defaultDBPath = "data/coaching.db"

// Config defines startup inputs for the coaching service.
type Config struct {
	HTTPAddr        string
	DBPath          string
	ControlRatio    float64
	HoldoutRatio    float64
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	EventsPerSecond float64
	EventBurst      int
	Now             func() time.Time
}

// Server hosts the coaching HTTP surface and lifecycle.
type Server struct {
	httpAddr   string
	httpServer *http.Server
	store      *sqlite.Store
	hub        *stream.Hub
	manager    *manager.Manager
}

// NewServer validates config and wires the coaching service together. Stream
// grant keys are read from the environment; absent keys leave the stream
// ungated, the dev-mode posture.
func NewServer(_ context.Context, cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	dbPath := strings.TrimSpace(cfg.DBPath)
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	store, err := openCoachingStore(dbPath)
	if err != nil {
		return nil, err
	}

	registry, err := rule.DefaultRegistry()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load rule catalog: %w", err)
	}

	cohorts, err := session.NewRatioSource(cfg.ControlRatio, cfg.HoldoutRatio, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	signer, signerEnabled, err := grant.LoadSignerConfigFromEnv(cfg.Now)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load stream grant signer: %w", err)
	}
	verifier, verifierEnabled, err := grant.LoadVerifierConfigFromEnv(cfg.Now)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load stream grant verifier: %w", err)
	}

	hub := stream.NewHub()
	mgr := manager.New(store, registry, cohorts, capture.NewRegistry(), hub, manager.Config{
		SessionTTL:    cfg.SessionTTL,
		SweepInterval: cfg.SweepInterval,
		Now:           cfg.Now,
	})

	api, err := rest.New(rest.Config{
		Manager:         mgr,
		Recorder:        recorder.New(store, registry, hub, cfg.Now),
		Store:           store,
		Hub:             hub,
		Signer:          signer,
		SignerEnabled:   signerEnabled,
		Verifier:        verifier,
		VerifierEnabled: verifierEnabled,
		EventsPerSecond: cfg.EventsPerSecond,
		EventBurst:      cfg.EventBurst,
		Now:             cfg.Now,
	})
	if err != nil {
		_ = hub.Close()
		_ = store.Close()
		return nil, fmt.Errorf("compose coaching api: %w", err)
	}

	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store:   store,
		hub:     hub,
		manager: mgr,
	}, nil
}

// ListenAndServe serves HTTP traffic until context cancellation or server
// stop. The expiry sweeper runs alongside and stops with the context.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("coaching server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	go s.manager.RunExpirySweeper(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown coaching http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve coaching http: %w", err)
	}
}

// Close closes open server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.hub != nil {
		if err := s.hub.Close(); err != nil {
			log.Printf("close coaching stream hub: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close coaching store: %v", err)
		}
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
}

func openCoachingStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coaching sqlite store: %w", err)
	}
	return store, nil
}
