// Package coaching parses coaching service flags and launches the service.
package coaching

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/outtake.studio/internal/platform/cmd"
	server "github.com/louisbranch/outtake.studio/internal/services/coaching"
)

// Config holds coaching command configuration.
type Config struct {
	Port         int           `env:"OUTTAKE_STUDIO_COACHING_PORT" envDefault:"8086"`
	Addr         string        `env:"OUTTAKE_STUDIO_COACHING_ADDR"`
	DBPath       string        `env:"OUTTAKE_STUDIO_COACHING_DB_PATH" envDefault:"data/coaching.db"`
	ControlRatio float64       `env:"OUTTAKE_STUDIO_CONTROL_RATIO" envDefault:"0.10"`
	HoldoutRatio float64       `env:"OUTTAKE_STUDIO_HOLDOUT_RATIO" envDefault:"0"`
	SessionTTL   time.Duration `env:"OUTTAKE_STUDIO_SESSION_TTL" envDefault:"30m"`
	EventRate    float64       `env:"OUTTAKE_STUDIO_EVENT_RATE" envDefault:"25"`
	EventBurst   int           `env:"OUTTAKE_STUDIO_EVENT_BURST" envDefault:"50"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The coaching HTTP server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The listen address, overriding -port when set")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the coaching sqlite database")
	fs.Float64Var(&cfg.ControlRatio, "control-ratio", cfg.ControlRatio, "Share of sessions drawn into the control group")
	fs.Float64Var(&cfg.HoldoutRatio, "holdout-ratio", cfg.HoldoutRatio, "Share of sessions exempt from downstream decisions")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "How long a session may stay active")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HTTPAddr resolves the listen address from Addr, falling back to Port.
func (c Config) HTTPAddr() string {
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		return addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// Run starts the coaching HTTP service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCoaching, func(runCtx context.Context) error {
		srv, err := server.NewServer(runCtx, server.Config{
			HTTPAddr:        cfg.HTTPAddr(),
			DBPath:          cfg.DBPath,
			ControlRatio:    cfg.ControlRatio,
			HoldoutRatio:    cfg.HoldoutRatio,
			SessionTTL:      cfg.SessionTTL,
			EventsPerSecond: cfg.EventRate,
			EventBurst:      cfg.EventBurst,
		})
		if err != nil {
			return err
		}
		defer srv.Close()
		return srv.ListenAndServe(runCtx)
	})
}
