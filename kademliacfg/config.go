// Package kademliacfg holds the operator-tunable values: k, alpha, the
// CRON/sweep/request periods, bootstrap seeds, and the optional local-id
// override. LoadEnv overrides only k, alpha, the listen address and the log
// level from the environment; the periods, bootstrap seeds and local id
// keep the values of the Config passed in. It mirrors config/config.go's
// sync.Once-guarded singleton and
// .env loading via godotenv, but returns an explicit value passed to
// node.New rather than a hidden package global — library code should never
// reach for a global config the way a CLI-only config.GetConfig() does.
package kademliacfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/transport"
)

// ErrInvalidConfig is returned by Validate for a configuration-kind failure.
var ErrInvalidConfig = errors.New("kademliacfg: invalid configuration")

// Config holds every operator-tunable value a node needs at startup.
type Config struct {
	K         int // max peers per bucket
	Alpha     int // iterative-lookup parallelism
	TCron     time.Duration
	TStale    time.Duration
	TSweep    time.Duration
	TReq      time.Duration
	Bootstrap []transport.Addr
	LocalID   *id.ID // nil means generate one at startup

	ListenAddr      string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// Default returns the standard Kademlia defaults (k=20, alpha=3) plus
// reasonable periods for the maintenance loops.
func Default() Config {
	return Config{
		K:               20,
		Alpha:           3,
		TCron:           5 * time.Minute,
		TStale:          1 * time.Hour,
		TSweep:          500 * time.Millisecond,
		TReq:            2 * time.Second,
		ListenAddr:      "0.0.0.0:0",
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate enforces the configuration-kind invariants: invalid k, alpha, or
// timing periods are fatal at startup, never discovered at runtime.
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, c.K)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("%w: alpha must be positive, got %d", ErrInvalidConfig, c.Alpha)
	}
	if c.TSweep <= 0 || c.TReq <= 0 || c.TCron <= 0 {
		return fmt.Errorf("%w: T_sweep, T_req and T_cron must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadEnv applies KADNODE_*-prefixed .env overrides on top of base,
// matching config/config.go's godotenv.Load() + os.Getenv pattern. A
// missing .env file is not an error (godotenv.Load already tolerates it);
// malformed numeric overrides are reported so Validate can fail fast.
func LoadEnv(base Config) (Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := base
	if v := os.Getenv("KADNODE_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: KADNODE_K: %v", ErrInvalidConfig, err)
		}
		cfg.K = n
	}
	if v := os.Getenv("KADNODE_ALPHA"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: KADNODE_ALPHA: %v", ErrInvalidConfig, err)
		}
		cfg.Alpha = n
	}
	if v := os.Getenv("KADNODE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("KADNODE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
