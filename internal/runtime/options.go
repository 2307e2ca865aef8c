package runtime

import (
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/polyglot-pipe/internal/config"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads configuration from a YAML file plus PIPEGATE_
// environment overrides.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("nil config")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithFiles serves static files from fsys instead of static.root.
func WithFiles(fsys fs.FS) Option {
	return func(g *Gateway) error {
		g.files = fsys
		return nil
	}
}

// WithRegisterer registers metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(g *Gateway) error {
		g.registerer = reg
		g.gatherer = gatherer
		return nil
	}
}
