package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/lens"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config describes one source and the grids subscribed through it.
type Config struct {
	Source SourceConfig `yaml:"source"`
	Grids  []GridConfig `yaml:"grids" validate:"required,min=1,dive"`
}

// SourceConfig selects and addresses a feed backend.
type SourceConfig struct {
	Kind string `yaml:"kind" validate:"required,oneof=file nats redis postgres etcd consul zookeeper kubernetes firestore ws"`
	// Addr is the backend address: a directory, URL, DSN, host list,
	// kubeconfig path or project ID depending on Kind.
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// GridConfig is one subscription and how its publishes are delivered.
type GridConfig struct {
	Name    string        `yaml:"name" validate:"required"`
	Topic   string        `yaml:"topic" validate:"required"`
	OrderBy string        `yaml:"order_by"`
	Options string        `yaml:"options"`
	Retry   int           `yaml:"retry" validate:"min=0"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// Subscription parses the grid's order-by clause and options.
func (g GridConfig) Subscription() (lens.Subscription, error) {
	sub, err := lens.NewSubscription(g.Topic, g.OrderBy, g.Options)
	if err != nil {
		return lens.Subscription{}, fmt.Errorf("grid %s: %w", g.Name, err)
	}
	return sub, nil
}

// ReconcilerOptions maps delivery settings onto publish pipeline options.
func (g GridConfig) ReconcilerOptions() []lens.Option {
	var opts []lens.Option
	if g.Timeout > 0 {
		opts = append(opts, lens.WithTimeout(g.Timeout))
	}
	if g.Retry > 1 {
		opts = append(opts, lens.WithRetry(g.Retry))
	}
	return opts
}

// loadConfig reads and validates a YAML config file.
func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks struct constraints and every grid's subscription.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Grids))
	for _, g := range c.Grids {
		if seen[g.Name] {
			return fmt.Errorf("invalid config: duplicate grid %q", g.Name)
		}
		seen[g.Name] = true
		if _, err := g.Subscription(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}
