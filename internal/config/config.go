// Package config loads the tdbcore runtime configuration: scheduler
// iteration caps, collection GC timing, and logging. It decodes TOML with
// BurntSushi/toml into an unexported wire struct, then converts that into
// the typed Config with defaults applied.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Scheduler bounds the dataflow graph runtime.
type Scheduler struct {
	// MaxSteps is the hard cap on total scheduler steps per run() call.
	MaxSteps int
	// MaxStepsWithoutProgress truncates an iterate operator that stops
	// changing state without converging.
	MaxStepsWithoutProgress int
}

// Collection controls collection lifecycle defaults.
type Collection struct {
	// GCTime is how long a collection waits after its last subscriber
	// unsubscribes before cleanup() runs.
	GCTime time.Duration
}

// Indexing controls the dev-mode index advisor.
type Indexing struct {
	AdvisorSizeThreshold int
	AdvisorHitThreshold  int
	// TopKArrayTreeCrossover is loaded from topk_array_tree_crossover and
	// kept here; the topK operator does not read it. topK always keeps each
	// group's members in a slice it sorts on reconcile and has no tree form.
	TopKArrayTreeCrossover int
}

// Logging controls internal/dlog.
type Logging struct {
	Level string
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	Scheduler  Scheduler
	Collection Collection
	Indexing   Indexing
	Logging    Logging
}

// Default returns the configuration used when no tdbcore.toml is present.
func Default() Config {
	return Config{
		Scheduler: Scheduler{
			MaxSteps:                100_000,
			MaxStepsWithoutProgress: 10_000,
		},
		Collection: Collection{
			GCTime: 5 * time.Minute,
		},
		Indexing: Indexing{
			AdvisorSizeThreshold:   10_000,
			AdvisorHitThreshold:    50,
			TopKArrayTreeCrossover: 256,
		},
		Logging: Logging{Level: "info"},
	}
}

// wireConfig is the raw TOML document shape; fields left unset keep their
// Default() value, mirroring how tomlValidation left zero-value rules
// when a [validation] section was absent.
type wireConfig struct {
	Scheduler *struct {
		MaxSteps                int `toml:"max_steps"`
		MaxStepsWithoutProgress int `toml:"max_steps_without_progress"`
	} `toml:"scheduler"`
	Collection *struct {
		GCTimeSeconds int `toml:"gc_time_seconds"`
	} `toml:"collection"`
	Indexing *struct {
		AdvisorSizeThreshold   int `toml:"advisor_size_threshold"`
		AdvisorHitThreshold    int `toml:"advisor_hit_threshold"`
		TopKArrayTreeCrossover int `toml:"topk_array_tree_crossover"`
	} `toml:"indexing"`
	Logging *struct {
		Level string `toml:"level"`
	} `toml:"logging"`
}

// Load reads and merges a tdbcore.toml file at path over Default().
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads TOML from r and merges it over Default().
func Parse(r io.Reader) (Config, error) {
	var wc wireConfig
	if _, err := toml.NewDecoder(r).Decode(&wc); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	cfg := Default()
	if wc.Scheduler != nil {
		if wc.Scheduler.MaxSteps > 0 {
			cfg.Scheduler.MaxSteps = wc.Scheduler.MaxSteps
		}
		if wc.Scheduler.MaxStepsWithoutProgress > 0 {
			cfg.Scheduler.MaxStepsWithoutProgress = wc.Scheduler.MaxStepsWithoutProgress
		}
	}
	if wc.Collection != nil && wc.Collection.GCTimeSeconds > 0 {
		cfg.Collection.GCTime = time.Duration(wc.Collection.GCTimeSeconds) * time.Second
	}
	if wc.Indexing != nil {
		if wc.Indexing.AdvisorSizeThreshold > 0 {
			cfg.Indexing.AdvisorSizeThreshold = wc.Indexing.AdvisorSizeThreshold
		}
		if wc.Indexing.AdvisorHitThreshold > 0 {
			cfg.Indexing.AdvisorHitThreshold = wc.Indexing.AdvisorHitThreshold
		}
		if wc.Indexing.TopKArrayTreeCrossover > 0 {
			cfg.Indexing.TopKArrayTreeCrossover = wc.Indexing.TopKArrayTreeCrossover
		}
	}
	if wc.Logging != nil && wc.Logging.Level != "" {
		cfg.Logging.Level = wc.Logging.Level
	}
	return cfg, nil
}
