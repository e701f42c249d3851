package flowgraph

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultNodeTimeout bounds a single node attempt unless the node's policy
// sets its own timeout.
const DefaultNodeTimeout = 30 * time.Second

// DefaultEventRetention is how long the event history of a finished
// execution stays available to new subscribers.
const DefaultEventRetention = 5 * time.Minute

// EngineConfig holds engine-wide settings.
type EngineConfig struct {
	// DefaultNodeTimeout applies to nodes without a policy timeout.
	DefaultNodeTimeout time.Duration `json:"default_node_timeout,omitempty" yaml:"default_node_timeout,omitempty"`

	// MaxExecutionTime applies to workflows that set no budget of their
	// own. Zero means unlimited.
	MaxExecutionTime time.Duration `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty"`

	// MaxCheckpointBytes is the ceiling on an encoded checkpoint.
	MaxCheckpointBytes int `json:"max_checkpoint_bytes,omitempty" yaml:"max_checkpoint_bytes,omitempty"`

	// KeepAlive is the idle interval after which event subscribers receive
	// a keep-alive event. Negative disables keep-alives.
	KeepAlive time.Duration `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`

	// EventRetention is how long a finished execution's event history is
	// kept in memory. Negative drops it right after the terminal event.
	// Later subscribers receive only the terminal outcome.
	EventRetention time.Duration `json:"event_retention,omitempty" yaml:"event_retention,omitempty"`

	// DefaultModel is the context-level default model for agent nodes.
	DefaultModel string `json:"default_model,omitempty" yaml:"default_model,omitempty"`
}

// DefaultEngineConfig returns the built-in engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultNodeTimeout: DefaultNodeTimeout,
		MaxCheckpointBytes: DefaultMaxCheckpointBytes,
		KeepAlive:          DefaultKeepAlive,
		EventRetention:     DefaultEventRetention,
	}
}

// WithDefaults returns the config with zero fields filled from
// DefaultEngineConfig.
func (c EngineConfig) WithDefaults() (EngineConfig, error) {
	if err := mergo.Merge(&c, DefaultEngineConfig()); err != nil {
		return c, fmt.Errorf("failed to apply engine defaults: %w", err)
	}
	return c, nil
}

// LoadEngineConfig reads an engine configuration from a YAML file.
func LoadEngineConfig(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("failed to read engine config: %w", err)
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("failed to unmarshal engine config: %w", err)
	}
	return cfg.WithDefaults()
}
