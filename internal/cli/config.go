package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/keel/internal/coordinator"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	*d = Duration(n)
	return nil
}

// Config is the optional runtime configuration for keel commands,
// loaded from a YAML file via --config.
type Config struct {
	// BackupGenerations sets the store's backup ring size.
	BackupGenerations int `yaml:"backup_generations,omitempty"`

	// LockTTL bounds how long an unreleased document lock can block.
	LockTTL Duration `yaml:"lock_ttl,omitempty"`

	// OperationTimeout is the default per-operation execution budget.
	OperationTimeout Duration `yaml:"operation_timeout,omitempty"`

	// BatchTimeout bounds a batch's total wall-clock time.
	BatchTimeout Duration `yaml:"batch_timeout,omitempty"`

	// CheckpointInterval is the operation count between automatic
	// checkpoints under the checkpointed strategy.
	CheckpointInterval int `yaml:"checkpoint_interval,omitempty"`

	// PredicateTimeout bounds each verification predicate.
	PredicateTimeout Duration `yaml:"predicate_timeout,omitempty"`

	// CostGate, when present, gates submission on an external cost
	// signal read from SourceFile.
	CostGate *CostGateSection `yaml:"cost_gate,omitempty"`
}

// CostGateSection wires the coordinator's cost gate to a polled
// signal file.
type CostGateSection struct {
	// SourceFile is a file whose content is the current numeric cost.
	SourceFile string `yaml:"source_file"`

	MaxAcceptable float64  `yaml:"max_acceptable"`
	PauseAbove    float64  `yaml:"pause_above"`
	ResumeBelow   float64  `yaml:"resume_below"`
	PollInterval  Duration `yaml:"poll_interval,omitempty"`
	MaxWait       Duration `yaml:"max_wait,omitempty"`
}

// gateConfig converts the YAML section into the coordinator's config.
func (s *CostGateSection) gateConfig() coordinator.CostGateConfig {
	return coordinator.CostGateConfig{
		MaxAcceptable: s.MaxAcceptable,
		PauseAbove:    s.PauseAbove,
		ResumeBelow:   s.ResumeBelow,
		PollInterval:  time.Duration(s.PollInterval),
		MaxWait:       time.Duration(s.MaxWait),
	}
}

// LoadConfig reads and strictly parses a config file. Unknown fields
// are rejected so typos fail loudly.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks field ranges and the cost gate section.
func (c *Config) Validate() error {
	if c.BackupGenerations < 0 {
		return fmt.Errorf("backup_generations must be non-negative")
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint_interval must be non-negative")
	}
	if c.CostGate != nil {
		if c.CostGate.SourceFile == "" {
			return fmt.Errorf("cost_gate: source_file is required")
		}
		if err := c.CostGate.gateConfig().Validate(); err != nil {
			return fmt.Errorf("cost_gate: %w", err)
		}
	}
	return nil
}
