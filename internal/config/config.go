// Package config loads the bootstrapping daemon configuration from YAML and
// BOOTSTRAP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/icn-bootstrap/internal/bootstrap"
	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
)

// Defaults.
const (
	DefaultListenAddress     = ":50051"
	DefaultMetricsAddress    = ":9090"
	DefaultTickInterval      = 5 * time.Second
	DefaultAllocationTimeout = 5 * time.Second
	DefaultRetryBurst        = 1
	DefaultMonitorRound      = 5 * time.Second
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the daemon configuration.
type Config struct {
	Control   ControlConfig   `yaml:"control"`
	TM        TMConfig        `yaml:"tm"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ControlConfig configures the gRPC control surface and metrics endpoint.
type ControlConfig struct {
	ListenAddress  string `yaml:"listen_address"`
	MetricsAddress string `yaml:"metrics_address"`
}

// TMConfig mirrors bootstrap.TMConfig. When ServerAddress is empty the TM
// is configured later through the control surface.
type TMConfig struct {
	ServerAddress       string `yaml:"server_address"`
	ServerPort          int    `yaml:"server_port"`
	AttachmentSwitchID  string `yaml:"attachment_switch_id"`
	AttachedSwitchID    string `yaml:"attached_switch_id"`
	NodeID              string `yaml:"node_id"`
	LIDPosition         int    `yaml:"lid_position"`
	InternalLIDPosition int    `yaml:"internal_lid_position"`
}

// Set reports whether the TM section was filled in.
func (c TMConfig) Set() bool { return c.ServerAddress != "" }

// Orchestrator converts the section to the orchestrator's type.
func (c TMConfig) Orchestrator() bootstrap.TMConfig {
	return bootstrap.TMConfig{
		ServerAddress:       c.ServerAddress,
		ServerPort:          c.ServerPort,
		AttachmentSwitchID:  c.AttachmentSwitchID,
		AttachedSwitchID:    c.AttachedSwitchID,
		NodeID:              c.NodeID,
		LIDPosition:         c.LIDPosition,
		InternalLIDPosition: c.InternalLIDPosition,
	}
}

// BootstrapConfig tunes the orchestrator.
type BootstrapConfig struct {
	// Batch sends queued links in one resource request.
	Batch bool `yaml:"batch"`
	// ActivateOnStart activates the orchestrator once the TM is configured.
	ActivateOnStart bool `yaml:"activate_on_start"`
	// TickInterval drives queue retries and traffic reports.
	TickInterval time.Duration `yaml:"tick_interval"`
	// AllocationTimeout bounds one TM round trip.
	AllocationTimeout time.Duration `yaml:"allocation_timeout"`
	// RetriesPerSecond limits tick-driven retries; zero means every tick.
	RetriesPerSecond float64 `yaml:"retries_per_second"`
	RetryBurst       int     `yaml:"retry_burst"`
}

// MonitorConfig toggles traffic statistics reporting.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	// RoundTimeout bounds one reporting round across all connectors.
	RoundTimeout time.Duration `yaml:"round_timeout"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Observability converts the section, applying BOOTSTRAP_TRACING_* overrides.
func (c TracingConfig) Observability() observability.TracingConfig {
	return observability.ApplyTracingEnv(observability.TracingConfig{
		Enabled:     c.Enabled,
		ServiceName: c.ServiceName,
		Exporter:    c.Exporter,
		Endpoint:    c.Endpoint,
		SampleRatio: c.SampleRatio,
	})
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{}.ApplyDefaults()
}

// ApplyDefaults fills zero fields with defaults.
func (c Config) ApplyDefaults() Config {
	if c.Control.ListenAddress == "" {
		c.Control.ListenAddress = DefaultListenAddress
	}
	if c.Control.MetricsAddress == "" {
		c.Control.MetricsAddress = DefaultMetricsAddress
	}
	if c.Bootstrap.TickInterval <= 0 {
		c.Bootstrap.TickInterval = DefaultTickInterval
	}
	if c.Bootstrap.AllocationTimeout <= 0 {
		c.Bootstrap.AllocationTimeout = DefaultAllocationTimeout
	}
	if c.Bootstrap.RetryBurst <= 0 {
		c.Bootstrap.RetryBurst = DefaultRetryBurst
	}
	if c.Monitor.RoundTimeout <= 0 {
		c.Monitor.RoundTimeout = DefaultMonitorRound
	}
	return c
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	if c.Bootstrap.RetriesPerSecond < 0 {
		return fmt.Errorf("%w: retries_per_second must not be negative", ErrInvalid)
	}
	if !c.TM.Set() {
		return nil
	}
	if c.TM.ServerPort <= 0 || c.TM.ServerPort > 65535 {
		return fmt.Errorf("%w: tm.server_port %d", ErrInvalid, c.TM.ServerPort)
	}
	for name, pos := range map[string]int{
		"tm.lid_position":          c.TM.LIDPosition,
		"tm.internal_lid_position": c.TM.InternalLIDPosition,
	} {
		if pos < 0 || pos >= lid.Size {
			return fmt.Errorf("%w: %s %d outside [0,%d]", ErrInvalid, name, pos, lid.Size-1)
		}
	}
	if c.TM.AttachmentSwitchID == "" || c.TM.AttachedSwitchID == "" || c.TM.NodeID == "" {
		return fmt.Errorf("%w: tm attachment ids and node_id are required", ErrInvalid)
	}
	return nil
}

// Load reads path (when non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"BOOTSTRAP_LISTEN_ADDRESS":       &c.Control.ListenAddress,
		"BOOTSTRAP_METRICS_ADDRESS":      &c.Control.MetricsAddress,
		"BOOTSTRAP_TM_SERVER_ADDRESS":    &c.TM.ServerAddress,
		"BOOTSTRAP_TM_ATTACHMENT_SWITCH": &c.TM.AttachmentSwitchID,
		"BOOTSTRAP_TM_ATTACHED_SWITCH":   &c.TM.AttachedSwitchID,
		"BOOTSTRAP_TM_NODE_ID":           &c.TM.NodeID,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BOOTSTRAP_TM_SERVER_PORT":           &c.TM.ServerPort,
		"BOOTSTRAP_TM_LID_POSITION":          &c.TM.LIDPosition,
		"BOOTSTRAP_TM_INTERNAL_LID_POSITION": &c.TM.InternalLIDPosition,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"BOOTSTRAP_TICK_INTERVAL":      &c.Bootstrap.TickInterval,
		"BOOTSTRAP_ALLOCATION_TIMEOUT": &c.Bootstrap.AllocationTimeout,
		"BOOTSTRAP_MONITOR_TIMEOUT":    &c.Monitor.RoundTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"BOOTSTRAP_BATCH":             &c.Bootstrap.Batch,
		"BOOTSTRAP_ACTIVATE_ON_START": &c.Bootstrap.ActivateOnStart,
		"BOOTSTRAP_MONITOR_ENABLED":   &c.Monitor.Enabled,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
			}
			*dst = b
		}
	}
	return nil
}
