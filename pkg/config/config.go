// Package config handles NornicExt configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--config, --engine, etc.)
//  2. Environment variables (NORNICEXT_*)
//  3. Config file (nornicext.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Configuration error: %v", err)
//	}
//
// Environment Variables (all use NORNICEXT_ prefix):
//
// Storage:
//   - NORNICEXT_STORAGE_ENGINE="memory" or "badger"
//   - NORNICEXT_DATA_DIR="./data"
//   - NORNICEXT_IN_MEMORY=true
//   - NORNICEXT_SYNC_WRITES=false
//
// Runtime:
//   - NORNICEXT_RUNTIME_ENABLED=true
//
// Metrics:
//   - NORNICEXT_METRICS_ENABLED=true
//   - NORNICEXT_METRICS_NAMESPACE="nornicext"
//
// Logging:
//   - NORNICEXT_LOG_LEVEL="INFO"
//
// Modules are only configurable from the YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage engines.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
)

// Bundled module types.
const (
	ModuleTypeChangelog = "changelog"
	ModuleTypeRelCount  = "relcount"
)

// Config holds all NornicExt configuration.
//
// Configuration is organized into logical sections:
//   - Storage: which graph engine backs transactions
//   - Runtime: transaction-driven modules and their inclusion policies
//   - Metrics: Prometheus instrumentation
//   - Logging: log verbosity
type Config struct {
	Storage StorageConfig
	Runtime RuntimeConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// StorageConfig holds graph engine settings.
type StorageConfig struct {
	// Engine is "memory" or "badger"
	Engine string
	// DataDir for the badger engine
	DataDir string
	// InMemory runs badger without touching disk
	InMemory bool
	// SyncWrites fsyncs every badger write
	SyncWrites bool
}

// RuntimeConfig holds module runtime settings.
type RuntimeConfig struct {
	// Enabled registers the runtime with the transaction manager
	Enabled bool
	// Modules in dispatch order
	Modules []ModuleConfig
}

// ModuleConfig declares one bundled module.
type ModuleConfig struct {
	ID       string       `yaml:"id"`
	Type     string       `yaml:"type"`
	Policies PolicyConfig `yaml:"policies"`
}

// PolicyConfig declares the inclusion policies of a module. Empty lists
// include everything; internal elements are hidden unless IncludeInternal is
// set.
type PolicyConfig struct {
	IncludeInternal bool `yaml:"include_internal"`

	NodeLabels        []string `yaml:"node_labels"`
	ExcludeNodeLabels []string `yaml:"exclude_node_labels"`
	// NodeProperties keeps nodes whose property equals one of the listed
	// values, for every listed key.
	NodeProperties map[string][]any `yaml:"node_properties"`

	RelationshipTypes        []string `yaml:"relationship_types"`
	ExcludeRelationshipTypes []string `yaml:"exclude_relationship_types"`

	NodePropertyKeys        []string `yaml:"node_property_keys"`
	ExcludeNodePropertyKeys []string `yaml:"exclude_node_property_keys"`

	RelationshipPropertyKeys        []string `yaml:"relationship_property_keys"`
	ExcludeRelationshipPropertyKeys []string `yaml:"exclude_relationship_property_keys"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
}

// Debug reports whether per-module dispatch logging is on.
func (l LoggingConfig) Debug() bool {
	return strings.EqualFold(l.Level, "DEBUG")
}

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Storage struct {
		Engine     string `yaml:"engine"`
		DataDir    string `yaml:"data_dir"`
		InMemory   *bool  `yaml:"in_memory"`
		SyncWrites *bool  `yaml:"sync_writes"`
	} `yaml:"storage"`

	Runtime struct {
		Enabled *bool          `yaml:"enabled"`
		Modules []ModuleConfig `yaml:"modules"`
	} `yaml:"runtime"`

	Metrics struct {
		Enabled   *bool  `yaml:"enabled"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	config := &Config{}

	config.Storage.Engine = EngineMemory
	config.Storage.DataDir = "./data"
	config.Storage.InMemory = false
	config.Storage.SyncWrites = false

	config.Runtime.Enabled = true
	config.Runtime.Modules = []ModuleConfig{
		{ID: "changelog", Type: ModuleTypeChangelog},
	}

	config.Metrics.Enabled = true
	config.Metrics.Namespace = "nornicext"

	config.Logging.Level = "INFO"

	return config
}

// LoadFromFile loads configuration with proper precedence:
//  1. Built-in defaults (lowest priority)
//  2. YAML config file
//  3. Environment variables
//
// A missing file is not an error. Command-line flags are applied by the
// caller after this.
//
// Example YAML:
//
//	storage:
//	  engine: badger
//	  data_dir: ./data
//	runtime:
//	  modules:
//	    - id: audit
//	      type: changelog
//	      policies:
//	        exclude_node_labels: [Secret]
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := applyYAML(config, data); err != nil {
				return nil, err
			}
		}
	}

	applyEnvVars(config)
	return config, nil
}

func applyYAML(config *Config, data []byte) error {
	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Storage ===
	if yamlCfg.Storage.Engine != "" {
		config.Storage.Engine = yamlCfg.Storage.Engine
	}
	if yamlCfg.Storage.DataDir != "" {
		config.Storage.DataDir = yamlCfg.Storage.DataDir
	}
	if yamlCfg.Storage.InMemory != nil {
		config.Storage.InMemory = *yamlCfg.Storage.InMemory
	}
	if yamlCfg.Storage.SyncWrites != nil {
		config.Storage.SyncWrites = *yamlCfg.Storage.SyncWrites
	}

	// === Runtime ===
	if yamlCfg.Runtime.Enabled != nil {
		config.Runtime.Enabled = *yamlCfg.Runtime.Enabled
	}
	if yamlCfg.Runtime.Modules != nil {
		config.Runtime.Modules = yamlCfg.Runtime.Modules
	}

	// === Metrics ===
	if yamlCfg.Metrics.Enabled != nil {
		config.Metrics.Enabled = *yamlCfg.Metrics.Enabled
	}
	if yamlCfg.Metrics.Namespace != "" {
		config.Metrics.Namespace = yamlCfg.Metrics.Namespace
	}

	// === Logging ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = strings.ToUpper(yamlCfg.Logging.Level)
	}
	return nil
}

// ApplyEnvVars applies environment variable overrides to an existing config.
func ApplyEnvVars(config *Config) {
	applyEnvVars(config)
}

func applyEnvVars(config *Config) {
	config.Storage.Engine = strings.ToLower(getEnv("NORNICEXT_STORAGE_ENGINE", config.Storage.Engine))
	config.Storage.DataDir = getEnv("NORNICEXT_DATA_DIR", config.Storage.DataDir)
	config.Storage.InMemory = getEnvBool("NORNICEXT_IN_MEMORY", config.Storage.InMemory)
	config.Storage.SyncWrites = getEnvBool("NORNICEXT_SYNC_WRITES", config.Storage.SyncWrites)

	config.Runtime.Enabled = getEnvBool("NORNICEXT_RUNTIME_ENABLED", config.Runtime.Enabled)

	config.Metrics.Enabled = getEnvBool("NORNICEXT_METRICS_ENABLED", config.Metrics.Enabled)
	config.Metrics.Namespace = getEnv("NORNICEXT_METRICS_NAMESPACE", config.Metrics.Namespace)

	config.Logging.Level = strings.ToUpper(getEnv("NORNICEXT_LOG_LEVEL", config.Logging.Level))
}

// Validate checks the configuration for errors.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case EngineMemory:
	case EngineBadger:
		if c.Storage.DataDir == "" && !c.Storage.InMemory {
			return fmt.Errorf("badger engine needs a data dir or in_memory")
		}
	default:
		return fmt.Errorf("invalid storage engine: %q", c.Storage.Engine)
	}

	seen := make(map[string]struct{}, len(c.Runtime.Modules))
	for i, m := range c.Runtime.Modules {
		if m.ID == "" {
			return fmt.Errorf("module %d has no id", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate module id: %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Type != ModuleTypeChangelog && m.Type != ModuleTypeRelCount {
			return fmt.Errorf("module %q: invalid type %q", m.ID, m.Type)
		}
	}

	switch c.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	return nil
}

// String returns a compact representation for logging.
func (c *Config) String() string {
	ids := make([]string, len(c.Runtime.Modules))
	for i, m := range c.Runtime.Modules {
		ids[i] = m.ID + ":" + m.Type
	}
	return fmt.Sprintf(
		"Config{Engine: %s, DataDir: %s, Runtime: %v, Modules: [%s], Metrics: %v, Log: %s}",
		c.Storage.Engine, c.Storage.DataDir,
		c.Runtime.Enabled, strings.Join(ids, ", "),
		c.Metrics.Enabled, c.Logging.Level,
	)
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.nornicext/config.yaml
//  2. Current working directory (nornicext.yaml, config.yaml)
//  3. ~/.config/nornicext/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".nornicext", "config.yaml"))
	}

	candidates = append(candidates, "nornicext.yaml", "config.yaml")

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "nornicext", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
