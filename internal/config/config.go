// Package config handles configuration loading for the key access service.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax), so database credentials and
// key material paths can be injected at runtime.
//
// # Configuration Sections
//
//   - policy: clearance equivalency table, COI registry, reload watching,
//     optional authenticator-assurance requirement
//   - keys: signing keypair and KEK ring management (file or memory mode)
//   - storage: MongoDB connection for labels, key-access objects, and audit
//   - audit: retention window for persisted decision records
//   - observability: Prometheus metrics toggle
//
// # Example Configuration
//
//	policy:
//	  clearanceTable: /etc/dive/clearances.yaml
//	  coiRegistry: /etc/dive/communities.yaml
//	  watch: true
//	  assurance:
//	    threshold: SECRET
//	    minLevel: 2
//
//	keys:
//	  mode: file
//	  file:
//	    signingKey: /etc/dive/keys/label-signing.pem
//	    kekDir: /etc/dive/keys/kek
//
//	storage:
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: dive
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
)

// Config is the root configuration structure
type Config struct {
	Policy  PolicyConfig  `yaml:"policy"`
	Keys    KeysConfig    `yaml:"keys"`
	Storage StorageConfig `yaml:"storage"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"observability"`
}

// PolicyConfig locates the policy data files and tunes evaluation
type PolicyConfig struct {
	// ClearanceTable is the path to the national clearance equivalency YAML
	ClearanceTable string `yaml:"clearanceTable"`
	// COIRegistry is the path to the community-of-interest YAML
	COIRegistry string `yaml:"coiRegistry"`
	// Watch enables automatic reload when either file changes on disk
	Watch bool `yaml:"watch"`
	// Assurance optionally requires a minimum authenticator assurance level
	Assurance AssuranceConfig `yaml:"assurance"`
}

// AssuranceConfig is the optional authenticator-assurance gate. A zero
// MinLevel leaves the gate disabled.
type AssuranceConfig struct {
	// Threshold is a classification name (e.g. "SECRET")
	Threshold string `yaml:"threshold"`
	MinLevel  int    `yaml:"minLevel"`
}

// ThresholdLevel parses the configured classification name.
func (a AssuranceConfig) ThresholdLevel() (clearance.ClearanceLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(a.Threshold))
	for _, lvl := range clearance.Levels() {
		if lvl.String() == name {
			return lvl, nil
		}
	}
	return clearance.Unclassified, fmt.Errorf("unknown classification %q", a.Threshold)
}

// KeysConfig holds key management settings
type KeysConfig struct {
	// Mode determines how keys are managed
	// - "file": signing key and KEKs loaded from disk
	// - "memory": ephemeral keys generated at startup (tests and demos only)
	Mode string `yaml:"mode"`

	File FileKeysConfig `yaml:"file"`
}

// FileKeysConfig holds file-based key settings
type FileKeysConfig struct {
	// SigningKey is the PEM file holding the RSA label-signing private key
	SigningKey string `yaml:"signingKey"`
	// KEKDir is a directory of hex-encoded 32-byte KEK files, one per KEK
	// id (file name = KEK id, extension .kek)
	KEKDir string `yaml:"kekDir"`
	// ActiveKEK is the KEK id used for new wraps
	ActiveKEK string `yaml:"activeKek"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// AuditConfig tunes the audit collaborator
type AuditConfig struct {
	// Retention is how long persisted decision records are kept
	Retention time.Duration `yaml:"retention"`
	// Persist writes records through the storage layer in addition to the log
	Persist bool `yaml:"persist"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Keys.Mode == "" {
		c.Keys.Mode = "file"
	}
	if c.Keys.File.ActiveKEK == "" {
		c.Keys.File.ActiveKEK = "default"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "dive"
	}
	if c.Audit.Retention == 0 {
		c.Audit.Retention = 90 * 24 * time.Hour
	}
	if c.Metrics.Metrics.Path == "" {
		c.Metrics.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if c.Policy.ClearanceTable == "" {
		return fmt.Errorf("policy.clearanceTable is required")
	}
	if c.Policy.COIRegistry == "" {
		return fmt.Errorf("policy.coiRegistry is required")
	}

	switch c.Keys.Mode {
	case "file", "memory":
		// Valid modes
	default:
		return fmt.Errorf("keys.mode must be 'file' or 'memory', got '%s'", c.Keys.Mode)
	}

	if c.Keys.Mode == "file" {
		if c.Keys.File.SigningKey == "" {
			return fmt.Errorf("keys.file.signingKey is required when mode is 'file'")
		}
		if c.Keys.File.KEKDir == "" {
			return fmt.Errorf("keys.file.kekDir is required when mode is 'file'")
		}
	}

	if c.Policy.Assurance.MinLevel > 0 {
		if _, err := c.Policy.Assurance.ThresholdLevel(); err != nil {
			return fmt.Errorf("policy.assurance: %w", err)
		}
	}

	return nil
}
