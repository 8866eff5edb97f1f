// Package config handles loading and validation of gtfsload.yaml project
// configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// FileName is the project config file looked up by Load.
const FileName = "gtfsload.yaml"

var validate = validator.New()

// Load reads and parses gtfsload.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile reads and parses a project config file.
func LoadFile(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a project config.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset optional settings.
func ApplyDefaults(cfg *types.ProjectConfig) {
	if cfg.Snapshot.Provider == "" {
		cfg.Snapshot.Provider = "memory"
	}
	if cfg.Snapshot.OnError == "" {
		cfg.Snapshot.OnError = types.StoreErrorSkip
	}
	if cfg.Warehouse.Project == "" {
		cfg.Warehouse.Project = cfg.Project
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

// Validate checks struct constraints and the cross-field rules tags cannot
// express.
func Validate(cfg *types.ProjectConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	switch cfg.Snapshot.Provider {
	case "redis":
		if cfg.Snapshot.Redis == nil {
			return fmt.Errorf("snapshot.redis is required when provider is redis")
		}
	case "postgres":
		if cfg.Snapshot.Postgres == nil {
			return fmt.Errorf("snapshot.postgres is required when provider is postgres")
		}
	case "dynamodb":
		if cfg.Snapshot.DynamoDB == nil {
			return fmt.Errorf("snapshot.dynamodb is required when provider is dynamodb")
		}
	}

	if err := checkDuration("lock.ttl", cfg.Lock.TTL); err != nil {
		return err
	}
	if err := checkDuration("snapshot.breaker.openTimeout", cfg.Snapshot.Breaker.OpenTimeout); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		if seen[f.Dataset] {
			return fmt.Errorf("feed %q configured twice", f.Dataset)
		}
		seen[f.Dataset] = true
		if f.Snapshot != nil {
			if err := checkDuration("feeds."+f.Dataset+".snapshot.ttl", f.Snapshot.TTL); err != nil {
				return err
			}
		}
		if f.Write.WindowColumn != "" && f.Write.Method != "" && f.Write.Method != types.WriteMerge {
			return fmt.Errorf("feed %q: windowColumn only applies to merge writes", f.Dataset)
		}
	}
	return nil
}

func checkDuration(name, s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Duration parses s, returning fallback when s is empty or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
