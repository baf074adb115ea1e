package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment variables as configuration overrides.
	EnvPrefix = "DOCSIEVE_"
	// Delimiter separates nested configuration keys.
	Delimiter = "."
)

// defaultFileLocations are tried in order when no config path is given.
var defaultFileLocations = []string{
	"config.yaml",
	"config.yml",
	"config.json",
	"configs/config.yaml",
	"/etc/docsieve/config.yaml",
}

// Loader merges configuration sources into a Config.
type Loader struct{}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load merges sources lowest to highest precedence: built-in defaults, the
// config file, DOCSIEVE_ environment variables, then explicit overrides from
// flags. Every call starts from a fresh merge, so a hot reload can never
// carry keys left over from an earlier file version.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(Delimiter)

	if err := k.Load(structs.Provider(DefaultConfig(), "mapstructure"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath == "" {
		configPath = findDefaultFile()
	}
	if configPath != "" {
		parser, err := parserFor(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, Delimiter, envKeyToPath), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
}

func findDefaultFile() string {
	for _, path := range defaultFileLocations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envKeyToPath maps an environment variable name to a config key. The first
// underscore splits the section from the key: DOCSIEVE_SERVER_PORT becomes
// server.port. When a section or key itself contains an underscore, a double
// underscore marks the nesting instead: DOCSIEVE_DEAD_LETTER__TYPE becomes
// dead_letter.type and DOCSIEVE_BUS__THRESHOLD_FALLBACK becomes
// bus.threshold_fallback.
func envKeyToPath(raw string) string {
	key := strings.ToLower(strings.TrimPrefix(raw, EnvPrefix))
	if strings.Contains(key, "__") {
		return strings.ReplaceAll(key, "__", Delimiter)
	}
	return strings.Replace(key, "_", Delimiter, 1)
}

// Load merges configuration with a throwaway loader.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
