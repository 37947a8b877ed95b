package workgate

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment selects which override section of a config file applies.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// EnvVarEnvironment overrides the file's environment field when set.
const EnvVarEnvironment = "WORKGATE_ENV"

type fileSecrets struct {
	SigningKey string `yaml:"signing_key"`
	PublicKey  string `yaml:"public_key"`
}

type fileDocument struct {
	Environment Environment `yaml:"environment"`
	Secrets     fileSecrets `yaml:"secrets"`
	Config      `yaml:",inline"`

	Development yaml.Node `yaml:"development"`
	Staging     yaml.Node `yaml:"staging"`
	Production  yaml.Node `yaml:"production"`
}

// LoadConfigFile reads a YAML config over DefaultConfig.
//
// The file may carry development/staging/production sections shaped like the
// top level; the one matching the environment is decoded on top of the base values.
// Secrets accept ${VAR} and ${VAR:-default} references to the process environment.
func LoadConfigFile(path string) (Config, Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, "", err
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfigFile over in-memory YAML.
func ParseConfig(data []byte) (Config, Environment, error) {
	doc := fileDocument{Environment: Development, Config: defaultConfig()}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, "", fmt.Errorf("config: decode: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv(EnvVarEnvironment)); env != "" {
		doc.Environment = Environment(env)
	}

	var override *yaml.Node
	switch doc.Environment {
	case Development:
		override = &doc.Development
	case Staging:
		override = &doc.Staging
	case Production:
		override = &doc.Production
	default:
		return Config{}, "", fmt.Errorf("config: invalid environment %q", doc.Environment)
	}
	if override.Kind != 0 {
		if err := override.Decode(&doc.Config); err != nil {
			return Config{}, "", fmt.Errorf("config: %s overrides: %w", doc.Environment, err)
		}
	}

	cfg := doc.Config
	if key := expandVars(doc.Secrets.SigningKey); key != "" {
		cfg.Token.PrivateKey = []byte(key)
	}
	if key := expandVars(doc.Secrets.PublicKey); key != "" {
		cfg.Token.PublicKey = []byte(key)
	}
	return cfg, doc.Environment, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
