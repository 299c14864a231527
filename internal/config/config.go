// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	GraphQL       GraphQLConfig       `yaml:"graphql"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Redis         RedisConfig         `yaml:"redis"`
	Persisted     PersistedConfig     `yaml:"persisted"`
	Log           LogConfig           `yaml:"log"`
	OTel          OTelConfig          `yaml:"otel"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	Timeout      Duration `yaml:"timeout"`
	MaxBodyBytes int64    `yaml:"maxBodyBytes"`
	Pretty       bool     `yaml:"pretty"`
	CORSOrigins  []string `yaml:"corsOrigins"`
}

type GraphQLConfig struct {
	MaxDepth      int  `yaml:"maxDepth"`
	MaxComplexity int  `yaml:"maxComplexity"`
	Introspection bool `yaml:"introspection"`
	Debug         bool `yaml:"debug"`
}

type SubscriptionsConfig struct {
	Backend         string   `yaml:"backend"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	FallbackChannel string   `yaml:"fallbackChannel"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PersistedConfig struct {
	Backend string   `yaml:"backend"`
	Size    int      `yaml:"size"`
	TTL     Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type OTelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			Timeout:      Duration(10 * time.Second),
			MaxBodyBytes: 1 << 20,
		},
		GraphQL: GraphQLConfig{
			MaxDepth:      10,
			MaxComplexity: 1000,
			Introspection: true,
		},
		Subscriptions: SubscriptionsConfig{
			Backend:         BackendMemory,
			IdleTimeout:     Duration(60 * time.Second),
			FallbackChannel: "default",
		},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Persisted: PersistedConfig{Backend: BackendMemory, Size: 1000},
		Log:       LogConfig{Level: "info", Format: "json"},
		OTel:      OTelConfig{Service: "graphcore"},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults after substituting environment
// variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	if c.GraphQL.MaxDepth < 0 {
		errs = append(errs, errors.New("graphql.maxDepth must not be negative"))
	}
	if c.GraphQL.MaxComplexity < 0 {
		errs = append(errs, errors.New("graphql.maxComplexity must not be negative"))
	}
	if !validBackend(c.Subscriptions.Backend) {
		errs = append(errs, fmt.Errorf("subscriptions.backend %q is not one of memory, redis", c.Subscriptions.Backend))
	}
	if !validBackend(c.Persisted.Backend) {
		errs = append(errs, fmt.Errorf("persisted.backend %q is not one of memory, redis", c.Persisted.Backend))
	}
	if c.Subscriptions.FallbackChannel == "" {
		errs = append(errs, errors.New("subscriptions.fallbackChannel must be set"))
	}
	if (c.Subscriptions.Backend == BackendRedis || c.Persisted.Backend == BackendRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must be set for the redis backend"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, console", c.Log.Format))
	}
	return errors.Join(errs...)
}

func validBackend(b string) bool { return b == BackendMemory || b == BackendRedis }

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// substituteEnvVars expands ${VAR} and ${VAR:-default}; $$ stands for a
// literal dollar sign.
func substituteEnvVars(content string) string {
	const escaped = "\x00DOLLAR\x00"
	content = strings.ReplaceAll(content, "$$", escaped)
	content = envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(sub[1]); ok {
			return v
		}
		return sub[2]
	})
	return strings.ReplaceAll(content, escaped, "$")
}

// Duration is a time.Duration written as "30s" or "5m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) Duration() time.Duration { return time.Duration(d) }
