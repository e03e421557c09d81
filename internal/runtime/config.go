// Package runtime is augur's composition root and HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szaher/augur/internal/auth"
	"github.com/szaher/augur/internal/mcp"
	"github.com/szaher/augur/internal/orchestrator"
	"github.com/szaher/augur/internal/secrets"
	"github.com/szaher/augur/internal/topology"
)

// History backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Prompt sources.
const (
	PromptsBuiltin = "builtin"
	PromptsFile    = "file"
	PromptsS3      = "s3"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig       `yaml:"server"`
	Log     LogConfig          `yaml:"log"`
	Auth    AuthConfig         `yaml:"auth"`
	Model   ModelConfig        `yaml:"model"`
	History HistoryConfig      `yaml:"history"`
	Prompts PromptsConfig      `yaml:"prompts"`
	Graph   topology.Config    `yaml:"graph"`
	MCP     []mcp.ServerConfig `yaml:"mcp_servers"`
	Draw    DrawConfig         `yaml:"draw"`
	// Fallback replaces answers that could not be recovered.
	Fallback string `yaml:"fallback"`
}

// ServerConfig configures the listeners.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TrustProxy takes client addresses from forwarding headers. Only safe
	// behind a proxy that overwrites them.
	TrustProxy bool `yaml:"trust_proxy"`
}

// Addr is the invocation listener address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig selects how bearer tokens are verified. With neither an
// introspection URL nor a static token set, Disabled must be true.
type AuthConfig struct {
	Disabled         bool                 `yaml:"disabled"`
	IntrospectionURL string               `yaml:"introspection_url"`
	StaticToken      string               `yaml:"static_token"`
	Timeout          time.Duration        `yaml:"timeout"`
	RateLimit        auth.RateLimitConfig `yaml:"rate_limit"`
}

// ModelConfig names the model agents use unless graph.agents overrides it.
// Model strings take the provider/model form understood by the llm package.
type ModelConfig struct {
	Default string `yaml:"default"`
}

// HistoryConfig selects the history store.
type HistoryConfig struct {
	Backend   string         `yaml:"backend"`
	Events    int            `yaml:"events"`
	MaxEvents int            `yaml:"max_events"`
	Redis     RedisConfig    `yaml:"redis"`
	Postgres  PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the Redis history store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// PostgresConfig configures the Postgres history store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// PromptsConfig selects where prompts come from and how they refresh.
type PromptsConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	// Watch reloads a file source whenever the file changes.
	Watch bool `yaml:"watch"`
	// Refresh is a cron spec for periodic reloads, e.g. "@every 5m".
	Refresh  string            `yaml:"refresh"`
	S3       S3Config          `yaml:"s3"`
	Bindings map[string]string `yaml:"bindings"`
}

// S3Config locates prompt objects in a bucket.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// DrawConfig configures the card draw tool.
type DrawConfig struct {
	AllowReversed       bool    `yaml:"allow_reversed"`
	ReversedProbability float64 `yaml:"reversed_probability"`
}

// DefaultConfig returns a configuration that runs locally with the built-in
// prompts and an in-memory history.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MetricsAddr:     ":9090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    11 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Log:  LogConfig{Level: "info"},
		Auth: AuthConfig{Timeout: auth.DefaultIntrospectionTimeout, RateLimit: auth.DefaultRateLimitConfig()},
		Model: ModelConfig{
			Default: "claude-sonnet-4-20250514",
		},
		History: HistoryConfig{
			Backend:   BackendMemory,
			Events:    orchestrator.DefaultHistoryEvents,
			MaxEvents: 100,
			Redis:     RedisConfig{Addr: "localhost:6379"},
		},
		Prompts: PromptsConfig{
			Source:   PromptsBuiltin,
			Bindings: topology.DefaultBindings(),
		},
		Graph: topology.DefaultConfig(),
		Draw:  DrawConfig{ReversedProbability: 0.3},
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. An empty path uses the defaults alone. Callers adjust the result
// and then call Validate.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays AUGUR_* variables, plus HOST, PORT and the per-agent
// <AGENT>_PROMPT_ID / <AGENT>_PROMPT_VERSION pairs.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.Server.Host, "HOST", "AUGUR_HOST")
	if v, ok := lookup("PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	str(&c.Server.MetricsAddr, "AUGUR_METRICS_ADDR")
	if v, ok := lookup("AUGUR_CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("AUGUR_TRUST_PROXY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUGUR_TRUST_PROXY: %w", err)
		}
		c.Server.TrustProxy = b
	}
	str(&c.Log.Level, "AUGUR_LOG_LEVEL")

	str(&c.Auth.IntrospectionURL, "AUGUR_INTROSPECTION_URL")
	str(&c.Auth.StaticToken, "AUGUR_STATIC_TOKEN")
	if v, ok := lookup("AUGUR_AUTH_DISABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUGUR_AUTH_DISABLED: %w", err)
		}
		c.Auth.Disabled = b
	}

	str(&c.Model.Default, "AUGUR_MODEL", "MODEL_ID")

	str(&c.History.Backend, "AUGUR_HISTORY_BACKEND")
	str(&c.History.Redis.Addr, "AUGUR_REDIS_ADDR")
	str(&c.History.Postgres.DSN, "AUGUR_POSTGRES_DSN")

	str(&c.Prompts.Source, "AUGUR_PROMPTS_SOURCE")
	str(&c.Prompts.Path, "AUGUR_PROMPTS_PATH")
	str(&c.Prompts.S3.Bucket, "AUGUR_PROMPTS_BUCKET")
	str(&c.Prompts.S3.Region, "AWS_REGION")
	for _, name := range topology.AgentNames {
		env := strings.ToUpper(name)
		id, ok := lookup(env + "_PROMPT_ID")
		if !ok || id == "" {
			continue
		}
		if v, ok := lookup(env + "_PROMPT_VERSION"); ok && v != "" {
			id += ":" + v
		}
		if c.Prompts.Bindings == nil {
			c.Prompts.Bindings = map[string]string{}
		}
		c.Prompts.Bindings[name] = id
	}

	if v, ok := lookup("MCP_SERVER_URI"); ok && v != "" {
		c.MCP = append(c.MCP, mcp.ServerConfig{Name: "numerology", Transport: mcp.TransportSSE, URL: v})
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !c.Auth.Disabled && c.Auth.IntrospectionURL == "" && c.Auth.StaticToken == "" {
		errs = append(errs, errors.New("auth: set introspection_url or static_token, or disable auth explicitly"))
	}
	if c.Model.Default == "" {
		errs = append(errs, errors.New("model.default is required"))
	}
	switch c.History.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.History.Redis.Addr == "" {
			errs = append(errs, errors.New("history.redis.addr is required"))
		}
	case BackendPostgres:
		if c.History.Postgres.DSN == "" {
			errs = append(errs, errors.New("history.postgres.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is not one of memory, redis, postgres", c.History.Backend))
	}
	switch c.Prompts.Source {
	case PromptsBuiltin:
	case PromptsFile:
		if c.Prompts.Path == "" {
			errs = append(errs, errors.New("prompts.path is required for a file source"))
		}
	case PromptsS3:
		if c.Prompts.S3.Bucket == "" {
			errs = append(errs, errors.New("prompts.s3.bucket is required for an s3 source"))
		}
	default:
		errs = append(errs, fmt.Errorf("prompts.source %q is not one of builtin, file, s3", c.Prompts.Source))
	}
	if c.Prompts.Watch && c.Prompts.Source != PromptsFile {
		errs = append(errs, errors.New("prompts.watch needs a file source"))
	}
	for _, name := range topology.AgentNames {
		if _, ok := c.Prompts.Bindings[name]; !ok {
			errs = append(errs, fmt.Errorf("prompts.bindings: no prompt for agent %s", name))
		}
	}
	for _, s := range c.MCP {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if p := c.Draw.ReversedProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("draw.reversed_probability %v outside [0,1]", p))
	}
	return errors.Join(errs...)
}

// ResolveSecrets replaces env(VAR) references in credential fields and
// registers the resolved values with filter so they never reach the logs.
func (c *Config) ResolveSecrets(ctx context.Context, r secrets.Resolver, filter *secrets.RedactFilter) error {
	fields := []*string{
		&c.Auth.StaticToken,
		&c.Auth.IntrospectionURL,
		&c.History.Redis.Password,
		&c.History.Postgres.DSN,
	}
	for i := range c.MCP {
		for k, v := range c.MCP[i].Headers {
			resolved, err := secrets.Expand(ctx, r, filter, v)
			if err != nil {
				return fmt.Errorf("mcp server %s header %s: %w", c.MCP[i].Name, k, err)
			}
			c.MCP[i].Headers[k] = resolved
		}
	}
	for _, f := range fields {
		v, err := secrets.Expand(ctx, r, filter, *f)
		if err != nil {
			return err
		}
		*f = v
	}
	if c.Auth.StaticToken != "" && filter != nil {
		filter.AddSecret(c.Auth.StaticToken)
	}
	return nil
}
