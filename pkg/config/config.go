package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-agent.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	LLM        LLMConfig        `yaml:"llm"`
	WebSearch  WebSearchConfig  `yaml:"web_search"`
	GitHub     GitHubConfig     `yaml:"github"`
	Agent      AgentConfig      `yaml:"agent"`
	Datasource DatasourceConfig `yaml:"datasource"`

	// Credential encryption key for project and user secrets (repository tokens,
	// database keys, model API keys).
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	ProjectCredentialsKey string `yaml:"-" env:"PROJECT_CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_agent"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional read-cache configuration.
// An empty host disables caching.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_CACHE_TTL" env-default:"5m"`
}

// LLMConfig holds the server-level model defaults.
// Users may override provider, model, key and temperature in their AI settings;
// the router, statement generator and rewrite step always use these values.
type LLMConfig struct {
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	RouterModel    string `yaml:"router_model" env:"LLM_ROUTER_MODEL" env-default:"gpt-4o-mini"`
	SynthesisModel string `yaml:"synthesis_model" env:"LLM_SYNTHESIS_MODEL" env-default:"gpt-4o"`
	RewriteModel   string `yaml:"rewrite_model" env:"LLM_REWRITE_MODEL" env-default:"gpt-4o"`

	RouterTemperature    float64 `yaml:"router_temperature" env:"LLM_ROUTER_TEMPERATURE" env-default:"0.2"`
	SynthesisTemperature float64 `yaml:"synthesis_temperature" env:"LLM_SYNTHESIS_TEMPERATURE" env-default:"0.7"`
	RewriteTemperature   float64 `yaml:"rewrite_temperature" env:"LLM_REWRITE_TEMPERATURE" env-default:"0.2"`

	// AnthropicBaseURL overrides the Anthropic API base URL (tests, proxies).
	AnthropicBaseURL string `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL" env-default:""`

	// MaxHistoryTurns bounds how many chat turns are replayed to the synthesizer.
	MaxHistoryTurns int `yaml:"max_history_turns" env:"LLM_MAX_HISTORY_TURNS" env-default:"20"`

	// CircuitBreakerThreshold is the number of consecutive provider failures before failing fast.
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" env:"LLM_CIRCUIT_BREAKER_THRESHOLD" env-default:"5"`
	CircuitBreakerReset     time.Duration `yaml:"circuit_breaker_reset" env:"LLM_CIRCUIT_BREAKER_RESET" env-default:"30s"`
}

// WebSearchConfig holds the search-grounded completion settings (Gemini).
type WebSearchConfig struct {
	Model       string  `yaml:"model" env:"WEB_SEARCH_MODEL" env-default:"gemini-2.5-flash"`
	APIKey      string  `yaml:"-" env:"WEB_SEARCH_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"WEB_SEARCH_TEMPERATURE" env-default:"0.3"`
	BaseURL     string  `yaml:"base_url" env:"WEB_SEARCH_BASE_URL" env-default:""`
}

// IsAvailable returns true if web search is configured.
func (c *WebSearchConfig) IsAvailable() bool {
	return c.APIKey != "" && c.Model != ""
}

// GitHubConfig holds repository host settings.
type GitHubConfig struct {
	// BaseURL is only set for GitHub Enterprise or tests.
	BaseURL       string `yaml:"base_url" env:"GITHUB_BASE_URL" env-default:""`
	DefaultBranch string `yaml:"default_branch" env:"GITHUB_DEFAULT_BRANCH" env-default:"main"`
}

// DatasourceConfig bounds the pooled connections to project databases.
type DatasourceConfig struct {
	ConnectionTTL      time.Duration `yaml:"connection_ttl" env:"DATASOURCE_CONNECTION_TTL" env-default:"5m"`
	MaxPoolsPerProject int           `yaml:"max_pools_per_project" env:"DATASOURCE_MAX_POOLS_PER_PROJECT" env-default:"4"`
	PoolMaxConns       int32         `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"5"`
	PoolMinConns       int32         `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"0"`
}

// AgentConfig holds orchestration limits and per-call timeouts.
type AgentConfig struct {
	RouterTimeout     time.Duration `yaml:"router_timeout" env:"AGENT_ROUTER_TIMEOUT" env-default:"20s"`
	AdapterTimeout    time.Duration `yaml:"adapter_timeout" env:"AGENT_ADAPTER_TIMEOUT" env-default:"30s"`
	ProposalTimeout   time.Duration `yaml:"proposal_timeout" env:"AGENT_PROPOSAL_TIMEOUT" env-default:"30s"`
	RewriteTimeout    time.Duration `yaml:"rewrite_timeout" env:"AGENT_REWRITE_TIMEOUT" env-default:"90s"`
	ExecutionTimeout  time.Duration `yaml:"execution_timeout" env:"AGENT_EXECUTION_TIMEOUT" env-default:"150s"`
	SynthesisTimeout  time.Duration `yaml:"synthesis_timeout" env:"AGENT_SYNTHESIS_TIMEOUT" env-default:"120s"`
	MaxFiles          int           `yaml:"max_files" env:"AGENT_MAX_FILES" env-default:"200"`
	MaxSchemaTables   int           `yaml:"max_schema_tables" env:"AGENT_MAX_SCHEMA_TABLES" env-default:"50"`
	MaxFileBytes      int           `yaml:"max_file_bytes" env:"AGENT_MAX_FILE_BYTES" env-default:"262144"`
	MaxMemoryEntries  int           `yaml:"max_memory_entries" env:"AGENT_MAX_MEMORY_ENTRIES" env-default:"10"`
	TurnsPerMinute    int           `yaml:"turns_per_minute" env:"AGENT_TURNS_PER_MINUTE" env-default:"20"`
	TurnBurst         int           `yaml:"turn_burst" env:"AGENT_TURN_BURST" env-default:"5"`
	SchemaConcurrency int           `yaml:"schema_concurrency" env:"AGENT_SCHEMA_CONCURRENCY" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; environment variables and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.Agent.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}

	if err := cfg.Datasource.validate(); err != nil {
		return nil, fmt.Errorf("invalid datasource configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// IsLocal reports whether the server runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Env == "" || c.Env == "local"
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (a *AgentConfig) validate() error {
	timeouts := map[string]time.Duration{
		"router_timeout":    a.RouterTimeout,
		"adapter_timeout":   a.AdapterTimeout,
		"proposal_timeout":  a.ProposalTimeout,
		"rewrite_timeout":   a.RewriteTimeout,
		"execution_timeout": a.ExecutionTimeout,
		"synthesis_timeout": a.SynthesisTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	// A file edit reads, rewrites and commits inside one execution deadline.
	if editBudget := a.RewriteTimeout + 2*a.AdapterTimeout; a.ExecutionTimeout < editBudget {
		return fmt.Errorf("execution_timeout (%s) must be at least rewrite_timeout plus two adapter_timeout (%s)",
			a.ExecutionTimeout, editBudget)
	}
	if a.MaxFiles <= 0 || a.MaxSchemaTables <= 0 {
		return fmt.Errorf("max_files and max_schema_tables must be positive")
	}
	return nil
}

func (d *DatasourceConfig) validate() error {
	if d.MaxPoolsPerProject <= 0 {
		return fmt.Errorf("max_pools_per_project must be positive")
	}
	if d.PoolMaxConns <= 0 || d.PoolMinConns < 0 || d.PoolMinConns > d.PoolMaxConns {
		return fmt.Errorf("pool_min_conns must be between 0 and pool_max_conns")
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}
