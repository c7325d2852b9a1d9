package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"rand-agent/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RANDAGENT_"

// PassphraseEnv holds the passphrase used to decrypt "enc:" values.
const PassphraseEnv = EnvPrefix + "CONFIG_KEY"

// DefaultSystemPrompt is used for agents that do not set their own.
const DefaultSystemPrompt = "You are a helpful assistant."

// Config is the top-level application configuration.
type Config struct {
	SystemPrompt   string               `yaml:"system_prompt"`
	Dispatcher     DispatcherConfig     `yaml:"dispatcher"`
	HTTP           HTTPConfig           `yaml:"http"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Agents         []domain.AgentConfig `yaml:"agents"`
	MCPServers     []MCPServer          `yaml:"mcp_servers,omitempty"`
	Tools          ToolsConfig          `yaml:"tools"`
	Logger         LoggerConfig         `yaml:"logger"`
	Tracer         TracerConfig         `yaml:"tracer"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Includes       []string             `yaml:"includes,omitempty"`
}

// DispatcherConfig holds pool health and retry settings.
type DispatcherConfig struct {
	MaxFailures   uint32      `yaml:"max_failures"`
	ResetSchedule string      `yaml:"reset_schedule,omitempty"` // cron expression or duration; empty = manual reset only
	Retry         RetryConfig `yaml:"retry"`
}

// ToolsConfig configures the built-in tools. Agents opt into a tool by
// listing its name under tools.
type ToolsConfig struct {
	Timeout time.Duration `yaml:"timeout"` // HTTP timeout for network tools

	// web_search, backed by SerpAPI. Registered only when a key is known.
	WebSearchEnabled bool          `yaml:"web_search_enabled"`
	SerpAPIKey       string        `yaml:"serpapi_api_key,omitempty"` // SerpAPIKeyEnv when empty
	SerpAPIURL       string        `yaml:"serpapi_url,omitempty"`
	SearchCacheTTL   time.Duration `yaml:"search_cache_ttl"`

	// github_trending scrapes the public trending page; no credentials.
	GitHubTrendingEnabled bool          `yaml:"github_trending_enabled"`
	GitHubURL             string        `yaml:"github_url,omitempty"`
	TrendingCacheTTL      time.Duration `yaml:"trending_cache_ttl"`
}

// SerpAPIKeyEnv is consulted when tools.serpapi_api_key is empty.
const SerpAPIKeyEnv = "SERPAPI_API_KEY"

// SearchAPIKey returns the configured SerpAPI key or, failing that, the
// value of SerpAPIKeyEnv.
func (t ToolsConfig) SearchAPIKey() string {
	if t.SerpAPIKey != "" {
		return t.SerpAPIKey
	}
	return os.Getenv(SerpAPIKeyEnv)
}

// RetryConfig holds exponential backoff settings.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Factor       float64       `yaml:"factor"`
	Jitter       float64       `yaml:"jitter"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// HTTPConfig holds transport settings shared by every provider client.
type HTTPConfig struct {
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig is the resolved connection settings of one provider client.
// It is derived from an agent entry plus HTTPConfig.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// MCPServer configures an MCP server connection.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"` // per tool call; 0 = 30s
}

// LoggerConfig holds logging settings. The rotation fields apply only when
// Output is a file path.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Addr              string   `yaml:"addr"`
	Path              string   `yaml:"path"`
	RequestsPerMinute int      `yaml:"requests_per_minute,omitempty"` // per client IP; 0 = unlimited
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		SystemPrompt: DefaultSystemPrompt,
		Dispatcher: DispatcherConfig{
			MaxFailures: 3,
			Retry: RetryConfig{
				InitialDelay: time.Second,
				Factor:       2,
				MaxDelay:     60 * time.Second,
				MaxAttempts:  3,
			},
		},
		HTTP: HTTPConfig{
			ConnTimeout: 10 * time.Second,
			RespTimeout: 120 * time.Second,
			Pool: PoolConfig{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
			Path: "/metrics",
		},
		Tools: ToolsConfig{
			Timeout:               15 * time.Second,
			WebSearchEnabled:      true,
			SearchCacheTTL:        15 * time.Minute,
			GitHubTrendingEnabled: true,
			TrendingCacheTTL:      time.Hour,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read config: %w", domain.ErrConfigLoad, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", domain.ErrConfigLoad, err)
	}

	if len(cfg.Includes) > 0 {
		if err := applyIncludes(cfg, data, absPath); err != nil {
			return nil, err
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(PassphraseEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps RANDAGENT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv(EnvPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "DISPATCHER_MAX_FAILURES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Dispatcher.MaxFailures = uint32(n)
		}
	}
	if v := os.Getenv(EnvPrefix + "DISPATCHER_RESET_SCHEDULE"); v != "" {
		cfg.Dispatcher.ResetSchedule = v
	}
	if v := os.Getenv(EnvPrefix + "RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatcher.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv(EnvPrefix + "RETRY_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatcher.Retry.InitialDelay = d
		}
	}
	if v := os.Getenv(EnvPrefix + "TOOLS_WEB_SEARCH_ENABLED"); v != "" {
		cfg.Tools.WebSearchEnabled = v == "true"
	}
	if v := os.Getenv(EnvPrefix + "TOOLS_GITHUB_TRENDING_ENABLED"); v != "" {
		cfg.Tools.GitHubTrendingEnabled = v == "true"
	}
	if v := os.Getenv(EnvPrefix + "CIRCUIT_BREAKER_ENABLED"); v == "true" {
		cfg.CircuitBreaker.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "HTTP_RESP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.RespTimeout = d
		}
	}
}

const encPrefix = "enc:"

// decryptSecrets finds "enc:..." values in agent API keys, the SerpAPI key
// and MCP server environments and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Agents {
		key := cfg.Agents[i].APIKey
		if strings.HasPrefix(key, encPrefix) {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, encPrefix), passphrase)
			if err != nil {
				return fmt.Errorf("agent %d api_key: %w", cfg.Agents[i].ID, err)
			}
			cfg.Agents[i].APIKey = decrypted
		}
	}

	if key := cfg.Tools.SerpAPIKey; strings.HasPrefix(key, encPrefix) {
		decrypted, err := DecryptValue(strings.TrimPrefix(key, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("tools serpapi_api_key: %w", err)
		}
		cfg.Tools.SerpAPIKey = decrypted
	}

	for i := range cfg.MCPServers {
		srv := &cfg.MCPServers[i]
		for k, v := range srv.Env {
			if !strings.HasPrefix(v, encPrefix) {
				continue
			}
			decrypted, err := DecryptValue(strings.TrimPrefix(v, encPrefix), passphrase)
			if err != nil {
				return fmt.Errorf("mcp server %s env %s: %w", srv.Name, k, err)
			}
			srv.Env[k] = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
