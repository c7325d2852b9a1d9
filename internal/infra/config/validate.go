package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
//
// Agent entries with unknown providers or bad base URLs are not rejected here:
// the provider builder skips them with a warning so one bad entry never blocks
// the rest of the pool.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDispatcher(cfg, ve)
	validateHTTP(cfg, ve)
	validateCircuitBreaker(cfg, ve)
	validateAgents(cfg, ve)
	validateMCPServers(cfg, ve)
	validateTools(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDispatcher(cfg *Config, ve *ValidationError) {
	d := cfg.Dispatcher
	if d.MaxFailures == 0 {
		ve.Add("dispatcher.max_failures must be > 0")
	}
	if d.Retry.MaxAttempts <= 0 {
		ve.Add("dispatcher.retry.max_attempts must be > 0")
	}
	if d.Retry.InitialDelay <= 0 {
		ve.Add("dispatcher.retry.initial_delay must be > 0")
	}
	if d.Retry.Factor < 1 {
		ve.Add("dispatcher.retry.factor must be >= 1")
	}
	if d.Retry.Jitter < 0 || d.Retry.Jitter >= 1 {
		ve.Add("dispatcher.retry.jitter must be in [0, 1)")
	}
	if d.Retry.MaxDelay < d.Retry.InitialDelay {
		ve.Add("dispatcher.retry.max_delay must be >= initial_delay")
	}
}

func validateHTTP(cfg *Config, ve *ValidationError) {
	if cfg.HTTP.ConnTimeout < 0 {
		ve.Add("http.conn_timeout must be >= 0")
	}
	if cfg.HTTP.RespTimeout < 0 {
		ve.Add("http.resp_timeout must be >= 0")
	}
	if cfg.HTTP.Pool.MaxIdleConns < 0 || cfg.HTTP.Pool.MaxIdleConnsPerHost < 0 || cfg.HTTP.Pool.MaxConnsPerHost < 0 {
		ve.Add("http.pool connection limits must be >= 0")
	}
}

func validateCircuitBreaker(cfg *Config, ve *ValidationError) {
	cb := cfg.CircuitBreaker
	if !cb.Enabled {
		return
	}
	if cb.MaxFailures == 0 {
		ve.Add("circuit_breaker.max_failures must be > 0 when enabled")
	}
	if cb.Timeout <= 0 {
		ve.Add("circuit_breaker.timeout must be > 0 when enabled")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	for i, a := range cfg.Agents {
		if a.RequestsPerMinute < 0 {
			ve.Add("agents[%d].requests_per_minute must be >= 0", i)
		}
		if a.MaxTurns < 0 {
			ve.Add("agents[%d].max_turns must be >= 0", i)
		}
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			ve.Add("agents[%d].temperature must be in [0, 2]", i)
		}
	}
}

func validateMCPServers(cfg *Config, ve *ValidationError) {
	validMCPTransports := map[string]bool{"stdio": true, "http": true}
	seen := make(map[string]bool)
	for i, s := range cfg.MCPServers {
		if s.Name == "" {
			ve.Add("mcp_servers[%d].name must not be empty", i)
		} else if seen[s.Name] {
			ve.Add("mcp_servers[%d].name %q is duplicate", i, s.Name)
		}
		seen[s.Name] = true
		if !validMCPTransports[s.Transport] {
			ve.Add("mcp_servers[%d].transport %q is invalid (want: stdio, http)", i, s.Transport)
		}
		if s.Transport == "stdio" && s.Command == "" {
			ve.Add("mcp_servers[%d].command is required for stdio transport", i)
		}
		if s.Transport == "http" && s.URL == "" {
			ve.Add("mcp_servers[%d].url is required for http transport", i)
		}
		if s.Timeout < 0 {
			ve.Add("mcp_servers[%d].timeout must not be negative", i)
		}
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	t := cfg.Tools
	if t.Timeout < 0 {
		ve.Add("tools.timeout must be >= 0")
	}
	if t.SearchCacheTTL < 0 || t.TrendingCacheTTL < 0 {
		ve.Add("tools cache TTLs must be >= 0")
	}
	for field, raw := range map[string]string{"serpapi_url": t.SerpAPIURL, "github_url": t.GitHubURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.Add("tools.%s %q must be an http(s) URL", field, raw)
		}
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	if cfg.Logger.MaxSizeMB < 0 || cfg.Logger.MaxBackups < 0 || cfg.Logger.MaxAgeDays < 0 {
		ve.Add("logger rotation settings must be >= 0")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	case "file":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint is required for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, file, noop)", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is invalid: %v", cfg.Metrics.Addr, err)
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path must start with /")
	}
	if cfg.Metrics.RequestsPerMinute < 0 {
		ve.Add("metrics.requests_per_minute must be >= 0")
	}
}
