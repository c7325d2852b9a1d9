package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"rand-agent/internal/adapter/llm"
	"rand-agent/internal/adapter/tool"
	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
	"rand-agent/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var notLoaded = CheckResult{
	Status:  StatusFail,
	Message: "cannot check, config not loaded",
}

// runDoctor executes all health checks and reports results.
func runDoctor(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	// Some checks work without a config.
	cfg, cfgErr := config.Load(opts.ConfigPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(opts.ConfigPath, cfgErr)},
		{Name: "Agents", Fn: checkAgents},
		{Name: "API keys", Fn: checkAPIKeys},
		{Name: "Agent construction", Fn: checkAgentConstruction},
		{Name: "Reset schedule", Fn: checkResetSchedule},
		{Name: "MCP servers", Fn: checkMCPServers},
		{Name: "Web search", Fn: checkWebSearch},
		{Name: "Ollama", Fn: checkOllama},
		{Name: "Network", Fn: checkNetwork},
	}

	return reportChecks(os.Stdout, cfg, checks)
}

// reportChecks runs checks in order, prints one line each and returns an
// error when any of them failed.
func reportChecks(w io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(w, "randagent doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before dispatching prompts.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nrandagent should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! randagent is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file not found at %s", cfgPath),
				Fix:     "Create config.yaml with an agents list, or pass --config PATH",
			}
		}

		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the values reported above",
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkAgents verifies the pool has at least one agent with a known provider.
func checkAgents(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.Agents) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no agents configured",
			Fix:     "Add at least one entry under agents: with provider and model_name",
		}
	}

	var unknown []string
	for _, a := range cfg.Agents {
		if !a.Provider.Known() {
			unknown = append(unknown, fmt.Sprintf("%d:%s", a.ID, a.Provider))
		}
	}
	if len(unknown) == len(cfg.Agents) {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no agent uses a known provider (%s)", strings.Join(unknown, ", ")),
			Fix:     "Use one of: " + knownProviders(),
		}
	}
	if len(unknown) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d agents configured; unknown providers will be skipped: %s", len(cfg.Agents), strings.Join(unknown, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agents configured", len(cfg.Agents)),
	}
}

func knownProviders() string {
	names := make([]string, len(domain.ProviderTags))
	for i, t := range domain.ProviderTags {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// checkAPIKeys verifies every keyed agent has a key in config or in its
// provider's environment variable.
func checkAPIKeys(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}

	var withKey, withoutKey []string
	for _, a := range cfg.Agents {
		tag, ok := domain.ParseProviderTag(string(a.Provider))
		if !ok || tag == domain.ProviderOllama {
			continue
		}
		label := fmt.Sprintf("%d:%s", a.ID, tag)
		if a.APIKey != "" || os.Getenv(tag.EnvKey()) != "" {
			withKey = append(withKey, label)
		} else {
			withoutKey = append(withoutKey, label+" ("+tag.EnvKey()+")")
		}
	}

	switch {
	case len(withKey) == 0 && len(withoutKey) == 0:
		return CheckResult{
			Status:  StatusPass,
			Message: "no agent needs an API key",
		}
	case len(withKey) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set api_key in config.yaml or export the listed environment variables",
		}
	case len(withoutKey) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys configured for [%s]; missing for [%s]", strings.Join(withKey, ", "), strings.Join(withoutKey, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API keys configured for: %s", strings.Join(withKey, ", ")),
	}
}

// checkAgentConstruction builds every agent offline and reports the ones
// the dispatcher would skip.
func checkAgentConstruction(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}

	b := llm.NewBuilder(slog.New(slog.DiscardHandler)).WithHTTP(cfg.HTTP)
	var failed []string
	for _, a := range cfg.Agents {
		if _, err := b.BuildOne(a, cfg.SystemPrompt); err != nil {
			failed = append(failed, fmt.Sprintf("%d: %v", a.ID, err))
		}
	}

	built := len(cfg.Agents) - len(failed)
	switch {
	case built == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: "no agent could be built",
			Fix:     strings.Join(failed, "; "),
		}
	case len(failed) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d of %d agents built; skipped: %s", built, len(cfg.Agents), strings.Join(failed, "; ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("all %d agents built", built),
	}
}

// checkResetSchedule validates dispatcher.reset_schedule.
func checkResetSchedule(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	sched := cfg.Dispatcher.ResetSchedule
	if sched == "" {
		return CheckResult{
			Status:  StatusPass,
			Message: "manual reset only",
		}
	}
	if _, err := scheduling.ParseSchedule(sched); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid reset_schedule: %v", err),
			Fix:     `Use a cron expression ("*/10 * * * *") or a duration ("15m")`,
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("failure counters reset on %q", sched),
	}
}

// checkMCPServers verifies stdio MCP commands are on PATH.
func checkMCPServers(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.MCPServers) == 0 {
		return CheckResult{
			Status:  StatusPass,
			Message: "no MCP servers configured",
		}
	}

	var missing []string
	for _, srv := range cfg.MCPServers {
		if srv.Transport != "stdio" {
			continue
		}
		if _, err := exec.LookPath(srv.Command); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", srv.Name, srv.Command))
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("commands not found: %s", strings.Join(missing, "; ")),
			Fix:     "Install the missing commands or remove those servers; agents run without their tools",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d MCP servers configured", len(cfg.MCPServers)),
	}
}

// checkWebSearch warns when an agent asks for web_search but the tool will
// not be registered.
func checkWebSearch(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	var wanted []string
	for _, a := range cfg.Agents {
		if slices.Contains(a.Tools, tool.WebSearchToolName) {
			wanted = append(wanted, fmt.Sprint(a.ID))
		}
	}
	switch {
	case len(wanted) == 0:
		return CheckResult{Status: StatusPass, Message: "no agent uses web_search"}
	case !cfg.Tools.WebSearchEnabled:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("agents %s list web_search but tools.web_search_enabled is false", strings.Join(wanted, ", ")),
			Fix:     "Enable tools.web_search_enabled or drop web_search from those agents",
		}
	case cfg.Tools.SearchAPIKey() == "":
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("agents %s list web_search but no SerpAPI key is set", strings.Join(wanted, ", ")),
			Fix:     "Set " + config.SerpAPIKeyEnv + " or tools.serpapi_api_key",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("SerpAPI key set for %d agents", len(wanted))}
}

// checkOllama verifies a local Ollama server is reachable when an agent uses it.
func checkOllama(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}

	var uses bool
	for _, a := range cfg.Agents {
		if tag, ok := domain.ParseProviderTag(string(a.Provider)); ok && tag == domain.ProviderOllama {
			uses = true
			break
		}
	}
	if !uses {
		return CheckResult{
			Status:  StatusPass,
			Message: "not used",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := llm.NewOllamaProvider(config.ProviderConfig{
		Name:    string(domain.ProviderOllama),
		BaseURL: ollamaBaseURL(cfg.Agents),
	}, slog.New(slog.DiscardHandler))
	if !p.IsHealthy(ctx) {
		return CheckResult{
			Status:  StatusFail,
			Message: "ollama server not reachable",
			Fix:     "Start it with 'ollama serve' or fix api_base_url",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: "ollama server reachable",
	}
}

func checkNetwork(_ *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	for _, addr := range []string{"1.1.1.1:443", "8.8.8.8:443"} {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return CheckResult{
				Status:  StatusPass,
				Message: "internet connectivity OK",
			}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: "no internet connectivity detected",
		Fix:     "Check your network connection and firewall settings",
	}
}
