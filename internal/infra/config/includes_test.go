package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesAgentsAccumulate(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "cloud.yaml", `
agents:
  - id: 1
    provider: openai
    model_name: gpt-4o-mini
    api_key: sk-from-include
`)
	writeConfigFile(t, dir, "local.yaml", `
agents:
  - id: 2
    provider: ollama
    model_name: llama3.2
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "cloud.yaml"
  - "local.yaml"
agents:
  - id: 3
    provider: bigmodel
    model_name: glm-4-flash
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Agents) != 3 {
		t.Fatalf("len(Agents) = %d, want 3: %+v", len(cfg.Agents), cfg.Agents)
	}
	for i, want := range []int32{1, 2, 3} {
		if cfg.Agents[i].ID != want {
			t.Errorf("Agents[%d].ID = %d, want %d", i, cfg.Agents[i].ID, want)
		}
	}
	if cfg.Agents[0].APIKey != "sk-from-include" {
		t.Errorf("api key not loaded from include: %q", cfg.Agents[0].APIKey)
	}
}

func TestIncludesGlobPattern(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "agents.d")
	if err := os.Mkdir(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, subdir, "a.yaml", "agents:\n  - id: 10\n    provider: groq\n    model_name: llama\n")
	writeConfigFile(t, subdir, "b.yaml", "agents:\n  - id: 11\n    provider: xai\n    model_name: grok\n")
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "agents.d/*.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Agents) != 2 {
		t.Errorf("glob includes loaded %d agents, want 2", len(cfg.Agents))
	}
}

func TestIncludesMainPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "override.yaml", `
system_prompt: "from include"
dispatcher:
  max_failures: 9
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "override.yaml"
dispatcher:
  max_failures: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatcher.MaxFailures != 4 {
		t.Errorf("MaxFailures = %d, want 4 (main should win)", cfg.Dispatcher.MaxFailures)
	}
	if cfg.SystemPrompt != "from include" {
		t.Errorf("SystemPrompt = %q, want %q", cfg.SystemPrompt, "from include")
	}
}

func TestIncludesCircularDetection(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "includes:\n  - \"b.yaml\"\n")
	writeConfigFile(t, dir, "b.yaml", "includes:\n  - \"a.yaml\"\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"a.yaml\"\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected circular include error")
	}
	if !strings.Contains(err.Error(), "circular include") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIncludesSelfReference(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"config.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestIncludesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"../../../etc/passwd\"\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected path traversal error")
	}
	if !strings.Contains(err.Error(), "escapes config directory") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIncludesFilePermissions(t *testing.T) {
	dir := t.TempDir()
	badFile := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(badFile, []byte("logger:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(badFile, 0666); err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"insecure.yaml\"\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected permissions error for include file")
	}
	if !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIncludesFileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"nonexistent.yaml\"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing include file")
	}
}

func TestIncludesGlobNoMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"missing.d/*.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Agents) != 0 {
		t.Errorf("Agents = %+v, want none", cfg.Agents)
	}
}

func TestIncludesNestedIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "level2.yaml", "logger:\n  format: \"json\"\n")
	writeConfigFile(t, dir, "level1.yaml", "includes:\n  - \"level2.yaml\"\nlogger:\n  level: \"debug\"\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"level1.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q, want %q (from nested include)", cfg.Logger.Format, "json")
	}
}

func TestIncludesMaxDepth(t *testing.T) {
	dir := t.TempDir()

	totalLevels := maxIncludeDepth + 2
	for i := totalLevels; i >= 1; i-- {
		var content string
		if i < totalLevels {
			content = fmt.Sprintf("includes:\n  - %q\n", fmt.Sprintf("level%d.yaml", i+1))
		}
		writeConfigFile(t, dir, fmt.Sprintf("level%d.yaml", i), content)
	}
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"level1.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "max depth") {
		t.Fatalf("expected max depth error, got %v", err)
	}
}

func TestIncludesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "empty.yaml", "")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"empty.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatcher.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want default 3", cfg.Dispatcher.MaxFailures)
	}
}

func TestIncludesNestedCannotEscapeConfigDirectory(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "app")
	subdir := filepath.Join(root, "agents.d")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, dir, "outside.yaml", "system_prompt: \"outside\"\n")
	writeConfigFile(t, subdir, "a.yaml", "includes:\n  - \"../../outside.yaml\"\n")
	path := writeConfigFile(t, root, "config.yaml", "includes:\n  - \"agents.d/a.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes config directory") {
		t.Fatalf("expected escape error, got %v", err)
	}
}

func TestIncludesSharedFileIsNotCircular(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "common.yaml", "logger:\n  format: \"json\"\n")
	writeConfigFile(t, dir, "a.yaml", "includes:\n  - \"common.yaml\"\nagents:\n  - id: 1\n    provider: groq\n    model_name: llama\n")
	writeConfigFile(t, dir, "b.yaml", "includes:\n  - \"common.yaml\"\nagents:\n  - id: 2\n    provider: xai\n    model_name: grok\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"a.yaml\"\n  - \"b.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Format != "json" || len(cfg.Agents) != 2 {
		t.Errorf("Logger.Format = %q, Agents = %+v", cfg.Logger.Format, cfg.Agents)
	}
}
