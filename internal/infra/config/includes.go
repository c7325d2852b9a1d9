package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rand-agent/internal/domain"
)

const maxIncludeDepth = 10

// applyIncludes layers the files listed in cfg.Includes underneath the main
// config. Included files load first, in order, and the main file (data) is
// decoded again on top so its settings win. Agents are the exception: the
// pool is the union of every file's agents, included ones first, which lets
// a deployment keep one agent per file under a directory like agents.d/.
func applyIncludes(cfg *Config, data []byte, mainPath string) error {
	l := &includeLoader{
		root:  filepath.Dir(mainPath),
		chain: map[string]bool{mainPath: true},
	}

	patterns := cfg.Includes
	cfg.Agents, cfg.Includes = nil, nil
	if err := l.expand(cfg, l.root, patterns, 1); err != nil {
		return err
	}

	included := cfg.Agents
	cfg.Agents = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse config (second pass): %w", domain.ErrConfigLoad, err)
	}
	cfg.Agents = append(included, cfg.Agents...)
	cfg.Includes = nil
	return nil
}

// includeLoader walks the include graph. Every file it reads must sit under
// root, the main config's directory.
type includeLoader struct {
	root  string
	chain map[string]bool // files currently being expanded, for cycle detection
}

func (l *includeLoader) expand(cfg *Config, dir string, patterns []string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	for _, pattern := range patterns {
		files, err := l.targets(pattern, dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := l.overlay(cfg, f, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// targets resolves pattern against dir. A literal path is returned even when
// missing so that reading it reports the error; a glob may match nothing.
func (l *includeLoader) targets(pattern, dir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(l.root, pattern); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("config includes: path %q escapes config directory %q", pattern, l.root)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	return matches, nil
}

// overlay decodes one included file onto cfg, appending its agents, then
// expands the file's own includes relative to its directory.
func (l *includeLoader) overlay(cfg *Config, path string, depth int) error {
	if l.chain[path] {
		return fmt.Errorf("config includes: circular include detected for %q", path)
	}
	l.chain[path] = true
	defer delete(l.chain, path)

	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}

	var agents []domain.AgentConfig
	agents, cfg.Agents = cfg.Agents, nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	cfg.Agents = append(agents, cfg.Agents...)

	nested := cfg.Includes
	cfg.Includes = nil
	return l.expand(cfg, filepath.Dir(path), nested, depth+1)
}
