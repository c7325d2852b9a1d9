package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"rand-agent/internal/adapter/llm"
	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
)

const modelsTimeout = 30 * time.Second

func runModels(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), modelsTimeout)
	defer cancel()

	if opts.Ollama {
		baseURL := ""
		if cfg, err := config.Load(opts.ConfigPath); err == nil {
			baseURL = ollamaBaseURL(cfg.Agents)
		}
		return listOllamaModels(ctx, os.Stdout, baseURL)
	}
	return listOpenRouterModels(ctx, os.Stdout, "", opts.Free)
}

// listOpenRouterModels prints the OpenRouter catalogue, optionally only the
// free entries. An empty baseURL uses the public endpoint.
func listOpenRouterModels(ctx context.Context, w io.Writer, baseURL string, freeOnly bool) error {
	models, err := llm.FetchOpenRouterModels(ctx, nil, baseURL)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTEXT\tPRICE")
	shown := 0
	for _, m := range models {
		if freeOnly && !m.Free() {
			continue
		}
		price := "free"
		if !m.Free() {
			price = fmt.Sprintf("%s/%s", m.Pricing.Prompt, m.Pricing.Completion)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", m.ID, m.ContextLength, price)
		shown++
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d of %d models\n", shown, len(models))
	return nil
}

// listOllamaModels prints the models pulled into a local Ollama server.
func listOllamaModels(ctx context.Context, w io.Writer, baseURL string) error {
	p := llm.NewOllamaProvider(config.ProviderConfig{
		Name:    string(domain.ProviderOllama),
		BaseURL: baseURL,
	}, slog.New(slog.DiscardHandler))

	if !p.IsHealthy(ctx) {
		return fmt.Errorf("ollama server not reachable")
	}
	models, err := p.ListModels(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, humanSize(m.Size), m.ModifiedAt.Format(time.DateOnly))
	}
	return tw.Flush()
}

// ollamaBaseURL returns the base URL of the first configured ollama agent
// that sets one.
func ollamaBaseURL(agents []domain.AgentConfig) string {
	for _, a := range agents {
		tag, ok := domain.ParseProviderTag(string(a.Provider))
		if ok && tag == domain.ProviderOllama && a.APIBaseURL != "" {
			return a.APIBaseURL
		}
	}
	return ""
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
