package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"rand-agent/internal/domain"
)

// benchTarget is the dispatcher surface the bench command needs.
type benchTarget interface {
	PromptWithInfo(ctx context.Context, p domain.Prompt) (string, domain.AgentInfo, error)
	AgentsInfo() []domain.AgentInfo
}

// benchReport summarises a bench run.
type benchReport struct {
	Total    int
	Success  int
	Elapsed  time.Duration
	PerAgent map[int32]int // successful answers by agent id
	Errors   map[domain.ErrorCode]int
	Agents   []domain.AgentInfo // pool state after the run
}

func runBench(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.Text) == "" {
		return errors.New("no prompt text given")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := initApp(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := bench(ctx, a.dispatcher, domain.NewPrompt(opts.Text), opts.Count, opts.Concurrency)
	if err != nil {
		return err
	}
	printBenchReport(os.Stdout, report)
	return nil
}

// bench dispatches p n times with at most c calls in flight. Dispatch errors
// are tallied, not returned; only cancellation of ctx stops the run early.
func bench(ctx context.Context, d benchTarget, p domain.Prompt, n, c int) (benchReport, error) {
	if n <= 0 {
		return benchReport{}, fmt.Errorf("-n must be positive, got %d", n)
	}
	if c <= 0 {
		c = 1
	}

	report := benchReport{
		Total:    n,
		PerAgent: make(map[int32]int),
		Errors:   make(map[domain.ErrorCode]int),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c)

	start := time.Now()
	for range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, info, err := d.PromptWithInfo(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors[domain.ErrorCodeOf(err)]++
				return nil
			}
			report.Success++
			report.PerAgent[info.ID]++
			return nil
		})
	}
	_ = g.Wait()
	report.Elapsed = time.Since(start)
	report.Agents = d.AgentsInfo()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func printBenchReport(w io.Writer, r benchReport) {
	fmt.Fprintf(w, "%d dispatches in %s: %d ok, %d failed\n\n",
		r.Total, r.Elapsed.Round(time.Millisecond), r.Success, r.Total-r.Success)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tMODEL\tANSWERS\tSHARE\tFAILURES\tSTATUS")
	for _, info := range r.Agents {
		share := 0.0
		if r.Success > 0 {
			share = 100 * float64(r.PerAgent[info.ID]) / float64(r.Success)
		}
		status := "valid"
		if !info.Valid() {
			status = "invalid"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.1f%%\t%d/%d\t%s\n",
			info.ID, info.Provider, info.Model, r.PerAgent[info.ID], share,
			info.FailureCount, info.MaxFailures, status)
	}
	tw.Flush()

	if len(r.Errors) == 0 {
		return
	}
	codes := make([]string, 0, len(r.Errors))
	for code := range r.Errors {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)
	fmt.Fprintln(w, "\nerrors:")
	for _, code := range codes {
		fmt.Fprintf(w, "  %s: %d\n", code, r.Errors[domain.ErrorCode(code)])
	}
}
