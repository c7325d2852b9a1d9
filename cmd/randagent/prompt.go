package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"rand-agent/internal/domain"
)

// prompter is the dispatcher surface the prompt command needs.
type prompter interface {
	PromptWithInfo(ctx context.Context, p domain.Prompt) (string, domain.AgentInfo, error)
	TryInvokeWithInfoRetry(ctx context.Context, p domain.Prompt, maxAttempts int) (string, domain.AgentInfo, error)
}

func runPrompt(args []string) error {
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

	if a.dispatcher.LenTotal() == 0 {
		return fmt.Errorf("no agents could be built from %s", opts.ConfigPath)
	}

	return promptOnce(ctx, a.dispatcher, opts, os.Stdout)
}

// promptOnce dispatches opts.Text and writes the answer to w. With --retry
// the dispatcher's backoff policy applies; --info prefixes the answer with
// the agent that produced it.
func promptOnce(ctx context.Context, d prompter, opts cliArgs, w io.Writer) error {
	p := domain.NewPrompt(opts.Text)

	var (
		text string
		info domain.AgentInfo
		err  error
	)
	if opts.Retry > 0 {
		text, info, err = d.TryInvokeWithInfoRetry(ctx, p, opts.Retry)
	} else {
		text, info, err = d.PromptWithInfo(ctx, p)
	}
	if err != nil {
		return fmt.Errorf("[%s] %w", domain.ErrorCodeOf(err), err)
	}

	if opts.Info {
		fmt.Fprintf(w, "agent %d (%s/%s)\n", info.ID, info.Provider, info.Model)
	}
	fmt.Fprintln(w, text)
	return nil
}
