package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cmd, rest := splitCommand(os.Args[1:])

	var err error
	switch cmd {
	case "help":
		showUsage()
		return
	case "prompt":
		err = runPrompt(rest)
	case "bench":
		err = runBench(rest)
	case "models":
		err = runModels(rest)
	case "doctor":
		err = runDoctor(rest)
	case "encrypt":
		err = runEncrypt(rest)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// splitCommand returns the subcommand and its arguments. Anything that is
// not a known subcommand is treated as arguments to "prompt".
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 {
		return "help", nil
	}
	switch args[0] {
	case "--help", "-h", "help":
		return "help", nil
	case "prompt", "bench", "models", "doctor", "encrypt":
		return args[0], args[1:]
	}
	return "prompt", args
}

func showUsage() {
	fmt.Println(`randagent - dispatch prompts to a random healthy LLM agent

USAGE:
    randagent [COMMAND] [FLAGS] [TEXT]

COMMANDS:
    prompt      Send TEXT to one randomly selected agent (default)
    bench       Dispatch TEXT concurrently and print the selection distribution
    models      List the OpenRouter catalogue or local Ollama models
    doctor      Run health checks on config and agents
    encrypt     Encrypt a secret for use as an "enc:" config value

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --retry N          Retry up to N total attempts with backoff
    --info             Print the answering agent's identity
    -n N               bench: number of dispatches (default: 100)
    -c N               bench: concurrency (default: 8)
    --free             models: only free OpenRouter models
    --ollama           models: list local Ollama models instead

CONFIGURATION:
    Config file: ./config.yaml
    Environment: RANDAGENT_* variables override config, <PROVIDER>_API_KEY
                 supplies keys; a .env file in the working directory is loaded

EXAMPLES:
    randagent "Hello, who are you?"
    randagent prompt --retry 3 --info "What time is it in Tokyo?"
    randagent bench -n 1000 -c 32 "ping"
    randagent models --free
    RANDAGENT_CONFIG_KEY=secret randagent encrypt sk-...`)
}

// cliArgs holds the flags shared by all subcommands.
type cliArgs struct {
	ConfigPath  string
	Retry       int
	Info        bool
	Count       int
	Concurrency int
	Free        bool
	Ollama      bool
	Text        string
}

var errMissingValue = errors.New("missing flag value")

// parseArgs parses subcommand flags. Non-flag arguments are joined into Text;
// "--" ends flag parsing.
func parseArgs(args []string) (cliArgs, error) {
	out := cliArgs{Count: 100, Concurrency: 8}
	var words []string

	intFlag := func(name string, i *int, dst *int) error {
		raw, err := flagValue(args, i, name)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid number %q", name, raw)
		}
		*dst = n
		return nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, _, _ := strings.Cut(arg, "=")
		var err error
		switch name {
		case "--":
			words = append(words, args[i+1:]...)
			i = len(args)
		case "--config":
			out.ConfigPath, err = flagValue(args, &i, name)
		case "--retry":
			err = intFlag(name, &i, &out.Retry)
		case "-n":
			err = intFlag(name, &i, &out.Count)
		case "-c":
			err = intFlag(name, &i, &out.Concurrency)
		case "--info":
			out.Info = true
		case "--free":
			out.Free = true
		case "--ollama":
			out.Ollama = true
		default:
			if strings.HasPrefix(arg, "-") {
				return cliArgs{}, fmt.Errorf("unknown flag %q", arg)
			}
			words = append(words, arg)
		}
		if err != nil {
			return cliArgs{}, err
		}
	}

	if out.ConfigPath == "" {
		out.ConfigPath = configPath()
	}
	out.Text = strings.Join(words, " ")
	return out, nil
}

// flagValue returns the value of args[*i], either inline ("--x=v") or from
// the next argument, advancing *i in the latter case.
func flagValue(args []string, i *int, name string) (string, error) {
	if _, v, ok := strings.Cut(args[*i], "="); ok {
		return v, nil
	}
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s: %w", name, errMissingValue)
	}
	*i++
	return args[*i], nil
}

func configPath() string {
	if p := os.Getenv("RANDAGENT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
