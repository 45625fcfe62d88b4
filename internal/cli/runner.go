// Package cli implements the tldw-assist command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tldw/tldw-assist/internal/agent"
	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/gemini"
	"github.com/tldw/tldw-assist/internal/llm"
	"github.com/tldw/tldw-assist/internal/logging"
	"github.com/tldw/tldw-assist/internal/registry"
	"github.com/tldw/tldw-assist/internal/tools"
	"github.com/tldw/tldw-assist/internal/types"
	"github.com/tldw/tldw-assist/internal/workspace"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitIncomplete = 2
)

const usage = `Usage: tldw-assist [--verbose] [--config path] "<prompt>"`

// Runner wires configuration, tools and the model client for one invocation.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	// NewClient builds the model client. Defaults to the Gemini client.
	NewClient func(cfg *config.Config) (llm.Client, error)
}

// NewRunner returns a Runner bound to the process streams and environment.
func NewRunner() *Runner {
	return &Runner{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
	}
}

// Run executes the command line and returns the process exit code.
func (r *Runner) Run(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("tldw-assist", pflag.ContinueOnError)
	flags.SetOutput(r.Stderr)
	flags.SetInterspersed(true)
	verbose := flags.Bool("verbose", false, "print token usage, tool arguments and tool results")
	configPath := flags.String("config", config.ConfigPath(), "path to the YAML config file")
	flags.Usage = func() {
		fmt.Fprintln(r.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitOK
		}
		return ExitFailure
	}

	prompt := strings.TrimSpace(strings.Join(flags.Args(), " "))
	if prompt == "" {
		fmt.Fprintln(r.Stderr, "No input provided.")
		flags.Usage()
		return ExitFailure
	}

	code, err := r.run(ctx, *configPath, prompt, *verbose)
	if err != nil {
		fmt.Fprintf(r.Stderr, "Fatal error: %v\n", err)
		return ExitFailure
	}
	return code
}

func (r *Runner) run(ctx context.Context, configPath, prompt string, verbose bool) (int, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return ExitFailure, err
	}
	cfg.ApplyEnv(r.Getenv)
	if err := cfg.Validate(); err != nil {
		return ExitFailure, fmt.Errorf("invalid config: %w", err)
	}

	logs, err := logging.New(cfg.Logging, r.Stderr)
	if err != nil {
		return ExitFailure, err
	}
	defer logs.Close()
	logger := logs.Logger
	logger.Debug("cli.config",
		"path", configPath,
		"model", cfg.Server.Model,
		"api_key", logging.RedactValue(cfg.Server.APIKey),
		"sandbox", cfg.Workspace.Root,
	)

	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		return ExitFailure, fmt.Errorf("create sandbox: %w", err)
	}
	guard, err := workspace.NewGuard(cfg)
	if err != nil {
		return ExitFailure, err
	}
	reg := registry.New(
		tools.NewFSTools(cfg, guard, logger),
		tools.NewExecTools(cfg, guard, logger),
	)

	newClient := r.NewClient
	if newClient == nil {
		newClient = defaultClient
	}
	client, err := newClient(cfg)
	if err != nil {
		return ExitFailure, err
	}

	if verbose {
		fmt.Fprintf(r.Stdout, "User prompt: %s\n", prompt)
	}
	loop := agent.NewLoop(client, reg, cfg.Agent,
		agent.WithLogger(logger),
		agent.WithHooks(r.trace(verbose)),
	)
	res, err := loop.Run(ctx, prompt)
	if err != nil {
		return ExitFailure, err
	}

	switch res.Outcome {
	case agent.OutcomeCompleted:
		if verbose {
			fmt.Fprintln(r.Stdout, "Final response:")
		}
		fmt.Fprintln(r.Stdout, res.Text)
		return ExitOK, nil
	case agent.OutcomeNoOutput:
		fmt.Fprintln(r.Stderr, "Model returned no text and no function calls.")
		return ExitIncomplete, nil
	case agent.OutcomeBudgetExhausted:
		fmt.Fprintf(r.Stderr, "Maximum iterations (%d) reached without a final response.\n", cfg.Agent.MaxIterations)
		return ExitIncomplete, nil
	}
	return ExitFailure, fmt.Errorf("unexpected outcome %s", res.Outcome)
}

func (r *Runner) trace(verbose bool) agent.Hooks {
	if !verbose {
		return agent.Hooks{
			OnToolCall: func(call llm.FunctionCall) {
				fmt.Fprintf(r.Stdout, " - Calling function: %s\n", call.Name)
			},
		}
	}
	return agent.Hooks{
		OnResponse: func(round int, resp llm.Response) {
			fmt.Fprintf(r.Stdout, "Prompt tokens: %d\n", resp.Usage.PromptTokens)
			fmt.Fprintf(r.Stdout, "Response tokens: %d\n", resp.Usage.ResponseTokens)
		},
		OnToolCall: func(call llm.FunctionCall) {
			fmt.Fprintf(r.Stdout, "Calling function: %s(%s)\n", call.Name, formatArgs(call.Args))
		},
		OnToolResult: func(call llm.FunctionCall, result types.ToolResult) {
			fmt.Fprintf(r.Stdout, "-> %s\n", result.Text())
		},
	}
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(data)
}

func defaultClient(cfg *config.Config) (llm.Client, error) {
	client, err := gemini.NewClient(cfg.Server)
	if err != nil {
		return nil, err
	}
	return client, nil
}
