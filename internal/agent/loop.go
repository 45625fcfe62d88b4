// Package agent runs the bounded request/tool/response cycle between the model
// and the tool registry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/llm"
	"github.com/tldw/tldw-assist/internal/logging"
	"github.com/tldw/tldw-assist/internal/registry"
	"github.com/tldw/tldw-assist/internal/types"
)

// ErrMalformedCall is returned when the model requests a call without a name.
var ErrMalformedCall = errors.New("malformed function call in model response")

// Outcome reports how a run ended.
type Outcome int

const (
	// OutcomeFatal accompanies a non-nil error from Run.
	OutcomeFatal Outcome = iota
	// OutcomeCompleted means the model answered with text and no calls.
	OutcomeCompleted
	// OutcomeNoOutput means the model returned neither text nor calls.
	OutcomeNoOutput
	// OutcomeBudgetExhausted means every round requested tools.
	OutcomeBudgetExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFatal:
		return "fatal"
	case OutcomeCompleted:
		return "completed"
	case OutcomeNoOutput:
		return "no_output"
	case OutcomeBudgetExhausted:
		return "budget_exhausted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result summarizes a finished run.
type Result struct {
	Outcome    Outcome
	Text       string
	Rounds     int
	Usage      llm.Usage
	Transcript []llm.Content
}

// Hooks observe a run as it progresses. Nil fields are skipped.
type Hooks struct {
	OnResponse   func(round int, resp llm.Response)
	OnToolCall   func(call llm.FunctionCall)
	OnToolResult func(call llm.FunctionCall, result types.ToolResult)
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithHooks installs progress callbacks.
func WithHooks(h Hooks) Option {
	return func(l *Loop) {
		l.hooks = h
	}
}

// Loop drives one prompt to completion.
type Loop struct {
	client   llm.Client
	registry *registry.Registry
	cfg      config.AgentConfig
	logger   *slog.Logger
	hooks    Hooks
}

// NewLoop creates a loop over the given client and registry.
func NewLoop(client llm.Client, reg *registry.Registry, cfg config.AgentConfig, opts ...Option) *Loop {
	l := &Loop{
		client:   client,
		registry: reg,
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run sends prompt to the model and services tool calls until the model
// answers, returns nothing, or the iteration budget runs out. A returned error
// is fatal; tool failures are reported to the model instead.
func (l *Loop) Run(ctx context.Context, prompt string) (Result, error) {
	logger := l.logger.With("run_id", uuid.NewString())
	transcript := []llm.Content{llm.TextContent(llm.RoleUser, prompt)}
	tools := l.registry.Tools()
	var usage llm.Usage

	result := func(outcome Outcome, text string, rounds int) Result {
		return Result{
			Outcome:    outcome,
			Text:       text,
			Rounds:     rounds,
			Usage:      usage,
			Transcript: slices.Clone(transcript),
		}
	}

	logger.Info("agent.start", "max_iterations", l.cfg.MaxIterations, "tools", len(tools))
	for round := 1; round <= l.cfg.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return result(OutcomeFatal, "", round-1), fmt.Errorf("round %d: %w", round, err)
		}

		started := time.Now()
		resp, err := l.client.Generate(ctx, llm.Request{
			System:   l.cfg.SystemPrompt,
			Contents: transcript,
			Tools:    tools,
		})
		if err != nil {
			logger.Error("agent.generate.failed", "round", round, "error", err)
			return result(OutcomeFatal, "", round), fmt.Errorf("round %d: generate: %w", round, err)
		}
		usage = usage.Add(resp.Usage)
		logger.Debug("agent.round",
			"round", round,
			"calls", len(resp.Calls),
			"text_chars", len(resp.Text),
			"prompt_tokens", resp.Usage.PromptTokens,
			"response_tokens", resp.Usage.ResponseTokens,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		if l.hooks.OnResponse != nil {
			l.hooks.OnResponse(round, resp)
		}

		model := llm.ModelContent(resp)
		if len(model.Parts) > 0 {
			transcript = append(transcript, model)
		}

		if len(resp.Calls) == 0 {
			if strings.TrimSpace(resp.Text) == "" {
				logger.Warn("agent.no_output", "round", round)
				return result(OutcomeNoOutput, "", round), nil
			}
			logger.Info("agent.completed", "rounds", round)
			return result(OutcomeCompleted, resp.Text, round), nil
		}

		if i := slices.IndexFunc(resp.Calls, func(c llm.FunctionCall) bool { return c.Name == "" }); i >= 0 {
			return result(OutcomeFatal, "", round), fmt.Errorf("round %d: call %d: %w", round, i+1, ErrMalformedCall)
		}
		for _, call := range resp.Calls {
			transcript = append(transcript, l.invoke(ctx, logger, call))
		}
	}

	logger.Warn("agent.budget_exhausted", "max_iterations", l.cfg.MaxIterations)
	return result(OutcomeBudgetExhausted, "", l.cfg.MaxIterations), nil
}

func (l *Loop) invoke(ctx context.Context, logger *slog.Logger, call llm.FunctionCall) llm.Content {
	if l.hooks.OnToolCall != nil {
		l.hooks.OnToolCall(call)
	}
	logger.Debug("agent.tool.call", "call_id", call.ID, "name", call.Name, "args", logging.RedactAny(call.Args))
	res := l.registry.Execute(ctx, call.Name, call.Args)
	if res.OK() {
		logger.Debug("agent.tool", "call_id", call.ID, "name", call.Name)
	} else {
		logger.Info("agent.tool.failed", "call_id", call.ID, "name", call.Name, "kind", res.Err.Kind.String())
	}
	if l.hooks.OnToolResult != nil {
		l.hooks.OnToolResult(call, res)
	}
	return llm.ToolContent(call, res.Text())
}
