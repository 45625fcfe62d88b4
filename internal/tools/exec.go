package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/types"
	"github.com/tldw/tldw-assist/internal/workspace"
)

// waitDelay bounds how long Wait blocks on output pipes after the process
// is killed, in case the script left children holding them open.
const waitDelay = 2 * time.Second

// ExecTools runs sandboxed scripts.
type ExecTools struct {
	config *config.Config
	guard  *workspace.Guard
	logger *slog.Logger
}

// NewExecTools creates a new ExecTools instance.
func NewExecTools(cfg *config.Config, guard *workspace.Guard, logger *slog.Logger) *ExecTools {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecTools{
		config: cfg,
		guard:  guard,
		logger: logger,
	}
}

// ExecResult represents the raw result of a script execution.
type ExecResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Truncated bool
}

// Timeout returns the configured wall-clock limit per script.
func (e *ExecTools) Timeout() time.Duration {
	return time.Duration(e.config.Execution.TimeoutMs) * time.Millisecond
}

// RunScript executes a script inside the sandbox with the configured
// interpreter. All rejections happen before any process is spawned.
func (e *ExecTools) RunScript(ctx context.Context, path string, args []string) types.ToolResult {
	absPath, toolErr := resolve(e.guard, types.OpRun, path)
	if toolErr != nil {
		return types.Failure(toolErr)
	}

	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		return types.Failure(&types.ToolError{Kind: types.NotFound, Op: types.OpRun, Path: path})
	}

	ext := e.config.Execution.ScriptExtension
	if !strings.EqualFold(filepath.Ext(absPath), ext) {
		return types.Failure(&types.ToolError{Kind: types.WrongType, Op: types.OpRun, Path: path, Want: ext + " script"})
	}

	result, err := e.executeScript(ctx, absPath, args)
	if err != nil {
		var toolErr *types.ToolError
		if errors.As(err, &toolErr) {
			return types.Failure(toolErr.WithOp(types.OpRun, path))
		}
		return types.Failure(&types.ToolError{Kind: types.IoFailure, Op: types.OpRun, Path: path, Err: err})
	}

	e.logger.Debug("tools.run_script",
		"path", path,
		"args", len(args),
		"exit_code", result.ExitCode,
		"duration_ms", result.Duration.Milliseconds(),
		"truncated", result.Truncated,
	)

	return formatExecResult(result)
}

func (e *ExecTools) executeScript(ctx context.Context, absPath string, args []string) (*ExecResult, error) {
	timeout := e.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdArgs := append([]string{absPath}, args...)
	cmd := exec.CommandContext(ctx, e.config.Execution.Interpreter, cmdArgs...)
	cmd.Dir = e.guard.Root()
	cmd.WaitDelay = waitDelay

	maxOutput := e.config.Execution.MaxOutputBytes
	stdout := &cappedBuffer{limit: maxOutput}
	stderr := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Duration:  time.Since(start),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &types.ToolError{Kind: types.Timeout, Timeout: timeout, Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute script: %w", err)
		}
		result.ExitCode = exitCode(exitErr)
	}
	return result, nil
}

// exitCode reports the exit status, or the negated signal number when the
// process was killed by a signal.
func exitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -int(status.Signal())
	}
	return exitErr.ExitCode()
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest, so a noisy script cannot grow memory without bound.
type cappedBuffer struct {
	limit     int
	buf       bytes.Buffer
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// String returns the captured bytes. A rune split by the cap is dropped.
func (c *cappedBuffer) String() string {
	b := c.buf.Bytes()
	if c.truncated {
		b = trimPartialRune(b)
	}
	return string(b)
}

func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0; i++ {
		if r, size := utf8.DecodeLastRune(b); r != utf8.RuneError || size > 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func formatExecResult(result *ExecResult) types.ToolResult {
	var output []string
	if result.Stdout != "" {
		output = append(output, "STDOUT: "+result.Stdout)
	}
	if result.Stderr != "" {
		output = append(output, "STDERR: "+result.Stderr)
	}
	if result.Truncated {
		output = append(output, "(output truncated)")
	}

	if result.ExitCode != 0 {
		return types.ToolResult{
			Output: strings.Join(output, "\n"),
			Err:    &types.ToolError{Kind: types.NonZeroExit, Op: types.OpRun, ExitCode: result.ExitCode},
		}
	}
	if len(output) == 0 {
		return types.Success("No output produced.")
	}
	return types.Success(strings.Join(output, "\n"))
}
