// Package tools implements the sandboxed tool handlers.
package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/types"
	"github.com/tldw/tldw-assist/internal/workspace"
)

// FSTools implements the filesystem tools.
type FSTools struct {
	config *config.Config
	guard  *workspace.Guard
	logger *slog.Logger
}

// NewFSTools creates a new FSTools instance.
func NewFSTools(cfg *config.Config, guard *workspace.Guard, logger *slog.Logger) *FSTools {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FSTools{
		config: cfg,
		guard:  guard,
		logger: logger,
	}
}

// FileEntry represents a file or directory entry.
type FileEntry struct {
	Name  string
	Size  int64
	IsDir bool
}

func (e FileEntry) String() string {
	return fmt.Sprintf("- %s: file_size=%d bytes, is_dir=%t", e.Name, e.Size, e.IsDir)
}

// resolve applies the guard and attributes failures to op.
func resolve(guard *workspace.Guard, op types.Op, path string) (string, *types.ToolError) {
	absPath, err := guard.Resolve(path)
	if err == nil {
		return absPath, nil
	}
	var toolErr *types.ToolError
	if errors.As(err, &toolErr) {
		return "", toolErr.WithOp(op, path)
	}
	return "", &types.ToolError{Kind: types.IoFailure, Op: op, Path: path, Err: err}
}

// List lists the immediate children of a directory, sorted by name.
func (t *FSTools) List(directory string) types.ToolResult {
	if directory == "" {
		directory = "."
	}

	absPath, toolErr := resolve(t.guard, types.OpList, directory)
	if toolErr != nil {
		return types.Failure(toolErr)
	}

	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return types.Failure(&types.ToolError{Kind: types.WrongType, Op: types.OpList, Path: directory, Want: "directory"})
	}

	entries, err := t.entries(absPath)
	if err != nil {
		return types.Failure(&types.ToolError{Kind: types.IoFailure, Op: types.OpList, Path: directory, Err: err})
	}
	if len(entries) == 0 {
		return types.Success(fmt.Sprintf("Directory %q is empty.", directory))
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, entry.String())
	}
	return types.Success(strings.Join(lines, "\n"))
}

func (t *FSTools) entries(dir string) ([]FileEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]FileEntry, 0, len(dirEntries))
	for _, d := range dirEntries {
		info, err := d.Info()
		if err != nil {
			continue // Skip entries that vanished or can't be stat'd
		}
		entry := FileEntry{Name: d.Name(), IsDir: d.IsDir()}
		if !d.IsDir() {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Read returns the content of a regular file. Content longer than the
// configured character cap is reported as truncated, never returned partially.
func (t *FSTools) Read(path string) types.ToolResult {
	absPath, toolErr := resolve(t.guard, types.OpRead, path)
	if toolErr != nil {
		return types.Failure(toolErr)
	}

	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		return types.Failure(&types.ToolError{Kind: types.WrongType, Op: types.OpRead, Path: path, Want: "file"})
	}

	limit := t.config.Workspace.MaxReadChars
	content, truncated, err := readChars(absPath, limit)
	if err != nil {
		return types.Failure(&types.ToolError{Kind: types.IoFailure, Op: types.OpRead, Path: path, Err: err})
	}
	if truncated {
		return types.Failure(&types.ToolError{Kind: types.Truncated, Op: types.OpRead, Path: path, Limit: limit})
	}

	return types.Success(content)
}

// readChars reads at most limit characters and reports whether more remain.
func readChars(path string, limit int) (string, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var b strings.Builder
	for n := 0; n < limit; n++ {
		r, _, err := reader.ReadRune()
		if err == io.EOF {
			return b.String(), false, nil
		}
		if err != nil {
			return "", false, err
		}
		b.WriteRune(r)
	}

	if _, _, err := reader.ReadRune(); err == io.EOF {
		return b.String(), false, nil
	} else if err != nil {
		return "", false, err
	}
	return "", true, nil
}

// Write creates or overwrites a file with content verbatim.
func (t *FSTools) Write(path, content string) types.ToolResult {
	absPath, toolErr := resolve(t.guard, types.OpWrite, path)
	if toolErr != nil {
		return types.Failure(toolErr)
	}

	if info, err := os.Stat(absPath); err == nil && info.IsDir() {
		return types.Failure(&types.ToolError{Kind: types.WrongType, Op: types.OpWrite, Path: path, Want: "file"})
	}

	previous, hadPrevious := t.previousContent(absPath)

	// Ensure parent directory exists
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Failure(&types.ToolError{Kind: types.IoFailure, Op: types.OpWrite, Path: path, Err: err})
	}

	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return types.Failure(&types.ToolError{Kind: types.IoFailure, Op: types.OpWrite, Path: path, Err: err})
	}

	if hadPrevious {
		added, removed := lineDelta(previous, content)
		t.logger.Debug("tools.write_file.overwrite", "path", path, "lines_added", added, "lines_removed", removed)
	}

	return types.Success(fmt.Sprintf("Successfully wrote to %q (%d characters written)", path, utf8.RuneCountInString(content)))
}

// previousContent loads the current file for diff logging when it is small
// enough to be worth diffing.
func (t *FSTools) previousContent(absPath string) (string, bool) {
	if !t.logger.Enabled(context.Background(), slog.LevelDebug) {
		return "", false
	}
	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() || info.Size() > t.config.Workspace.MaxFileSizeBytes {
		return "", false
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// lineDelta counts added and removed lines between two versions.
func lineDelta(before, after string) (int, int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	added, removed := 0, 0
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}
