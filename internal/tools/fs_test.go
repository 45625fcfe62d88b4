package tools

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/types"
	"github.com/tldw/tldw-assist/internal/workspace"
)

// newSandbox creates base/work as the sandbox root plus a sibling
// base/work-evil that shares its string prefix.
func newSandbox(t *testing.T) (*config.Config, *workspace.Guard, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "work")
	for _, dir := range []string{filepath.Join(root, "pkg"), filepath.Join(base, "work-evil")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	cfg := config.Default()
	cfg.Workspace.Root = root
	guard, err := workspace.NewGuard(cfg)
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}
	return cfg, guard, base
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func wantKind(t *testing.T, res types.ToolResult, kind types.ErrorKind) {
	t.Helper()
	if res.Err == nil {
		t.Fatalf("expected %s error, got success %q", kind, res.Output)
	}
	if res.Err.Kind != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, res.Err.Kind, res.Err)
	}
	if res.Err.Kind != types.NonZeroExit && !strings.HasPrefix(res.Text(), "Error: ") {
		t.Fatalf("expected rendered error prefix, got %q", res.Text())
	}
}

func TestListSortedEntries(t *testing.T) {
	cfg, guard, _ := newSandbox(t)
	root := guard.Root()
	writeFile(t, filepath.Join(root, "main.py"), "print('hi')\n")
	writeFile(t, filepath.Join(root, "a.txt"), "abc")

	fs := NewFSTools(cfg, guard, nil)
	res := fs.List(".")
	if !res.OK() {
		t.Fatalf("List error: %v", res.Err)
	}

	want := strings.Join([]string{
		"- a.txt: file_size=3 bytes, is_dir=false",
		"- main.py: file_size=12 bytes, is_dir=false",
		"- pkg: file_size=0 bytes, is_dir=true",
	}, "\n")
	if res.Output != want {
		t.Fatalf("unexpected listing:\n%s\nwant:\n%s", res.Output, want)
	}

	empty := fs.List("pkg")
	if !empty.OK() || !strings.Contains(empty.Output, "is empty") {
		t.Fatalf("expected empty directory notice, got %q", empty.Text())
	}
}

func TestListRejectsFilesAndEscapes(t *testing.T) {
	cfg, guard, _ := newSandbox(t)
	writeFile(t, filepath.Join(guard.Root(), "main.py"), "")
	fs := NewFSTools(cfg, guard, nil)

	wantKind(t, fs.List("main.py"), types.WrongType)
	wantKind(t, fs.List("missing"), types.WrongType)
	wantKind(t, fs.List("../"), types.ContainmentViolation)
	wantKind(t, fs.List("../work-evil"), types.ContainmentViolation)
	wantKind(t, fs.List("/bin"), types.ContainmentViolation)
}

func TestReadAtAndOverCap(t *testing.T) {
	cfg, guard, _ := newSandbox(t)
	cfg.Workspace.MaxReadChars = 10
	root := guard.Root()

	writeFile(t, filepath.Join(root, "exact.txt"), "0123456789")
	writeFile(t, filepath.Join(root, "over.txt"), "0123456789X")
	writeFile(t, filepath.Join(root, "runes.txt"), strings.Repeat("é", 10))

	fs := NewFSTools(cfg, guard, nil)

	exact := fs.Read("exact.txt")
	if !exact.OK() || exact.Output != "0123456789" {
		t.Fatalf("expected full content at cap, got %q", exact.Text())
	}

	runes := fs.Read("runes.txt")
	if !runes.OK() || runes.Output != strings.Repeat("é", 10) {
		t.Fatalf("expected cap counted in characters, got %q", runes.Text())
	}

	over := fs.Read("over.txt")
	wantKind(t, over, types.Truncated)
	if over.Output != "" {
		t.Fatalf("truncated read must not return partial content, got %q", over.Output)
	}
	if got := over.Text(); got != `Error: File "over.txt" truncated at 10 characters` {
		t.Fatalf("unexpected truncation message: %q", got)
	}
}

func TestReadRejections(t *testing.T) {
	cfg, guard, base := newSandbox(t)
	writeFile(t, filepath.Join(base, "work-evil", "secret.txt"), "secret")
	fs := NewFSTools(cfg, guard, nil)

	wantKind(t, fs.Read("pkg"), types.WrongType)
	wantKind(t, fs.Read("nope.txt"), types.WrongType)
	wantKind(t, fs.Read("../work-evil/secret.txt"), types.ContainmentViolation)
	wantKind(t, fs.Read(filepath.Join(base, "work-evil", "secret.txt")), types.ContainmentViolation)

	res := fs.Read("../work-evil/secret.txt")
	if strings.Contains(res.Text(), "secret\n") || res.Output != "" {
		t.Fatalf("containment violation leaked content: %q", res.Text())
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	cfg, guard, _ := newSandbox(t)
	fs := NewFSTools(cfg, guard, nil)

	contents := []string{
		"",
		"hello",
		"line one\nline two\n",
		"unicode: héllo wörld ✓",
		strings.Repeat("x", cfg.Workspace.MaxReadChars-1),
	}
	for _, content := range contents {
		res := fs.Write("notes/out.txt", content)
		if !res.OK() {
			t.Fatalf("Write error: %v", res.Err)
		}
		read := fs.Read("notes/out.txt")
		if !read.OK() {
			t.Fatalf("Read error: %v", read.Err)
		}
		if read.Output != content {
			t.Fatalf("round trip mismatch: wrote %d chars, read %d", len(content), len(read.Output))
		}
	}
}

func TestWriteReportsCharacterCount(t *testing.T) {
	cfg, guard, _ := newSandbox(t)
	fs := NewFSTools(cfg, guard, nil)

	res := fs.Write("greeting.txt", "héllo")
	if res.Text() != `Successfully wrote to "greeting.txt" (5 characters written)` {
		t.Fatalf("unexpected write message: %q", res.Text())
	}
}

func TestWriteRejectsEscapesWithoutMutation(t *testing.T) {
	cfg, guard, base := newSandbox(t)
	fs := NewFSTools(cfg, guard, nil)

	wantKind(t, fs.Write("../work-evil/pwned.txt", "x"), types.ContainmentViolation)
	wantKind(t, fs.Write("../outside/new.txt", "x"), types.ContainmentViolation)

	if _, err := os.Stat(filepath.Join(base, "work-evil", "pwned.txt")); !os.IsNotExist(err) {
		t.Fatalf("file written outside the sandbox: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "outside")); !os.IsNotExist(err) {
		t.Fatalf("directory created outside the sandbox: %v", err)
	}

	wantKind(t, fs.Write("pkg", "x"), types.WrongType)
}

func TestWriteRejectsDanglingSymlinkEscape(t *testing.T) {
	cfg, guard, base := newSandbox(t)
	fs := NewFSTools(cfg, guard, nil)
	target := filepath.Join(base, "outside.txt")
	if err := os.Symlink(target, filepath.Join(guard.Root(), "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	wantKind(t, fs.Write("link.txt", "pwned"), types.ContainmentViolation)
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("write followed the link outside the sandbox: %v", err)
	}
}

func TestWriteLogsOverwriteDelta(t *testing.T) {
	cfg, guard, _ := newSandbox(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fs := NewFSTools(cfg, guard, logger)

	if res := fs.Write("a.txt", "one\ntwo\n"); !res.OK() {
		t.Fatalf("Write error: %v", res.Err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no overwrite log for a new file, got %q", buf.String())
	}
	if res := fs.Write("a.txt", "one\nthree\nfour\n"); !res.OK() {
		t.Fatalf("Write error: %v", res.Err)
	}
	logged := buf.String()
	if !strings.Contains(logged, "tools.write_file.overwrite") || !strings.Contains(logged, "lines_added=2") || !strings.Contains(logged, "lines_removed=1") {
		t.Fatalf("unexpected overwrite log: %q", logged)
	}
}

func TestLineDelta(t *testing.T) {
	added, removed := lineDelta("a\nb\nc\n", "a\nc\nd\n")
	if added != 1 || removed != 1 {
		t.Fatalf("lineDelta = +%d -%d, want +1 -1", added, removed)
	}
}
