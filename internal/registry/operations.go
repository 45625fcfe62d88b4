package registry

import (
	"fmt"

	"github.com/tldw/tldw-assist/internal/types"
)

// Operation is a decoded tool invocation. The set of variants is closed.
type Operation interface {
	Name() string
	operation()
}

// ListDirectory lists the immediate children of Directory.
type ListDirectory struct {
	Directory string
}

// ReadFile returns the content of FilePath.
type ReadFile struct {
	FilePath string
}

// RunScript executes FilePath with Args.
type RunScript struct {
	FilePath string
	Args     []string
}

// WriteFile replaces FilePath with Content.
type WriteFile struct {
	FilePath string
	Content  string
}

func (ListDirectory) Name() string { return NameListDirectory }
func (ReadFile) Name() string      { return NameReadFile }
func (RunScript) Name() string     { return NameRunScript }
func (WriteFile) Name() string     { return NameWriteFile }

func (ListDirectory) operation() {}
func (ReadFile) operation()      {}
func (RunScript) operation()     {}
func (WriteFile) operation()     {}

// Function names advertised to the model.
const (
	NameListDirectory = "get_files_info"
	NameReadFile      = "get_file_content"
	NameRunScript     = "run_python_file"
	NameWriteFile     = "write_file"
)

// args wraps the loosely typed argument map the model produced.
type args struct {
	op     types.Op
	values map[string]any
}

func (a args) optionalString(name, fallback string) (string, *types.ToolError) {
	raw, ok := a.values[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", a.invalid(name, fmt.Errorf("expected string, got %T", raw))
	}
	return s, nil
}

func (a args) requiredString(name string) (string, *types.ToolError) {
	raw, ok := a.values[name]
	if !ok || raw == nil {
		return "", &types.ToolError{Kind: types.InvalidArgument, Op: a.op, Name: name}
	}
	s, ok := raw.(string)
	if !ok {
		return "", a.invalid(name, fmt.Errorf("expected string, got %T", raw))
	}
	return s, nil
}

// stringList accepts an array of scalars; numbers and booleans are
// formatted since models often emit them unquoted.
func (a args) stringList(name string) ([]string, *types.ToolError) {
	raw, ok := a.values[name]
	if !ok || raw == nil {
		return nil, nil
	}
	switch list := raw.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			case float64, int, int64, bool:
				out = append(out, fmt.Sprint(v))
			default:
				return nil, a.invalid(name, fmt.Errorf("element %d: expected string, got %T", i, item))
			}
		}
		return out, nil
	default:
		return nil, a.invalid(name, fmt.Errorf("expected array, got %T", raw))
	}
}

func (a args) invalid(name string, err error) *types.ToolError {
	return &types.ToolError{Kind: types.InvalidArgument, Op: a.op, Name: name, Err: err}
}

func decodeListDirectory(a args) (Operation, *types.ToolError) {
	dir, err := a.optionalString("directory", ".")
	if err != nil {
		return nil, err
	}
	return ListDirectory{Directory: dir}, nil
}

func decodeReadFile(a args) (Operation, *types.ToolError) {
	path, err := a.requiredString("file_path")
	if err != nil {
		return nil, err
	}
	return ReadFile{FilePath: path}, nil
}

func decodeRunScript(a args) (Operation, *types.ToolError) {
	path, err := a.requiredString("file_path")
	if err != nil {
		return nil, err
	}
	list, err := a.stringList("args")
	if err != nil {
		return nil, err
	}
	return RunScript{FilePath: path, Args: list}, nil
}

func decodeWriteFile(a args) (Operation, *types.ToolError) {
	path, err := a.requiredString("file_path")
	if err != nil {
		return nil, err
	}
	content, err := a.requiredString("content")
	if err != nil {
		return nil, err
	}
	return WriteFile{FilePath: path, Content: content}, nil
}
