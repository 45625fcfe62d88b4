// Package registry maps model-visible function names to tool handlers.
package registry

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/tldw/tldw-assist/internal/llm"
	"github.com/tldw/tldw-assist/internal/tools"
	"github.com/tldw/tldw-assist/internal/types"
)

type entry struct {
	tool   llm.Tool
	op     types.Op
	decode func(args) (Operation, *types.ToolError)
}

// Registry is the static, ordered set of tools offered to the model.
type Registry struct {
	fsTools   *tools.FSTools
	execTools *tools.ExecTools
	entries   []entry
	byName    map[string]int
}

// New creates the registry. The sandbox root never appears in any schema;
// handlers receive it through their guard.
func New(fsTools *tools.FSTools, execTools *tools.ExecTools) *Registry {
	r := &Registry{
		fsTools:   fsTools,
		execTools: execTools,
		entries:   definitions(execTools),
	}
	r.byName = make(map[string]int, len(r.entries))
	for i, e := range r.entries {
		r.byName[e.tool.Name] = i
	}
	return r
}

func definitions(execTools *tools.ExecTools) []entry {
	timeout := "30s"
	if execTools != nil {
		timeout = execTools.Timeout().String()
	}
	return []entry{
		{
			op:     types.OpList,
			decode: decodeListDirectory,
			tool: llm.Tool{
				Name:        NameListDirectory,
				Description: "Lists files in the specified directory along with their sizes, constrained to the working directory.",
				Parameters: []llm.Parameter{
					{
						Name:        "directory",
						Type:        "string",
						Description: "The directory to list files from, relative to the working directory. If not provided, lists files in the working directory itself.",
					},
				},
			},
		},
		{
			op:     types.OpRead,
			decode: decodeReadFile,
			tool: llm.Tool{
				Name:        NameReadFile,
				Description: "Reads the content of a file, constrained to the working directory. Files longer than the read limit are reported as truncated.",
				Parameters: []llm.Parameter{
					{
						Name:        "file_path",
						Type:        "string",
						Description: "The path to the file to read, relative to the working directory.",
						Required:    true,
					},
				},
			},
		},
		{
			op:     types.OpRun,
			decode: decodeRunScript,
			tool: llm.Tool{
				Name:        NameRunScript,
				Description: fmt.Sprintf("Executes a Python file with optional arguments, constrained to the working directory. Execution is limited to %s.", timeout),
				Parameters: []llm.Parameter{
					{
						Name:        "file_path",
						Type:        "string",
						Description: "The path to the Python file to execute, relative to the working directory.",
						Required:    true,
					},
					{
						Name:        "args",
						Type:        "array",
						Items:       "string",
						Description: "Optional arguments to pass to the Python file.",
					},
				},
			},
		},
		{
			op:     types.OpWrite,
			decode: decodeWriteFile,
			tool: llm.Tool{
				Name:        NameWriteFile,
				Description: "Writes or overwrites a file with the provided content, constrained to the working directory.",
				Parameters: []llm.Parameter{
					{
						Name:        "file_path",
						Type:        "string",
						Description: "The path to the file to write, relative to the working directory.",
						Required:    true,
					},
					{
						Name:        "content",
						Type:        "string",
						Description: "The content to write to the file.",
						Required:    true,
					},
				},
			},
		},
	}
}

// Tools returns the schemas advertised to the model, in registration order.
func (r *Registry) Tools() []llm.Tool {
	return lo.Map(r.entries, func(e entry, _ int) llm.Tool {
		return e.tool
	})
}

// Decode turns a model request into a typed operation.
func (r *Registry) Decode(name string, values map[string]any) (Operation, *types.ToolError) {
	i, ok := r.byName[name]
	if !ok {
		return nil, &types.ToolError{Kind: types.UnknownOperation, Name: name}
	}
	e := r.entries[i]
	return e.decode(args{op: e.op, values: values})
}

// Run dispatches a decoded operation to its handler.
func (r *Registry) Run(ctx context.Context, op Operation) types.ToolResult {
	switch op := op.(type) {
	case ListDirectory:
		return r.fsTools.List(op.Directory)
	case ReadFile:
		return r.fsTools.Read(op.FilePath)
	case RunScript:
		return r.execTools.RunScript(ctx, op.FilePath, op.Args)
	case WriteFile:
		return r.fsTools.Write(op.FilePath, op.Content)
	default:
		return types.Failure(&types.ToolError{Kind: types.UnknownOperation, Name: fmt.Sprintf("%T", op)})
	}
}

// Execute decodes and runs a model request. Every failure, including an
// unknown name, comes back as a result so the caller can always answer the call.
func (r *Registry) Execute(ctx context.Context, name string, values map[string]any) types.ToolResult {
	op, err := r.Decode(name, values)
	if err != nil {
		return types.Failure(err)
	}
	return r.Run(ctx, op)
}
