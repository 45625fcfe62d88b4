// Package types provides shared types for tldw-assist.
package types

import "strings"

// ToolResult represents the result of a tool execution.
//
// A result may carry both output and an error: a script that exits non-zero
// still produced stdout/stderr worth showing to the model.
type ToolResult struct {
	Output string
	Err    *ToolError
}

// OK reports whether the tool succeeded.
func (r ToolResult) OK() bool {
	return r.Err == nil
}

// Text renders the model-facing string.
func (r ToolResult) Text() string {
	if r.Err == nil {
		return r.Output
	}
	if r.Err.Kind == NonZeroExit {
		parts := []string{}
		if r.Output != "" {
			parts = append(parts, r.Output)
		}
		parts = append(parts, r.Err.Error())
		return strings.Join(parts, "\n")
	}
	return "Error: " + r.Err.Error()
}

// Success returns a result holding output only.
func Success(output string) ToolResult {
	return ToolResult{Output: output}
}

// Failure returns a result holding an error only.
func Failure(err *ToolError) ToolResult {
	return ToolResult{Err: err}
}
