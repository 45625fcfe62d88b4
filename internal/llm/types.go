// Package llm defines the contract between the agent loop and a hosted model.
package llm

import "context"

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Content is one transcript entry.
type Content struct {
	Role  Role
	Parts []Part
}

// Part holds exactly one of text, a function call, or a function response.
type Part struct {
	Text             string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

// FunctionCall represents a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	ID     string
	Name   string
	Result string
}

// Tool describes a callable function advertised to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Parameter describes one named argument of a Tool.
type Parameter struct {
	Name        string
	Type        string // "string", "array", ...
	Description string
	Required    bool
	// Items is the element type for arrays.
	Items string
}

// Usage reports token counters for one call.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
}

// Add accumulates counters.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:   u.PromptTokens + other.PromptTokens,
		ResponseTokens: u.ResponseTokens + other.ResponseTokens,
	}
}

// Request is the input of one round.
type Request struct {
	System   string
	Contents []Content
	Tools    []Tool
}

// Response is the model's next step. Either field may be empty.
type Response struct {
	Text  string
	Calls []FunctionCall
	Usage Usage
}

// Client is implemented by model providers.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// TextContent builds a single-part text entry.
func TextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// ModelContent builds the transcript entry for a model response.
func ModelContent(resp Response) Content {
	content := Content{Role: RoleModel}
	if resp.Text != "" {
		content.Parts = append(content.Parts, Part{Text: resp.Text})
	}
	for i := range resp.Calls {
		call := resp.Calls[i]
		content.Parts = append(content.Parts, Part{FunctionCall: &call})
	}
	return content
}

// ToolContent builds the transcript entry for one tool result.
func ToolContent(call FunctionCall, result string) Content {
	return Content{
		Role: RoleTool,
		Parts: []Part{{
			FunctionResponse: &FunctionResponse{ID: call.ID, Name: call.Name, Result: result},
		}},
	}
}
