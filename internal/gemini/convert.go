package gemini

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/tldw/tldw-assist/internal/llm"
)

type jsonSchema struct {
	Type        string                `json:"type"`
	Description string                `json:"description,omitempty"`
	Properties  map[string]jsonSchema `json:"properties,omitempty"`
	Items       *jsonSchema           `json:"items,omitempty"`
	Required    []string              `json:"required,omitempty"`
}

func toGeminiFunctions(tools []llm.Tool) ([]geminiFunctionDeclaration, error) {
	result := make([]geminiFunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		params, err := json.Marshal(toJSONSchema(tool.Parameters))
		if err != nil {
			return nil, err
		}
		result = append(result, geminiFunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return result, nil
}

func toJSONSchema(params []llm.Parameter) jsonSchema {
	schema := jsonSchema{Type: "object", Properties: make(map[string]jsonSchema, len(params))}
	for _, p := range params {
		prop := jsonSchema{Type: p.Type, Description: p.Description}
		if p.Items != "" {
			prop.Items = &jsonSchema{Type: p.Items}
		}
		schema.Properties[p.Name] = prop
	}
	schema.Required = lo.FilterMap(params, func(p llm.Parameter, _ int) (string, bool) {
		return p.Name, p.Required
	})
	return schema
}

// toGeminiContents maps the transcript to wire contents. Tool entries become
// user-role functionResponse parts; consecutive tool entries from one round
// are merged so parallel calls are answered in a single content.
func toGeminiContents(contents []llm.Content) []geminiContent {
	var result []geminiContent
	for _, content := range contents {
		parts := lo.FilterMap(content.Parts, func(part llm.Part, _ int) (geminiPart, bool) {
			return toGeminiPart(part)
		})
		if len(parts) == 0 {
			continue
		}
		role := mapRole(content.Role)
		if content.Role == llm.RoleTool && len(result) > 0 {
			last := &result[len(result)-1]
			if last.Role == role && isFunctionResponses(last.Parts) {
				last.Parts = append(last.Parts, parts...)
				continue
			}
		}
		result = append(result, geminiContent{Role: role, Parts: parts})
	}
	return result
}

func toGeminiPart(part llm.Part) (geminiPart, bool) {
	switch {
	case part.FunctionCall != nil:
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		return geminiPart{FunctionCall: &geminiFunctionCall{Name: part.FunctionCall.Name, Args: args}}, true
	case part.FunctionResponse != nil:
		return geminiPart{FunctionResponse: &geminiFunctionResult{
			Name: part.FunctionResponse.Name,
			Response: map[string]any{
				"result": part.FunctionResponse.Result,
			},
		}}, true
	case part.Text != "":
		return geminiPart{Text: part.Text}, true
	default:
		return geminiPart{}, false
	}
}

func isFunctionResponses(parts []geminiPart) bool {
	return lo.EveryBy(parts, func(p geminiPart) bool {
		return p.FunctionResponse != nil
	})
}

func mapRole(role llm.Role) string {
	switch role {
	case llm.RoleModel, "assistant":
		return "model"
	default:
		return "user"
	}
}

func extractGeminiParts(parts []geminiPart) (string, []llm.FunctionCall) {
	var text strings.Builder
	var calls []llm.FunctionCall
	for _, part := range parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, llm.FunctionCall{
				ID:   uuid.NewString(),
				Name: part.FunctionCall.Name,
				Args: args,
			})
		}
	}
	return text.String(), calls
}
