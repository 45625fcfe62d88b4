package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/llm"
)

type mockRT struct {
	roundTrip func(req *http.Request) (*http.Response, error)
}

func (m *mockRT) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.roundTrip(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestClient(rt func(req *http.Request) (*http.Response, error)) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  "test-key",
		model:   "gemini-2.0-flash-001",
		client:  &http.Client{Transport: &mockRT{roundTrip: rt}},
	}
}

func TestGenerateSendsTranscriptAndTools(t *testing.T) {
	var captured map[string]any
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1beta/models/gemini-2.0-flash-001:generateContent" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		if got := req.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Fatalf("unexpected api key header %q", got)
		}
		if req.URL.Query().Get("key") != "" {
			t.Fatalf("api key must not be sent in the query string")
		}
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return response(http.StatusOK, `{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "All done."}]}}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 3}
		}`), nil
	})

	call := llm.FunctionCall{ID: "c1", Name: "get_files_info", Args: map[string]any{"directory": "."}}
	req := llm.Request{
		System: "be brief",
		Contents: []llm.Content{
			llm.TextContent(llm.RoleUser, "what is here?"),
			llm.ModelContent(llm.Response{Calls: []llm.FunctionCall{call}}),
			llm.ToolContent(call, "- main.py: file_size=1 bytes, is_dir=false"),
		},
		Tools: []llm.Tool{{
			Name:        "get_file_content",
			Description: "read",
			Parameters: []llm.Parameter{
				{Name: "file_path", Type: "string", Required: true},
				{Name: "args", Type: "array", Items: "string"},
			},
		}},
	}

	resp, err := client.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Text != "All done." || len(resp.Calls) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.ResponseTokens != 3 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}

	system := captured["systemInstruction"].(map[string]any)
	if system["parts"].([]any)[0].(map[string]any)["text"] != "be brief" {
		t.Fatalf("system instruction not sent: %v", system)
	}

	contents := captured["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	roles := []string{"user", "model", "user"}
	for i, c := range contents {
		if role := c.(map[string]any)["role"]; role != roles[i] {
			t.Fatalf("content %d role %v, want %s", i, role, roles[i])
		}
	}
	toolPart := contents[2].(map[string]any)["parts"].([]any)[0].(map[string]any)
	fr := toolPart["functionResponse"].(map[string]any)
	if fr["name"] != "get_files_info" || fr["response"].(map[string]any)["result"] != "- main.py: file_size=1 bytes, is_dir=false" {
		t.Fatalf("unexpected function response %v", fr)
	}

	decl := captured["tools"].([]any)[0].(map[string]any)["functionDeclarations"].([]any)[0].(map[string]any)
	params := decl["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Fatalf("unexpected parameters %v", params)
	}
	required := params["required"].([]any)
	if len(required) != 1 || required[0] != "file_path" {
		t.Fatalf("unexpected required list %v", required)
	}
	argsProp := params["properties"].(map[string]any)["args"].(map[string]any)
	if argsProp["items"].(map[string]any)["type"] != "string" {
		t.Fatalf("array items not encoded: %v", argsProp)
	}
}

func TestGenerateExtractsFunctionCalls(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"candidates": [{"content": {"role": "model", "parts": [
			{"text": "Checking."},
			{"functionCall": {"name": "write_file", "args": {"file_path": "a.txt", "content": "hi"}}},
			{"functionCall": {"name": "get_files_info"}}
		]}}]}`), nil
	})

	resp, err := client.Generate(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Text != "Checking." {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if len(resp.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(resp.Calls))
	}
	if resp.Calls[0].Name != "write_file" || resp.Calls[0].Args["content"] != "hi" {
		t.Fatalf("unexpected first call %+v", resp.Calls[0])
	}
	if resp.Calls[1].Args == nil {
		t.Fatalf("expected empty args map, got nil")
	}
	if resp.Calls[0].ID == "" || resp.Calls[0].ID == resp.Calls[1].ID {
		t.Fatalf("expected distinct call ids, got %q and %q", resp.Calls[0].ID, resp.Calls[1].ID)
	}
}

func TestGenerateErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{status: http.StatusUnauthorized, body: `{}`, want: llm.ErrUnauthorized},
		{status: http.StatusForbidden, body: `{}`, want: llm.ErrUnauthorized},
		{status: http.StatusTooManyRequests, body: `{}`, want: llm.ErrRateLimited},
		{status: http.StatusServiceUnavailable, body: `{}`, want: llm.ErrUnavailable},
		{status: http.StatusOK, body: `{"candidates": []}`, want: llm.ErrEmptyResponse},
	}
	for _, tc := range cases {
		client := newTestClient(func(req *http.Request) (*http.Response, error) {
			return response(tc.status, tc.body), nil
		})
		if _, err := client.Generate(context.Background(), llm.Request{}); !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}

	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusBadRequest, `{"error": {"message": "bad schema"}}`), nil
	})
	_, err := client.Generate(context.Background(), llm.Request{})
	if err == nil || !strings.Contains(err.Error(), "bad schema") {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestNewClient(t *testing.T) {
	cfg := config.Default().Server
	if _, err := NewClient(cfg); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}

	cfg.APIKey = "key"
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if client.model != "gemini-2.0-flash-001" || client.baseURL != defaultBaseURL {
		t.Fatalf("unexpected client %+v", client)
	}

	// Requests to any other host are refused before leaving the process.
	client.baseURL = "https://example.com"
	if _, err := client.Generate(context.Background(), llm.Request{}); !errors.Is(err, llm.ErrEgressBlocked) {
		t.Fatalf("expected egress blocked, got %v", err)
	}
}

func TestToGeminiContentsMergesToolTurns(t *testing.T) {
	a := llm.FunctionCall{ID: "1", Name: "get_file_content"}
	b := llm.FunctionCall{ID: "2", Name: "get_files_info"}
	contents := toGeminiContents([]llm.Content{
		llm.TextContent(llm.RoleUser, "go"),
		llm.ModelContent(llm.Response{Calls: []llm.FunctionCall{a, b}}),
		llm.ToolContent(a, "one"),
		llm.ToolContent(b, "two"),
		llm.TextContent(llm.RoleModel, "done"),
		{Role: llm.RoleModel},
	})
	if len(contents) != 4 {
		t.Fatalf("expected 4 wire contents, got %d", len(contents))
	}
	merged := contents[2]
	if merged.Role != "user" || len(merged.Parts) != 2 {
		t.Fatalf("expected merged tool responses, got %+v", merged)
	}
	if merged.Parts[0].FunctionResponse.Name != "get_file_content" || merged.Parts[1].FunctionResponse.Name != "get_files_info" {
		t.Fatalf("tool responses out of order")
	}
}
