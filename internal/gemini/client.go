// Package gemini implements llm.Client on the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/llm"
	"github.com/tldw/tldw-assist/internal/nets"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// ErrMissingAPIKey is returned when no key is configured.
var ErrMissingAPIKey = errors.New("gemini: no API key configured (set GEMINI_API_KEY or server.api_key)")

// Client implements a minimal Gemini generateContent API wrapper.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient builds a client from the server configuration.
func NewClient(cfg config.ServerConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	transport, err := nets.NewTransport(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client: &http.Client{
			Timeout:   timeout,
			Transport: nets.NewAllowlistRoundTripper(transport, []string{u.Hostname()}),
		},
	}, nil
}

// Generate sends the transcript and tool schemas and returns the next step.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	payload := geminiRequest{Contents: toGeminiContents(req.Contents)}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		decls, err := toGeminiFunctions(req.Tools)
		if err != nil {
			return llm.Response{}, err
		}
		payload.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	response, err := c.send(ctx, payload)
	if err != nil {
		return llm.Response{}, err
	}
	if len(response.Candidates) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}

	text, calls := extractGeminiParts(response.Candidates[0].Content.Parts)
	return llm.Response{
		Text:  text,
		Calls: calls,
		Usage: llm.Usage{
			PromptTokens:   response.UsageMetadata.PromptTokenCount,
			ResponseTokens: response.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (c *Client) send(ctx context.Context, payload geminiRequest) (*geminiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, llm.ErrEgressBlocked) {
			return nil, llm.ErrEgressBlocked
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, llm.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, llm.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return nil, llm.ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gemini error: %s - %s", resp.Status, strings.TrimSpace(string(errorBody)))
	}
	var response geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	return &response, nil
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResult `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}
