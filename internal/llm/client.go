package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// Message is one turn of model context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef declares one callable function to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// GenerateRequest is one model call.
type GenerateRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature float64
}

// GenerateResponse is the parsed model output: either text or one function
// call.
type GenerateResponse struct {
	Text     string
	ToolName string
	ToolArgs map[string]any
}

// IsToolCall reports whether the model requested a function call.
func (r *GenerateResponse) IsToolCall() bool {
	return r.ToolName != ""
}

// Client performs one model API call with an explicit key. The gateway owns
// key selection, pacing and retries.
type Client interface {
	Generate(ctx context.Context, apiKey string, req *GenerateRequest) (*GenerateResponse, error)
}

// RESTClient calls the generative language REST API.
type RESTClient struct {
	base       string
	httpClient *http.Client
}

// NewRESTClient creates a client. base may be empty for the public endpoint.
func NewRESTClient(base string, timeout time.Duration) *RESTClient {
	if base == "" {
		base = defaultAPIBase
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		base:       base,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// --- wire types ---

type apiRequest struct {
	Contents         []apiContent      `json:"contents"`
	Tools            []apiTool         `json:"tools,omitempty"`
	GenerationConfig *apiGenConfig     `json:"generationConfig,omitempty"`
}

type apiContent struct {
	Role  string    `json:"role"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text         string           `json:"text,omitempty"`
	FunctionCall *apiFunctionCall `json:"functionCall,omitempty"`
}

type apiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type apiTool struct {
	FunctionDeclarations []ToolDef `json:"functionDeclarations"`
}

type apiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type apiResponse struct {
	Candidates []struct {
		Content      apiContent `json:"content"`
		FinishReason string     `json:"finishReason"`
	} `json:"candidates"`
}

// Generate performs one generateContent call.
func (c *RESTClient) Generate(ctx context.Context, apiKey string, req *GenerateRequest) (*GenerateResponse, error) {
	wire := &apiRequest{
		GenerationConfig: &apiGenConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	for _, m := range req.Messages {
		role := m.Role
		switch role {
		case "assistant", "agent":
			role = "model"
		case "system":
			role = "user"
		}
		wire.Contents = append(wire.Contents, apiContent{
			Role:  role,
			Parts: []apiPart{{Text: m.Content}},
		})
	}
	if len(req.Tools) > 0 {
		wire.Tools = []apiTool{{FunctionDeclarations: req.Tools}}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.base, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	q := httpReq.URL.Query()
	q.Set("key", apiKey)
	httpReq.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return parseResponse(respBody)
}

func parseResponse(body []byte) (*GenerateResponse, error) {
	var wire apiResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	out := &GenerateResponse{}
	for _, part := range wire.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil && out.ToolName == "" {
			out.ToolName = part.FunctionCall.Name
			out.ToolArgs = part.FunctionCall.Args
		}
	}
	return out, nil
}
