// Package genai is the client for the structuring model. It turns free text
// into JSON constrained by a schema the caller supplies.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/reelay/reelay/internal/config"
)

var ErrEmptyCompletion = errors.New("genai: provider returned no content")

// Client calls an OpenAI-compatible chat completions endpoint with strict
// JSON-schema response formatting.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.GenAI.BaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.GenAI.APIKey),
		model:       cfg.GenAI.Model,
		temperature: cfg.GenAI.Temperature,
		client:      &http.Client{Timeout: cfg.GenAI.Timeout},
	}
}

// StructuredRequest describes one structuring call. Schema must be a JSON
// Schema document; the provider enforces it server-side.
type StructuredRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     json.RawMessage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// CompleteJSON runs one structuring call and returns the raw JSON document
// the model produced. Schema conformance is still verified by the caller;
// strict mode reduces violations but the provider is not trusted.
func (c *Client) CompleteJSON(ctx context.Context, sr StructuredRequest) (json.RawMessage, error) {
	messages := make([]chatMessage, 0, 2)
	if sr.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sr.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: sr.User})

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   sr.SchemaName,
				Schema: sr.Schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genai request build: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("genai request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genai read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("genai: HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("genai decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	content = stripCodeFence(content)
	if content == "" {
		return nil, ErrEmptyCompletion
	}
	return json.RawMessage(content), nil
}

// stripCodeFence removes a markdown ```json fence if the model wrapped its
// output in one despite strict mode.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateBody(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
