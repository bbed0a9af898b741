package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rahul4469/meter-reader/internal/models"
)

const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 1000
	DefaultBaseURL   = "https://api.openai.com/v1"

	// cap on how much of an error body ends up in a message
	maxErrorBody = 4 << 10
)

// VisionAnalyzer talks to an OpenAI compatible chat-completion endpoint that
// accepts inline images.
type VisionAnalyzer struct {
	BaseURL   string
	Model     string
	MaxTokens int
	Client    *http.Client
	Logger    *slog.Logger
}

// VisionOptions configures NewVisionAnalyzer. Zero values fall back to defaults.
type VisionOptions struct {
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewVisionAnalyzer(opts VisionOptions) *VisionAnalyzer {
	va := &VisionAnalyzer{
		BaseURL:   strings.TrimRight(opts.BaseURL, "/"),
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		Client:    &http.Client{Timeout: opts.Timeout},
		Logger:    opts.Logger,
	}
	if va.BaseURL == "" {
		va.BaseURL = DefaultBaseURL
	}
	if va.Model == "" {
		va.Model = DefaultModel
	}
	if va.MaxTokens <= 0 {
		va.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		va.Client.Timeout = 60 * time.Second
	}
	if va.Logger == nil {
		va.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return va
}

// ChatRequest is the body posted to /chat/completions.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either a text block or an image block.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatResponse is the subset of the completion envelope we read.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// AnalysisInput is everything one analysis action needs.
type AnalysisInput struct {
	Image  *models.CapturedImage
	APIKey string
	Prompt string
	Schema string
}

// ComposePrompt joins the instruction with the example reply.
func ComposePrompt(prompt, schema string) string {
	return prompt + "\n\nExpected JSON format:\n" + schema
}

// BuildRequest assembles the completion request for one image.
func (va *VisionAnalyzer) BuildRequest(in AnalysisInput) ChatRequest {
	return ChatRequest{
		Model: va.Model,
		Messages: []ChatMessage{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: ComposePrompt(in.Prompt, in.Schema)},
					{Type: "image_url", ImageURL: &ImageURL{URL: DataURI(in.Image)}},
				},
			},
		},
		MaxTokens:      va.MaxTokens,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
}

// Analyze makes exactly one call to the endpoint. It returns either a reading
// or an *models.AnalysisError, never both.
func (va *VisionAnalyzer) Analyze(ctx context.Context, in AnalysisInput) (*models.Reading, error) {
	apiKey := strings.TrimSpace(in.APIKey)
	if apiKey == "" {
		return nil, models.NewConfigurationError("missing API key", models.ErrMissingCredential)
	}
	if in.Image == nil || len(in.Image.Data) == 0 {
		return nil, models.NewImageError("no image", models.ErrNoImage)
	}

	jsonBody, err := json.Marshal(va.BuildRequest(in))
	if err != nil {
		return nil, models.NewTransportError("failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, va.BaseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, models.NewTransportError("failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := va.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewTransportError("vision endpoint timed out", err)
		}
		return nil, models.NewTransportError("failed to call vision endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, models.NewTransportError("vision endpoint rejected the request", statusError(resp))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, models.NewTransportError("failed to decode response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, models.NewTransportError("empty response", errors.New("no choices in completion response"))
	}

	va.Logger.InfoContext(ctx, "vision call completed",
		slog.String("model", chatResp.Model),
		slog.Int("prompt_tokens", chatResp.Usage.PromptTokens),
		slog.Int("completion_tokens", chatResp.Usage.CompletionTokens),
		slog.String("finish_reason", chatResp.Choices[0].FinishReason),
		slog.Duration("elapsed", time.Since(start)),
	)

	reading, err := models.ParseReading(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, models.NewParseError("model reply is not a JSON object", err)
	}
	return reading, nil
}

// statusError prefers the endpoint's own error message over the raw body.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var apiErr apiErrorBody
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, text)
}
