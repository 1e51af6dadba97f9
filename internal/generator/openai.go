package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"socialpulse.app/autopilot/internal/faults"
)

type Config struct {
	APIKey    string
	BaseURL   string // Optional: custom API endpoint
	Model     string
	MaxTokens int
}

// replyPayload is the structured output contract. Forcing JSON keeps the
// model from wrapping replies in quotes or prefacing them with commentary.
type replyPayload struct {
	Reply string `json:"reply" jsonschema_description:"The reply text, or an empty string when no reply should be posted"`
}

type openaiGenerator struct {
	client    openai.Client
	model     string
	maxTokens int
	schema    any
}

// NewOpenAI creates a Generator backed by the OpenAI chat completions API.
func NewOpenAI(cfg Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	return &openaiGenerator{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		schema:    reflector.Reflect(&replyPayload{}),
	}, nil
}

func (g *openaiGenerator) GenerateReply(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildSystemPrompt(req.Tone)),
			openai.UserMessage(buildUserPrompt(req)),
		},
		MaxCompletionTokens: openai.Int(int64(g.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "comment_reply",
					Description: openai.String("A reply to a social media comment"),
					Schema:      g.schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", faults.Transient("no choices in completion response", nil)
	}

	slog.DebugContext(ctx, "reply generated",
		"model", g.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	var payload replyPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return "", faults.Transient("decoding completion payload", err)
	}

	return strings.TrimSpace(payload.Reply), nil
}

func mapOpenAIError(err error) error {
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return faults.Transient("completion request failed", err)
	}

	msg := fmt.Sprintf("completion request failed with status %d", apierr.StatusCode)

	switch {
	case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
		return faults.Authentication(msg)
	case apierr.StatusCode == http.StatusTooManyRequests:
		return faults.RateLimited(msg, nil)
	case apierr.StatusCode >= 500:
		return faults.Transient(msg, err)
	case apierr.StatusCode == http.StatusBadRequest || apierr.StatusCode == http.StatusNotFound:
		return faults.Permanent(msg)
	default:
		return faults.Transient(msg, err)
	}
}
