package genai

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Model is the minimal completion surface the pipeline needs. OpenAIModel
// satisfies it; tests substitute scripted fakes.
type Model interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ModelConfig configures the OpenAI-compatible chat backend.
type ModelConfig struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
}

// OpenAIModel implements Model using the official openai-go SDK
// (chat completions).
type OpenAIModel struct {
	model       string
	temperature float64
	opts        []option.RequestOption
}

// NewOpenAIModel validates the config and builds the client options.
func NewOpenAIModel(cfg ModelConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "model api key missing; provide model.api_key")
	}
	if cfg.Model == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "model name is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIModel{model: cfg.Model, temperature: cfg.Temperature, opts: opts}, nil
}

// Complete sends a single system+user exchange and returns the assistant text.
func (m *OpenAIModel) Complete(ctx context.Context, system, user string) (string, error) {
	client := openai.NewClient(m.opts...)

	msgs := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.model),
		Messages: msgs,
	}
	if m.temperature > 0 {
		params.Temperature = openai.Float(m.temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodeGeneration, "model returned no choices")
	}
	out := resp.Choices[0].Message.Content
	if strings.TrimSpace(out) == "" {
		return "", schema.NewError(schema.ErrCodeGeneration, "model returned empty completion")
	}
	return out, nil
}
