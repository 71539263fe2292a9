package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/generation"
)

// DefaultTemperature keeps plans close to the prompt structure.
const DefaultTemperature = 0.3

// Generator implements generation.Generator with the chat completions API.
type Generator struct {
	logger  *slog.Logger
	client  openai.Client
	model   string
	prompts *generation.PromptBuilder
	retry   generation.RetryPolicy
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator builds a chat completion client from the LLM configuration.
// Retries are handled by the generation retry policy, not the SDK.
func NewGenerator(logger *slog.Logger, cfg config.LLMConfig, prompts *generation.PromptBuilder) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if prompts == nil {
		return nil, fmt.Errorf("%w: prompt builder cannot be nil", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		return nil, fmt.Errorf("%w: openai API key or base URL is required", generation.ErrInvalidConfig)
	}

	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		// Self-hosted endpoints ignore the key but the header must be present.
		apiKey = "unused"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.OpenAIBaseURL, "/")+"/"))
	}

	return &Generator{
		logger:  logger.With("component", "openai_generator", "model", cfg.ModelName),
		client:  openai.NewClient(opts...),
		model:   cfg.ModelName,
		prompts: prompts,
		retry:   generation.NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelaySeconds),
	}, nil
}

// Generate renders the prompt for req and returns the first choice's content.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (string, error) {
	prompt, err := g.prompts.Build(req)
	if err != nil {
		return "", err
	}

	log := g.logger.With("task_id", req.TaskID)
	log.DebugContext(ctx, "Calling chat completion API", "prompt_length", len(prompt))

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(generation.SystemInstruction),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(DefaultTemperature),
	}

	content, err := g.retry.Do(ctx, log, func(ctx context.Context) (string, error) {
		completion, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classify(ctx, err)
		}
		return extractContent(completion)
	})
	if err != nil {
		log.ErrorContext(ctx, "Chat completion failed", "error", err)
		return "", err
	}

	log.InfoContext(ctx, "Chat completion succeeded", "content_length", len(content))
	return content, nil
}

// classify maps SDK errors onto the generation taxonomy. Rate limits, server
// errors and transport failures are transient.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		default:
			return fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
		}
	}

	return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
}

func extractContent(completion *openai.ChatCompletion) (string, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", generation.ErrInvalidResponse)
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", fmt.Errorf("%w: completion stopped by content filter", generation.ErrContentBlocked)
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: completion contained no text", generation.ErrInvalidResponse)
	}
	return content, nil
}
