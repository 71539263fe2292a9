package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/generation"
	"google.golang.org/genai"
)

// contentGenerator is the subset of *genai.Models used by Generator.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Generator implements the generation.Generator interface using
// Google's Gemini API.
type Generator struct {
	logger  *slog.Logger
	models  contentGenerator
	model   string
	prompts *generation.PromptBuilder
	retry   generation.RetryPolicy
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator creates a Gemini client from the LLM configuration.
func NewGenerator(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.LLMConfig,
	prompts *generation.PromptBuilder,
) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGenerator(logger, client.Models, cfg, prompts)
}

func newGenerator(
	logger *slog.Logger,
	models contentGenerator,
	cfg config.LLMConfig,
	prompts *generation.PromptBuilder,
) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if prompts == nil {
		return nil, fmt.Errorf("%w: prompt builder cannot be nil", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	return &Generator{
		logger:  logger.With("component", "gemini_generator", "model", cfg.ModelName),
		models:  models,
		model:   cfg.ModelName,
		prompts: prompts,
		retry:   generation.NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelaySeconds),
	}, nil
}

// Generate renders the prompt for req and asks Gemini for the plan content.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (string, error) {
	prompt, err := g.prompts.Build(req)
	if err != nil {
		return "", err
	}

	log := g.logger.With("task_id", req.TaskID)
	log.DebugContext(ctx, "Calling Gemini API", "prompt_length", len(prompt))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(generation.SystemInstruction, genai.RoleUser),
	}

	content, err := g.retry.Do(ctx, log, func(ctx context.Context) (string, error) {
		resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			// API errors are assumed transient; the retry budget bounds them.
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
		return extractContent(resp)
	})
	if err != nil {
		log.ErrorContext(ctx, "Gemini generation failed", "error", err)
		return "", err
	}

	log.InfoContext(ctx, "Gemini generation succeeded", "content_length", len(content))
	return content, nil
}

// extractContent returns the text of the first candidate.
func extractContent(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	content := strings.TrimSpace(text.String())
	if content == "" {
		return "", fmt.Errorf("%w: response contained no text", generation.ErrInvalidResponse)
	}
	return content, nil
}
