package gemini

import (
	"log/slog"

	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/generation"
)

type ContentGenerator = contentGenerator

var ExtractContent = extractContent

func NewGeneratorWithModels(
	logger *slog.Logger,
	models ContentGenerator,
	cfg config.LLMConfig,
	prompts *generation.PromptBuilder,
) (*Generator, error) {
	return newGenerator(logger, models, cfg, prompts)
}
