package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/config"
	"github.com/phrazzld/emplan-api/internal/generation"
	"github.com/phrazzld/emplan-api/internal/platform/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	model     string
	prompt    string
	system    string
}

func (f *fakeModels) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.model = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if cfg != nil && cfg.SystemInstruction != nil && len(cfg.SystemInstruction.Parts) > 0 {
		f.system = cfg.SystemInstruction.Parts[0].Text
	}
	var resp *genai.GenerateContentResponse
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: genai.RoleModel}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content, FinishReason: genai.FinishReasonStop}},
	}
}

func newTestGenerator(t *testing.T, models *fakeModels, maxRetries int) *gemini.Generator {
	t.Helper()
	prompts, err := generation.NewPromptBuilder("")
	require.NoError(t, err)

	g, err := gemini.NewGeneratorWithModels(slog.New(slog.NewTextHandler(io.Discard, nil)), models, config.LLMConfig{
		ModelName:         "gemini-2.0-flash",
		MaxRetries:        maxRetries,
		RetryDelaySeconds: 1,
	}, prompts)
	require.NoError(t, err)
	return g
}

func request() generation.Request {
	return generation.Request{
		TaskID:      uuid.New(),
		SubjectName: "Acme Warehouse",
		Payload:     json.RawMessage(`{"employees": 12}`),
	}
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	models := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse("# Plan\n", "Evacuate.")}}
	g := newTestGenerator(t, models, 0)

	content, err := g.Generate(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, "# Plan\nEvacuate.", content)
	assert.Equal(t, "gemini-2.0-flash", models.model)
	assert.Contains(t, models.prompt, "ORGANIZATION: Acme Warehouse")
	assert.Equal(t, generation.SystemInstruction, models.system)
}

func TestGenerator_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	models := &fakeModels{
		responses: []*genai.GenerateContentResponse{nil, textResponse("ok")},
		errs:      []error{errors.New("503 unavailable"), nil},
	}
	g := newTestGenerator(t, models, 1)

	content, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, 2, models.calls)
}

func TestGenerator_TransientExhausted(t *testing.T) {
	t.Parallel()

	models := &fakeModels{errs: []error{errors.New("503 unavailable")}}
	g := newTestGenerator(t, models, 0)

	_, err := g.Generate(context.Background(), request())
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 1, models.calls)
}

func TestGenerator_InvalidPayloadSkipsAPI(t *testing.T) {
	t.Parallel()

	models := &fakeModels{}
	g := newTestGenerator(t, models, 0)

	req := request()
	req.Payload = nil
	_, err := g.Generate(context.Background(), req)
	assert.ErrorIs(t, err, generation.ErrInvalidInput)
	assert.Zero(t, models.calls)
}

func TestGenerator_ContextCancelled(t *testing.T) {
	t.Parallel()

	models := &fakeModels{errs: []error{context.DeadlineExceeded}}
	g := newTestGenerator(t, models, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr error
	}{
		{name: "nil response", resp: nil, wantErr: generation.ErrInvalidResponse},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}, wantErr: generation.ErrInvalidResponse},
		{
			name: "prompt blocked",
			resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
			},
			wantErr: generation.ErrContentBlocked,
		},
		{
			name: "safety finish",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			},
			wantErr: generation.ErrContentBlocked,
		},
		{
			name:    "nil content",
			resp:    &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}},
			wantErr: generation.ErrInvalidResponse,
		},
		{name: "blank text", resp: textResponse("  ", "\n"), wantErr: generation.ErrInvalidResponse},
		{name: "joined parts", resp: textResponse("a", "b"), want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gemini.ExtractContent(tt.resp)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewGeneratorWithModels_Validation(t *testing.T) {
	t.Parallel()

	prompts, err := generation.NewPromptBuilder("")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err = gemini.NewGeneratorWithModels(nil, &fakeModels{}, config.LLMConfig{ModelName: "m"}, prompts)
	assert.Error(t, err)

	_, err = gemini.NewGeneratorWithModels(logger, &fakeModels{}, config.LLMConfig{}, prompts)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = gemini.NewGeneratorWithModels(logger, &fakeModels{}, config.LLMConfig{ModelName: "m"}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = gemini.NewGenerator(context.Background(), logger, config.LLMConfig{ModelName: "m"}, prompts)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}
