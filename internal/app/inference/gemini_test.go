package inference

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}
}

func TestGeminiStreamMapsRolesAndTokens(t *testing.T) {
	var (
		gotContents []*genai.Content
		gotConfig   *genai.GenerateContentConfig
	)
	p := &GeminiProvider{
		model: "test-model",
		generate: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			gotContents, gotConfig = contents, cfg
			return func(yield func(*genai.GenerateContentResponse, error) bool) {
				for _, tok := range []string{"Hel", "", "lo"} {
					if !yield(textResponse(tok), nil) {
						return
					}
				}
			}
		},
	}

	stream, err := p.Stream(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again"},
	})
	require.NoError(t, err)
	text, err := drain(t, stream)
	require.NoError(t, err)

	assert.Equal(t, "Hello", text)
	require.Len(t, gotContents, 3)
	assert.Equal(t, string(genai.RoleModel), gotContents[1].Role)
	require.NotNil(t, gotConfig)
	assert.Equal(t, "be brief", gotConfig.SystemInstruction.Parts[0].Text)
}

func TestGeminiStreamError(t *testing.T) {
	boom := errors.New("quota")
	p := &GeminiProvider{
		model: "m",
		generate: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			return func(yield func(*genai.GenerateContentResponse, error) bool) {
				if !yield(textResponse("a"), nil) {
					return
				}
				yield(nil, boom)
			}
		},
	}

	stream, err := p.Stream(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.NoError(t, err)
	text, err := drain(t, stream)
	assert.Equal(t, "a", text)
	assert.ErrorIs(t, err, boom)
}

func TestGeminiRequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}
