package inference

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type generateStreamFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// GeminiProvider streams completions through the Gemini API.
type GeminiProvider struct {
	model    string
	generate generateStreamFunc
}

// NewGeminiProvider creates a genai client for the Gemini API backend.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{model: model, generate: client.Models.GenerateContentStream}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Stream maps the conversation onto Gemini contents. System turns become the
// system instruction and assistant turns use the model role.
func (p *GeminiProvider) Stream(ctx context.Context, messages []Message) (TokenStream, error) {
	contents, system := geminiContents(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no user or assistant messages to send")
	}

	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}

	next, stop := iter.Pull2(p.generate(ctx, p.model, contents, cfg))
	return &geminiStream{next: next, stop: stop}, nil
}

func geminiContents(messages []Message) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}
