package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/agentchat/internal/app/streaming"
)

// Presets understood by HTTPProvider.
const (
	PresetWorkersAI = "workers-ai"
	PresetOpenAI    = "openai"
)

const (
	defaultWorkersBase  = "https://api.cloudflare.com/client/v4"
	defaultWorkersModel = "@cf/meta/llama-3.1-8b-instruct-fp8"
	defaultOpenAIBase   = "https://api.openai.com/v1"
	defaultOpenAIModel  = "gpt-4o-mini"
	defaultReadSize     = 4096
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	Preset     string
	BaseURL    string
	AccountID  string
	APIKey     string
	Model      string
	TokenPath  string
	Timeout    time.Duration
	MaxRetries int
	Client     *http.Client
	// ReadSize is the size of each body read. Chunk boundaries are whatever
	// the transport hands back, up to this many bytes.
	ReadSize int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
}

// HTTPProvider streams completions from an event-stream HTTP endpoint.
type HTTPProvider struct {
	cfg      HTTPConfig
	client   *http.Client
	endpoint string
}

// StatusError reports a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// StreamError is an error reported inside the provider stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "provider stream error: " + e.Message }

// NewHTTPProvider applies preset defaults and validates cfg.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	var endpoint string

	switch cfg.Preset {
	case PresetWorkersAI:
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("workers-ai requires an account id")
		}
		if base == "" {
			base = defaultWorkersBase
		}
		if cfg.Model == "" {
			cfg.Model = defaultWorkersModel
		}
		if cfg.TokenPath == "" {
			cfg.TokenPath = "response"
		}
		endpoint = fmt.Sprintf("%s/accounts/%s/ai/run/%s", base, cfg.AccountID, cfg.Model)
	case PresetOpenAI:
		if base == "" {
			base = defaultOpenAIBase
		}
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
		if cfg.TokenPath == "" {
			cfg.TokenPath = "choices.0.delta.content"
		}
		endpoint = base + "/chat/completions"
	default:
		return nil, fmt.Errorf("unknown http provider preset %q", cfg.Preset)
	}

	if cfg.ReadSize <= 0 {
		cfg.ReadSize = defaultReadSize
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPProvider{cfg: cfg, client: client, endpoint: endpoint}, nil
}

func (p *HTTPProvider) Name() string { return p.cfg.Preset }

// Model reports the model requests are sent to.
func (p *HTTPProvider) Model() string { return p.cfg.Model }

// Stream sends the conversation and returns once the provider has accepted
// it. Failed attempts are retried only before any body bytes are read.
func (p *HTTPProvider) Stream(ctx context.Context, messages []Message) (TokenStream, error) {
	payload := map[string]any{
		"messages": messages,
		"stream":   true,
	}
	if p.cfg.Preset == PresetOpenAI {
		payload["model"] = p.cfg.Model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var cancel context.CancelFunc = func() {}
	if p.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				cancel()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := p.send(ctx, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
			lastErr = statusErr
			if statusErr.retryable() {
				continue
			}
			break
		}

		return &httpStream{
			body:    resp.Body,
			decoder: streaming.NewDecoder(p.cfg.TokenPath),
			buf:     make([]byte, p.cfg.ReadSize),
			cancel:  cancel,
		}, nil
	}

	cancel()
	return nil, lastErr
}

func (p *HTTPProvider) send(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return p.client.Do(req)
}

type httpStream struct {
	body    io.ReadCloser
	decoder *streaming.Decoder
	buf     []byte
	queue   []streaming.Event
	eof     bool
	cancel  context.CancelFunc
}

func (s *httpStream) Recv() (string, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			switch ev.Kind {
			case streaming.EventToken:
				return ev.Text, nil
			case streaming.EventError:
				return "", &StreamError{Message: ev.Text}
			case streaming.EventDone:
				s.queue = nil
				s.eof = true
				return "", io.EOF
			}
		}
		if s.eof {
			return "", io.EOF
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			events, werr := s.decoder.Write(s.buf[:n])
			s.queue = append(s.queue, events...)
			if werr != nil {
				return "", werr
			}
		}
		if err == io.EOF {
			// A body that ends without [DONE] is still a complete response.
			events, _ := s.decoder.Close()
			s.queue = append(s.queue, events...)
			s.queue = append(s.queue, streaming.Event{Kind: streaming.EventDone})
			continue
		}
		if err != nil {
			return "", err
		}
	}
}

func (s *httpStream) Close() error {
	err := s.body.Close()
	s.cancel()
	return err
}
