package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/watchout/haishin-puls-hub-sub001/internal/tracing"
)

const anthropicVersion = "2023-06-01"

// Anthropic streams chat completions from the Anthropic Messages API.
type Anthropic struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Compile-time assertion that Anthropic implements Provider.
var _ Provider = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic provider against baseURL (e.g.
// "https://api.anthropic.com").
func NewAnthropic(baseURL, apiKey string) *Anthropic {
	return &Anthropic{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newHTTPClient(),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

// StreamChat opens a streaming Messages API call. The returned stream
// yields content_block_delta text and captures usage from message_start
// (input) and message_delta (output) events.
func (a *Anthropic) StreamChat(ctx context.Context, req *Request) (Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	tracing.InjectHeaders(ctx, httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, upstreamError("anthropic", resp)
	}

	return &anthropicStream{
		reader: newSSEReader(resp.Body),
		body:   resp.Body,
	}, nil
}

// anthropicStream adapts the Messages API event stream to the Stream
// contract.
type anthropicStream struct {
	reader     *sseReader
	body       io.ReadCloser
	usage      TokenUsage
	usageKnown bool
	done       bool
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (s *anthropicStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		evt, err := s.reader.Next()
		if err != nil {
			s.done = true
			if err == io.EOF {
				return "", io.EOF
			}
			return "", err
		}

		var parsed anthropicEvent
		if jsonErr := json.Unmarshal([]byte(evt.Data), &parsed); jsonErr != nil {
			log.Debug().Str("event", evt.Event).Msg("anthropic: skipping unparsable SSE event")
			continue
		}

		switch parsed.Type {
		case "message_start":
			if parsed.Message.Usage.InputTokens > 0 {
				s.usage.PromptTokens = parsed.Message.Usage.InputTokens
				s.usageKnown = true
			}
		case "content_block_delta":
			if parsed.Delta.Text != "" {
				return parsed.Delta.Text, nil
			}
		case "message_delta":
			if parsed.Usage.OutputTokens > 0 {
				s.usage.CompletionTokens = parsed.Usage.OutputTokens
				s.usageKnown = true
			}
		case "message_stop":
			s.done = true
			return "", io.EOF
		case "error":
			s.done = true
			return "", fmt.Errorf("anthropic: upstream stream error event")
		}
	}
}

func (s *anthropicStream) Usage() (TokenUsage, bool) {
	return s.usage, s.usageKnown
}

func (s *anthropicStream) Close() error {
	s.done = true
	return s.body.Close()
}

// upstreamError reads a bounded amount of an error response body into the
// returned error so callers can see what the provider rejected.
func upstreamError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("%s: upstream status %d: %s", name, resp.StatusCode, bytes.TrimSpace(body))
}
