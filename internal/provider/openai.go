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

// OpenAI streams chat completions from the OpenAI Chat Completions API.
type OpenAI struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Compile-time assertion that OpenAI implements Provider.
var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI provider against baseURL (e.g.
// "https://api.openai.com").
func NewOpenAI(baseURL, apiKey string) *OpenAI {
	return &OpenAI{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newHTTPClient(),
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openaiRequest struct {
	Model         string              `json:"model"`
	Messages      []Message           `json:"messages"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Temperature   *float64            `json:"temperature,omitempty"`
	Stream        bool                `json:"stream"`
	StreamOptions openaiStreamOptions `json:"stream_options"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// StreamChat opens a streaming Chat Completions call. The system prompt is
// prepended as a system-role message; stream_options.include_usage makes
// the final chunk carry token counts.
func (o *OpenAI) StreamChat(ctx context.Context, req *Request) (Stream, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body, err := json.Marshal(openaiRequest{
		Model:         req.Model,
		Messages:      messages,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: openaiStreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	tracing.InjectHeaders(ctx, httpReq)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, upstreamError("openai", resp)
	}

	return &openaiStream{
		reader: newSSEReader(resp.Body),
		body:   resp.Body,
	}, nil
}

// openaiStream adapts the Chat Completions chunk stream to the Stream
// contract. The stream ends at the "[DONE]" sentinel.
type openaiStream struct {
	reader     *sseReader
	body       io.ReadCloser
	usage      TokenUsage
	usageKnown bool
	done       bool
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *openaiStream) Recv() (string, error) {
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
		if evt.Data == "" {
			continue
		}
		if evt.Data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk openaiChunk
		if jsonErr := json.Unmarshal([]byte(evt.Data), &chunk); jsonErr != nil {
			log.Debug().Msg("openai: skipping unparsable SSE chunk")
			continue
		}
		if chunk.Usage != nil {
			s.usage.PromptTokens = chunk.Usage.PromptTokens
			s.usage.CompletionTokens = chunk.Usage.CompletionTokens
			s.usageKnown = true
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return chunk.Choices[0].Delta.Content, nil
		}
	}
}

func (s *openaiStream) Usage() (TokenUsage, bool) {
	return s.usage, s.usageKnown
}

func (s *openaiStream) Close() error {
	s.done = true
	return s.body.Close()
}
