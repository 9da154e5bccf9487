// Package provider defines the text-generation capability consumed by the
// router and implements it for the Anthropic and OpenAI streaming APIs.
// Wire formats stay inside this package; callers only see text chunks and
// a token-usage report.
package provider

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Message is one chat turn in normalized form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a normalized streaming chat request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// TokenUsage is the provider-reported token accounting for one call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Stream yields the text chunks of one model response. It is finite and
// non-restartable. After Recv returns io.EOF, Usage reports the token
// counts if the provider delivered them. Close releases the underlying
// connection and may be called at any point to abandon the stream.
type Stream interface {
	Recv() (string, error)
	Usage() (TokenUsage, bool)
	Close() error
}

// Provider is the capability a configured upstream model API exposes.
// Implementations are selected by name at model-resolution time.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req *Request) (Stream, error)
}

// newHTTPClient builds the shared client for provider calls: pooled
// connections, dial and TLS handshake bounds, and no overall timeout so
// long-lived streams are governed by the request context instead.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
