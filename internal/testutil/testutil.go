// Package testutil provides shared fixtures for package tests: scripted
// providers, an in-memory template store, and config helpers.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/watchout/haishin-puls-hub-sub001/internal/provider"
	"github.com/watchout/haishin-puls-hub-sub001/internal/template"
)

// FakeStream yields a fixed sequence of chunks and an optional usage
// report.
type FakeStream struct {
	Chunks      []string
	TokenUsage  provider.TokenUsage
	ReportUsage bool

	pos    int
	closed bool
}

func (s *FakeStream) Recv() (string, error) {
	if s.closed || s.pos >= len(s.Chunks) {
		return "", io.EOF
	}
	chunk := s.Chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *FakeStream) Usage() (provider.TokenUsage, bool) {
	return s.TokenUsage, s.ReportUsage
}

func (s *FakeStream) Close() error {
	s.closed = true
	return nil
}

// FakeProvider is a scripted provider.Provider. FailModels lists models
// whose attempts fail; everything else streams Chunks with Usage.
type FakeProvider struct {
	ProviderName string
	Chunks       []string
	Usage        provider.TokenUsage
	ReportUsage  bool
	FailModels   map[string]bool
	Block        bool // never return; exercises attempt timeouts

	mu          sync.Mutex
	Attempts    []string // models attempted, in order
	LastRequest *provider.Request
}

func (p *FakeProvider) Name() string { return p.ProviderName }

func (p *FakeProvider) StreamChat(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	p.mu.Lock()
	p.Attempts = append(p.Attempts, req.Model)
	reqCopy := *req
	p.LastRequest = &reqCopy
	p.mu.Unlock()

	if p.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.FailModels[req.Model] {
		return nil, fmt.Errorf("scripted failure for %s", req.Model)
	}
	return &FakeStream{
		Chunks:      append([]string(nil), p.Chunks...),
		TokenUsage:  p.Usage,
		ReportUsage: p.ReportUsage,
	}, nil
}

// AttemptedModels returns a copy of the models attempted so far.
func (p *FakeProvider) AttemptedModels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Attempts...)
}

// SentRequest returns the most recent request passed to StreamChat.
func (p *FakeProvider) SentRequest() *provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.LastRequest
}

// MemTemplateStore is an in-memory template.Store for tests.
type MemTemplateStore struct {
	mu        sync.Mutex
	templates map[string]*template.PromptTemplate
	Fetches   int
}

func NewMemTemplateStore(templates ...*template.PromptTemplate) *MemTemplateStore {
	s := &MemTemplateStore{templates: make(map[string]*template.PromptTemplate)}
	for _, t := range templates {
		s.templates[t.Usecase] = t
	}
	return s
}

func (s *MemTemplateStore) ActiveTemplate(_ context.Context, usecase string) (*template.PromptTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fetches++
	t, ok := s.templates[usecase]
	if !ok {
		return nil, fmt.Errorf("no active template for usecase %q", usecase)
	}
	return t, nil
}

// DrainResult consumes a chunk source until io.EOF and returns the
// concatenated text.
func DrainResult(t *testing.T, recv func() (string, error)) string {
	t.Helper()
	var out string
	for {
		chunk, err := recv()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		out += chunk
	}
}
