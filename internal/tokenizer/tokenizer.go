// Package tokenizer provides tiktoken-based token counting, used as the
// fallback when a provider's stream ends without a usage report.
package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens using tiktoken encodings. Encodings are cached
// via sync.Once to avoid repeated initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	// Claude models approximate well enough with cl100k_base for estimates.
	"claude-opus-4":   "cl100k_base",
	"claude-sonnet-4": "cl100k_base",
	"claude-haiku-4":  "cl100k_base",

	"gpt-4":       "cl100k_base",
	"gpt-4-turbo": "cl100k_base",
	"gpt-4o":      "cl100k_base",

	"gpt-4o-mini": "o200k_base",
}

// messageOverhead approximates the per-message framing tokens chat APIs
// add around each message's content.
const messageOverhead = 4

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model. Unknown
// models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	lower := strings.ToLower(model)
	for m, enc := range modelEncodings {
		if strings.HasPrefix(lower, m) {
			return enc
		}
	}
	return "cl100k_base"
}

// CountText returns the token count of text under the model's encoding.
// Returns 0 for empty text or when the encoding cannot be loaded.
func (t *Tokenizer) CountText(model, text string) int {
	if text == "" {
		return 0
	}
	enc := t.encoding(t.GetEncoding(model))
	if enc == nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// CountConversation estimates the prompt token count for a system prompt
// plus message contents, including per-message framing overhead.
func (t *Tokenizer) CountConversation(model, system string, contents []string) int {
	total := 0
	if system != "" {
		total += t.CountText(model, system) + messageOverhead
	}
	for _, c := range contents {
		total += t.CountText(model, c) + messageOverhead
	}
	return total
}

// encoding returns the cached tiktoken encoding by name, initializing it
// on first use.
func (t *Tokenizer) encoding(name string) *tiktoken.Tiktoken {
	switch name {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		if t.o200kErr != nil {
			return nil
		}
		return t.o200kEnc
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		if t.cl100kErr != nil {
			return nil
		}
		return t.cl100kEnc
	}
}
