// Package pii implements reversible masking of personally identifiable
// information in prompt text before it is sent to an upstream model.
//
// Detection is heuristic, not dictionary-based, and tuned for Japanese
// business text. Known limitations:
//
//   - Single kanji characters and runs of 7 or more kanji are not masked
//     (the name heuristic only accepts runs of 2 to 6 characters).
//   - Latin-script personal names are never detected.
//   - The stopword list is a fixed curated set; vocabulary outside it may
//     be over- or under-masked.
//
// A Masker is owned by exactly one request. Its mapping lives only in
// memory for that request's lifetime and must never be logged or persisted.
package pii

import (
	"fmt"
	"sort"
	"strings"
)

// Category identifies the kind of PII a mask token stands for.
type Category string

const (
	CategoryName  Category = "NAME"
	CategoryEmail Category = "EMAIL"
	CategoryPhone Category = "PHONE"
)

// Entry records one original→token mapping held by a Masker. Diagnostic
// and testing use only; entries must not leave the process.
type Entry struct {
	Category Category
	Index    int
	Original string
	Masked   string
}

// Masker performs reversible PII masking for a single request. It holds a
// forward (original→token) and reverse (token→original) map plus one
// monotonic counter per category. Not safe for concurrent use; each
// request constructs its own instance.
type Masker struct {
	forward   map[string]string
	reverse   map[string]string
	counters  map[Category]int
	stopwords map[string]bool
	order     []Entry
}

// NewMasker creates an empty Masker. Extra stopwords are merged into the
// curated base set; entries can be added but never removed, so the base
// vocabulary stays authoritative.
func NewMasker(extraStopwords ...string) *Masker {
	m := &Masker{
		forward:   make(map[string]string),
		reverse:   make(map[string]string),
		counters:  make(map[Category]int),
		stopwords: make(map[string]bool, len(baseStopwords)+len(extraStopwords)),
	}
	for _, w := range baseStopwords {
		m.stopwords[w] = true
	}
	for _, w := range extraStopwords {
		if w != "" {
			m.stopwords[w] = true
		}
	}
	return m
}

// Mask replaces detected PII in text with [CATEGORY_index] tokens. The
// detection passes run in a fixed order (email, phone, kanji name,
// katakana name) because earlier passes must consume substrings that
// would otherwise corrupt the later heuristics. Masking the same original
// value twice within one session yields the same token.
func (m *Masker) Mask(text string) string {
	for _, pass := range passes {
		text = m.applyPass(text, pass)
	}
	return text
}

// applyPass runs a single detection pass over text, replacing every
// accepted match with its mask token. Replacement is positional: only
// the bytes the detector accepted are rewritten, so a name that also
// occurs inside a longer rejected run never bleeds a token into it.
// Repeated originals still share one session token via the forward map.
func (m *Masker) applyPass(text string, pass detectorPass) string {
	matches := pass.find(text)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, sp := range matches {
		original := text[sp.start:sp.end]
		if pass.stopwordGated && m.stopwords[original] {
			continue
		}
		b.WriteString(text[last:sp.start])
		b.WriteString(m.token(original, pass.category))
		last = sp.end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// token returns the mask token for original, creating a new mapping pair
// and advancing the category counter on first sight.
func (m *Masker) token(original string, category Category) string {
	if tok, ok := m.forward[original]; ok {
		return tok
	}
	m.counters[category]++
	idx := m.counters[category]
	tok := fmt.Sprintf("[%s_%d]", category, idx)
	m.forward[original] = tok
	m.reverse[tok] = original
	m.order = append(m.order, Entry{
		Category: category,
		Index:    idx,
		Original: original,
		Masked:   tok,
	})
	return tok
}

// Unmask restores every known mask token in text to its original value.
// All occurrences are replaced. This is a pure table lookup: it only
// reverses tokens produced by this instance's Mask.
//
// Longer tokens are replaced first so that [NAME_12] is never clipped by
// the [NAME_1] replacement.
func (m *Masker) Unmask(text string) string {
	if len(m.reverse) == 0 {
		return text
	}
	tokens := make([]string, 0, len(m.reverse))
	for tok := range m.reverse {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	for _, tok := range tokens {
		text = strings.ReplaceAll(text, tok, m.reverse[tok])
	}
	return text
}

// Entries returns the current mapping in first-seen order.
func (m *Masker) Entries() []Entry {
	out := make([]Entry, len(m.order))
	copy(out, m.order)
	return out
}

// Clear resets all maps and counters, starting a fresh isolated session
// without allocating a new instance. The stopword set is kept.
func (m *Masker) Clear() {
	m.forward = make(map[string]string)
	m.reverse = make(map[string]string)
	m.counters = make(map[Category]int)
	m.order = nil
}
