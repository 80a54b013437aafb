// Package chunker splits page text into overlapping, sentence-aligned
// chunks sized for the embedding model's context budget.
package chunker

import "strings"

// Character budgets stand in for token budgets at a fixed ratio; the
// embedding models in use average roughly four characters per token of
// English text.
const CharsPerToken = 4

// DefaultMaxTokens is the default window budget in tokens.
const DefaultMaxTokens = 128

// DefaultOverlapTokens is the default window overlap in tokens.
const DefaultOverlapTokens = 16

// Span is one chunk of the input text. Position is the chunk's ordinal
// position within the page's chunk list.
type Span struct {
	Text     string
	Position int
}

// Chunker cuts text into overlapping windows, preferring sentence
// boundaries. Chunking is deterministic: the same input and options
// always yield the same spans.
type Chunker struct {
	maxChars     int
	overlapChars int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithMaxTokens sets the window budget in tokens.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n * CharsPerToken
		}
	}
}

// WithOverlapTokens sets the window overlap in tokens.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapChars = n * CharsPerToken
		}
	}
}

// WithMaxChars sets the window budget directly in characters.
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithOverlapChars sets the window overlap directly in characters.
func WithOverlapChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapChars = n
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxChars:     DefaultMaxTokens * CharsPerToken,
		overlapChars: DefaultOverlapTokens * CharsPerToken,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Overlap must stay strictly below the window size so every window
	// makes forward progress.
	if c.overlapChars >= c.maxChars {
		c.overlapChars = c.maxChars / 4
	}

	return c
}

// Chunk splits text into spans. Each span ends on a sentence boundary
// when one fits inside the window; a single sentence longer than the
// window is hard-split at the character budget. Consecutive spans share
// an overlap so semantic context survives the boundary. Empty or
// whitespace-only input yields no spans.
func (c *Chunker) Chunk(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	boundaries := sentenceBoundaries(runes)

	var spans []Span
	cur := 0
	for cur < len(runes) {
		end := c.windowEnd(runes, boundaries, cur)

		spans = append(spans, Span{
			Text:     string(runes[cur:end]),
			Position: len(spans),
		})

		if end >= len(runes) {
			break
		}

		next := end - c.overlapChars
		if next <= cur {
			next = cur + 1
		}
		cur = next
	}

	return spans
}

// windowEnd picks the end of the window starting at cur: the furthest
// sentence boundary inside the budget, or a hard split at the budget
// when even the first sentence does not fit.
func (c *Chunker) windowEnd(runes []rune, boundaries []int, cur int) int {
	limit := cur + c.maxChars
	if limit >= len(runes) {
		limit = len(runes)
	}

	end := -1
	for _, b := range boundaries {
		if b <= cur {
			continue
		}
		if b > limit {
			break
		}
		end = b
	}

	if end < 0 {
		// No sentence boundary fits; hard split at the budget.
		end = limit
	}
	return end
}

// sentenceBoundaries returns the offsets just past every sentence
// terminator, plus the end of the text. Every rune belongs to exactly
// one sentence, so the boundaries partition the input.
func sentenceBoundaries(runes []rune) []int {
	var out []int
	for i, r := range runes {
		switch r {
		case '.', '!', '?', '\n':
			out = append(out, i+1)
		}
	}
	if len(out) == 0 || out[len(out)-1] != len(runes) {
		out = append(out, len(runes))
	}
	return out
}
