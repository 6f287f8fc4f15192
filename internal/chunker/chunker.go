// Package chunker splits raw document text into overlapping passages.
//
// Splitting is deterministic for identical input and configuration, performs
// no I/O, and is the unit boundary for embedding: each passage becomes one
// chunk in the vector store.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target passage length in characters.
	DefaultChunkSize = 1000

	// DefaultOverlap is the number of trailing characters of the previous
	// passage prepended to the next one for retrieval boundary context.
	DefaultOverlap = 200
)

var (
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
	sentenceRe  = regexp.MustCompile(`([^.!?]*[.!?]+)\s+`)
)

// Chunker splits text on paragraph boundaries, falling back to sentence
// boundaries for paragraphs that exceed the chunk size on their own.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New creates a Chunker. overlap must be strictly smaller than chunkSize,
// otherwise every passage would be swallowed by its own overlap prefix.
func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be smaller than chunk size %d", overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize returns the configured target passage length.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap length.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the ordered passages for text.
//
// Paragraphs (blank-line separated) are accumulated into a buffer until the
// next paragraph would push it past the chunk size, at which point the buffer
// is flushed. A single paragraph longer than the chunk size is split further
// on sentence boundaries with the same accumulate/flush policy. Every passage
// after the first carries the trailing overlap characters of the previous
// raw passage as a prefix.
//
// Empty or whitespace-only input yields no passages. Input that fits in one
// chunk yields exactly one passage equal to strings.TrimSpace(text).
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.chunkSize {
		return []string{text}
	}

	var raw []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			raw = append(raw, buf.String())
			buf.Reset()
		}
	}
	accumulate := func(piece string) {
		if buf.Len() > 0 && buf.Len()+2+len(piece) > c.chunkSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(piece)
	}

	for _, para := range paragraphRe.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= c.chunkSize {
			accumulate(para)
			continue
		}
		// Oversized paragraph: flush what we have and pack its sentences.
		flush()
		for _, sentence := range splitSentences(para) {
			// A single sentence above the chunk size has no boundary left
			// to split on; cut it at rune-safe character positions.
			if len(sentence) > c.chunkSize {
				flush()
				raw = append(raw, hardSplit(sentence, c.chunkSize)...)
				continue
			}
			if buf.Len() > 0 && buf.Len()+1+len(sentence) > c.chunkSize {
				flush()
			}
			if buf.Len() > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(sentence)
		}
		flush()
	}
	flush()

	if c.overlap == 0 || len(raw) < 2 {
		return raw
	}

	// Overlap prefixes come from the previous raw passage, not from the
	// already-prefixed one, so passage length stays <= chunkSize + overlap.
	passages := make([]string, len(raw))
	passages[0] = raw[0]
	for i := 1; i < len(raw); i++ {
		prev := raw[i-1]
		tail := prev
		if len(prev) > c.overlap {
			start := len(prev) - c.overlap
			for start < len(prev) && !utf8.RuneStart(prev[start]) {
				start++
			}
			tail = prev[start:]
		}
		passages[i] = tail + raw[i]
	}
	return passages
}

// hardSplit cuts s into pieces of at most size bytes without splitting a
// UTF-8 rune.
func hardSplit(s string, size int) []string {
	var parts []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

// splitSentences splits a paragraph on ./!/? followed by whitespace. Text
// after the final terminator (or a paragraph with no terminator at all) is
// returned as a trailing sentence.
func splitSentences(para string) []string {
	var sentences []string
	rest := para
	for {
		loc := sentenceRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		s := strings.TrimSpace(rest[loc[2]:loc[3]])
		if s != "" {
			sentences = append(sentences, s)
		}
		rest = rest[loc[1]:]
	}
	if tail := strings.TrimSpace(rest); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
