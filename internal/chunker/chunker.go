// Package chunker splits normalized text into overlapping chunks along a separator hierarchy.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/docqa/internal/domain"
)

// Chunker is a configured recursive splitter. Safe for concurrent use.
type Chunker struct {
	s          splitter
	separators []string
}

// New creates a Chunker from index settings. Empty separators fall back to domain.DefaultSeparators.
func New(cfg domain.IndexConfig) *Chunker {
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = domain.DefaultSeparators()
	}
	return &Chunker{
		s:          newSplitter(cfg.TargetChunkSize, cfg.Overlap, cfg.LosslessCut),
		separators: append([]string(nil), seps...),
	}
}

// Split chunks text with the configured settings.
func (c *Chunker) Split(text string) []string {
	return c.s.split(text, c.separators)
}

// Split produces chunks of at most targetSize characters, preferring the earliest separator
// in the hierarchy, with roughly overlap characters carried between consecutive chunks.
// A part longer than targetSize with no separators left is truncated to targetSize.
// A non-positive targetSize disables splitting.
func Split(text string, targetSize, overlap int, separators []string) []string {
	return newSplitter(targetSize, overlap, false).split(text, separators)
}

// SplitLossless is Split, except that a part longer than targetSize with no separators
// left is cut into consecutive targetSize pieces instead of being truncated.
func SplitLossless(text string, targetSize, overlap int, separators []string) []string {
	return newSplitter(targetSize, overlap, true).split(text, separators)
}

type splitter struct {
	targetSize int
	overlap    int
	lossless   bool
}

func newSplitter(targetSize, overlap int, lossless bool) splitter {
	if overlap < 0 {
		overlap = 0
	}
	return splitter{targetSize: targetSize, overlap: overlap, lossless: lossless}
}

// buffer accumulates parts of one separator level. length is kept as a running
// counter: sum of part lengths plus one separator between each pair.
type buffer struct {
	parts  []string
	lens   []int
	length int
	sepLen int
}

func (b *buffer) empty() bool { return len(b.parts) == 0 }

// cost is the length the buffer would grow by when appending a part of length n.
func (b *buffer) cost(n int) int {
	if b.empty() {
		return n
	}
	return n + b.sepLen
}

func (b *buffer) push(part string, n int) {
	b.length += b.cost(n)
	b.parts = append(b.parts, part)
	b.lens = append(b.lens, n)
}

func (b *buffer) dropFirst() {
	if len(b.parts) == 1 {
		b.reset()
		return
	}
	b.length -= b.lens[0] + b.sepLen
	b.parts = b.parts[1:]
	b.lens = b.lens[1:]
}

func (b *buffer) reset() {
	b.parts, b.lens, b.length = nil, nil, 0
}

func (s splitter) split(text string, separators []string) []string {
	if text == "" {
		return nil
	}
	if s.targetSize <= 0 {
		return []string{text}
	}
	if len(separators) == 0 {
		if utf8.RuneCountInString(text) <= s.targetSize {
			return []string{text}
		}
		return s.cut(text)
	}

	sep, rest := separators[0], separators[1:]
	parts := splitParts(text, sep)
	buf := buffer{sepLen: utf8.RuneCountInString(sep)}

	var out []string
	for _, part := range parts {
		n := utf8.RuneCountInString(part)
		if buf.length+buf.cost(n) <= s.targetSize {
			buf.push(part, n)
			continue
		}

		if !buf.empty() {
			out = appendChunk(out, strings.Join(buf.parts, sep))
		}
		// Keep a trailing slice of the emitted chunk as the seed of the next one.
		// Parts are never broken to hit the overlap exactly.
		for buf.length > s.overlap && len(buf.parts) > 1 {
			buf.dropFirst()
		}

		if n > s.targetSize {
			if len(rest) > 0 {
				out = append(out, s.split(part, rest)...)
			} else {
				out = append(out, s.cut(part)...)
			}
			buf.reset()
			continue
		}

		// The seed must leave room for the incoming part.
		for !buf.empty() && buf.length+buf.cost(n) > s.targetSize {
			buf.dropFirst()
		}
		buf.push(part, n)
	}

	if !buf.empty() {
		last := strings.Join(buf.parts, sep)
		if len(out) == 0 || out[len(out)-1] != last {
			out = appendChunk(out, last)
		}
	}
	return out
}

// cut is the last-resort fallback for a part with no separators left.
func (s splitter) cut(part string) []string {
	runes := []rune(part)
	if !s.lossless {
		return []string{string(runes[:min(s.targetSize, len(runes))])}
	}
	out := make([]string, 0, len(runes)/s.targetSize+1)
	for start := 0; start < len(runes); start += s.targetSize {
		end := min(start+s.targetSize, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

func splitParts(text, sep string) []string {
	if sep != "" {
		return strings.Split(text, sep)
	}
	parts := make([]string, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		parts = append(parts, string(r))
	}
	return parts
}

func appendChunk(out []string, c string) []string {
	if c == "" {
		return out
	}
	return append(out, c)
}
