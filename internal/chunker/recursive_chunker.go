package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"rag/internal/domain"
)

// DefaultSeparators lists split points from highest to lowest priority:
// paragraph, line, sentence-ending punctuation, comma.
var DefaultSeparators = []string{"\n\n", "\n", ".", "!", "?", ","}

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Segment is a chunk of text with its rune offsets in the source.
type Segment struct {
	Text  string
	Start int
	End   int
}

// RecursiveChunker splits text into bounded, overlapping chunks preferring
// higher-priority separators and hard-cutting when none fits the window.
//
// Every chunk is at most size runes. Consecutive chunks share exactly
// overlap runes, so dropping the first overlap runes of every chunk after
// the first and concatenating reconstructs the input.
type RecursiveChunker struct {
	size       int
	overlap    int
	separators [][]rune
}

// NewRecursiveChunker validates the parameters and builds a chunker.
// A nil separator list selects DefaultSeparators.
func NewRecursiveChunker(size, overlap int, separators []string) (*RecursiveChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be greater than zero", domain.ErrConfiguration)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap cannot be negative", domain.ErrConfiguration)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than size %d", domain.ErrConfiguration, overlap, size)
	}
	if separators == nil {
		separators = DefaultSeparators
	}
	seps := make([][]rune, 0, len(separators))
	for _, s := range separators {
		if s == "" {
			return nil, errors.New("chunker: empty separator")
		}
		seps = append(seps, []rune(s))
	}
	return &RecursiveChunker{size: size, overlap: overlap, separators: seps}, nil
}

// Size returns the maximum chunk length in runes.
func (c *RecursiveChunker) Size() int { return c.size }

// Overlap returns the number of runes shared by adjacent chunks.
func (c *RecursiveChunker) Overlap() int { return c.overlap }

// Split cuts text into ordered segments.
func (c *RecursiveChunker) Split(text string) []Segment {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	var out []Segment
	start := 0
	for {
		if n-start <= c.size {
			out = append(out, Segment{Text: string(runes[start:]), Start: start, End: n})
			return out
		}
		cut := c.findCut(runes, start, start+c.size)
		out = append(out, Segment{Text: string(runes[start:cut]), Start: start, End: cut})
		start = cut - c.overlap
	}
}

// findCut returns the end of the last occurrence of the highest-priority
// separator inside runes[start:limit], or limit when none qualifies. The cut
// must lie beyond start+overlap so the next chunk always advances.
func (c *RecursiveChunker) findCut(runes []rune, start, limit int) int {
	minCut := start + c.overlap + 1
	for _, sep := range c.separators {
		for end := limit; end >= minCut && end-len(sep) >= start; end-- {
			if hasSeparatorAt(runes, end-len(sep), sep) {
				return end
			}
		}
	}
	return limit
}

func hasSeparatorAt(runes []rune, at int, sep []rune) bool {
	if at < 0 || at+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[at+i] != r {
			return false
		}
	}
	return true
}

// Chunk splits every page of the document and tags each chunk with its
// provenance. Positions run across pages in document order.
func (c *RecursiveChunker) Chunk(document domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	pos := 0
	for _, page := range document.Pages {
		for _, seg := range c.Split(page.Text) {
			chunks = append(chunks, domain.Chunk{
				ID:       chunkID(document, pos, seg.Text),
				Source:   document.ID,
				Category: document.Category,
				Position: pos,
				Page:     page.Number,
				Text:     seg.Text,
			})
			pos++
		}
	}
	return chunks
}

// Stitch reverses Split: it concatenates segments dropping the overlap.
func Stitch(segments []Segment) string {
	if len(segments) == 0 {
		return ""
	}
	out := []rune(segments[0].Text)
	for i := 1; i < len(segments); i++ {
		skip := segments[i-1].End - segments[i].Start
		r := []rune(segments[i].Text)
		if skip < len(r) {
			out = append(out, r[skip:]...)
		}
	}
	return string(out)
}

func chunkID(doc domain.Document, pos int, text string) string {
	h := sha1.New()
	h.Write([]byte(doc.Category.Key()))
	h.Write([]byte{0})
	h.Write([]byte(doc.ID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(pos)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil)[:12])
}
