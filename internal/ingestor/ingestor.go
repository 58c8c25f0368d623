// Package ingestor normalizes RawChunks into IngestedTokens: extracting
// text from the chunk's content type, splitting it into sentences, and
// grouping sentences into segments bounded by MaxSegmentTokens. The stage
// composition (Validate -> Extract -> Segment) and the sentence/chunk
// splitting algorithm are adapted from the teacher's engine/ingest
// package, generalized from car-repair post parsing to arbitrary
// collector content.
package ingestor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode"

	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/pkg/fn"
)

const (
	// MaxSegmentTokens bounds the approximate word count per output
	// segment; segments feed the Engine's extraction window.
	MaxSegmentTokens = 256
	// SegmentOverlap carries trailing context across a segment boundary so
	// the Engine does not lose a relation split across chunks.
	SegmentOverlap = 32
)

// jsonDoc is the shape a JSON-sourced RawChunk is expected to decode into.
// Both "text" and "content" are accepted since collector backends differ.
type jsonDoc struct {
	Text    string `json:"text"`
	Content string `json:"content"`
	Title   string `json:"title"`
}

// Validate rejects chunks with no extractable payload before any parsing
// work is spent on them.
var Validate fn.Stage[domain.RawChunk, domain.RawChunk] = func(_ context.Context, c domain.RawChunk) fn.Result[domain.RawChunk] {
	if len(c.Bytes) == 0 && c.Text == "" {
		return fn.Err[domain.RawChunk](domain.NewParseError(false, domain.ErrExtractionError))
	}
	return fn.Ok(c)
}

// extractedDoc is the plain-text result of Extract.
type extractedDoc struct {
	domain.RawChunk
	Plain string
}

// Extract converts a RawChunk's payload into plain text according to its
// ContentType. Unsupported binary content types are a non-recoverable
// ParseError: there is no text to segment.
var Extract fn.Stage[domain.RawChunk, extractedDoc] = func(_ context.Context, c domain.RawChunk) fn.Result[extractedDoc] {
	if c.Text != "" {
		return fn.Ok(extractedDoc{RawChunk: c, Plain: c.Text})
	}
	switch c.ContentType {
	case "application/json":
		var d jsonDoc
		if err := json.Unmarshal(c.Bytes, &d); err != nil {
			return fn.Err[extractedDoc](domain.NewParseError(true, err))
		}
		text := d.Text
		if text == "" {
			text = d.Content
		}
		if d.Title != "" {
			text = d.Title + "\n" + text
		}
		if text == "" {
			return fn.Err[extractedDoc](domain.NewParseError(true, domain.ErrExtractionError))
		}
		return fn.Ok(extractedDoc{RawChunk: c, Plain: text})
	case "text/plain", "":
		return fn.Ok(extractedDoc{RawChunk: c, Plain: string(c.Bytes)})
	default:
		return fn.Err[extractedDoc](domain.NewParseError(false, domain.ErrExtractionError))
	}
}

// Segment splits extracted text into sentences, then groups sentences
// into overlapping windows, producing the pipeline's IngestedTokens.
var Segment fn.Stage[extractedDoc, domain.IngestedTokens] = func(_ context.Context, d extractedDoc) fn.Result[domain.IngestedTokens] {
	sentences := splitSentences(d.Plain)
	segments := groupSentences(sentences, MaxSegmentTokens, SegmentOverlap)
	if len(segments) == 0 {
		segments = []string{d.Plain}
	}
	return fn.Ok(domain.IngestedTokens{
		File:          d.DocumentID,
		Data:          segments,
		DocSource:     d.DocSource,
		SourceID:      d.SourceID,
		ImageID:       d.ImageID,
		IsTokenStream: false,
	})
}

// NewPipeline composes Validate -> Extract -> Segment with entry/exit
// logging, matching the teacher's LoggedTap composition style.
func NewPipeline(log *slog.Logger) fn.Stage[domain.RawChunk, domain.IngestedTokens] {
	if log == nil {
		log = slog.Default()
	}
	validated := fn.Then(loggedTap[domain.RawChunk]("validate", log), Validate)
	extracted := fn.Then(validated, fn.Then(loggedTap[domain.RawChunk]("extract", log), Extract))
	return fn.Then(extracted, fn.Then(loggedTap[extractedDoc]("segment", log), Segment))
}

func loggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(_ context.Context, _ T) {
		log.Debug("ingestor.stage", "stage", name)
	})
}

// splitSentences splits text on sentence-ending punctuation and newlines.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	for i, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// groupSentences packs sentences into ~maxTokens windows with overlap,
// approximating token count as word count.
func groupSentences(sentences []string, maxTokens, overlap int) []string {
	if len(sentences) == 0 {
		return nil
	}
	var segments []string
	start := 0
	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start
		for end < len(sentences) {
			words := wordCount(sentences[end])
			if tokens+words > maxTokens && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end])
			tokens += words
			end++
		}
		segments = append(segments, buf.String())

		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < overlap {
			newStart--
			overlapTokens += wordCount(sentences[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return segments
}

func wordCount(s string) int { return len(strings.Fields(s)) }
