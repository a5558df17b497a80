// Package splitter cuts decoded document text into overlapping chunks.
// Each media type gets a separator cascade: the text is recursively broken
// at the coarsest separator that still occurs, then fragments are merged
// back up to the chunk size with a 10% overlap between neighbours.
package splitter

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultChunkSize is used when a caller passes a non-positive size.
const DefaultChunkSize = 1000

// Chunk is a bounded span of the input text. StartOffset is the byte
// position of the span in the original text, recorded before whitespace
// trimming.
type Chunk struct {
	Text        string
	StartOffset int
}

// Splitter splits text with one fixed separator cascade. Splitters are
// immutable and safe for concurrent use.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

var (
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"```\n", "\n---\n", "\n\n", "\n", " ", "",
	}
	jsonSeparators    = []string{"{", "}", "[", "]", ",", ""}
	tabularSeparators = []string{"\n", " ", ""}
	defaultSeparators = []string{"\n\n", "\n", ".", "?", "!", ";", "|", " ", ""}
)

// mediaSeparators maps media types with a dedicated cascade. The csv entry
// assumes pre-processed csv without commas, so rows split on newlines.
var mediaSeparators = map[string][]string{
	"text/markdown":    markdownSeparators,
	"application/json": jsonSeparators,
	"text/csv":         tabularSeparators,
	"application/xml":  tabularSeparators,
	"text/xml":         tabularSeparators,
}

var splitterCache sync.Map

type cacheKey struct {
	mediaType string
	chunkSize int
}

// ForMediaType returns the splitter for the given media type and chunk
// size. Instances are cached, mirroring how a handful of distinct sizes
// get reused across every ingestion request.
func ForMediaType(mediaType string, chunkSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	key := cacheKey{mediaType: mediaType, chunkSize: chunkSize}
	if cached, ok := splitterCache.Load(key); ok {
		return cached.(*Splitter)
	}

	seps, ok := mediaSeparators[mediaType]
	if !ok {
		seps = defaultSeparators
	}
	s := &Splitter{
		chunkSize:  chunkSize,
		overlap:    chunkSize / 10,
		separators: seps,
	}
	actual, _ := splitterCache.LoadOrStore(key, s)
	return actual.(*Splitter)
}

// Split is the convenience entry point: pick the splitter for the media
// type and split in one call.
func Split(mediaType, text string, chunkSize int) []Chunk {
	return ForMediaType(mediaType, chunkSize).Split(text)
}

// Split cuts text into normalized chunks of at most the configured size.
// Empty chunks after normalization are dropped.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	frags := s.split(text, 0, s.separators)
	merged := s.merge(frags)

	chunks := make([]Chunk, 0, len(merged))
	for _, c := range merged {
		c.Text = normalize(c.Text)
		if c.Text == "" {
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks
}

type fragment struct {
	text  string
	start int
}

// split recursively breaks text into fragments no larger than the chunk
// size, descending the separator cascade for pieces that are still too
// big. Separators stay attached to the start of the following fragment,
// which keeps structural markers like headings at chunk boundaries, and
// offsets line up with the original text.
func (s *Splitter) split(text string, base int, seps []string) []fragment {
	if len(text) <= s.chunkSize {
		return []fragment{{text: text, start: base}}
	}

	sep := ""
	rest := seps
	for i, candidate := range seps {
		if candidate == "" {
			rest = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return s.hardCut(text, base)
	}

	var out []fragment
	offset := base
	for _, part := range splitKeepingSeparator(text, sep) {
		if part == "" {
			continue
		}
		if len(part) <= s.chunkSize {
			out = append(out, fragment{text: part, start: offset})
		} else {
			out = append(out, s.split(part, offset, rest)...)
		}
		offset += len(part)
	}
	return out
}

// splitKeepingSeparator splits text at every occurrence of sep, with the
// separator prefixed to the following piece.
func splitKeepingSeparator(text, sep string) []string {
	var parts []string
	for {
		idx := strings.Index(text[len(sep):], sep)
		if idx < 0 {
			parts = append(parts, text)
			return parts
		}
		cut := idx + len(sep)
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
}

// hardCut slices text at the chunk size when no separator applies, backing
// up to the nearest rune boundary so multi-byte characters stay intact.
func (s *Splitter) hardCut(text string, base int) []fragment {
	var out []fragment
	for len(text) > s.chunkSize {
		cut := s.chunkSize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = s.chunkSize
		}
		out = append(out, fragment{text: text[:cut], start: base})
		base += cut
		text = text[cut:]
	}
	if text != "" {
		out = append(out, fragment{text: text, start: base})
	}
	return out
}

// merge packs adjacent fragments into chunks up to the chunk size. After
// emitting a chunk it backs up over trailing fragments worth at most the
// overlap, so consecutive chunks share some context.
func (s *Splitter) merge(frags []fragment) []Chunk {
	var chunks []Chunk
	i := 0
	for i < len(frags) {
		size := 0
		j := i
		for j < len(frags) && size+len(frags[j].text) <= s.chunkSize {
			size += len(frags[j].text)
			j++
		}
		if j == i {
			j = i + 1
		}

		var sb strings.Builder
		for _, f := range frags[i:j] {
			sb.WriteString(f.text)
		}
		chunks = append(chunks, Chunk{Text: sb.String(), StartOffset: frags[i].start})

		if j >= len(frags) {
			break
		}

		next := j
		carried := 0
		for next > i+1 && carried+len(frags[next-1].text) <= s.overlap {
			next--
			carried += len(frags[next].text)
		}
		i = next
	}
	return chunks
}

var (
	multiNewline   = regexp.MustCompile(`(\r?\n){3,}`)
	longWhitespace = regexp.MustCompile(`(\s)\s{4,}`)
)

// normalize collapses runs of 3+ newlines to two and runs of 5+ whitespace
// characters to one, strips NUL bytes and trims the result.
func normalize(text string) string {
	text = multiNewline.ReplaceAllString(text, "\n\n")
	text = longWhitespace.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
