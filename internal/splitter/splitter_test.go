package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortText(t *testing.T) {
	t.Parallel()

	chunks := Split("text/plain", "one small document", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "one small document", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
}

func TestSplitEmptyText(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Split("text/plain", "", 100))
	assert.Empty(t, Split("text/plain", "  \n\n ", 100))
}

func TestSplitRespectsChunkSize(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("A sentence that ends with a period. ")
	}

	chunks := Split("text/plain", sb.String(), 200)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 200)
		assert.NotEmpty(t, c.Text)
	}
}

func TestSplitStartOffsets(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("para one\n\n", 30)
	chunks := Split("text/plain", text, 100)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, 0, chunks[0].StartOffset)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartOffset, chunks[i-1].StartOffset)
		// Offset points into the original text at chunk content.
		assert.True(t, strings.HasPrefix(text[chunks[i].StartOffset:], "para"))
	}
}

func TestSplitOverlap(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("word ")
	}

	s := ForMediaType("text/plain", 60)
	chunks := s.Split(sb.String())
	require.Greater(t, len(chunks), 1)

	// Consecutive chunks re-cover part of the text: the next chunk starts
	// before the previous one ends.
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].StartOffset + len(chunks[i-1].Text)
		assert.Less(t, chunks[i].StartOffset, prevEnd)
	}
}

func TestSplitMarkdownPrefersHeadings(t *testing.T) {
	t.Parallel()

	text := "intro text here\n# Section One\n" + strings.Repeat("alpha ", 20) +
		"\n# Section Two\n" + strings.Repeat("beta ", 20)

	chunks := Split("text/markdown", text, 150)
	require.Greater(t, len(chunks), 1)

	var sectionStarts int
	for _, c := range chunks {
		if strings.HasPrefix(c.Text, "# Section") {
			sectionStarts++
		}
	}
	assert.GreaterOrEqual(t, sectionStarts, 1)
}

func TestSplitJSONUsesStructuralSeparators(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("{")
	for i := 0; i < 60; i++ {
		sb.WriteString(`"key": "some value",`)
	}
	sb.WriteString("}")

	chunks := Split("application/json", sb.String(), 120)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 120)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "triple newline collapsed", in: "a\n\n\n\nb", want: "a\n\nb"},
		{name: "crlf runs collapsed", in: "a\r\n\r\n\r\nb", want: "a\n\nb"},
		{name: "long whitespace run collapsed", in: "a     b", want: "a b"},
		{name: "short whitespace kept", in: "a   b", want: "a   b"},
		{name: "nul stripped", in: "a\x00b", want: "ab"},
		{name: "trimmed", in: "  a  ", want: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normalize(tt.in))
		})
	}
}

func TestForMediaTypeCachesInstances(t *testing.T) {
	t.Parallel()

	a := ForMediaType("text/plain", 500)
	b := ForMediaType("text/plain", 500)
	assert.Same(t, a, b)

	c := ForMediaType("text/plain", 600)
	assert.NotSame(t, a, c)
}

func TestForMediaTypeDefaultSize(t *testing.T) {
	t.Parallel()

	s := ForMediaType("text/plain", 0)
	assert.Equal(t, DefaultChunkSize, s.chunkSize)
	assert.Equal(t, DefaultChunkSize/10, s.overlap)
}
