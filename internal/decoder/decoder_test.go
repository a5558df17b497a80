package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodePlainText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		title     string
		mediaType string
		data      string
		want      string
		wantOK    bool
	}{
		{
			name:      "plain text",
			title:     "a.txt",
			mediaType: "text/plain",
			data:      "hello world",
			want:      "hello world",
			wantOK:    true,
		},
		{
			name:      "unknown type falls back to text",
			title:     "notes",
			mediaType: "application/x-custom",
			data:      "still readable",
			want:      "still readable",
			wantOK:    true,
		},
		{
			name:      "invalid utf8 scrubbed",
			title:     "a.txt",
			mediaType: "text/plain",
			data:      "ab\xffcd",
			want:      "abcd",
			wantOK:    true,
		},
		{
			name:      "nul bytes stripped",
			title:     "a.txt",
			mediaType: "text/plain",
			data:      "a\x00b",
			want:      "ab",
			wantOK:    true,
		},
		{
			name:      "empty document rejected",
			title:     "a.txt",
			mediaType: "text/plain",
			data:      "   \n\t ",
			wantOK:    false,
		},
		{
			name:      "pot template skipped",
			title:     "slides.pot",
			mediaType: "text/plain",
			data:      "looks like text",
			wantOK:    false,
		},
		{
			name:      "missing media type rejected",
			title:     "a.txt",
			mediaType: "",
			data:      "text",
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := Decode(tt.title, tt.mediaType, []byte(tt.data))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecodeHTML(t *testing.T) {
	t.Parallel()

	html := `<html><head><style>p{color:red}</style><script>var x=1;</script></head>` +
		`<body><h1>Title</h1><p>Body text.</p></body></html>`

	got, ok := Decode("page.html", "text/html", []byte(html))
	assert.True(t, ok)
	assert.Contains(t, got, "Title")
	assert.Contains(t, got, "Body text.")
	assert.NotContains(t, got, "var x=1;")
	assert.NotContains(t, got, "color:red")
}

func TestDecodeXML(t *testing.T) {
	t.Parallel()

	xml := "<note>remember the milk</note>"

	got, ok := Decode("note.xml", "application/xml", []byte(xml))
	assert.True(t, ok)
	assert.Equal(t, "<note>remember the milk", got)
}

func TestDecodeBrokenPDF(t *testing.T) {
	t.Parallel()

	_, ok := Decode("broken.pdf", "application/pdf", []byte("%PDF-1.4 truncated garbage"))
	assert.False(t, ok)
}
