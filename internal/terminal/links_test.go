package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLinks(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Link
	}{
		{
			name: "plain text",
			line: "nothing to see here",
			want: nil,
		},
		{
			name: "unquoted path with line",
			line: "panic at /src/app/main.go:42",
			want: []Link{{Kind: LinkPath, Text: "/src/app/main.go:42", Path: "/src/app/main.go", Line: 42, StartCol: 9, EndCol: 28}},
		},
		{
			name: "trailing punctuation trimmed",
			line: "see /etc/nginx/nginx.conf.",
			want: []Link{{Kind: LinkPath, Text: "/etc/nginx/nginx.conf", Path: "/etc/nginx/nginx.conf", StartCol: 4, EndCol: 25}},
		},
		{
			name: "root level token ignored",
			line: "cd /tmp",
			want: nil,
		},
		{
			name: "quoted path with spaces",
			line: "open '/tmp/my file.txt'",
			want: []Link{{Kind: LinkPath, Text: "'/tmp/my file.txt'", Path: "/tmp/my file.txt", StartCol: 5, EndCol: 23}},
		},
		{
			name: "line suffix inside quotes",
			line: `"/src/a b/x.go:7"`,
			want: []Link{{Kind: LinkPath, Text: `"/src/a b/x.go:7"`, Path: "/src/a b/x.go", Line: 7, StartCol: 0, EndCol: 17}},
		},
		{
			name: "image reference",
			line: "attached [Image #2]",
			want: []Link{{Kind: LinkImage, Text: "[Image #2]", Image: 2, StartCol: 9, EndCol: 19}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScanLinks(tt.line))
		})
	}
}

func TestScanLinks_IgnoresEscapes(t *testing.T) {
	links := ScanLinks("\x1b[31merror\x1b[0m /var/log/app.log")
	require.Len(t, links, 1)
	assert.Equal(t, "/var/log/app.log", links[0].Path)
	assert.Equal(t, 6, links[0].StartCol)
}

func TestScanLinks_WideRunesShiftColumns(t *testing.T) {
	links := ScanLinks("日本 /srv/data/file.csv")
	require.Len(t, links, 1)
	assert.Equal(t, 5, links[0].StartCol)
	assert.Equal(t, 23, links[0].EndCol)
}

func TestScanLinks_QuotedWinsOverUnquoted(t *testing.T) {
	links := ScanLinks("x '/a/b c/d.txt' /e/f.txt")
	require.Len(t, links, 2)
	assert.Equal(t, "/a/b c/d.txt", links[0].Path)
	assert.Equal(t, "/e/f.txt", links[1].Path)
}
