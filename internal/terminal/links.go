package terminal

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// LinkKind distinguishes link affordances.
type LinkKind string

const (
	LinkPath  LinkKind = "path"
	LinkImage LinkKind = "image"
)

// Link is a clickable range of one rendered line. Columns are display cells,
// EndCol exclusive.
type Link struct {
	Kind     LinkKind `json:"kind"`
	Text     string   `json:"text"`
	Path     string   `json:"path,omitempty"`
	Line     int      `json:"line,omitempty"`
	Image    int      `json:"image,omitempty"`
	StartCol int      `json:"startCol"`
	EndCol   int      `json:"endCol"`
}

var (
	imageRefPattern     = regexp.MustCompile(`\[Image #(\d+)\]`)
	singleQuotedPattern = regexp.MustCompile(`'(/[^'\n]+)'(?::(\d+))?`)
	doubleQuotedPattern = regexp.MustCompile(`"(/[^"\n]+)"(?::(\d+))?`)
	// The leading class stands in for a word boundary before the slash.
	unquotedPattern = regexp.MustCompile(`(?:^|[\s(\[{<=,;|>])(/[\w.\-@~+%#]+(?:/[\w.\-@~+%#]+)+/?)(?::(\d+))?`)
)

// ScanLinks finds image references and absolute paths in the visible text of
// a rendered line. Escape sequences are ignored. A quoted path wins over any
// unquoted match overlapping it.
func ScanLinks(line string) []Link {
	text := ansi.Strip(line)
	if !strings.ContainsAny(text, "/[") {
		return nil
	}

	var links []Link
	type span struct{ start, end int }
	var quoted []span

	for _, m := range imageRefPattern.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		links = append(links, newLink(text, m[0], m[1], Link{Kind: LinkImage, Image: n}))
	}

	for _, re := range []*regexp.Regexp{singleQuotedPattern, doubleQuotedPattern} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			path := text[m[2]:m[3]]
			if !nested(path) {
				continue
			}
			l := Link{Kind: LinkPath, Path: path}
			if m[4] >= 0 {
				l.Line, _ = strconv.Atoi(text[m[4]:m[5]])
			} else {
				l.Path, l.Line = splitLineSuffix(path)
			}
			quoted = append(quoted, span{m[0], m[1]})
			links = append(links, newLink(text, m[0], m[1], l))
		}
	}

	for _, m := range unquotedPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		path := strings.TrimRight(text[start:end], ".,")
		end = start + len(path)
		if !nested(path) {
			continue
		}
		overlaps := false
		for _, q := range quoted {
			if start < q.end && end > q.start {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		l := Link{Kind: LinkPath, Path: path}
		if m[4] >= 0 && end == m[3] {
			l.Line, _ = strconv.Atoi(text[m[4]:m[5]])
			end = m[5]
		}
		links = append(links, newLink(text, start, end, l))
	}

	sort.Slice(links, func(i, j int) bool { return links[i].StartCol < links[j].StartCol })
	return links
}

func newLink(text string, start, end int, l Link) Link {
	l.Text = text[start:end]
	l.StartCol = runewidth.StringWidth(text[:start])
	l.EndCol = l.StartCol + runewidth.StringWidth(l.Text)
	return l
}

// nested requires at least two path segments, so bare root-level tokens
// such as "/tmp" or "/" never become links.
func nested(path string) bool {
	trimmed := strings.Trim(path, "/")
	return trimmed != "" && strings.Contains(trimmed, "/")
}

// splitLineSuffix handles a ":N" written inside the quotes.
func splitLineSuffix(path string) (string, int) {
	idx := strings.LastIndexByte(path, ':')
	if idx <= 0 || idx == len(path)-1 {
		return path, 0
	}
	n, err := strconv.Atoi(path[idx+1:])
	if err != nil || n <= 0 {
		return path, 0
	}
	return path[:idx], n
}
