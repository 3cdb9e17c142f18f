package panel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SiblingsArePaired(t *testing.T) {
	for _, d := range All() {
		if d.Sibling == "" {
			assert.Equal(t, PlacementBottom, d.Placement, "%s has no sibling", d.ID)
			continue
		}
		sib, ok := Lookup(d.Sibling)
		assert.True(t, ok)
		assert.Equal(t, d.ID, sib.Sibling)
		assert.Equal(t, d.Placement, sib.Placement)
	}
}

func TestFind(t *testing.T) {
	tests := []struct {
		query string
		want  ID
		ok    bool
	}{
		{"terminal", Terminal, true},
		{"term", Terminal, true},
		{"Files", Directory, true},
		{"kan", Kanban, true},
		{"board", Kanban, true},
		{"", "", false},
		{"zzz", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			d, ok := Find(tt.query)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, d.ID)
			}
		})
	}
}

func TestParams(t *testing.T) {
	p := Params(Terminal, "proj", "/src/proj")
	assert.Equal(t, "proj", p[ParamProjectID])
	assert.Equal(t, "/src/proj", p[ParamProjectPath])
	assert.Equal(t, "proj-term-0", p[ParamTerminalID])

	_, hasTerm := Params(Editor, "proj", "/src/proj")[ParamTerminalID]
	assert.False(t, hasTerm)
}

func TestParseTerminalID(t *testing.T) {
	project, slot, ok := ParseTerminalID(TerminalID("my-term-project", 2))
	assert.True(t, ok)
	assert.Equal(t, "my-term-project", project)
	assert.Equal(t, 2, slot)

	_, _, ok = ParseTerminalID("nope")
	assert.False(t, ok)
}
