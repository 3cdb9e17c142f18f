package layout

// ChangeKind separates layout changes that add or remove panels from pure
// resizes and drags.
type ChangeKind int

const (
	Geometric ChangeKind = iota
	Structural
)

func (k ChangeKind) String() string {
	if k == Structural {
		return "structural"
	}
	return "geometric"
}

// ClassifyChange compares the panel count seen at the previous change with
// the current one.
func ClassifyChange(prevCount, curCount int) ChangeKind {
	if prevCount != curCount {
		return Structural
	}
	return Geometric
}
