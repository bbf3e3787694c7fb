// Package debugline maps simulated program-memory addresses to the source
// lines that produced them and keeps the per-line breakpoint flags consulted
// on every simulated cycle.
package debugline

import (
	"fmt"
	"sort"
)

// SourceLine identifies one line of a source file. Files are opaque
// identifiers supplied by the symbol loader; they are never opened here.
type SourceLine struct {
	File string
	Line int
}

func (sl SourceLine) String() string {
	return fmt.Sprintf("%s:%d", sl.File, sl.Line)
}

// Less orders source lines by file and then by line number.
func (sl SourceLine) Less(other SourceLine) bool {
	if sl.File != other.File {
		return sl.File < other.File
	}
	return sl.Line < other.Line
}

// SortSourceLines sorts lines in place using Less.
func SortSourceLines(lines []SourceLine) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].Less(lines[j]) })
}

// Binding associates the half open address range [Start, End) with Line.
type Binding struct {
	Start, End int
	Line       SourceLine
}

// Association pairs a high level language line with the assembly line the
// compiler generated for it.
type Association struct {
	Source   SourceLine
	Assembly SourceLine
}
