package debugline

// SourceLineMap associates assembly lines with the high level language lines
// a compiler generated them from, in both directions.
//
// Associating an assembly line again overwrites its previous high level
// line, and associating a high level line again overwrites the assembly line
// returned by ResolveReverse. Several assembly lines may resolve to the same
// high level line; only the latest of them is returned by ResolveReverse.
type SourceLineMap struct {
	toSource   map[SourceLine]SourceLine
	toAssembly map[SourceLine]SourceLine
}

// NewSourceLineMap returns an empty map.
func NewSourceLineMap() *SourceLineMap {
	return &SourceLineMap{
		toSource:   make(map[SourceLine]SourceLine),
		toAssembly: make(map[SourceLine]SourceLine),
	}
}

// Associate records that assemblyFile:assemblyLine was generated from
// sourceFile:sourceLine.
func (m *SourceLineMap) Associate(sourceFile string, sourceLine int, assemblyFile string, assemblyLine int) {
	src := SourceLine{sourceFile, sourceLine}
	asm := SourceLine{assemblyFile, assemblyLine}
	if old, ok := m.toSource[asm]; ok && old != src {
		if m.toAssembly[old] == asm {
			delete(m.toAssembly, old)
		}
	}
	m.toSource[asm] = src
	m.toAssembly[src] = asm
}

// Resolve returns the high level line asm was generated from.
func (m *SourceLineMap) Resolve(asm SourceLine) (SourceLine, bool) {
	src, ok := m.toSource[asm]
	return src, ok
}

// ResolveReverse returns the assembly line most recently associated with
// src.
func (m *SourceLineMap) ResolveReverse(src SourceLine) (SourceLine, bool) {
	asm, ok := m.toAssembly[src]
	return asm, ok
}

// Len returns the number of associated assembly lines.
func (m *SourceLineMap) Len() int {
	return len(m.toSource)
}

// Reset removes every association.
func (m *SourceLineMap) Reset() {
	m.toSource = make(map[SourceLine]SourceLine)
	m.toAssembly = make(map[SourceLine]SourceLine)
}
