package debugline

import (
	"sort"

	"github.com/picdbg/picdbg/pkg/logflags"
)

// addrRange is the half open address range [start, end).
type addrRange struct {
	start, end int
}

// AddressMap is the dense program address to DebugLine table consulted on
// every simulated cycle, together with the file/line registry that owns the
// DebugLine instances and the reverse index used to find the addresses of a
// line.
//
// The table holds non-owning references: the registry (lines) is the single
// owner of every DebugLine. A line that loses all of its addresses is
// tombstoned instead of being removed, so no other table entry is touched.
//
// AddressMap is not safe for concurrent use. It must only be mutated by the
// goroutine driving the simulation.
type AddressMap struct {
	table  []*DebugLine
	lines  map[SourceLine]*DebugLine
	ranges map[SourceLine][]addrRange
	log    logflags.Logger
}

// NewAddressMap returns an empty map. Build must be called before any
// lookup returns a line.
func NewAddressMap() *AddressMap {
	return &AddressMap{
		lines:  make(map[SourceLine]*DebugLine),
		ranges: make(map[SourceLine][]addrRange),
		log:    logflags.DebugLineLogger(),
	}
}

// Build allocates a table of size entries and binds every address range in
// bindings. Any previous content, breakpoints included, is discarded.
func (m *AddressMap) Build(size int, bindings []Binding) {
	if size < 0 {
		size = 0
	}
	m.table = make([]*DebugLine, size)
	m.lines = make(map[SourceLine]*DebugLine)
	m.ranges = make(map[SourceLine][]addrRange)
	for _, b := range bindings {
		m.Bind(b)
	}
	m.log.Debugf("address map built: %d addresses, %d lines", size, len(m.lines))
}

// Size returns the number of addresses covered by the table.
func (m *AddressMap) Size() int {
	return len(m.table)
}

// LineAt returns the DebugLine owning addr, or nil if addr has no source
// line associated with it.
func (m *AddressMap) LineAt(addr int) *DebugLine {
	if addr < 0 || addr >= len(m.table) {
		return nil
	}
	dl := m.table[addr]
	if dl == nil || dl.markedAsDeleted {
		return nil
	}
	return dl
}

// Bind makes b.Line the owner of the addresses in [b.Start, b.End), clipped
// to the table. The DebugLine for b.Line is created the first time the line
// gains an address. Lines left without any address are tombstoned.
func (m *AddressMap) Bind(b Binding) {
	start, end := b.Start, b.End
	if start < 0 {
		start = 0
	}
	if end > len(m.table) {
		end = len(m.table)
	}
	if start >= end {
		return
	}

	dl := m.lines[b.Line]
	if dl == nil {
		dl = NewDebugLine(b.Line.File, b.Line.Line)
		m.lines[b.Line] = dl
	} else if dl.markedAsDeleted {
		dl.revive()
	}

	previous := make(map[*DebugLine]struct{})
	for addr := start; addr < end; addr++ {
		if old := m.table[addr]; old != nil && old != dl {
			previous[old] = struct{}{}
		}
		m.table[addr] = dl
	}
	for old := range previous {
		rs := subtractRange(m.ranges[old.SourceLine], addrRange{start, end})
		if len(rs) == 0 {
			delete(m.ranges, old.SourceLine)
			old.MarkAsDeleted()
			m.log.Debugf("line %s lost its last address", old.SourceLine)
			continue
		}
		m.ranges[old.SourceLine] = rs
	}
	m.ranges[b.Line] = mergeRanges(append(m.ranges[b.Line], addrRange{start, end}))
}

// Line returns the live DebugLine registered for file:line, if any.
func (m *AddressMap) Line(file string, line int) *DebugLine {
	dl := m.lines[SourceLine{file, line}]
	if dl == nil || dl.markedAsDeleted {
		return nil
	}
	return dl
}

// SetBreakpoint sets or clears the breakpoint flag of file:line. Lines
// that do not own any loaded address are silently ignored; the return value
// reports whether the flag was applied.
func (m *AddressMap) SetBreakpoint(file string, line int, enabled bool) bool {
	dl := m.Line(file, line)
	if dl == nil {
		return false
	}
	dl.SetBreakpoint(enabled)
	return true
}

// SetBreakpoints replaces the breakpoints of file with exactly lines.
// Breakpoints in other files are not affected. Requested lines that do not
// own any loaded address are ignored.
func (m *AddressMap) SetBreakpoints(file string, lines []int) {
	want := make(map[int]bool, len(lines))
	for _, ln := range lines {
		want[ln] = true
	}
	for sl, dl := range m.lines {
		if sl.File != file || dl.markedAsDeleted {
			continue
		}
		if dl.isBreakpoint && !want[sl.Line] {
			dl.SetBreakpoint(false)
		}
	}
	for ln := range want {
		m.SetBreakpoint(file, ln, true)
	}
}

// Breakpoints returns the sorted list of lines with a breakpoint set. If
// file is not empty only the lines of that file are returned.
func (m *AddressMap) Breakpoints(file string) []SourceLine {
	var r []SourceLine
	for sl, dl := range m.lines {
		if dl.markedAsDeleted || !dl.isBreakpoint {
			continue
		}
		if file != "" && sl.File != file {
			continue
		}
		r = append(r, sl)
	}
	SortSourceLines(r)
	return r
}

// ProgramAddress returns the lowest address owned by file:line.
func (m *AddressMap) ProgramAddress(file string, line int) (int, bool) {
	rs := m.ranges[SourceLine{file, line}]
	if len(rs) == 0 {
		return 0, false
	}
	return rs[0].start, true
}

// Addresses returns every address owned by sl, in increasing order.
func (m *AddressMap) Addresses(sl SourceLine) []int {
	var r []int
	for _, rg := range m.ranges[sl] {
		for addr := rg.start; addr < rg.end; addr++ {
			r = append(r, addr)
		}
	}
	return r
}

// Lines returns the sorted list of live lines.
func (m *AddressMap) Lines() []SourceLine {
	r := make([]SourceLine, 0, len(m.lines))
	for sl, dl := range m.lines {
		if !dl.markedAsDeleted {
			r = append(r, sl)
		}
	}
	SortSourceLines(r)
	return r
}

// Tombstones returns the number of registered lines marked as deleted.
func (m *AddressMap) Tombstones() int {
	n := 0
	for _, dl := range m.lines {
		if dl.markedAsDeleted {
			n++
		}
	}
	return n
}

// Reclaim drops tombstoned lines from the registry and returns how many were
// dropped. The dense table never references a tombstoned line, so it is not
// scanned.
func (m *AddressMap) Reclaim() int {
	n := 0
	for sl, dl := range m.lines {
		if dl.markedAsDeleted {
			delete(m.lines, sl)
			n++
		}
	}
	return n
}

// subtractRange removes cut from every range in rs.
func subtractRange(rs []addrRange, cut addrRange) []addrRange {
	r := rs[:0:0]
	for _, rg := range rs {
		if rg.end <= cut.start || rg.start >= cut.end {
			r = append(r, rg)
			continue
		}
		if rg.start < cut.start {
			r = append(r, addrRange{rg.start, cut.start})
		}
		if rg.end > cut.end {
			r = append(r, addrRange{cut.end, rg.end})
		}
	}
	return r
}

// mergeRanges sorts rs and coalesces overlapping or adjacent ranges.
func mergeRanges(rs []addrRange) []addrRange {
	sort.Slice(rs, func(i, j int) bool { return rs[i].start < rs[j].start })
	r := rs[:0]
	for _, rg := range rs {
		if n := len(r); n > 0 && rg.start <= r[n-1].end {
			if rg.end > r[n-1].end {
				r[n-1].end = rg.end
			}
			continue
		}
		r = append(r, rg)
	}
	return r
}
