package debugline

// DebugLine is a SourceLine as seen by a stepping simulator. Every address
// of a contiguous run of program memory generated by the same line refers to
// the same DebugLine.
type DebugLine struct {
	SourceLine

	isBreakpoint    bool
	markedAsDeleted bool
}

// NewDebugLine returns a live DebugLine for file:line without a breakpoint.
func NewDebugLine(file string, line int) *DebugLine {
	return &DebugLine{SourceLine: SourceLine{File: file, Line: line}}
}

// IsBreakpoint returns true if the simulation should halt when it reaches
// this line.
func (dl *DebugLine) IsBreakpoint() bool {
	return dl.isBreakpoint
}

// SetBreakpoint sets whether or not to halt when this line is reached.
func (dl *DebugLine) SetBreakpoint(breakpoint bool) {
	dl.isBreakpoint = breakpoint
}

// MarkAsDeleted flags the line as no longer owning any address. The
// instance stays in its AddressMap registry until Reclaim or a reload.
func (dl *DebugLine) MarkAsDeleted() {
	dl.markedAsDeleted = true
}

// MarkedAsDeleted returns true for tombstoned lines.
func (dl *DebugLine) MarkedAsDeleted() bool {
	return dl.markedAsDeleted
}

func (dl *DebugLine) revive() {
	dl.markedAsDeleted = false
}
