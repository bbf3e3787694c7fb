package proc

import (
	"github.com/picdbg/picdbg/pkg/debugline"
	"github.com/picdbg/picdbg/pkg/logflags"
)

// StepMode is the state of a debugger's step controller.
type StepMode uint8

const (
	Idle StepMode = iota
	Running
	SteppingInto
	SteppingOver
	SteppingOut
)

func (m StepMode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case SteppingInto:
		return "stepping into"
	case SteppingOver:
		return "stepping over"
	case SteppingOut:
		return "stepping out"
	}
	return "unknown"
}

// StepState is a StepMode together with the stack depth recorded when a
// step over or step out was requested.
type StepState struct {
	Mode  StepMode
	Depth int
}

// Debugger maps the program counter of a Processor to source lines of one
// kind (assembly or HLL), holds the breakpoints set on those lines and
// implements source level stepping.
type Debugger struct {
	p     *Processor
	mode  DebugMode
	addrs *debugline.AddressMap

	state StepState
	// stackLevelLowerBreak is the deepest stack level at which a pending
	// step over or step out halts.
	stackLevelLowerBreak int
	// breakFromOldLine is the line a pending step started from; the step
	// does not complete while the program counter is still on it.
	breakFromOldLine *debugline.DebugLine
	// resumeLine is the line execution was resumed from. Its breakpoint is
	// ignored until a different line is reached.
	resumeLine          *debugline.DebugLine
	previousLineEmitted *debugline.DebugLine

	lineHandlers []func(debugline.SourceLine)

	log logflags.Logger
}

func newDebugger(p *Processor, mode DebugMode) *Debugger {
	return &Debugger{
		p:     p,
		mode:  mode,
		addrs: debugline.NewAddressMap(),
		log:   logflags.ProcLogger().WithField("mode", mode.String()),
	}
}

// Mode returns the kind of lines this debugger reports.
func (d *Debugger) Mode() DebugMode {
	return d.mode
}

// State returns the current state of the step controller.
func (d *Debugger) State() StepState {
	return d.state
}

// AddressMap returns the address table of this debugger.
func (d *Debugger) AddressMap() *debugline.AddressMap {
	return d.addrs
}

// OnLineReached registers fn to be called with every new line reached.
func (d *Debugger) OnLineReached(fn func(debugline.SourceLine)) {
	d.lineHandlers = append(d.lineHandlers, fn)
}

// SetBreakpoints replaces the breakpoints of file with lines.
func (d *Debugger) SetBreakpoints(file string, lines []int) {
	d.addrs.SetBreakpoints(file, lines)
}

// SetBreakpoint sets or clears the breakpoint on file:line. It returns
// false if the line has no program address.
func (d *Debugger) SetBreakpoint(file string, line int, enabled bool) bool {
	return d.addrs.SetBreakpoint(file, line, enabled)
}

// Breakpoints returns the lines of file with a breakpoint, or of every file
// if file is empty.
func (d *Debugger) Breakpoints(file string) []debugline.SourceLine {
	return d.addrs.Breakpoints(file)
}

// ProgramAddress returns the first program address of file:line.
func (d *Debugger) ProgramAddress(file string, line int) (int, bool) {
	return d.addrs.ProgramAddress(file, line)
}

// LineAt returns the line owning addr.
func (d *Debugger) LineAt(addr int) (debugline.SourceLine, bool) {
	dl := d.addrs.LineAt(addr)
	if dl == nil {
		return debugline.SourceLine{}, false
	}
	return dl.SourceLine, true
}

// CurrentDebugLine returns the line owning the program counter, or nil.
func (d *Debugger) CurrentDebugLine() *debugline.DebugLine {
	return d.addrs.LineAt(d.p.engine.PC())
}

// CurrentLine returns the line owning the program counter.
func (d *Debugger) CurrentLine() (debugline.SourceLine, bool) {
	return d.LineAt(d.p.engine.PC())
}

// StepInto halts the processor if needed, executes exactly one instruction
// and reports the line reached.
func (d *Debugger) StepInto() {
	p := d.p
	p.halt(StopManual)
	d.state = StepState{Mode: SteppingInto}
	p.stepInstruction()
	p.stopReason = StopStepFinished
	for _, dd := range p.debuggers {
		dd.reset()
	}
	for _, dd := range p.debuggers {
		dd.emitCurrentLine()
	}
}

// StepOver runs until a different line is reached at the current stack
// depth or above. It does nothing if the processor is running.
func (d *Debugger) StepOver() {
	if d.p.running {
		return
	}
	depth := d.p.engine.StackDepth()
	d.startStep(StepState{Mode: SteppingOver, Depth: depth}, depth)
}

// StepOut runs until a different line is reached above the current stack
// depth. At the outermost level this is the same as continuing. It does
// nothing if the processor is running.
func (d *Debugger) StepOut() {
	if d.p.running {
		return
	}
	depth := d.p.engine.StackDepth()
	d.startStep(StepState{Mode: SteppingOut, Depth: depth}, depth-1)
}

func (d *Debugger) startStep(state StepState, lowerBreak int) {
	d.breakFromOldLine = d.CurrentDebugLine()
	d.p.SetRunning(true)
	d.state = state
	d.stackLevelLowerBreak = lowerBreak
	d.log.Debugf("%s from depth %d", state.Mode, state.Depth)
}

// resume is called when the processor starts running.
func (d *Debugger) resume() {
	d.resumeLine = d.CurrentDebugLine()
	if d.state.Mode == Idle {
		d.state = StepState{Mode: Running}
	}
}

// reset returns the step controller to idle.
func (d *Debugger) reset() {
	d.state = StepState{Mode: Idle}
	d.stackLevelLowerBreak = -1
	d.breakFromOldLine = nil
	d.resumeLine = nil
}

// checkForBreak is called after every executed instruction with the new
// program counter and stack depth. It reports a newly reached line and
// returns the reason to halt, or StopUnknown to keep running.
func (d *Debugger) checkForBreak(addr, depth int) StopReason {
	dl := d.addrs.LineAt(addr)
	if dl == nil {
		return StopUnknown
	}
	d.emitLineReached(dl)
	if dl != d.resumeLine {
		d.resumeLine = nil
	}
	if dl.IsBreakpoint() && dl != d.resumeLine {
		d.log.Debugf("breakpoint at %s (%#x)", dl.SourceLine, addr)
		return StopBreakpoint
	}
	switch d.state.Mode {
	case SteppingOver, SteppingOut:
		if dl != d.breakFromOldLine && depth <= d.stackLevelLowerBreak {
			d.log.Debugf("%s finished at %s (%#x)", d.state.Mode, dl.SourceLine, addr)
			return StopStepFinished
		}
	}
	return StopUnknown
}

func (d *Debugger) emitCurrentLine() {
	if dl := d.CurrentDebugLine(); dl != nil {
		d.emitLineReached(dl)
	}
}

func (d *Debugger) emitLineReached(dl *debugline.DebugLine) {
	if dl == d.previousLineEmitted {
		return
	}
	d.previousLineEmitted = dl
	for _, fn := range d.lineHandlers {
		fn(dl.SourceLine)
	}
}
