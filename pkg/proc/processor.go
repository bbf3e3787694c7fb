package proc

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/picdbg/picdbg/pkg/debugline"
	"github.com/picdbg/picdbg/pkg/logflags"
)

// ErrNotLoaded is returned when an operation needs a loaded program.
var ErrNotLoaded = errors.New("no program loaded")

// Program is the debug information produced by a successful symbol file
// load.
type Program struct {
	// Bindings associates address ranges with assembly lines.
	Bindings []debugline.Binding
	// Associations pairs high level language lines with the assembly lines
	// generated from them.
	Associations []debugline.Association
	// Sources lists every source file of the program, assembly first.
	Sources []string
}

// Processor drives an Engine one cycle at a time on behalf of two
// debuggers, one reporting assembly lines and one reporting high level
// language lines. Both are checked after every instruction so that the
// debug mode can be switched at any time.
//
// Processor is not safe for concurrent use, with the exception of
// RequestManualStop.
type Processor struct {
	engine Engine

	sources  []string
	lineMap  *debugline.SourceLineMap
	bindings []debugline.Binding
	byLine   map[debugline.SourceLine][]debugline.Binding

	debuggers [2]*Debugger
	mode      DebugMode

	running       bool
	skipNextCycle bool
	cycles        uint64
	stopReason    StopReason
	manualStop    int32

	runningHandlers []func(bool)

	log logflags.Logger
}

// New returns a halted processor for engine with the debug information in
// prog. The engine must already hold the program.
func New(engine Engine, prog Program) (*Processor, error) {
	if engine == nil {
		return nil, ErrNotLoaded
	}
	p := &Processor{
		engine:     engine,
		sources:    append([]string(nil), prog.Sources...),
		lineMap:    debugline.NewSourceLineMap(),
		bindings:   append([]debugline.Binding(nil), prog.Bindings...),
		byLine:     make(map[debugline.SourceLine][]debugline.Binding),
		stopReason: StopLaunched,
		log:        logflags.ProcLogger(),
	}
	for _, b := range p.bindings {
		p.byLine[b.Line] = append(p.byLine[b.Line], b)
	}
	for _, a := range prog.Associations {
		p.lineMap.Associate(a.Source.File, a.Source.Line, a.Assembly.File, a.Assembly.Line)
		if !containsString(p.sources, a.Source.File) {
			p.sources = append(p.sources, a.Source.File)
		}
	}
	p.debuggers[AsmMode] = newDebugger(p, AsmMode)
	p.debuggers[HLLMode] = newDebugger(p, HLLMode)
	p.buildTables()
	return p, nil
}

// buildTables rebuilds the address table of both debuggers from the load
// bindings. HLL addresses are owned by the associated HLL line when one is
// known and by the assembly line otherwise.
func (p *Processor) buildTables() {
	size := p.engine.ProgramMemorySize()
	p.debuggers[AsmMode].addrs.Build(size, p.bindings)

	hll := make([]debugline.Binding, len(p.bindings))
	for i, b := range p.bindings {
		hll[i] = b
		if src, ok := p.lineMap.Resolve(b.Line); ok {
			hll[i].Line = src
		}
	}
	p.debuggers[HLLMode].addrs.Build(size, hll)
	p.log.Debugf("built address tables: %d bindings, %d associations", len(p.bindings), p.lineMap.Len())
}

// Engine returns the simulated core.
func (p *Processor) Engine() Engine {
	return p.engine
}

// AssociateLine records that asmFile:asmLine was generated from
// srcFile:srcLine. The addresses of the assembly line are handed over to the
// HLL line in the HLL debugger's table.
func (p *Processor) AssociateLine(srcFile string, srcLine int, asmFile string, asmLine int) {
	p.lineMap.Associate(srcFile, srcLine, asmFile, asmLine)
	asm := debugline.SourceLine{File: asmFile, Line: asmLine}
	src := debugline.SourceLine{File: srcFile, Line: srcLine}
	for _, b := range p.byLine[asm] {
		p.debuggers[HLLMode].addrs.Bind(debugline.Binding{Start: b.Start, End: b.End, Line: src})
	}
	if !containsString(p.sources, srcFile) {
		p.sources = append(p.sources, srcFile)
	}
}

// LineMap returns the assembly to HLL line associations.
func (p *Processor) LineMap() *debugline.SourceLineMap {
	return p.lineMap
}

// SourceFiles returns the source files of the loaded program.
func (p *Processor) SourceFiles() []string {
	return append([]string(nil), p.sources...)
}

// ProgramMemorySize returns the number of program memory words.
func (p *Processor) ProgramMemorySize() int {
	return p.engine.ProgramMemorySize()
}

// InstructionType classifies the instruction at addr.
func (p *Processor) InstructionType(addr int) InstructionType {
	return p.engine.InstructionType(addr)
}

// OperandRegister returns the register operand of the instruction at addr.
func (p *Processor) OperandRegister(addr int) (int, bool) {
	return p.engine.OperandRegister(addr)
}

// OperandLiteral returns the literal operand of the instruction at addr.
func (p *Processor) OperandLiteral(addr int) (int, bool) {
	return p.engine.OperandLiteral(addr)
}

// SetDebugMode selects the debugger returned by CurrentDebugger.
func (p *Processor) SetDebugMode(mode DebugMode) {
	if mode != AsmMode && mode != HLLMode {
		return
	}
	p.mode = mode
}

// DebugMode returns the mode of the current debugger.
func (p *Processor) DebugMode() DebugMode {
	return p.mode
}

// CurrentDebugger returns the debugger of the current debug mode.
func (p *Processor) CurrentDebugger() *Debugger {
	return p.debuggers[p.mode]
}

// Debugger returns the debugger for mode.
func (p *Processor) Debugger(mode DebugMode) *Debugger {
	if mode != AsmMode && mode != HLLMode {
		return nil
	}
	return p.debuggers[mode]
}

// OnRunningStatusChanged registers fn to be called every time the running
// flag flips.
func (p *Processor) OnRunningStatusChanged(fn func(running bool)) {
	p.runningHandlers = append(p.runningHandlers, fn)
}

// IsRunning returns true if ExecuteNext advances the engine.
func (p *Processor) IsRunning() bool {
	return p.running
}

// StopReason returns the reason of the last halt.
func (p *Processor) StopReason() StopReason {
	return p.stopReason
}

// Cycles returns the number of cycles executed since the last reset.
func (p *Processor) Cycles() uint64 {
	return p.cycles
}

// SetRunning starts or stops the simulation. Stopping a running processor
// is reported as a manual stop.
func (p *Processor) SetRunning(running bool) {
	if running {
		p.resume()
		return
	}
	p.halt(StopManual)
}

func (p *Processor) resume() {
	if p.running {
		return
	}
	for _, d := range p.debuggers {
		d.resume()
	}
	p.running = true
	p.log.Debugf("running from %#x", p.engine.PC())
	p.notifyRunning()
}

// halt stops the processor, returns every debugger to idle and reports the
// line the program counter is on.
func (p *Processor) halt(reason StopReason) {
	if !p.running {
		return
	}
	atomic.StoreInt32(&p.manualStop, 0)
	p.running = false
	p.stopReason = reason
	for _, d := range p.debuggers {
		d.reset()
	}
	p.log.Debugf("halted at %#x: %s", p.engine.PC(), reason)
	p.notifyRunning()
	for _, d := range p.debuggers {
		d.emitCurrentLine()
	}
}

func (p *Processor) notifyRunning() {
	for _, fn := range p.runningHandlers {
		fn(p.running)
	}
}

// ExecuteNext simulates one cycle. It does nothing unless the processor is
// running. The second cycle of a two cycle instruction is consumed without
// executing or checking anything.
func (p *Processor) ExecuteNext() {
	if !p.running {
		return
	}
	p.cycles++
	if p.skipNextCycle {
		p.skipNextCycle = false
		return
	}
	p.engine.Step()
	p.skipNextCycle = p.engine.MultiCycleTail()

	addr, depth := p.engine.PC(), p.engine.StackDepth()
	reason := StopUnknown
	for _, d := range p.debuggers {
		if r := d.checkForBreak(addr, depth); r != StopUnknown && reason == StopUnknown {
			reason = r
		}
	}
	if reason != StopUnknown {
		p.halt(reason)
	}
}

// stepInstruction executes one whole instruction, tail cycle included,
// regardless of the running flag.
func (p *Processor) stepInstruction() {
	if p.skipNextCycle {
		p.skipNextCycle = false
		p.cycles++
	}
	p.engine.Step()
	p.cycles++
	if p.engine.MultiCycleTail() {
		p.cycles++
	}
}

// RequestManualStop asks the Run loop in progress to halt. A request made
// while the processor is halted stays pending: the next Run halts before
// executing anything. Any halt or reset clears it. It may be called from
// any goroutine.
func (p *Processor) RequestManualStop() {
	atomic.StoreInt32(&p.manualStop, 1)
}

// runCheckInterval is the number of cycles Run executes between two checks
// of its context.
const runCheckInterval = 256

// Run calls ExecuteNext until the processor halts, maxCycles cycles have
// been simulated or ctx is done. A maxCycles of zero or less means no limit.
// It returns the number of cycles simulated.
func (p *Processor) Run(ctx context.Context, maxCycles int) (int, error) {
	n := 0
	for p.running {
		if maxCycles > 0 && n >= maxCycles {
			break
		}
		if atomic.LoadInt32(&p.manualStop) != 0 {
			p.halt(StopManual)
			break
		}
		if n%runCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		p.ExecuteNext()
		n++
	}
	return n, nil
}

// Reset resets the engine and halts the processor. Breakpoints are kept.
func (p *Processor) Reset() {
	p.engine.Reset()
	p.skipNextCycle = false
	p.cycles = 0
	atomic.StoreInt32(&p.manualStop, 0)
	for _, d := range p.debuggers {
		d.previousLineEmitted = nil
		if n := d.addrs.Reclaim(); n > 0 {
			d.log.Debugf("reclaimed %d deleted lines", n)
		}
	}
	if p.running {
		p.halt(StopReset)
		return
	}
	p.stopReason = StopReset
	for _, d := range p.debuggers {
		d.reset()
		d.emitCurrentLine()
	}
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
