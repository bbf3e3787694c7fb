package debugger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/picdbg/picdbg/pkg/config"
	"github.com/picdbg/picdbg/pkg/debugline"
	"github.com/picdbg/picdbg/pkg/logflags"
	"github.com/picdbg/picdbg/pkg/proc"
	"github.com/picdbg/picdbg/pkg/regs"
	"github.com/picdbg/picdbg/pkg/sim"
	"github.com/picdbg/picdbg/pkg/symfile"
	"github.com/picdbg/picdbg/service/api"
)

// Debugger service.
//
// Debugger provides a higher level of abstraction over proc.Processor. It
// owns the simulated core, serializes every access to it and converts
// internal types to the types expected by clients.
type Debugger struct {
	config *Config

	// processMutex protects every field below it. Run loops release it
	// between batches of cycles.
	processMutex sync.Mutex
	file         *symfile.File
	core         *sim.Core
	proc         *proc.Processor
	regs         *regs.RegisterSet

	breakpoints      map[breakpointKey]*api.Breakpoint
	lastBreakpointID int

	log logflags.Logger

	running      bool
	runningMutex sync.Mutex
}

type breakpointKey struct {
	mode proc.DebugMode
	line debugline.SourceLine
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// SymbolFile is the program to load.
	SymbolFile string

	// DebugMode is the debug mode the session starts in, "asm" or "hll".
	// Empty means asm.
	DebugMode string

	// MaxCyclesPerBatch is the number of cycles simulated while the
	// processor lock is held. Zero selects config.DefaultMaxCyclesPerBatch.
	MaxCyclesPerBatch int

	// LineReached, if set, is called with every new line reached in the
	// current debug mode. It is called with the processor lock held.
	LineReached func(api.Location)
}

// New loads config.SymbolFile and returns a Debugger halted at the reset
// vector. Load failures are returned as *symfile.LoadError.
func New(config *Config) (*Debugger, error) {
	d := &Debugger{
		config:      config,
		breakpoints: make(map[breakpointKey]*api.Breakpoint),
		log:         logflags.DebuggerLogger(),
	}

	mode := proc.AsmMode
	if config.DebugMode != "" {
		var err error
		mode, err = proc.ParseDebugMode(config.DebugMode)
		if err != nil {
			return nil, err
		}
	}

	d.log.Infof("loading %s", config.SymbolFile)
	f, err := symfile.Load(config.SymbolFile)
	if err != nil {
		return nil, err
	}
	core, err := sim.New(f.ProgramMemorySize, f.Code)
	if err != nil {
		return nil, fmt.Errorf("could not load program: %v", err)
	}
	p, err := proc.New(core, f.Program)
	if err != nil {
		return nil, err
	}
	p.SetDebugMode(mode)
	p.OnRunningStatusChanged(d.setRunning)
	for _, m := range []proc.DebugMode{proc.AsmMode, proc.HLLMode} {
		m := m
		p.Debugger(m).OnLineReached(func(sl debugline.SourceLine) {
			if d.config.LineReached != nil && d.proc.DebugMode() == m {
				d.config.LineReached(*api.ConvertLocation(d.core.PC(), sl))
			}
		})
	}

	d.file, d.core, d.proc = f, core, p
	d.regs = regs.NewRegisterSet(core)
	return d, nil
}

// ProgramInfo describes the loaded program.
func (d *Debugger) ProgramInfo() api.ProgramInfo {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return api.ProgramInfo{
		Path:              d.file.Path,
		Processor:         d.file.Processor,
		ProgramMemorySize: d.proc.ProgramMemorySize(),
		Words:             len(d.file.Code),
		Sources:           d.proc.SourceFiles(),
	}
}

// Detach stops any run loop in progress.
func (d *Debugger) Detach() error {
	d.proc.RequestManualStop()
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	d.proc.SetRunning(false)
	return nil
}

func (d *Debugger) setRunning(running bool) {
	d.runningMutex.Lock()
	d.running = running
	d.runningMutex.Unlock()
}

// IsRunning returns true if the processor is simulating.
func (d *Debugger) IsRunning() bool {
	d.runningMutex.Lock()
	defer d.runningMutex.Unlock()
	return d.running
}

// State returns the current state of the debugger. If nowait is true and
// the processor is running a minimal state is returned without waiting
// for the processor lock.
func (d *Debugger) State(nowait bool) (*api.DebuggerState, error) {
	if d.IsRunning() && nowait {
		return &api.DebuggerState{Running: true}, nil
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.state(), nil
}

func (d *Debugger) state() *api.DebuggerState {
	p := d.proc
	state := &api.DebuggerState{
		Running:    p.IsRunning(),
		Sleeping:   d.core.Sleeping(),
		Mode:       p.DebugMode().String(),
		StopReason: p.StopReason().String(),
		PC:         d.core.PC(),
		StackDepth: d.core.StackDepth(),
		Cycles:     p.Cycles(),
		W:          d.core.W(),
	}
	if sl, ok := p.CurrentDebugger().CurrentLine(); ok {
		state.CurrentLine = api.ConvertLocation(state.PC, sl)
	}
	if !state.Running {
		if p.StopReason() == proc.StopBreakpoint {
			state.Breakpoint = d.breakpointAt(state.PC)
		}
		state.ChangedRegisters = d.regs.Update()
	}
	state.Watched = api.ConvertRegisters(d.regs.Watched())
	return state
}

// breakpointAt returns the breakpoint on the line owning pc, looking at
// the current debugger first.
func (d *Debugger) breakpointAt(pc int) *api.Breakpoint {
	modes := []proc.DebugMode{d.proc.DebugMode(), proc.AsmMode, proc.HLLMode}
	for _, mode := range modes {
		dl := d.proc.Debugger(mode).AddressMap().LineAt(pc)
		if dl == nil || !dl.IsBreakpoint() {
			continue
		}
		if bp, ok := d.breakpoints[breakpointKey{mode, dl.SourceLine}]; ok {
			return copyBreakpoint(bp)
		}
	}
	return nil
}

// Command handles commands which control the debugger lifecycle. Continue,
// Next and StepOut return when the processor halts or ctx is done.
func (d *Debugger) Command(ctx context.Context, command *api.DebuggerCommand) (*api.DebuggerState, error) {
	if command.Name == api.Halt {
		// RequestManualStop only sets a flag, it does not need the lock held
		// by a run loop in progress.
		d.log.Debug("halting")
		d.proc.RequestManualStop()
	}

	d.processMutex.Lock()
	switch command.Name {
	case api.Continue, api.Next, api.StepOut, api.Step, api.StepInstruction:
		if d.proc.IsRunning() {
			d.processMutex.Unlock()
			return nil, api.ErrProcessorRunning
		}
	}

	run := false
	switch command.Name {
	case api.Continue:
		d.log.Debug("continuing")
		d.proc.SetRunning(true)
		run = true
	case api.Next:
		d.log.Debug("nexting")
		d.proc.CurrentDebugger().StepOver()
		run = true
	case api.StepOut:
		d.log.Debug("step out")
		d.proc.CurrentDebugger().StepOut()
		run = true
	case api.Step:
		d.log.Debug("stepping")
		d.proc.CurrentDebugger().StepInto()
	case api.StepInstruction:
		d.log.Debug("single stepping")
		d.proc.Debugger(proc.AsmMode).StepInto()
	case api.Halt:
		// Halts the processor if no run loop holds it.
		d.proc.SetRunning(false)
	case api.Reset:
		d.log.Debug("resetting")
		d.proc.Reset()
	default:
		d.processMutex.Unlock()
		return nil, fmt.Errorf("unknown command %q", command.Name)
	}
	d.processMutex.Unlock()

	var err error
	if run {
		err = d.run(ctx)
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.state(), err
}

// run simulates batches of cycles until the processor halts. A core that
// went to sleep can not wake up and is halted.
func (d *Debugger) run(ctx context.Context) error {
	batch := d.config.MaxCyclesPerBatch
	if batch <= 0 {
		batch = config.DefaultMaxCyclesPerBatch
	}
	for {
		d.processMutex.Lock()
		if !d.proc.IsRunning() {
			d.processMutex.Unlock()
			return nil
		}
		_, err := d.proc.Run(ctx, batch)
		switch {
		case err != nil:
			d.log.Debugf("run interrupted: %v", err)
			d.proc.SetRunning(false)
		case d.proc.IsRunning() && d.core.Sleeping():
			d.log.Debug("core is sleeping, halting")
			d.proc.SetRunning(false)
		}
		d.processMutex.Unlock()
		if err != nil {
			return err
		}
	}
}

// SetDebugMode selects the kind of lines reported, "asm" or "hll". It may
// be called while the processor is running.
func (d *Debugger) SetDebugMode(mode string) error {
	m, err := proc.ParseDebugMode(mode)
	if err != nil {
		return err
	}
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	d.proc.SetDebugMode(m)
	return nil
}

func (d *Debugger) debuggerFor(mode string) (*proc.Debugger, error) {
	if mode == "" {
		return d.proc.CurrentDebugger(), nil
	}
	m, err := proc.ParseDebugMode(mode)
	if err != nil {
		return nil, err
	}
	return d.proc.Debugger(m), nil
}

// CreateBreakpoint sets a breakpoint on requestedBp.File:requestedBp.Line.
func (d *Debugger) CreateBreakpoint(requestedBp *api.Breakpoint) (*api.Breakpoint, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	dbg, err := d.debuggerFor(requestedBp.Mode)
	if err != nil {
		return nil, err
	}
	file, err := d.findFile(requestedBp.File)
	if err != nil {
		return nil, err
	}
	key := breakpointKey{dbg.Mode(), debugline.SourceLine{File: file, Line: requestedBp.Line}}
	if bp, exists := d.breakpoints[key]; exists {
		return nil, fmt.Errorf("Breakpoint exists at %s:%d at %#x", bp.File, bp.Line, bp.Addr)
	}
	addr, ok := dbg.ProgramAddress(file, requestedBp.Line)
	if !ok || !dbg.SetBreakpoint(file, requestedBp.Line, true) {
		return nil, &ErrCouldNotFindLine{File: file, Line: requestedBp.Line}
	}
	bp := d.newBreakpoint(key, addr)
	d.log.Infof("created breakpoint: %#v", bp)
	return copyBreakpoint(bp), nil
}

func (d *Debugger) newBreakpoint(key breakpointKey, addr int) *api.Breakpoint {
	d.lastBreakpointID++
	bp := &api.Breakpoint{
		ID:       d.lastBreakpointID,
		File:     key.line.File,
		Line:     key.line.Line,
		Addr:     addr,
		Mode:     key.mode.String(),
		Verified: true,
	}
	d.breakpoints[key] = bp
	return bp
}

func copyBreakpoint(bp *api.Breakpoint) *api.Breakpoint {
	r := *bp
	return &r
}

// ClearBreakpoint clears the breakpoint with the ID of requestedBp or, if
// the ID is zero, the one on requestedBp.File:requestedBp.Line.
func (d *Debugger) ClearBreakpoint(requestedBp *api.Breakpoint) (*api.Breakpoint, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	for key, bp := range d.breakpoints {
		match := bp.ID == requestedBp.ID
		if requestedBp.ID == 0 {
			match = partialPathMatch(requestedBp.File, bp.File) && bp.Line == requestedBp.Line &&
				(requestedBp.Mode == "" || requestedBp.Mode == bp.Mode)
		}
		if !match {
			continue
		}
		d.proc.Debugger(key.mode).SetBreakpoint(key.line.File, key.line.Line, false)
		delete(d.breakpoints, key)
		d.log.Infof("cleared breakpoint: %#v", bp)
		return bp, nil
	}
	if requestedBp.ID != 0 {
		return nil, fmt.Errorf("no breakpoint with id %d", requestedBp.ID)
	}
	return nil, fmt.Errorf("no breakpoint at %s:%d", requestedBp.File, requestedBp.Line)
}

// ClearAllBreakpoints clears every breakpoint and returns them.
func (d *Debugger) ClearAllBreakpoints() []*api.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	r := d.sortedBreakpoints()
	for key := range d.breakpoints {
		d.proc.Debugger(key.mode).SetBreakpoint(key.line.File, key.line.Line, false)
		delete(d.breakpoints, key)
	}
	return r
}

// SetBreakpoints replaces the breakpoints of file in mode with exactly
// lines. Breakpoints of other files are unaffected. One breakpoint is
// returned per line, unverified if the line has no program address.
func (d *Debugger) SetBreakpoints(mode, file string, lines []int) ([]*api.Breakpoint, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	dbg, err := d.debuggerFor(mode)
	if err != nil {
		return nil, err
	}
	if f, err := d.findFile(file); err == nil {
		file = f
	}
	dbg.SetBreakpoints(file, lines)

	requested := make(map[int]bool, len(lines))
	for _, l := range lines {
		requested[l] = true
	}
	for key := range d.breakpoints {
		if key.mode == dbg.Mode() && key.line.File == file && !requested[key.line.Line] {
			delete(d.breakpoints, key)
		}
	}

	r := make([]*api.Breakpoint, len(lines))
	for i, l := range lines {
		key := breakpointKey{dbg.Mode(), debugline.SourceLine{File: file, Line: l}}
		addr, ok := dbg.ProgramAddress(file, l)
		if !ok {
			r[i] = &api.Breakpoint{File: file, Line: l, Mode: dbg.Mode().String()}
			continue
		}
		bp, exists := d.breakpoints[key]
		if !exists {
			bp = d.newBreakpoint(key, addr)
		}
		r[i] = copyBreakpoint(bp)
	}
	return r, nil
}

// Breakpoints returns every breakpoint, ordered by ID.
func (d *Debugger) Breakpoints() []*api.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.sortedBreakpoints()
}

func (d *Debugger) sortedBreakpoints() []*api.Breakpoint {
	r := make([]*api.Breakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		r = append(r, copyBreakpoint(bp))
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// FindBreakpoint returns the breakpoint with the given ID.
func (d *Debugger) FindBreakpoint(id int) *api.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	for _, bp := range d.breakpoints {
		if bp.ID == id {
			return copyBreakpoint(bp)
		}
	}
	return nil
}

// FindLocation resolves locStr in the current debug mode.
func (d *Debugger) FindLocation(locStr string) ([]api.Location, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	loc, err := parseLocationSpec(locStr)
	if err != nil {
		return nil, err
	}
	return loc.Find(d, d.proc.CurrentDebugger(), locStr)
}

// CorrespondingLine returns the HLL line generated file:line was assembled
// from, or the assembly line generated from the HLL line file:line.
func (d *Debugger) CorrespondingLine(file string, line int) (api.Location, bool) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	sl := debugline.SourceLine{File: file, Line: line}
	lm := d.proc.LineMap()
	other, ok := lm.Resolve(sl)
	if !ok {
		other, ok = lm.ResolveReverse(sl)
	}
	if !ok {
		return api.Location{}, false
	}
	addr, _ := d.proc.Debugger(proc.AsmMode).ProgramAddress(other.File, other.Line)
	return api.Location{PC: addr, File: other.File, Line: other.Line}, true
}

// Sources returns a list of the source files for target binary.
func (d *Debugger) Sources(filter string) ([]string, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	regex, err := regexp.Compile(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter argument: %s", err.Error())
	}

	files := []string{}
	for _, f := range d.proc.SourceFiles() {
		if regex.MatchString(f) {
			files = append(files, f)
		}
	}
	return files, nil
}

// Registers returns the working register and the implemented file
// registers.
func (d *Debugger) Registers() []api.Register {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return api.ConvertRegisters(d.regs.All())
}

// Register returns the register called name.
func (d *Debugger) Register(name string) (api.Register, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	r := d.regs.FromName(name)
	if r == nil {
		return api.Register{}, fmt.Errorf("unknown register %q", name)
	}
	return api.ConvertRegister(r), nil
}

// SetRegisterWatch adds or removes name from the registers reported in
// every state.
func (d *Debugger) SetRegisterWatch(name string, on bool) (api.Register, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	r := d.regs.FromName(name)
	if r == nil {
		return api.Register{}, fmt.Errorf("unknown register %q", name)
	}
	r.SetWatch(on)
	return api.ConvertRegister(r), nil
}

// ErrAddressRange is returned by Disassemble for an empty or out of range
// interval.
var ErrAddressRange = errors.New("address range outside of program memory")

// Disassemble returns the instructions in [startPC, endPC).
func (d *Debugger) Disassemble(startPC, endPC int) (api.AsmInstructions, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	size := d.proc.ProgramMemorySize()
	if startPC < 0 {
		startPC = 0
	}
	if endPC > size {
		endPC = size
	}
	if startPC >= endPC {
		return nil, ErrAddressRange
	}

	dbg := d.proc.CurrentDebugger()
	pc := d.core.PC()
	r := make(api.AsmInstructions, 0, endPC-startPC)
	for addr := startPC; addr < endPC; addr++ {
		inst := api.AsmInstruction{
			Loc:     api.Location{PC: addr},
			Word:    d.core.Word(addr),
			Text:    d.core.Disassemble(addr),
			Type:    d.proc.InstructionType(addr).String(),
			Operand: d.operand(addr),
			AtPC:    addr == pc,
		}
		if dl := dbg.AddressMap().LineAt(addr); dl != nil {
			inst.Loc.File, inst.Loc.Line = dl.File, dl.Line
			inst.Breakpoint = dl.IsBreakpoint()
		}
		r = append(r, inst)
	}
	return r, nil
}

func (d *Debugger) operand(addr int) string {
	if f, ok := d.proc.OperandRegister(addr); ok {
		if r := d.regs.FromAddress(f); r != nil {
			return fmt.Sprintf("%s = %#02x", r.Name(), r.Value())
		}
	}
	if k, ok := d.proc.OperandLiteral(addr); ok {
		return fmt.Sprintf("literal %d", k)
	}
	return ""
}
