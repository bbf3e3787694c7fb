package proc_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/picdbg/picdbg/pkg/debugline"
	"github.com/picdbg/picdbg/pkg/proc"
)

// fakeState is the engine state after a number of steps.
type fakeState struct {
	pc, depth int
	twoCycles bool
}

// fakeEngine replays a fixed trace: state i is the state after i steps.
// Once the trace is exhausted the last state repeats.
type fakeEngine struct {
	size  int
	trace []fakeState
	i     int
	steps int
}

func linearTrace(n int) []fakeState {
	tr := make([]fakeState, n)
	for i := range tr {
		tr[i].pc = i
	}
	return tr
}

func (e *fakeEngine) cur() fakeState {
	if e.i >= len(e.trace) {
		return e.trace[len(e.trace)-1]
	}
	return e.trace[e.i]
}

func (e *fakeEngine) ProgramMemorySize() int { return e.size }
func (e *fakeEngine) PC() int                { return e.cur().pc }
func (e *fakeEngine) StackDepth() int        { return e.cur().depth }
func (e *fakeEngine) MultiCycleTail() bool {
	return e.i > 0 && e.i <= len(e.trace) && e.trace[e.i-1].twoCycles
}
func (e *fakeEngine) Step()  { e.i++; e.steps++ }
func (e *fakeEngine) Reset() { e.i = 0 }

func (e *fakeEngine) InstructionType(addr int) proc.InstructionType { return proc.UnknownOp }
func (e *fakeEngine) OperandRegister(addr int) (int, bool)          { return 0, false }
func (e *fakeEngine) OperandLiteral(addr int) (int, bool)           { return 0, false }

type recorder struct {
	lines   []debugline.SourceLine
	running []bool
}

func newProcessor(t *testing.T, e *fakeEngine, prog proc.Program) (*proc.Processor, *recorder) {
	t.Helper()
	p, err := proc.New(e, prog)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	p.Debugger(proc.AsmMode).OnLineReached(func(sl debugline.SourceLine) {
		rec.lines = append(rec.lines, sl)
	})
	p.OnRunningStatusChanged(func(running bool) {
		rec.running = append(rec.running, running)
	})
	return p, rec
}

func runUntilHalt(t *testing.T, p *proc.Processor, max int) {
	t.Helper()
	n, err := p.Run(context.Background(), max)
	if err != nil {
		t.Fatal(err)
	}
	if p.IsRunning() {
		t.Fatalf("processor still running after %d cycles", n)
	}
}

func TestNewWithoutEngine(t *testing.T) {
	if _, err := proc.New(nil, proc.Program{}); err != proc.ErrNotLoaded {
		t.Fatalf("expected ErrNotLoaded; got %v", err)
	}
}

func TestBreakpointHalt(t *testing.T) {
	l1 := debugline.SourceLine{File: "main.asm", Line: 1}
	e := &fakeEngine{size: 100, trace: linearTrace(100)}
	p, rec := newProcessor(t, e, proc.Program{
		Bindings: []debugline.Binding{{Start: 10, End: 15, Line: l1}},
	})
	p.CurrentDebugger().SetBreakpoint("main.asm", 1, true)

	p.SetRunning(true)
	runUntilHalt(t, p, 1000)

	if e.PC() != 10 {
		t.Fatalf("expected halt at 10; got %d", e.PC())
	}
	if !reflect.DeepEqual(rec.lines, []debugline.SourceLine{l1}) {
		t.Fatalf("expected one lineReached(%s); got %v", l1, rec.lines)
	}
	if !reflect.DeepEqual(rec.running, []bool{true, false}) {
		t.Fatalf("unexpected running notifications %v", rec.running)
	}
	if p.StopReason() != proc.StopBreakpoint {
		t.Fatalf("expected breakpoint stop; got %s", p.StopReason())
	}
	if st := p.CurrentDebugger().State(); st.Mode != proc.Idle {
		t.Fatalf("expected idle debugger; got %s", st.Mode)
	}
}

func TestContinueFromBreakpointLine(t *testing.T) {
	l1 := debugline.SourceLine{File: "main.asm", Line: 1}
	l2 := debugline.SourceLine{File: "main.asm", Line: 2}
	// 10 11 12 20 10 11 ...
	trace := []fakeState{{pc: 0}, {pc: 10}, {pc: 11}, {pc: 12}, {pc: 20}, {pc: 10}, {pc: 11}}
	e := &fakeEngine{size: 32, trace: trace}
	p, _ := newProcessor(t, e, proc.Program{
		Bindings: []debugline.Binding{{Start: 10, End: 13, Line: l1}, {Start: 20, End: 21, Line: l2}},
	})
	p.CurrentDebugger().SetBreakpoint("main.asm", 1, true)

	p.SetRunning(true)
	runUntilHalt(t, p, 100)
	if e.i != 1 {
		t.Fatalf("expected first halt after one step; got %d", e.i)
	}

	p.SetRunning(true)
	runUntilHalt(t, p, 100)
	if e.i != 5 {
		t.Fatalf("expected second halt when the loop comes back to line 1; got step %d", e.i)
	}
}

func TestMultiCycleTailSkipped(t *testing.T) {
	l1 := debugline.SourceLine{File: "main.asm", Line: 1}
	l2 := debugline.SourceLine{File: "main.asm", Line: 2}
	trace := []fakeState{{pc: 0, twoCycles: false}, {pc: 1, twoCycles: true}, {pc: 5}, {pc: 6}}
	e := &fakeEngine{size: 8, trace: trace}
	p, rec := newProcessor(t, e, proc.Program{
		Bindings: []debugline.Binding{{Start: 0, End: 2, Line: l1}, {Start: 5, End: 7, Line: l2}},
	})
	p.CurrentDebugger().SetBreakpoint("main.asm", 2, true)

	p.SetRunning(true)
	p.ExecuteNext() // 0 -> 1
	p.ExecuteNext() // 1 -> 5, two cycles: halts on the breakpoint
	if p.IsRunning() {
		t.Fatalf("expected halt at 5")
	}
	cycles := p.Cycles()

	p.SetRunning(true)
	p.ExecuteNext() // tail of the two cycle instruction
	if e.steps != 2 {
		t.Fatalf("expected the tail cycle not to step the engine; got %d steps", e.steps)
	}
	if p.Cycles() != cycles+1 {
		t.Fatalf("expected the tail cycle to be counted")
	}
	p.ExecuteNext()
	if e.steps != 3 || e.PC() != 6 {
		t.Fatalf("expected a new instruction after the tail; got %d steps at %d", e.steps, e.PC())
	}
	if !reflect.DeepEqual(rec.lines, []debugline.SourceLine{l1, l2}) {
		t.Fatalf("expected each line reported once; got %v", rec.lines)
	}
}

// callTrace starts on line 1 at depth 1, calls into line 3 (depth 2) and
// returns to line 2 at depth 1, then returns to line 4 at depth 0.
func callTrace() ([]fakeState, []debugline.Binding) {
	asm := func(n int) debugline.SourceLine { return debugline.SourceLine{File: "f.asm", Line: n} }
	trace := []fakeState{
		{pc: 0, depth: 1},
		{pc: 10, depth: 2},
		{pc: 11, depth: 2},
		{pc: 1, depth: 1},
		{pc: 2, depth: 1},
		{pc: 20, depth: 0},
		{pc: 21, depth: 0},
	}
	bindings := []debugline.Binding{
		{Start: 0, End: 1, Line: asm(1)},
		{Start: 1, End: 3, Line: asm(2)},
		{Start: 10, End: 12, Line: asm(3)},
		{Start: 20, End: 22, Line: asm(4)},
	}
	return trace, bindings
}

func TestStepOverAndStepOutBoundary(t *testing.T) {
	for _, tc := range []struct {
		name     string
		step     func(*proc.Debugger)
		wantPC   int
		wantLine int
	}{
		{"stepover", (*proc.Debugger).StepOver, 1, 2},
		{"stepout", (*proc.Debugger).StepOut, 20, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			trace, bindings := callTrace()
			e := &fakeEngine{size: 32, trace: trace}
			p, _ := newProcessor(t, e, proc.Program{Bindings: bindings})
			d := p.CurrentDebugger()

			tc.step(d)
			if !p.IsRunning() {
				t.Fatalf("expected processor to run")
			}
			runUntilHalt(t, p, 100)
			if e.PC() != tc.wantPC {
				t.Fatalf("expected halt at %d; got %d", tc.wantPC, e.PC())
			}
			if sl, ok := d.CurrentLine(); !ok || sl.Line != tc.wantLine {
				t.Fatalf("expected line %d; got %v", tc.wantLine, sl)
			}
			if p.StopReason() != proc.StopStepFinished {
				t.Fatalf("expected step finished; got %s", p.StopReason())
			}
		})
	}
}

func TestStepOutAtOutermostLevelContinues(t *testing.T) {
	e := &fakeEngine{size: 8, trace: linearTrace(8)}
	p, _ := newProcessor(t, e, proc.Program{
		Bindings: []debugline.Binding{
			{Start: 0, End: 1, Line: debugline.SourceLine{File: "a.asm", Line: 1}},
			{Start: 1, End: 8, Line: debugline.SourceLine{File: "a.asm", Line: 2}},
		},
	})
	p.CurrentDebugger().StepOut()
	n, err := p.Run(context.Background(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if n != 50 || !p.IsRunning() {
		t.Fatalf("expected stepout at depth 0 to keep running; ran %d cycles", n)
	}
}

func TestStepOverWhileRunningIsNoop(t *testing.T) {
	trace, bindings := callTrace()
	e := &fakeEngine{size: 32, trace: trace}
	p, rec := newProcessor(t, e, proc.Program{Bindings: bindings})
	d := p.CurrentDebugger()

	p.SetRunning(true)
	before := d.State()
	d.StepOver()
	d.StepOut()
	if d.State() != before {
		t.Fatalf("expected state %v; got %v", before, d.State())
	}
	if !p.IsRunning() || len(rec.running) != 1 {
		t.Fatalf("expected running status unchanged; got %v", rec.running)
	}
}

func TestStepInto(t *testing.T) {
	trace, bindings := callTrace()
	e := &fakeEngine{size: 32, trace: trace}
	p, rec := newProcessor(t, e, proc.Program{Bindings: bindings})
	d := p.CurrentDebugger()

	d.StepInto()
	if e.PC() != 10 || p.IsRunning() {
		t.Fatalf("expected one instruction executed; pc %d running %v", e.PC(), p.IsRunning())
	}
	d.StepInto()
	if e.PC() != 11 {
		t.Fatalf("expected pc 11; got %d", e.PC())
	}
	if len(rec.lines) != 1 || rec.lines[0].Line != 3 {
		t.Fatalf("expected a single lineReached for line 3; got %v", rec.lines)
	}
	if d.State().Mode != proc.Idle || p.StopReason() != proc.StopStepFinished {
		t.Fatalf("unexpected state after step: %v %s", d.State(), p.StopReason())
	}
	if len(rec.running) != 0 {
		t.Fatalf("expected no running notifications; got %v", rec.running)
	}
}

func TestHLLDebugger(t *testing.T) {
	asm := func(n int) debugline.SourceLine { return debugline.SourceLine{File: "main.asm", Line: n} }
	e := &fakeEngine{size: 16, trace: linearTrace(16)}
	p, err := proc.New(e, proc.Program{
		Bindings: []debugline.Binding{
			{Start: 0, End: 2, Line: asm(5)},
			{Start: 2, End: 4, Line: asm(6)},
			{Start: 4, End: 6, Line: asm(7)},
		},
		Associations: []debugline.Association{
			{Source: debugline.SourceLine{File: "main.c", Line: 10}, Assembly: asm(5)},
			{Source: debugline.SourceLine{File: "main.c", Line: 10}, Assembly: asm(6)},
		},
		Sources: []string{"main.asm"},
	})
	if err != nil {
		t.Fatal(err)
	}
	hll := p.Debugger(proc.HLLMode)
	if sl, _ := hll.LineAt(3); sl.File != "main.c" || sl.Line != 10 {
		t.Fatalf("expected main.c:10 at 3; got %v", sl)
	}
	if sl, _ := hll.LineAt(4); sl != asm(7) {
		t.Fatalf("expected unassociated address to report the assembly line; got %v", sl)
	}

	p.AssociateLine("main.c", 11, "main.asm", 7)
	if sl, _ := hll.LineAt(5); sl.File != "main.c" || sl.Line != 11 {
		t.Fatalf("expected late association to patch the table; got %v", sl)
	}
	if hll.SetBreakpoint("main.asm", 7, true) {
		t.Fatalf("expected breakpoint on a replaced line to be ignored")
	}
	if !reflect.DeepEqual(p.SourceFiles(), []string{"main.asm", "main.c"}) {
		t.Fatalf("unexpected source files %v", p.SourceFiles())
	}

	// breakpoints are independent per debugger
	hll.SetBreakpoint("main.c", 11, true)
	p.SetDebugMode(proc.HLLMode)
	if p.CurrentDebugger() != hll {
		t.Fatalf("expected HLL debugger to be current")
	}
	if len(p.Debugger(proc.AsmMode).Breakpoints("")) != 0 {
		t.Fatalf("expected no assembly breakpoints")
	}
	p.SetRunning(true)
	runUntilHalt(t, p, 100)
	if e.PC() != 4 {
		t.Fatalf("expected halt at 4; got %d", e.PC())
	}
	if sl, _ := p.Debugger(proc.AsmMode).CurrentLine(); sl != asm(7) {
		t.Fatalf("expected assembly debugger to follow; got %v", sl)
	}

	// the replaced assembly line stays tombstoned until the next reset
	if n := hll.AddressMap().Tombstones(); n != 1 {
		t.Fatalf("expected one tombstone; got %d", n)
	}
	p.Reset()
	if n := hll.AddressMap().Tombstones(); n != 0 {
		t.Fatalf("expected tombstones reclaimed by reset; got %d", n)
	}
	if bps := hll.Breakpoints("main.c"); !reflect.DeepEqual(bps, []debugline.SourceLine{{File: "main.c", Line: 11}}) {
		t.Fatalf("expected reset to keep breakpoints; got %v", bps)
	}
}

func TestManualStopAndReset(t *testing.T) {
	e := &fakeEngine{size: 8, trace: linearTrace(8)}
	p, rec := newProcessor(t, e, proc.Program{})
	p.SetRunning(true)
	p.RequestManualStop()
	n, err := p.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || p.IsRunning() || p.StopReason() != proc.StopManual {
		t.Fatalf("expected manual stop before any cycle; ran %d, reason %s", n, p.StopReason())
	}

	p.SetRunning(true)
	p.ExecuteNext()
	p.ExecuteNext()
	p.Reset()
	if e.PC() != 0 || p.Cycles() != 0 || p.IsRunning() {
		t.Fatalf("expected reset processor; pc %d cycles %d", e.PC(), p.Cycles())
	}
	if p.StopReason() != proc.StopReset {
		t.Fatalf("expected reset stop reason; got %s", p.StopReason())
	}
	if !reflect.DeepEqual(rec.running, []bool{true, false, true, false}) {
		t.Fatalf("unexpected running notifications %v", rec.running)
	}
}

func TestManualStopBeforeRun(t *testing.T) {
	e := &fakeEngine{size: 8, trace: linearTrace(8)}
	p, _ := newProcessor(t, e, proc.Program{})

	// requested while halted, consumed by the next run
	p.RequestManualStop()
	p.SetRunning(true)
	n, err := p.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || p.IsRunning() || p.StopReason() != proc.StopManual {
		t.Fatalf("expected pending stop to halt the run; ran %d, reason %s", n, p.StopReason())
	}

	p.SetRunning(true)
	if n, _ := p.Run(context.Background(), 5); n != 5 || !p.IsRunning() {
		t.Fatalf("expected the stop request to be consumed; ran %d", n)
	}
	p.SetRunning(false)

	// a reset drops a pending request
	p.RequestManualStop()
	p.Reset()
	p.SetRunning(true)
	if n, _ := p.Run(context.Background(), 3); n != 3 {
		t.Fatalf("expected reset to clear the stop request; ran %d", n)
	}
}

func TestRunCanceled(t *testing.T) {
	e := &fakeEngine{size: 8, trace: linearTrace(8)}
	p, _ := newProcessor(t, e, proc.Program{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.SetRunning(true)
	if _, err := p.Run(ctx, 0); err != context.Canceled {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
	if !p.IsRunning() {
		t.Fatalf("expected cancellation to leave the processor running")
	}
}

func TestParseDebugMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want proc.DebugMode
		err  bool
	}{
		{"asm", proc.AsmMode, false},
		{"hll", proc.HLLMode, false},
		{"source", proc.HLLMode, false},
		{"c", proc.AsmMode, true},
	} {
		got, err := proc.ParseDebugMode(tc.in)
		if (err != nil) != tc.err || got != tc.want {
			t.Errorf("ParseDebugMode(%q) = %v, %v", tc.in, got, err)
		}
	}
}
