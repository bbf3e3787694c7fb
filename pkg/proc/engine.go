package proc

import "fmt"

// Engine is the instruction-set simulator driven by a Processor. It owns
// the program memory, the register file and the cycle clock; the debugger
// only observes it between instructions.
type Engine interface {
	// ProgramMemorySize returns the number of program memory words.
	ProgramMemorySize() int
	// PC returns the address of the next instruction to execute.
	PC() int
	// StackDepth returns the number of return addresses on the hardware
	// stack.
	StackDepth() int
	// MultiCycleTail returns true if the instruction executed by the last
	// call to Step occupies one more cycle, which the caller must let pass
	// without fetching a new instruction.
	MultiCycleTail() bool
	// Step executes the instruction at PC.
	Step()
	// Reset puts the engine in its power-on state.
	Reset()

	InstructionType(addr int) InstructionType
	// OperandRegister returns the register file address used by the
	// instruction at addr, if it has one.
	OperandRegister(addr int) (int, bool)
	// OperandLiteral returns the literal operand of the instruction at addr,
	// if it has one.
	OperandLiteral(addr int) (int, bool)
}

// InstructionType classifies an instruction by the kind of operand it
// takes.
type InstructionType uint8

const (
	UnknownOp  InstructionType = iota
	LiteralOp                  // operand is an immediate value
	BitOp                      // operand is a register and a bit number
	RegisterOp                 // operand is a register
)

func (it InstructionType) String() string {
	switch it {
	case LiteralOp:
		return "literal"
	case BitOp:
		return "bit"
	case RegisterOp:
		return "register"
	default:
		return "unknown"
	}
}

// DebugMode selects which kind of source lines a debugger reports.
type DebugMode uint8

const (
	AsmMode DebugMode = iota // assembly lines
	HLLMode                  // high level language lines where known
)

func (m DebugMode) String() string {
	if m == HLLMode {
		return "hll"
	}
	return "asm"
}

// ParseDebugMode parses the names returned by DebugMode.String.
func ParseDebugMode(s string) (DebugMode, error) {
	switch s {
	case "asm", "assembly":
		return AsmMode, nil
	case "hll", "source":
		return HLLMode, nil
	}
	return AsmMode, fmt.Errorf("unknown debug mode %q", s)
}

// StopReason describes why the processor is not running.
type StopReason uint8

const (
	StopUnknown      StopReason = iota
	StopLaunched                // the program was just loaded
	StopBreakpoint              // a line with a breakpoint was reached
	StopStepFinished            // step into, over or out terminated
	StopManual                  // a pause was requested
	StopReset                   // the engine was reset
)

func (sr StopReason) String() string {
	switch sr {
	case StopLaunched:
		return "launched"
	case StopBreakpoint:
		return "breakpoint"
	case StopStepFinished:
		return "step finished"
	case StopManual:
		return "manual"
	case StopReset:
		return "reset"
	default:
		return "unknown"
	}
}
