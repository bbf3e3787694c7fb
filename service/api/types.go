// Package api defines the types the debugger service exchanges with its
// frontends.
package api

import (
	"errors"
)

// ErrProcessorRunning is returned by operations that need a halted
// processor.
var ErrProcessorRunning = errors.New("processor is running")

// DebuggerState represents the current context of the debugger.
type DebuggerState struct {
	// Running is true if the processor is simulating.
	Running bool `json:"running"`
	// Sleeping is true if the core executed a SLEEP instruction and can not
	// make progress.
	Sleeping bool `json:"sleeping"`
	// Mode is the debug mode lines are reported in, "asm" or "hll".
	Mode string `json:"mode"`
	// StopReason describes why the processor last halted.
	StopReason string `json:"stopReason"`
	// PC is the program counter.
	PC int `json:"pc"`
	// StackDepth is the number of return addresses on the hardware stack.
	StackDepth int `json:"stackDepth"`
	// Cycles is the number of cycles simulated since the last reset.
	Cycles uint64 `json:"cycles"`
	// W is the working register.
	W uint8 `json:"w"`
	// CurrentLine is the line the program counter is on, nil if the address
	// has no line.
	CurrentLine *Location `json:"currentLine,omitempty"`
	// Breakpoint is the breakpoint the processor halted on, if any.
	Breakpoint *Breakpoint `json:"breakPoint,omitempty"`
	// ChangedRegisters lists the registers whose value changed since the
	// previous state was taken.
	ChangedRegisters []string `json:"changedRegisters,omitempty"`
	// Watched holds the watched registers.
	Watched []Register `json:"watched,omitempty"`

	Err error `json:"-"`
}

// Breakpoint is a source line breakpoint.
type Breakpoint struct {
	// ID is a unique identifier for the breakpoint.
	ID int `json:"id"`
	// File is the source file of the line.
	File string `json:"file"`
	// Line is the line number.
	Line int `json:"line"`
	// Addr is the first program address of the line.
	Addr int `json:"addr"`
	// Mode is the debug mode of the breakpoint, "asm" or "hll". Empty means
	// the current mode.
	Mode string `json:"mode,omitempty"`
	// Verified is false if the line has no program address.
	Verified bool `json:"verified"`
}

// Location holds program location information.
type Location struct {
	PC   int    `json:"pc"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// Register is a file register or the working register.
type Register struct {
	Name string `json:"name"`
	// Address is the file register address, -1 for W.
	Address int    `json:"address"`
	Type    string `json:"type"`
	Value   uint8  `json:"value"`
}

// AsmInstruction represents one assembly instruction in program memory.
type AsmInstruction struct {
	// Loc is the location of this instruction.
	Loc Location `json:"loc"`
	// Word is the raw instruction word.
	Word uint16 `json:"word"`
	// Text is the disassembled instruction.
	Text string `json:"text"`
	// Type classifies the instruction.
	Type string `json:"type"`
	// Operand describes the register or literal operand of the instruction
	// together with the current register value.
	Operand string `json:"operand,omitempty"`
	// Breakpoint is true if the line of this instruction has a breakpoint.
	Breakpoint bool `json:"breakpoint"`
	// AtPC is true if this instruction is at the program counter.
	AtPC bool `json:"atpc"`
}

// ProgramInfo describes the loaded program.
type ProgramInfo struct {
	Path              string   `json:"path"`
	Processor         string   `json:"processor"`
	ProgramMemorySize int      `json:"programMemorySize"`
	Words             int      `json:"words"`
	Sources           []string `json:"sources"`
}

// AsmInstructions is a list of assembly instructions.
type AsmInstructions []AsmInstruction

// DebuggerCommand is a command which changes the debugger's execution state.
type DebuggerCommand struct {
	// Name is the command to run.
	Name string `json:"name"`
}

const (
	// Continue resumes process execution.
	Continue = "continue"
	// Step executes one instruction and reports the line reached.
	Step = "step"
	// StepOut continues until the current subroutine returns.
	StepOut = "stepOut"
	// StepInstruction executes one instruction in assembly mode.
	StepInstruction = "stepInstruction"
	// Next continues to the next source line, not entering subroutine calls.
	Next = "next"
	// Halt suspends the process.
	Halt = "halt"
	// Reset resets the processor.
	Reset = "reset"
)
