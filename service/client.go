package service

import (
	"fmt"

	"github.com/picdbg/picdbg/service/api"
)

// Client represents a debugger service client. All client methods are
// synchronous.
type Client interface {
	// ProgramInfo describes the loaded program.
	ProgramInfo() api.ProgramInfo

	// Detach stops the debugger.
	Detach() error

	// GetState returns the current debugger state.
	GetState() (*api.DebuggerState, error)
	// GetStateNonBlocking returns the current debugger state, returning immediately if the processor is already running.
	GetStateNonBlocking() (*api.DebuggerState, error)

	// Continue resumes execution. The state the processor halts in is sent on
	// the returned channel, which is then closed.
	Continue() <-chan *api.DebuggerState
	// Next continues to the next source line, not entering subroutine calls.
	Next() (*api.DebuggerState, error)
	// Step executes instructions until a new line of the current debug mode is reached.
	Step() (*api.DebuggerState, error)
	// StepOut continues until the current subroutine returns.
	StepOut() (*api.DebuggerState, error)
	// StepInstruction executes a single instruction.
	StepInstruction() (*api.DebuggerState, error)
	// Halt suspends the processor.
	Halt() (*api.DebuggerState, error)
	// Reset resets the processor to the reset vector.
	Reset() (*api.DebuggerState, error)

	// SetDebugMode selects the lines reported, "asm" or "hll".
	SetDebugMode(mode string) error

	// GetBreakpoint gets a breakpoint by ID.
	GetBreakpoint(id int) (*api.Breakpoint, error)
	// CreateBreakpoint creates a new breakpoint.
	CreateBreakpoint(*api.Breakpoint) (*api.Breakpoint, error)
	// ListBreakpoints gets all breakpoints.
	ListBreakpoints() ([]*api.Breakpoint, error)
	// ClearBreakpoint deletes a breakpoint by ID.
	ClearBreakpoint(id int) (*api.Breakpoint, error)
	// ClearBreakpointAt deletes the breakpoint on file:line.
	ClearBreakpointAt(file string, line int) (*api.Breakpoint, error)
	// ClearAllBreakpoints deletes every breakpoint.
	ClearAllBreakpoints() ([]*api.Breakpoint, error)

	// FindLocation returns the program locations matching loc.
	FindLocation(loc string) ([]api.Location, error)
	// CorrespondingLine returns the assembly line of an HLL line or the HLL line of an assembly line.
	CorrespondingLine(file string, line int) (api.Location, bool)
	// ListSources lists all source files matching filter.
	ListSources(filter string) ([]string, error)

	// ListRegisters lists W and the file registers.
	ListRegisters() ([]api.Register, error)
	// GetRegister returns a register by name.
	GetRegister(name string) (api.Register, error)
	// WatchRegister adds or removes a register from the watched set.
	WatchRegister(name string, on bool) (api.Register, error)

	// DisassembleRange disassembles program memory between startPC (inclusive) and endPC (exclusive).
	DisassembleRange(startPC, endPC int) (api.AsmInstructions, error)
}

// NoBreakpointError is returned when a breakpoint ID does not exist.
type NoBreakpointError struct {
	ID int
}

func (err *NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint with id %d", err.ID)
}
