// Package local implements service.Client over a debugger running in the
// same process.
package local

import (
	"context"

	"github.com/picdbg/picdbg/service"
	"github.com/picdbg/picdbg/service/api"
	"github.com/picdbg/picdbg/service/debugger"
)

// Client is a service.Client calling a debugger.Debugger directly.
type Client struct {
	d *debugger.Debugger
}

// Ensure the implementation satisfies the interface.
var _ service.Client = &Client{}

// NewClient returns a client for d.
func NewClient(d *debugger.Debugger) *Client {
	return &Client{d: d}
}

func (c *Client) ProgramInfo() api.ProgramInfo {
	return c.d.ProgramInfo()
}

func (c *Client) Detach() error {
	return c.d.Detach()
}

func (c *Client) GetState() (*api.DebuggerState, error) {
	return c.d.State(false)
}

func (c *Client) GetStateNonBlocking() (*api.DebuggerState, error) {
	return c.d.State(true)
}

func (c *Client) Continue() <-chan *api.DebuggerState {
	ch := make(chan *api.DebuggerState, 1)
	go func() {
		state, err := c.command(api.Continue)
		if state == nil {
			state = &api.DebuggerState{}
		}
		state.Err = err
		ch <- state
		close(ch)
	}()
	return ch
}

func (c *Client) Next() (*api.DebuggerState, error) {
	return c.command(api.Next)
}

func (c *Client) Step() (*api.DebuggerState, error) {
	return c.command(api.Step)
}

func (c *Client) StepOut() (*api.DebuggerState, error) {
	return c.command(api.StepOut)
}

func (c *Client) StepInstruction() (*api.DebuggerState, error) {
	return c.command(api.StepInstruction)
}

func (c *Client) Halt() (*api.DebuggerState, error) {
	return c.command(api.Halt)
}

func (c *Client) Reset() (*api.DebuggerState, error) {
	return c.command(api.Reset)
}

func (c *Client) command(name string) (*api.DebuggerState, error) {
	return c.d.Command(context.Background(), &api.DebuggerCommand{Name: name})
}

func (c *Client) SetDebugMode(mode string) error {
	return c.d.SetDebugMode(mode)
}

func (c *Client) GetBreakpoint(id int) (*api.Breakpoint, error) {
	bp := c.d.FindBreakpoint(id)
	if bp == nil {
		return nil, &service.NoBreakpointError{ID: id}
	}
	return bp, nil
}

func (c *Client) CreateBreakpoint(bp *api.Breakpoint) (*api.Breakpoint, error) {
	return c.d.CreateBreakpoint(bp)
}

func (c *Client) ListBreakpoints() ([]*api.Breakpoint, error) {
	return c.d.Breakpoints(), nil
}

func (c *Client) ClearBreakpoint(id int) (*api.Breakpoint, error) {
	return c.d.ClearBreakpoint(&api.Breakpoint{ID: id})
}

func (c *Client) ClearBreakpointAt(file string, line int) (*api.Breakpoint, error) {
	return c.d.ClearBreakpoint(&api.Breakpoint{File: file, Line: line})
}

func (c *Client) ClearAllBreakpoints() ([]*api.Breakpoint, error) {
	return c.d.ClearAllBreakpoints(), nil
}

func (c *Client) FindLocation(loc string) ([]api.Location, error) {
	return c.d.FindLocation(loc)
}

func (c *Client) CorrespondingLine(file string, line int) (api.Location, bool) {
	return c.d.CorrespondingLine(file, line)
}

func (c *Client) ListSources(filter string) ([]string, error) {
	return c.d.Sources(filter)
}

func (c *Client) ListRegisters() ([]api.Register, error) {
	return c.d.Registers(), nil
}

func (c *Client) GetRegister(name string) (api.Register, error) {
	return c.d.Register(name)
}

func (c *Client) WatchRegister(name string, on bool) (api.Register, error) {
	return c.d.SetRegisterWatch(name, on)
}

func (c *Client) DisassembleRange(startPC, endPC int) (api.AsmInstructions, error) {
	return c.d.Disassemble(startPC, endPC)
}
