// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/picdbg/picdbg/service"
	"github.com/picdbg/picdbg/service/api"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the picdbg terminal.
type Commands struct {
	cmds   []command
	client service.Client
}

// lineCount is the number of lines printed around the current line.
const lineCount = 5

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(client service.Client) *Commands {
	c := &Commands{client: client}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break [-mode asm|hll] <linespec>

A linespec is one of:

	<file>:<line>	a line of a source file
	<line>		a line of the current file
	+<offset>	a line after the current line
	-<offset>	a line before the current line
	*<address>	the line of a program address

Breakpoints are set in the current debug mode unless -mode is given, in
which case linespec must be <file>:<line>.

See also: "help clear", "help mode"`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clear, helpMsg: `Deletes breakpoint.

	clear <breakpoint id>
	clear <file>:<line>`},
		{aliases: []string{"clearall"}, group: breakCmds, cmdFn: clearAll, helpMsg: `Deletes all breakpoints.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: `Print out info for active breakpoints.

	breakpoints`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: c.cont, helpMsg: `Run until breakpoint, sleep or interrupt.

	continue [<linespec>]

Optional linespec argument allows you to continue until a specific location is reached.`},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: c.step, helpMsg: "Executes instructions until a new line of the current debug mode is reached, entering subroutine calls."},
		{aliases: []string{"step-instruction", "stepi", "si"}, group: runCmds, cmdFn: c.stepInstruction, helpMsg: "Single step a single instruction."},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: c.next, helpMsg: `Step over to next source line.

Subroutine calls made from the current line run to completion.`},
		{aliases: []string{"stepout", "so"}, group: runCmds, cmdFn: c.stepout, helpMsg: "Step out of the current subroutine."},
		{aliases: []string{"reset"}, group: runCmds, cmdFn: c.reset, helpMsg: `Resets the processor.

The processor is halted at the reset vector, breakpoints are kept.`},
		{aliases: []string{"mode"}, group: runCmds, cmdFn: mode, helpMsg: `Prints or changes the debug mode.

	mode [asm|hll]

In asm mode lines are assembly lines, in hll mode lines are lines of the
high level source the assembly was generated from.`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Print contents of registers.

	regs [-a]

Prints W and the special function registers. If -a is specified the
general purpose registers are printed too.`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printRegister, helpMsg: `Prints the value of a register.

	print <register>`},
		{aliases: []string{"watch"}, group: dataCmds, cmdFn: watch, helpMsg: `Watches a register.

	watch [-clear] <register>

Watched registers are printed every time the processor stops.`},
		{aliases: []string{"disassemble", "disass"}, group: dataCmds, cmdFn: disassCommand, helpMsg: `Disassembler.

	disassemble [-a <start> <end>] [-l <linespec>]

If no argument is specified the instructions around the program counter
are printed.

	-a <start> <end>	disassembles the specified address range
	-l <linespec>		disassembles the instructions following linespec`},
		{aliases: []string{"list", "ls", "l"}, group: sourceCmds, cmdFn: listCommand, helpMsg: `Show source code.

	list [<linespec>]

Show source around current point or provided linespec.`},
		{aliases: []string{"sources"}, group: sourceCmds, cmdFn: sources, helpMsg: `Print list of source files.

	sources [<regex>]

If regex is specified only the source files matching it will be returned.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of picdbg commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter>

Shows the value of a configuration parameter.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config substitute-path <from> <to>
	config substitute-path <from>

Adds or removes a path substitution rule.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of picdbg's command is appended to the specified output file. If '-t'
is specified and the output file exists it is truncated. If '-x' is
specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit`},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would, without expanding
// backticks or variables.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

func (c *Commands) cont(t *Term, args string) error {
	if args != "" {
		tmp, err := setBreakpoint(t, args)
		if err != nil {
			return err
		}
		defer func() {
			if _, err := t.client.ClearBreakpoint(tmp.ID); err != nil {
				fmt.Fprintf(t.stdout, "failed to clear temporary breakpoint: %d\n", tmp.ID)
			}
		}()
	}
	stateChan := t.client.Continue()
	var state *api.DebuggerState
	for state = range stateChan {
		if state.Err != nil {
			return state.Err
		}
		printcontext(t, state)
	}
	return printcurrentfile(t, state)
}

func (c *Commands) step(t *Term, args string) error {
	return stepWith(t, t.client.Step)
}

func (c *Commands) stepInstruction(t *Term, args string) error {
	return stepWith(t, t.client.StepInstruction)
}

func (c *Commands) next(t *Term, args string) error {
	return stepWith(t, t.client.Next)
}

func (c *Commands) stepout(t *Term, args string) error {
	return stepWith(t, t.client.StepOut)
}

func (c *Commands) reset(t *Term, args string) error {
	return stepWith(t, t.client.Reset)
}

func stepWith(t *Term, stepfn func() (*api.DebuggerState, error)) error {
	state, err := stepfn()
	if err != nil {
		return err
	}
	printcontext(t, state)
	return printcurrentfile(t, state)
}

func mode(t *Term, args string) error {
	if args != "" {
		if err := t.client.SetDebugMode(args); err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "Debug mode set to %s\n", args)
		return nil
	}
	state, err := t.client.GetState()
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Debug mode is %s\n", state.Mode)
	return nil
}

func clear(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	var bp *api.Breakpoint
	id, err := strconv.Atoi(args)
	if err == nil {
		bp, err = t.client.ClearBreakpoint(id)
	} else {
		file, line, perr := parseFileLine(args)
		if perr != nil {
			return perr
		}
		bp, err = t.client.ClearBreakpointAt(file, line)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s cleared at %s\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp))
	return nil
}

func clearAll(t *Term, args string) error {
	bps, err := t.client.ClearAllBreakpoints()
	if err != nil {
		return err
	}
	for _, bp := range bps {
		fmt.Fprintf(t.stdout, "%s cleared at %s\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp))
	}
	return nil
}

func breakpoints(t *Term, args string) error {
	bps, err := t.client.ListBreakpoints()
	if err != nil {
		return err
	}
	for _, bp := range bps {
		fmt.Fprintf(t.stdout, "%s (%s) at %s\n", formatBreakpointName(bp), bp.Mode, t.formatBreakpointLocation(bp))
	}
	return nil
}

func formatBreakpointName(bp *api.Breakpoint) string {
	return fmt.Sprintf("Breakpoint %d", bp.ID)
}

func (t *Term) formatBreakpointLocation(bp *api.Breakpoint) string {
	return fmt.Sprintf("%#02x for %s:%d", bp.Addr, t.formatPath(bp.File), bp.Line)
}

func (t *Term) formatPath(path string) string {
	path = t.substitutePath(path)
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}

// parseFileLine parses a <file>:<line> argument.
func parseFileLine(spec string) (string, int, error) {
	colon := strings.LastIndex(spec, ":")
	if colon <= 0 {
		return "", 0, fmt.Errorf("expected <file>:<line>, got %q", spec)
	}
	line, err := strconv.Atoi(spec[colon+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid line number in %q", spec)
	}
	return spec[:colon], line, nil
}

func setBreakpoint(t *Term, argstr string) (*api.Breakpoint, error) {
	args, err := splitArgs(argstr)
	if err != nil {
		return nil, err
	}
	requestedBp := &api.Breakpoint{}
	switch {
	case len(args) == 1:
		locs, err := t.client.FindLocation(args[0])
		if err != nil {
			return nil, err
		}
		requestedBp.File, requestedBp.Line = locs[0].File, locs[0].Line
	case len(args) == 3 && args[0] == "-mode":
		requestedBp.Mode = args[1]
		requestedBp.File, requestedBp.Line, err = parseFileLine(args[2])
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wrong number of arguments: break [-mode asm|hll] <linespec>")
	}
	return t.client.CreateBreakpoint(requestedBp)
}

func breakpoint(t *Term, args string) error {
	bp, err := setBreakpoint(t, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s set at %s\n", formatBreakpointName(bp), t.formatBreakpointLocation(bp))
	return nil
}

func printSortedStrings(t *Term, v []string, err error) error {
	if err != nil {
		return err
	}
	t.stdout.pw.PageMaybe(nil)
	for _, d := range v {
		fmt.Fprintln(t.stdout, d)
	}
	return nil
}

func sources(t *Term, args string) error {
	v, err := t.client.ListSources(args)
	return printSortedStrings(t, v, err)
}

func regs(t *Term, args string) error {
	all := false
	switch args {
	case "":
	case "-a":
		all = true
	default:
		return fmt.Errorf("wrong argument to regs: %q", args)
	}
	rs, err := t.client.ListRegisters()
	if err != nil {
		return err
	}
	t.stdout.pw.PageMaybe(nil)
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, r := range rs {
		if r.Type == "File" && !all {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%#02x\n", r.Name, formatRegisterAddress(r), r.Value)
	}
	return w.Flush()
}

func formatRegisterAddress(r api.Register) string {
	if r.Address < 0 {
		return "-"
	}
	return fmt.Sprintf("%#02x", r.Address)
}

func printRegister(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("not enough arguments")
	}
	r, err := t.client.GetRegister(args)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s = %#02x\n", r.Name, r.Value)
	return nil
}

func watch(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	on := true
	if len(v) == 2 && v[0] == "-clear" {
		on = false
		v = v[1:]
	}
	if len(v) != 1 {
		return fmt.Errorf("wrong number of arguments: watch [-clear] <register>")
	}
	r, err := t.client.WatchRegister(v[0], on)
	if err != nil {
		return err
	}
	if on {
		fmt.Fprintf(t.stdout, "Watching %s = %#02x\n", r.Name, r.Value)
	} else {
		fmt.Fprintf(t.stdout, "Stopped watching %s\n", r.Name)
	}
	return nil
}

func getLocation(t *Term, args string) (file string, lineno int, showarrow bool, err error) {
	if args == "" {
		state, err := t.client.GetState()
		if err != nil {
			return "", 0, false, err
		}
		printcontext(t, state)
		if state.CurrentLine == nil {
			return "", 0, false, fmt.Errorf("no source for address %#02x", state.PC)
		}
		return state.CurrentLine.File, state.CurrentLine.Line, true, nil
	}
	locs, err := t.client.FindLocation(args)
	if err != nil {
		return "", 0, false, err
	}
	loc := locs[0]
	fmt.Fprintf(t.stdout, "Showing %s:%d (PC: %#02x)\n", t.formatPath(loc.File), loc.Line, loc.PC)
	return loc.File, loc.Line, false, nil
}

func listCommand(t *Term, args string) error {
	file, lineno, showarrow, err := getLocation(t, args)
	if err != nil {
		return err
	}
	return printfile(t, file, lineno, showarrow)
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

var disasmUsageError = errors.New("wrong number of arguments: disassemble [-a <start> <end>] [-l <linespec>]")

// disasmWindow is the number of instructions disassembled after a location.
const disasmWindow = 10

func disassCommand(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	var start, end int
	switch {
	case len(v) == 0:
		state, err := t.client.GetState()
		if err != nil {
			return err
		}
		start, end = state.PC-disasmWindow/2, state.PC+disasmWindow
	case len(v) == 3 && v[0] == "-a":
		startpc, err := strconv.ParseInt(v[1], 0, 64)
		if err != nil {
			return fmt.Errorf("wrong argument: %q is not a number", v[1])
		}
		endpc, err := strconv.ParseInt(v[2], 0, 64)
		if err != nil {
			return fmt.Errorf("wrong argument: %q is not a number", v[2])
		}
		start, end = int(startpc), int(endpc)
	case len(v) == 2 && v[0] == "-l":
		locs, err := t.client.FindLocation(v[1])
		if err != nil {
			return err
		}
		if len(locs) != 1 {
			return errors.New("expression specifies multiple locations")
		}
		start, end = locs[0].PC, locs[0].PC+disasmWindow
	default:
		return disasmUsageError
	}

	disasm, err := t.client.DisassembleRange(start, end)
	if err != nil {
		return err
	}
	t.stdout.pw.PageMaybe(nil)
	disasmPrint(disasm, t.stdout)
	return nil
}

func printcontext(t *Term, state *api.DebuggerState) {
	if state.Running {
		fmt.Fprintln(t.stdout, "Processor is running")
		return
	}

	loc := state.CurrentLine
	if loc == nil {
		fmt.Fprintf(t.stdout, "Stopped at: %#02x (no source available)\n", state.PC)
	} else {
		corresponding := ""
		if other, ok := t.client.CorrespondingLine(loc.File, loc.Line); ok {
			corresponding = fmt.Sprintf(" [%s:%d]", t.formatPath(other.File), other.Line)
		}
		bpname := ""
		if state.Breakpoint != nil {
			bpname = fmt.Sprintf("[%s] ", formatBreakpointName(state.Breakpoint))
		}
		fmt.Fprintf(t.stdout, "> %s%s:%d (PC: %#02x)%s\n", bpname, t.formatPath(loc.File), loc.Line, state.PC, corresponding)
	}

	if state.Sleeping {
		fmt.Fprintln(t.stdout, "Processor is sleeping")
	}
	if len(state.ChangedRegisters) > 0 {
		fmt.Fprintf(t.stdout, "\tchanged: %s\n", strings.Join(state.ChangedRegisters, ", "))
	}
	for _, r := range state.Watched {
		fmt.Fprintf(t.stdout, "\t%s = %#02x\n", r.Name, r.Value)
	}
}

func printcurrentfile(t *Term, state *api.DebuggerState) error {
	if state == nil || state.CurrentLine == nil {
		return nil
	}
	return printfile(t, state.CurrentLine.File, state.CurrentLine.Line, true)
}

func printfile(t *Term, filename string, line int, showArrow bool) error {
	if filename == "" {
		return nil
	}

	arrowLine := 0
	if showArrow {
		arrowLine = line
	}

	path := t.substitutePath(filename)
	lines, err := t.sourceLines(path)
	if err != nil {
		return err
	}
	if line > len(lines) {
		return fmt.Errorf("line %d is past the end of %s (%d lines)", line, path, len(lines))
	}

	return t.stdout.ColorizePrint(path, lines, line-lineCount, line+lineCount+1, arrowLine)
}

// ExitRequestError is returned when the user
// exits picdbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func transcript(t *Term, arg string) error {
	v, err := splitArgs(arg)
	if err != nil {
		return err
	}
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range v {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			} else {
				path = arg
			}
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
