package starbind

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/picdbg/picdbg/service/api"
)

type builtinFunc func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error)

type builtin struct {
	name string
	args string
	doc  string
	fn   builtinFunc
}

// apiBuiltins are the builtins calling the debugger service. Their return
// values are converted with toStarlark, struct fields keep
// their Go names (state().CurrentLine.Line).
var apiBuiltins = []builtin{
	{"program_info", "()", "returns the path, processor and size of the loaded program.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			if err := starlark.UnpackArgs(fnname, args, kwargs); err != nil {
				return nil, err
			}
			return env.ctx.Client().ProgramInfo(), nil
		}},
	{"state", "(NonBlocking)", "returns the current debugger state. If NonBlocking is true and the processor is running only the Running field is set.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var nonBlocking bool
			if err := starlark.UnpackArgs(fnname, args, kwargs, "NonBlocking?", &nonBlocking); err != nil {
				return nil, err
			}
			if nonBlocking {
				return env.ctx.Client().GetStateNonBlocking()
			}
			return env.ctx.Client().GetState()
		}},
	{"cont", "()", "resumes execution and returns the state the processor halted in.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			if err := starlark.UnpackArgs(fnname, args, kwargs); err != nil {
				return nil, err
			}
			var state *api.DebuggerState
			for state = range env.ctx.Client().Continue() {
				if state.Err != nil {
					return nil, state.Err
				}
			}
			return state, nil
		}},
	{"step", "()", "executes instructions until a new line is reached.", stateCommand(func(env *Env) (*api.DebuggerState, error) { return env.ctx.Client().Step() })},
	{"stepi", "()", "executes a single instruction.", stateCommand(func(env *Env) (*api.DebuggerState, error) { return env.ctx.Client().StepInstruction() })},
	{"next", "()", "steps over to the next line.", stateCommand(func(env *Env) (*api.DebuggerState, error) { return env.ctx.Client().Next() })},
	{"stepout", "()", "runs until the current subroutine returns.", stateCommand(func(env *Env) (*api.DebuggerState, error) { return env.ctx.Client().StepOut() })},
	{"halt", "()", "halts the processor.", stateCommand(func(env *Env) (*api.DebuggerState, error) { return env.ctx.Client().Halt() })},
	{"reset", "()", "resets the processor.", stateCommand(func(env *Env) (*api.DebuggerState, error) { return env.ctx.Client().Reset() })},
	{"set_mode", "(Mode)", "selects the debug mode, \"asm\" or \"hll\".",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var mode string
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Mode", &mode); err != nil {
				return nil, err
			}
			return nil, env.ctx.Client().SetDebugMode(mode)
		}},
	{"create_breakpoint", "(Breakpoint)", "creates a breakpoint. Breakpoint is a dict with the File and Line keys and optionally Mode, or keyword arguments with the same names.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var bp api.Breakpoint
			if len(args) > 1 {
				return nil, fmt.Errorf("%s: too many arguments", fnname)
			}
			if len(args) == 1 {
				if err := fromStarlark(args[0], &bp, "Breakpoint"); err != nil {
					return nil, err
				}
			}
			for _, kv := range kwargs {
				var err error
				switch kv[0].(starlark.String) {
				case "File":
					err = fromStarlark(kv[1], &bp.File, "File")
				case "Line":
					err = fromStarlark(kv[1], &bp.Line, "Line")
				case "Mode":
					err = fromStarlark(kv[1], &bp.Mode, "Mode")
				default:
					err = fmt.Errorf("unknown argument %q", kv[0])
				}
				if err != nil {
					return nil, err
				}
			}
			return env.ctx.Client().CreateBreakpoint(&bp)
		}},
	{"clear_breakpoint", "(Id)", "deletes the breakpoint with the given ID.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var id int
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Id", &id); err != nil {
				return nil, err
			}
			return env.ctx.Client().ClearBreakpoint(id)
		}},
	{"get_breakpoint", "(Id)", "returns the breakpoint with the given ID.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var id int
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Id", &id); err != nil {
				return nil, err
			}
			return env.ctx.Client().GetBreakpoint(id)
		}},
	{"breakpoints", "()", "returns every breakpoint.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			if err := starlark.UnpackArgs(fnname, args, kwargs); err != nil {
				return nil, err
			}
			return env.ctx.Client().ListBreakpoints()
		}},
	{"find_location", "(Loc)", "returns the locations matching a linespec.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var loc string
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Loc", &loc); err != nil {
				return nil, err
			}
			return env.ctx.Client().FindLocation(loc)
		}},
	{"corresponding_line", "(File, Line)", "returns the HLL line of an assembly line or the assembly line of an HLL line, None if there is none.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var file string
			var line int
			if err := starlark.UnpackArgs(fnname, args, kwargs, "File", &file, "Line", &line); err != nil {
				return nil, err
			}
			loc, ok := env.ctx.Client().CorrespondingLine(file, line)
			if !ok {
				return nil, nil
			}
			return loc, nil
		}},
	{"sources", "(Filter)", "returns the source files matching the regular expression Filter.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var filter string
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Filter?", &filter); err != nil {
				return nil, err
			}
			return env.ctx.Client().ListSources(filter)
		}},
	{"registers", "()", "returns W and the file registers.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			if err := starlark.UnpackArgs(fnname, args, kwargs); err != nil {
				return nil, err
			}
			return env.ctx.Client().ListRegisters()
		}},
	{"register", "(Name)", "returns the register called Name.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var name string
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Name", &name); err != nil {
				return nil, err
			}
			return env.ctx.Client().GetRegister(name)
		}},
	{"watch", "(Name, On)", "adds (On=True, the default) or removes a register from the watched registers.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var name string
			on := true
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Name", &name, "On?", &on); err != nil {
				return nil, err
			}
			return env.ctx.Client().WatchRegister(name, on)
		}},
	{"disassemble", "(StartPC, EndPC)", "disassembles program memory in [StartPC, EndPC).",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var start, end int
			if err := starlark.UnpackArgs(fnname, args, kwargs, "StartPC", &start, "EndPC", &end); err != nil {
				return nil, err
			}
			return env.ctx.Client().DisassembleRange(start, end)
		}},
}

func stateCommand(fn func(env *Env) (*api.DebuggerState, error)) builtinFunc {
	return func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		if err := starlark.UnpackArgs(fnname, args, kwargs); err != nil {
			return nil, err
		}
		return fn(env)
	}
}

// scriptBuiltins do not talk to the debugger service directly.
var scriptBuiltins = []builtin{
	{"dbg_command", "(Command)", "runs a terminal command, for example dbg_command(\"break main.asm:13\").",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			words := make([]string, len(args))
			for i, arg := range args {
				s, ok := arg.(starlark.String)
				if !ok {
					return nil, fmt.Errorf("argument of %s is not a string", fnname)
				}
				words[i] = string(s)
			}
			return nil, env.ctx.CallCommand(strings.Join(words, " "))
		}},
	{"read_file", "(Path)", "returns the contents of a file.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var path string
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Path", &path); err != nil {
				return nil, err
			}
			buf, err := ioutil.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return string(buf), nil
		}},
	{"write_file", "(Path, Text)", "writes Text to a file. Values other than strings are written as printed.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var path string
			var text starlark.Value
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Path", &path, "Text", &text); err != nil {
				return nil, err
			}
			s, ok := text.(starlark.String)
			if !ok {
				s = starlark.String(text.String())
			}
			return nil, ioutil.WriteFile(path, []byte(s), 0640)
		}},
	{"help", "(Object)", "prints help for Object, or lists the builtins.",
		func(env *Env, fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
			var obj starlark.Value
			if err := starlark.UnpackArgs(fnname, args, kwargs, "Object?", &obj); err != nil {
				return nil, err
			}
			switch x := obj.(type) {
			case nil:
				names := make([]string, 0, len(env.doc))
				for name := range env.doc {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Fprintf(env.out, "Available builtins:\n\t%s\n", strings.Join(names, "\n\t"))
			case *starlark.Builtin:
				if doc, ok := env.doc[x.Name()]; ok {
					fmt.Fprintln(env.out, doc)
				} else {
					fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
				}
			case *starlark.Function:
				fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
				if doc := x.Doc(); doc != "" {
					fmt.Fprintln(env.out, doc)
				}
			default:
				fmt.Fprintf(env.out, "no help for object of type %s\n", obj.Type())
			}
			return nil, nil
		}},
}
