// Package starbind runs Starlark scripts against the debugger service.
//
// Every script shares one set of predeclared builtins (see builtins.go).
// Globals starting with an upper case letter survive the script that
// defined them, functions called command_<name> become terminal commands.
package starbind

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/picdbg/picdbg/service"
)

const (
	commandPrefix = "command_"
	cancelCtxKey  = "picdbg_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true

	starlark.Universe["time"] = startime.Module
}

// Context is what scripts can reach of the terminal they run in.
type Context interface {
	Client() service.Client
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// EchoWriter is the writer script output goes to.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}

// Env holds the globals shared by the scripts run in one terminal.
type Env struct {
	globals starlark.StringDict
	doc     map[string]string

	ctx Context
	out EchoWriter

	mu     sync.Mutex
	thread *starlark.Thread
	cancel context.CancelFunc
}

// New returns an environment with every builtin predeclared.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{
		globals: starlark.StringDict{},
		doc:     map[string]string{},
		ctx:     ctx,
		out:     out,
	}
	for _, tbl := range [][]builtin{apiBuiltins, scriptBuiltins} {
		for _, b := range tbl {
			env.predeclare(b)
		}
	}
	return env
}

func (env *Env) predeclare(b builtin) {
	env.globals[b.name] = starlark.NewBuiltin(b.name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := cancelled(thread); err != nil {
			return starlark.None, atCaller(thread, err)
		}
		ret, err := b.fn(env, b.name, args, kwargs)
		if err != nil {
			return starlark.None, atCaller(thread, err)
		}
		return env.toStarlark(ret), nil
	})
	env.doc[b.name] = "builtin " + b.name + b.args + "\n\n" + b.name + " " + b.doc
}

// Execute runs the script at path. Source, when not nil, is the text of
// the script (a string, a []byte or an io.Reader). When the script defines
// a function called mainFnName it is then called with args.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (ret starlark.Value, err error) {
	defer func() {
		if ierr := recover(); ierr != nil {
			err = fmt.Errorf("panic executing starlark script: %v", ierr)
			fmt.Fprintf(env.out, "%v\n%s", err, debug.Stack())
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.globals)
	if err != nil {
		return starlark.None, err
	}
	if err := env.publish(globals); err != nil {
		return starlark.None, err
	}

	mainval, ok := globals[mainFnName]
	if mainFnName == "" || !ok {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = env.toStarlark(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

// publish keeps the exported globals of a script and turns its command_
// functions into terminal commands.
func (env *Env) publish(globals starlark.StringDict) error {
	for name, val := range globals {
		if strings.HasPrefix(name, commandPrefix) {
			if fn, ok := val.(*starlark.Function); ok {
				env.defineCommand(name[len(commandPrefix):], fn)
			}
			continue
		}
		if name[0] >= 'A' && name[0] <= 'Z' {
			env.globals[name] = val
		}
	}
	return nil
}

// defineCommand registers fn as a terminal command. A function taking a
// single parameter called args receives the raw argument string, any
// other function receives the arguments evaluated as a Starlark tuple.
func (env *Env) defineCommand(name string, fn *starlark.Function) {
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	raw := false
	if fn.NumParams() == 1 {
		p0, _ := fn.Param(0)
		raw = p0 == "args"
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		if raw {
			_, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String(args)}, nil)
			return err
		}
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.globals)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fn, argtuple, nil)
		return err
	})
}

// Cancel interrupts the script currently running, if any.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.cancel != nil {
		env.cancel()
		env.cancel = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	thread.SetLocal(cancelCtxKey, ctx)

	env.mu.Lock()
	env.thread, env.cancel = thread, cancel
	env.mu.Unlock()
	return thread
}

func cancelled(thread *starlark.Thread) error {
	ctx, ok := thread.Local(cancelCtxKey).(context.Context)
	if !ok {
		return nil
	}
	return ctx.Err()
}

// atCaller prefixes err with the script position of the builtin call.
func atCaller(thread *starlark.Thread, err error) error {
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
