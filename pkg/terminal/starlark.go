package terminal

import (
	"github.com/picdbg/picdbg/pkg/terminal/starbind"
	"github.com/picdbg/picdbg/service"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Client() service.Client {
	return ctx.term.client
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(t *Term, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
