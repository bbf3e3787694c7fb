package api

import (
	"github.com/picdbg/picdbg/pkg/debugline"
	"github.com/picdbg/picdbg/pkg/regs"
)

// ConvertLocation converts a source line at pc to a Location.
func ConvertLocation(pc int, sl debugline.SourceLine) *Location {
	return &Location{PC: pc, File: sl.File, Line: sl.Line}
}

// ConvertRegister converts a register watcher to a Register.
func ConvertRegister(r *regs.RegisterInfo) Register {
	return Register{
		Name:    r.Name(),
		Address: r.Address(),
		Type:    r.Type().String(),
		Value:   r.Value(),
	}
}

// ConvertRegisters converts a slice of register watchers.
func ConvertRegisters(in []*regs.RegisterInfo) []Register {
	out := make([]Register, len(in))
	for i := range in {
		out[i] = ConvertRegister(in[i])
	}
	return out
}
