// Package regs watches the register file of a simulated core and reports
// the registers whose value changed between two updates.
package regs

import (
	"fmt"
	"sort"
	"strings"
)

// RegisterType classifies a register.
type RegisterType uint8

const (
	Invalid    RegisterType = iota // unimplemented address
	Generic                        // register outside the file, like W
	File                           // general purpose file register
	SFR                            // special function register
	Breakpoint                     // register with a watch set
)

func (t RegisterType) String() string {
	switch t {
	case Generic:
		return "Generic"
	case File:
		return "File"
	case SFR:
		return "SFR"
	case Breakpoint:
		return "Breakpoint"
	}
	return "Invalid"
}

// Memory is the register file of a simulated core.
type Memory interface {
	RegisterFileSize() int
	ReadRegister(addr int) uint8
	Implemented(addr int) bool
	RegisterName(addr int) (string, bool)
}

// WorkingRegister is implemented by cores with an accumulator outside the
// register file.
type WorkingRegister interface {
	W() uint8
}

// RegisterInfo is one register of a RegisterSet.
type RegisterInfo struct {
	name    string
	addr    int
	typ     RegisterType
	watched bool
	value   uint8
	read    func() uint8
	changed []func(uint8)
}

// Name returns the register name.
func (r *RegisterInfo) Name() string { return r.name }

// Address returns the register file address, or -1 for registers outside
// the file.
func (r *RegisterInfo) Address() int { return r.addr }

// Type returns Breakpoint for watched registers and the register's class
// otherwise.
func (r *RegisterInfo) Type() RegisterType {
	if r.watched {
		return Breakpoint
	}
	return r.typ
}

// Value returns the value read by the last update.
func (r *RegisterInfo) Value() uint8 { return r.value }

// OnValueChanged registers fn to be called with the new value every time an
// update finds the register changed.
func (r *RegisterInfo) OnValueChanged(fn func(uint8)) {
	r.changed = append(r.changed, fn)
}

// SetWatch sets whether the register is listed by RegisterSet.Watched.
func (r *RegisterInfo) SetWatch(on bool) {
	r.watched = on && r.typ != Invalid
}

// Watched returns true if the register has a watch set.
func (r *RegisterInfo) Watched() bool { return r.watched }

func (r *RegisterInfo) update() bool {
	v := r.read()
	if v == r.value {
		return false
	}
	r.value = v
	for _, fn := range r.changed {
		fn(v)
	}
	return true
}

// RegisterSet is the set of registers of a core, indexed by address and by
// name.
type RegisterSet struct {
	file   []*RegisterInfo
	extra  []*RegisterInfo
	byName map[string]*RegisterInfo
}

// NewRegisterSet reads every register of mem. If mem also implements
// WorkingRegister a Generic register named W is added.
func NewRegisterSet(mem Memory) *RegisterSet {
	rs := &RegisterSet{byName: make(map[string]*RegisterInfo)}
	for addr := 0; addr < mem.RegisterFileSize(); addr++ {
		addr := addr
		r := &RegisterInfo{addr: addr, read: func() uint8 { return mem.ReadRegister(addr) }}
		switch name, ok := mem.RegisterName(addr); {
		case !mem.Implemented(addr):
			r.typ, r.name = Invalid, fmt.Sprintf("INVALID_%02X", addr)
		case ok:
			r.typ, r.name = SFR, name
		default:
			r.typ, r.name = File, fmt.Sprintf("GPR_%02X", addr)
		}
		r.value = r.read()
		rs.file = append(rs.file, r)
		rs.byName[strings.ToUpper(r.name)] = r
	}
	if wr, ok := mem.(WorkingRegister); ok {
		r := &RegisterInfo{name: "W", addr: -1, typ: Generic, read: wr.W}
		r.value = r.read()
		rs.extra = append(rs.extra, r)
		rs.byName["W"] = r
	}
	return rs
}

// Size returns the number of file registers.
func (rs *RegisterSet) Size() int {
	return len(rs.file)
}

// FromAddress returns the file register at addr.
func (rs *RegisterSet) FromAddress(addr int) *RegisterInfo {
	if addr < 0 || addr >= len(rs.file) {
		return nil
	}
	return rs.file[addr]
}

// FromName returns the register called name, ignoring case.
func (rs *RegisterSet) FromName(name string) *RegisterInfo {
	return rs.byName[strings.ToUpper(name)]
}

// All returns the registers outside the file followed by the implemented
// file registers in address order.
func (rs *RegisterSet) All() []*RegisterInfo {
	r := append([]*RegisterInfo(nil), rs.extra...)
	for _, ri := range rs.file {
		if ri.typ != Invalid {
			r = append(r, ri)
		}
	}
	return r
}

// Watched returns the registers with a watch set.
func (rs *RegisterSet) Watched() []*RegisterInfo {
	var r []*RegisterInfo
	for _, ri := range rs.All() {
		if ri.watched {
			r = append(r, ri)
		}
	}
	return r
}

// Update reads every register again, calls the value-changed callbacks of
// those that changed and returns their names, sorted.
func (rs *RegisterSet) Update() []string {
	var changed []string
	for _, r := range rs.extra {
		if r.update() {
			changed = append(changed, r.name)
		}
	}
	for _, r := range rs.file {
		if r.typ != Invalid && r.update() {
			changed = append(changed, r.name)
		}
	}
	sort.Strings(changed)
	return changed
}
