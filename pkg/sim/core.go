// Package sim implements a cycle counting simulator for a 14 bit mid-range
// PIC style core with a single register bank.
package sim

import (
	"fmt"

	"github.com/picdbg/picdbg/pkg/proc"
)

// Special function register addresses.
const (
	INDF   = 0x00
	TMR0   = 0x01
	PCL    = 0x02
	STATUS = 0x03
	FSR    = 0x04
	PORTA  = 0x05
	PORTB  = 0x06
	PORTC  = 0x07
	PORTD  = 0x08
	PORTE  = 0x09
	PCLATH = 0x0a
	INTCON = 0x0b
	PIR1   = 0x0c
)

// STATUS bits.
const (
	StatusC  = 0
	StatusDC = 1
	StatusZ  = 2
	StatusPD = 3
	StatusTO = 4
)

const (
	// RegisterFileSize is the number of addressable file registers.
	RegisterFileSize = 0x80
	// FirstGPR is the address of the first general purpose register.
	FirstGPR = 0x20
	// StackSize is the number of levels of the hardware stack.
	StackSize = 8
	// MaxProgramMemorySize is the largest program memory the 11 bit CALL
	// and GOTO targets can address.
	MaxProgramMemorySize = 0x800
)

var sfrNames = map[int]string{
	INDF:   "INDF",
	TMR0:   "TMR0",
	PCL:    "PCL",
	STATUS: "STATUS",
	FSR:    "FSR",
	PORTA:  "PORTA",
	PORTB:  "PORTB",
	PORTC:  "PORTC",
	PORTD:  "PORTD",
	PORTE:  "PORTE",
	PCLATH: "PCLATH",
	INTCON: "INTCON",
	PIR1:   "PIR1",
}

// SFRName returns the name of the special function register at addr.
func SFRName(addr int) (string, bool) {
	name, ok := sfrNames[addr]
	return name, ok
}

// hwStack is the circular hardware return stack. Pushing a ninth address
// overwrites the oldest one.
type hwStack struct {
	entries [StackSize]int
	top     int
	depth   int
}

func (s *hwStack) push(addr int) {
	s.entries[s.top] = addr
	s.top = (s.top + 1) % StackSize
	if s.depth < StackSize {
		s.depth++
	}
}

func (s *hwStack) pop() int {
	s.top = (s.top + StackSize - 1) % StackSize
	if s.depth > 0 {
		s.depth--
	}
	return s.entries[s.top]
}

// Core is the simulated processor. It implements proc.Engine.
type Core struct {
	code []uint16

	regs  [RegisterFileSize]uint8
	w     uint8
	pc    int
	stack hwStack

	cycles   uint64
	sleeping bool
	// twoCycles is set when the last executed instruction took two cycles.
	twoCycles bool
}

var _ proc.Engine = (*Core)(nil)

// New returns a core with size words of program memory holding code, in
// its power-on state.
func New(size int, code []uint16) (*Core, error) {
	if size <= 0 || size > MaxProgramMemorySize {
		return nil, fmt.Errorf("program memory size %d out of range", size)
	}
	if len(code) > size {
		return nil, fmt.Errorf("program of %d words does not fit in %d words of program memory", len(code), size)
	}
	c := &Core{code: make([]uint16, size)}
	for i, w := range code {
		c.code[i] = w & 0x3fff
	}
	c.Reset()
	return c, nil
}

// ProgramMemorySize returns the number of program memory words.
func (c *Core) ProgramMemorySize() int { return len(c.code) }

// PC returns the address of the next instruction.
func (c *Core) PC() int { return c.pc }

// StackDepth returns the number of return addresses on the stack.
func (c *Core) StackDepth() int { return c.stack.depth }

// MultiCycleTail returns true if the last instruction took two cycles.
func (c *Core) MultiCycleTail() bool { return c.twoCycles }

// W returns the working register.
func (c *Core) W() uint8 { return c.w }

// Cycles returns the number of instruction cycles since reset.
func (c *Core) Cycles() uint64 { return c.cycles }

// Sleeping returns true after a SLEEP instruction.
func (c *Core) Sleeping() bool { return c.sleeping }

// Word returns the program memory word at addr.
func (c *Core) Word(addr int) uint16 {
	if addr < 0 || addr >= len(c.code) {
		return 0
	}
	return c.code[addr]
}

// RegisterFileSize returns the number of file registers.
func (c *Core) RegisterFileSize() int { return RegisterFileSize }

// ReadRegister returns the file register at addr without side effects.
// INDF reads as zero.
func (c *Core) ReadRegister(addr int) uint8 {
	if addr <= INDF || addr >= RegisterFileSize {
		return 0
	}
	if addr == PCL {
		return uint8(c.pc)
	}
	return c.regs[addr]
}

// WriteRegister sets the file register at addr. Writes to PCL move the
// program counter.
func (c *Core) WriteRegister(addr int, v uint8) {
	if addr <= INDF || addr >= RegisterFileSize {
		return
	}
	if addr == PCL {
		c.jumpPCL(v)
		return
	}
	c.regs[addr] = v
}

// Implemented returns false for the reserved addresses between the special
// function registers and the general purpose registers.
func (c *Core) Implemented(addr int) bool {
	if addr >= FirstGPR && addr < RegisterFileSize {
		return true
	}
	_, ok := sfrNames[addr]
	return ok
}

// Reset puts the core in its power-on state. Program memory is kept.
func (c *Core) Reset() {
	c.regs = [RegisterFileSize]uint8{}
	c.regs[STATUS] = 1<<StatusTO | 1<<StatusPD
	c.w = 0
	c.pc = 0
	c.stack = hwStack{}
	c.cycles = 0
	c.sleeping = false
	c.twoCycles = false
}

// Decode decodes the instruction at addr.
func (c *Core) Decode(addr int) Instruction {
	return Decode(c.Word(addr))
}

// Disassemble returns the assembly text of the instruction at addr.
func (c *Core) Disassemble(addr int) string {
	return c.Decode(addr).Disassemble()
}

// InstructionType classifies the instruction at addr.
func (c *Core) InstructionType(addr int) proc.InstructionType {
	if addr < 0 || addr >= len(c.code) {
		return proc.UnknownOp
	}
	return c.Decode(addr).Op.Type()
}

// OperandRegister returns the file register used by the instruction at addr.
func (c *Core) OperandRegister(addr int) (int, bool) {
	switch c.InstructionType(addr) {
	case proc.RegisterOp, proc.BitOp:
		return c.Decode(addr).F, true
	}
	return 0, false
}

// OperandLiteral returns the literal of the instruction at addr.
func (c *Core) OperandLiteral(addr int) (int, bool) {
	if c.InstructionType(addr) != proc.LiteralOp {
		return 0, false
	}
	return c.Decode(addr).K, true
}

// Step executes the instruction at PC. A sleeping core only lets one cycle
// pass.
func (c *Core) Step() {
	if c.sleeping {
		c.twoCycles = false
		c.tick(1)
		return
	}
	in := c.Decode(c.pc)
	next := c.pc + 1
	c.twoCycles = false
	c.pc = c.execute(in, next) % len(c.code)
	if c.twoCycles {
		c.tick(2)
	} else {
		c.tick(1)
	}
}

func (c *Core) tick(n int) {
	c.cycles += uint64(n)
	c.regs[TMR0] += uint8(n)
}

// execute runs in and returns the address of the next instruction.
func (c *Core) execute(in Instruction, next int) int {
	switch in.Op {
	case NOP, CLRWDT, opInvalid:
	case SLEEP:
		c.sleeping = true
		c.setStatus(StatusPD, false)
		c.setStatus(StatusTO, true)

	case MOVWF:
		return c.store(in.F, true, c.w, next)
	case CLRF:
		c.setStatus(StatusZ, true)
		return c.store(in.F, true, 0, next)
	case CLRW:
		c.w = 0
		c.setStatus(StatusZ, true)
	case ADDWF:
		r := c.add(c.read(in.F, next), c.w)
		return c.store(in.F, in.D, r, next)
	case SUBWF:
		r := c.sub(c.read(in.F, next), c.w)
		return c.store(in.F, in.D, r, next)
	case ANDWF:
		return c.store(in.F, in.D, c.zero(c.read(in.F, next)&c.w), next)
	case IORWF:
		return c.store(in.F, in.D, c.zero(c.read(in.F, next)|c.w), next)
	case XORWF:
		return c.store(in.F, in.D, c.zero(c.read(in.F, next)^c.w), next)
	case COMF:
		return c.store(in.F, in.D, c.zero(^c.read(in.F, next)), next)
	case MOVF:
		return c.store(in.F, in.D, c.zero(c.read(in.F, next)), next)
	case INCF:
		return c.store(in.F, in.D, c.zero(c.read(in.F, next)+1), next)
	case DECF:
		return c.store(in.F, in.D, c.zero(c.read(in.F, next)-1), next)
	case INCFSZ, DECFSZ:
		r := c.read(in.F, next) + 1
		if in.Op == DECFSZ {
			r -= 2
		}
		next = c.store(in.F, in.D, r, next)
		if r == 0 {
			return c.skip(next)
		}
		return next
	case RLF:
		v := c.read(in.F, next)
		carry := c.regs[STATUS] & 1
		c.setStatus(StatusC, v&0x80 != 0)
		return c.store(in.F, in.D, v<<1|carry, next)
	case RRF:
		v := c.read(in.F, next)
		carry := c.regs[STATUS] & 1
		c.setStatus(StatusC, v&1 != 0)
		return c.store(in.F, in.D, v>>1|carry<<7, next)
	case SWAPF:
		v := c.read(in.F, next)
		return c.store(in.F, in.D, v<<4|v>>4, next)

	case BCF:
		return c.store(in.F, true, c.read(in.F, next)&^(1<<uint(in.B)), next)
	case BSF:
		return c.store(in.F, true, c.read(in.F, next)|1<<uint(in.B), next)
	case BTFSC:
		if c.read(in.F, next)&(1<<uint(in.B)) == 0 {
			return c.skip(next)
		}
	case BTFSS:
		if c.read(in.F, next)&(1<<uint(in.B)) != 0 {
			return c.skip(next)
		}

	case MOVLW:
		c.w = uint8(in.K)
	case ADDLW:
		c.w = c.add(uint8(in.K), c.w)
	case SUBLW:
		c.w = c.sub(uint8(in.K), c.w)
	case ANDLW:
		c.w = c.zero(uint8(in.K) & c.w)
	case IORLW:
		c.w = c.zero(uint8(in.K) | c.w)
	case XORLW:
		c.w = c.zero(uint8(in.K) ^ c.w)

	case CALL:
		c.stack.push(next)
		c.twoCycles = true
		return c.target(in.K)
	case GOTO:
		c.twoCycles = true
		return c.target(in.K)
	case RETLW:
		c.w = uint8(in.K)
		c.twoCycles = true
		return c.stack.pop()
	case RETURN:
		c.twoCycles = true
		return c.stack.pop()
	case RETFIE:
		c.regs[INTCON] |= 0x80
		c.twoCycles = true
		return c.stack.pop()
	}
	return next
}

// target returns the program memory address of an 11 bit CALL or GOTO
// operand, completed with PCLATH<4:3>.
func (c *Core) target(k int) int {
	return (int(c.regs[PCLATH]&0x18)<<8 | k) % len(c.code)
}

func (c *Core) skip(next int) int {
	c.twoCycles = true
	return next + 1
}

// read returns the value of file register f as seen by an instruction
// whose successor is at next.
func (c *Core) read(f, next int) uint8 {
	if f == INDF {
		if f = int(c.regs[FSR] & 0x7f); f == INDF {
			return 0
		}
	}
	if f == PCL {
		return uint8(next)
	}
	return c.regs[f]
}

// store writes v to W or to file register f and returns the address of the
// next instruction, which changes when PCL is written.
func (c *Core) store(f int, toFile bool, v uint8, next int) int {
	if !toFile {
		c.w = v
		return next
	}
	if f == INDF {
		if f = int(c.regs[FSR] & 0x7f); f == INDF {
			return next
		}
	}
	if f == PCL {
		c.twoCycles = true
		return int(c.regs[PCLATH])<<8 | int(v)
	}
	c.regs[f] = v
	return next
}

func (c *Core) jumpPCL(v uint8) {
	c.pc = (int(c.regs[PCLATH])<<8 | int(v)) % len(c.code)
}

func (c *Core) setStatus(bit uint, set bool) {
	if set {
		c.regs[STATUS] |= 1 << bit
	} else {
		c.regs[STATUS] &^= 1 << bit
	}
}

func (c *Core) zero(v uint8) uint8 {
	c.setStatus(StatusZ, v == 0)
	return v
}

func (c *Core) add(a, b uint8) uint8 {
	r := uint16(a) + uint16(b)
	c.setStatus(StatusC, r > 0xff)
	c.setStatus(StatusDC, a&0xf+b&0xf > 0xf)
	return c.zero(uint8(r))
}

// sub returns a - b. C and DC are set when there is no borrow.
func (c *Core) sub(a, b uint8) uint8 {
	c.setStatus(StatusC, a >= b)
	c.setStatus(StatusDC, a&0xf >= b&0xf)
	return c.zero(a - b)
}

// RegisterName returns the name of the special function register at addr.
func (c *Core) RegisterName(addr int) (string, bool) {
	return SFRName(addr)
}
