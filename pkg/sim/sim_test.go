package sim_test

import (
	"testing"

	"github.com/picdbg/picdbg/pkg/proc"
	"github.com/picdbg/picdbg/pkg/sim"
)

type asm struct {
	op       string
	operands []int
}

func ins(op string, operands ...int) asm {
	return asm{op, operands}
}

func assemble(t *testing.T, prog ...asm) []uint16 {
	t.Helper()
	code := make([]uint16, len(prog))
	for i, a := range prog {
		w, err := sim.Encode(a.op, a.operands...)
		if err != nil {
			t.Fatalf("%d: %v", i, err)
		}
		code[i] = w
	}
	return code
}

func newCore(t *testing.T, prog ...asm) *sim.Core {
	t.Helper()
	c, err := sim.New(64, assemble(t, prog...))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func status(c *sim.Core, bit uint) bool {
	return c.ReadRegister(sim.STATUS)&(1<<bit) != 0
}

func TestNewProgramTooLarge(t *testing.T) {
	if _, err := sim.New(2, []uint16{0, 0, 0}); err == nil {
		t.Fatalf("expected error for a program larger than program memory")
	}
	if _, err := sim.New(0, nil); err == nil {
		t.Fatalf("expected error for empty program memory")
	}
}

func TestCountdownLoop(t *testing.T) {
	c := newCore(t,
		ins("MOVLW", 0x05),
		ins("ADDLW", 0x03),
		ins("MOVWF", 0x20),
		ins("DECFSZ", 0x20, 1),
		ins("GOTO", 3),
		ins("SLEEP"))

	for i := 0; i < 100 && c.PC() != 5; i++ {
		c.Step()
	}
	if c.PC() != 5 {
		t.Fatalf("expected loop to exit to 5; pc %d", c.PC())
	}
	if v := c.ReadRegister(0x20); v != 0 {
		t.Fatalf("expected counter 0; got %d", v)
	}
	if c.Cycles() != 26 {
		t.Fatalf("expected 26 cycles; got %d", c.Cycles())
	}
	c.Step()
	if !c.Sleeping() || status(c, sim.StatusPD) {
		t.Fatalf("expected core asleep with PD clear")
	}
	pc := c.PC()
	c.Step()
	if c.PC() != pc {
		t.Fatalf("expected sleeping core not to advance")
	}
}

func TestCallReturn(t *testing.T) {
	c := newCore(t,
		ins("CALL", 4),
		ins("MOVWF", 0x21),
		ins("SLEEP"),
		ins("NOP"),
		ins("RETLW", 0x2a))

	c.Step()
	if c.PC() != 4 || c.StackDepth() != 1 || !c.MultiCycleTail() {
		t.Fatalf("after CALL: pc %d depth %d tail %v", c.PC(), c.StackDepth(), c.MultiCycleTail())
	}
	c.Step()
	if c.PC() != 1 || c.StackDepth() != 0 || c.W() != 0x2a || !c.MultiCycleTail() {
		t.Fatalf("after RETLW: pc %d depth %d w %#x", c.PC(), c.StackDepth(), c.W())
	}
	c.Step()
	if c.MultiCycleTail() {
		t.Fatalf("expected MOVWF to take one cycle")
	}
	if v := c.ReadRegister(0x21); v != 0x2a {
		t.Fatalf("expected 0x2a in 0x21; got %#x", v)
	}
}

func TestStackWrapsAtEightLevels(t *testing.T) {
	prog := make([]asm, 10)
	for i := 0; i < 9; i++ {
		prog[i] = ins("CALL", i+1)
	}
	prog[9] = ins("RETURN")
	c := newCore(t, prog...)
	for i := 0; i < 9; i++ {
		c.Step()
	}
	if c.StackDepth() != sim.StackSize {
		t.Fatalf("expected depth %d; got %d", sim.StackSize, c.StackDepth())
	}
	c.Step()
	if c.PC() != 9 || c.StackDepth() != sim.StackSize-1 {
		t.Fatalf("expected return to 9 at depth 7; pc %d depth %d", c.PC(), c.StackDepth())
	}
}

func TestArithmeticFlags(t *testing.T) {
	c := newCore(t,
		ins("MOVLW", 0x10),
		ins("SUBLW", 0x08),
		ins("ADDLW", 0x08))

	c.Step()
	c.Step()
	if c.W() != 0xf8 || status(c, sim.StatusC) {
		t.Fatalf("expected borrow: w %#x C %v", c.W(), status(c, sim.StatusC))
	}
	c.Step()
	if c.W() != 0 || !status(c, sim.StatusC) || !status(c, sim.StatusZ) || !status(c, sim.StatusDC) {
		t.Fatalf("expected carry out: w %#x status %#08b", c.W(), c.ReadRegister(sim.STATUS))
	}
}

func TestBitTestSkip(t *testing.T) {
	c := newCore(t,
		ins("MOVLW", 0x01),
		ins("MOVWF", sim.PORTB),
		ins("BTFSS", sim.PORTB, 0),
		ins("GOTO", 0),
		ins("BCF", sim.PORTB, 0),
		ins("BTFSC", sim.PORTB, 0),
		ins("GOTO", 0),
		ins("NOP"))

	for i := 0; i < 3; i++ {
		c.Step()
	}
	if c.PC() != 4 || !c.MultiCycleTail() {
		t.Fatalf("expected taken skip to 4; pc %d", c.PC())
	}
	c.Step()
	c.Step()
	if c.PC() != 7 || c.ReadRegister(sim.PORTB) != 0 {
		t.Fatalf("expected taken skip to 7; pc %d", c.PC())
	}
}

func TestComputedGoto(t *testing.T) {
	c := newCore(t,
		ins("MOVLW", 0x02),
		ins("ADDWF", sim.PCL, 1),
		ins("RETLW", 1),
		ins("RETLW", 2),
		ins("RETLW", 3))

	c.Step()
	c.Step()
	if c.PC() != 4 || !c.MultiCycleTail() {
		t.Fatalf("expected jump to 4; pc %d", c.PC())
	}
}

func TestIndirectAddressing(t *testing.T) {
	c := newCore(t,
		ins("MOVLW", 0x30),
		ins("MOVWF", sim.FSR),
		ins("MOVLW", 0x55),
		ins("MOVWF", sim.INDF),
		ins("INCF", sim.INDF, 0))

	for i := 0; i < 5; i++ {
		c.Step()
	}
	if v := c.ReadRegister(0x30); v != 0x55 {
		t.Fatalf("expected 0x55 at 0x30; got %#x", v)
	}
	if c.W() != 0x56 {
		t.Fatalf("expected w 0x56; got %#x", c.W())
	}
}

func TestReset(t *testing.T) {
	c := newCore(t, ins("MOVLW", 0x01), ins("MOVWF", 0x20), ins("CALL", 0))
	for i := 0; i < 3; i++ {
		c.Step()
	}
	c.Reset()
	if c.PC() != 0 || c.W() != 0 || c.StackDepth() != 0 || c.ReadRegister(0x20) != 0 || c.Cycles() != 0 {
		t.Fatalf("expected power-on state after reset")
	}
	if !status(c, sim.StatusTO) || !status(c, sim.StatusPD) {
		t.Fatalf("expected TO and PD set after reset")
	}
	if c.Word(1) == 0 {
		t.Fatalf("expected program memory to survive reset")
	}
}

func TestClassification(t *testing.T) {
	c := newCore(t,
		ins("MOVLW", 0x2a),
		ins("BSF", sim.STATUS, 5),
		ins("ADDWF", 0x20, 1),
		ins("NOP"),
		ins("CALL", 0x10),
		ins("GOTO", 0x123),
		ins("CALL", 7))

	for _, tc := range []struct {
		addr   int
		typ    proc.InstructionType
		reg    int
		hasReg bool
		lit    int
		hasLit bool
		disasm string
	}{
		{0, proc.LiteralOp, 0, false, 0x2a, true, "MOVLW 0x2a"},
		{1, proc.BitOp, sim.STATUS, true, 0, false, "BSF STATUS, 5"},
		{2, proc.RegisterOp, 0x20, true, 0, false, "ADDWF 0x20, f"},
		{3, proc.UnknownOp, 0, false, 0, false, "NOP"},
		{4, proc.LiteralOp, 0, false, 0x10, true, "CALL 0x10"},
		{5, proc.LiteralOp, 0, false, 0x123, true, "GOTO 0x123"},
		{6, proc.LiteralOp, 0, false, 7, true, "CALL 0x07"},
	} {
		if typ := c.InstructionType(tc.addr); typ != tc.typ {
			t.Errorf("InstructionType(%d) = %s; want %s", tc.addr, typ, tc.typ)
		}
		if reg, ok := c.OperandRegister(tc.addr); reg != tc.reg || ok != tc.hasReg {
			t.Errorf("OperandRegister(%d) = %d, %v", tc.addr, reg, ok)
		}
		if lit, ok := c.OperandLiteral(tc.addr); lit != tc.lit || ok != tc.hasLit {
			t.Errorf("OperandLiteral(%d) = %d, %v", tc.addr, lit, ok)
		}
		if s := c.Disassemble(tc.addr); s != tc.disasm {
			t.Errorf("Disassemble(%d) = %q; want %q", tc.addr, s, tc.disasm)
		}
	}
	if c.InstructionType(1000) != proc.UnknownOp {
		t.Errorf("expected out of range address to be unknown")
	}
}

func TestDecodeUnknownWord(t *testing.T) {
	in := sim.Decode(0x3b00)
	if in.Op.Type() != proc.UnknownOp {
		t.Fatalf("expected unknown op; got %s", in.Op)
	}
	if s := in.Disassemble(); s != "DW 0x3b00" {
		t.Fatalf("unexpected disassembly %q", s)
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := sim.Encode("FOO"); err == nil {
		t.Errorf("expected error for unknown mnemonic")
	}
	if _, err := sim.Encode("MOVLW"); err == nil {
		t.Errorf("expected error for missing operand")
	}
	if _, err := sim.Encode("BSF", 0x20, 9); err == nil {
		t.Errorf("expected error for bit number out of range")
	}
	if w, err := sim.Encode("movlw", 0xff); err != nil || w != 0x30ff {
		t.Errorf("Encode(movlw 0xff) = %#x, %v", w, err)
	}
}
