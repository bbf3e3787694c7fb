package sim

import (
	"fmt"
	"strings"

	"github.com/picdbg/picdbg/pkg/proc"
)

// Op is a mid-range instruction mnemonic.
type Op uint8

const (
	opInvalid Op = iota

	// byte oriented file register operations
	ADDWF
	ANDWF
	CLRF
	CLRW
	COMF
	DECF
	DECFSZ
	INCF
	INCFSZ
	IORWF
	MOVF
	MOVWF
	NOP
	RLF
	RRF
	SUBWF
	SWAPF
	XORWF

	// bit oriented file register operations
	BCF
	BSF
	BTFSC
	BTFSS

	// literal and control operations
	ADDLW
	ANDLW
	CALL
	CLRWDT
	GOTO
	IORLW
	MOVLW
	RETFIE
	RETLW
	RETURN
	SLEEP
	SUBLW
	XORLW
)

// operand layouts
const (
	fmtNone = iota
	fmtF    // f
	fmtFD   // f, d
	fmtFB   // f, b
	fmtK8   // k (8 bit)
	fmtK11  // k (11 bit)
)

type opInfo struct {
	name   string
	format int
	// base is the encoding with every operand bit clear.
	base uint16
}

var opTable = [...]opInfo{
	opInvalid: {"???", fmtNone, 0},
	ADDWF:     {"ADDWF", fmtFD, 0x0700},
	ANDWF:     {"ANDWF", fmtFD, 0x0500},
	CLRF:      {"CLRF", fmtF, 0x0180},
	CLRW:      {"CLRW", fmtNone, 0x0100},
	COMF:      {"COMF", fmtFD, 0x0900},
	DECF:      {"DECF", fmtFD, 0x0300},
	DECFSZ:    {"DECFSZ", fmtFD, 0x0b00},
	INCF:      {"INCF", fmtFD, 0x0a00},
	INCFSZ:    {"INCFSZ", fmtFD, 0x0f00},
	IORWF:     {"IORWF", fmtFD, 0x0400},
	MOVF:      {"MOVF", fmtFD, 0x0800},
	MOVWF:     {"MOVWF", fmtF, 0x0080},
	NOP:       {"NOP", fmtNone, 0x0000},
	RLF:       {"RLF", fmtFD, 0x0d00},
	RRF:       {"RRF", fmtFD, 0x0c00},
	SUBWF:     {"SUBWF", fmtFD, 0x0200},
	SWAPF:     {"SWAPF", fmtFD, 0x0e00},
	XORWF:     {"XORWF", fmtFD, 0x0600},
	BCF:       {"BCF", fmtFB, 0x1000},
	BSF:       {"BSF", fmtFB, 0x1400},
	BTFSC:     {"BTFSC", fmtFB, 0x1800},
	BTFSS:     {"BTFSS", fmtFB, 0x1c00},
	ADDLW:     {"ADDLW", fmtK8, 0x3e00},
	ANDLW:     {"ANDLW", fmtK8, 0x3900},
	CALL:      {"CALL", fmtK11, 0x2000},
	CLRWDT:    {"CLRWDT", fmtNone, 0x0064},
	GOTO:      {"GOTO", fmtK11, 0x2800},
	IORLW:     {"IORLW", fmtK8, 0x3800},
	MOVLW:     {"MOVLW", fmtK8, 0x3000},
	RETFIE:    {"RETFIE", fmtNone, 0x0009},
	RETLW:     {"RETLW", fmtK8, 0x3400},
	RETURN:    {"RETURN", fmtNone, 0x0008},
	SLEEP:     {"SLEEP", fmtNone, 0x0063},
	SUBLW:     {"SUBLW", fmtK8, 0x3c00},
	XORLW:     {"XORLW", fmtK8, 0x3a00},
}

func (op Op) String() string {
	if int(op) >= len(opTable) {
		return opTable[opInvalid].name
	}
	return opTable[op].name
}

// Type classifies op by its operand.
func (op Op) Type() proc.InstructionType {
	if int(op) >= len(opTable) {
		return proc.UnknownOp
	}
	switch opTable[op].format {
	case fmtF, fmtFD:
		return proc.RegisterOp
	case fmtFB:
		return proc.BitOp
	case fmtK8, fmtK11:
		return proc.LiteralOp
	}
	return proc.UnknownOp
}

// Instruction is a decoded instruction word.
type Instruction struct {
	Op   Op
	F    int  // file register address
	D    bool // destination is the file register rather than W
	B    int  // bit number
	K    int  // literal
	Word uint16
}

// Decode decodes a 14 bit instruction word.
func Decode(w uint16) Instruction {
	w &= 0x3fff
	in := Instruction{Word: w}
	f := int(w & 0x7f)
	d := w&0x80 != 0

	switch w >> 12 {
	case 0x0:
		sub := (w >> 8) & 0xf
		switch sub {
		case 0x0:
			switch {
			case d:
				in.Op, in.F = MOVWF, f
			case w == 0x0008:
				in.Op = RETURN
			case w == 0x0009:
				in.Op = RETFIE
			case w == 0x0063:
				in.Op = SLEEP
			case w == 0x0064:
				in.Op = CLRWDT
			case w&0x9f == 0:
				in.Op = NOP
			}
			return in
		case 0x1:
			if d {
				in.Op, in.F = CLRF, f
			} else {
				in.Op = CLRW
			}
			return in
		}
		in.Op = [...]Op{0x2: SUBWF, 0x3: DECF, 0x4: IORWF, 0x5: ANDWF, 0x6: XORWF, 0x7: ADDWF,
			0x8: MOVF, 0x9: COMF, 0xa: INCF, 0xb: DECFSZ, 0xc: RRF, 0xd: RLF, 0xe: SWAPF, 0xf: INCFSZ}[sub]
		in.F, in.D = f, d
	case 0x1:
		in.Op = [...]Op{BCF, BSF, BTFSC, BTFSS}[(w>>10)&3]
		in.F, in.B = f, int((w>>7)&7)
	case 0x2:
		if w&0x0800 == 0 {
			in.Op = CALL
		} else {
			in.Op = GOTO
		}
		in.K = int(w & 0x7ff)
	case 0x3:
		in.K = int(w & 0xff)
		switch sub := (w >> 8) & 0xf; {
		case sub < 0x4:
			in.Op = MOVLW
		case sub < 0x8:
			in.Op = RETLW
		case sub == 0x8:
			in.Op = IORLW
		case sub == 0x9:
			in.Op = ANDLW
		case sub == 0xa:
			in.Op = XORLW
		case sub == 0xc || sub == 0xd:
			in.Op = SUBLW
		case sub >= 0xe:
			in.Op = ADDLW
		default:
			in.K = 0
		}
	}
	return in
}

// Encode returns the instruction word for mnemonic with the given operands,
// in the order they are written in assembly: f, d for byte operations, f, b
// for bit operations and k for literal operations.
func Encode(mnemonic string, operands ...int) (uint16, error) {
	op := lookupOp(mnemonic)
	if op == opInvalid {
		return 0, fmt.Errorf("unknown instruction %q", mnemonic)
	}
	info := opTable[op]
	want := map[int]int{fmtNone: 0, fmtF: 1, fmtFD: 2, fmtFB: 2, fmtK8: 1, fmtK11: 1}[info.format]
	if len(operands) != want {
		return 0, fmt.Errorf("%s takes %d operands, got %d", info.name, want, len(operands))
	}
	w := info.base
	switch info.format {
	case fmtF:
		w |= uint16(operands[0] & 0x7f)
	case fmtFD:
		w |= uint16(operands[0] & 0x7f)
		if operands[1] != 0 {
			w |= 0x80
		}
	case fmtFB:
		if operands[1] < 0 || operands[1] > 7 {
			return 0, fmt.Errorf("bit number %d out of range", operands[1])
		}
		w |= uint16(operands[0]&0x7f) | uint16(operands[1])<<7
	case fmtK8:
		w |= uint16(operands[0] & 0xff)
	case fmtK11:
		w |= uint16(operands[0] & 0x7ff)
	}
	return w, nil
}

func lookupOp(mnemonic string) Op {
	mnemonic = strings.ToUpper(mnemonic)
	for op := range opTable {
		if op != int(opInvalid) && opTable[op].name == mnemonic {
			return Op(op)
		}
	}
	return opInvalid
}

// Disassemble returns the assembly text of in. File register operands are
// shown by name when they are special function registers.
func (in Instruction) Disassemble() string {
	info := opTable[in.Op]
	dest := "w"
	if in.D {
		dest = "f"
	}
	switch info.format {
	case fmtF:
		return fmt.Sprintf("%s %s", info.name, regName(in.F))
	case fmtFD:
		return fmt.Sprintf("%s %s, %s", info.name, regName(in.F), dest)
	case fmtFB:
		return fmt.Sprintf("%s %s, %d", info.name, regName(in.F), in.B)
	case fmtK8:
		return fmt.Sprintf("%s %#02x", info.name, in.K)
	case fmtK11:
		return fmt.Sprintf("%s %#02x", info.name, in.K)
	}
	if in.Op == opInvalid {
		return fmt.Sprintf("DW %#04x", in.Word)
	}
	return info.name
}

func regName(f int) string {
	if name, ok := SFRName(f); ok {
		return name
	}
	return fmt.Sprintf("%#02x", f)
}
