// Package test builds the programs used by the tests of the debugger
// service and its frontends.
package test

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/picdbg/picdbg/pkg/sim"
)

// Fixture is a program written to disk by BuildFixture.
type Fixture struct {
	// Name is the name of the fixture.
	Name string
	// Path is the symbol file.
	Path string
	// Asm is the assembly listing.
	Asm string
	// Source is the HLL source the listing was generated from.
	Source string
	// Dir is the directory containing all of the above.
	Dir string
}

// CountdownAsm is the listing of the "countdown" fixture. main.c:4 calls
// the subroutine at main.asm:13 five times and then the core goes to sleep
// at main.asm:10.
const CountdownAsm = `	list p=16f84
;#CSRC main.c 3
	movlw 5
	movwf 0x20
;#CSRC main.c 4
loop:	call sub
	decfsz 0x20, f
	goto loop
;#CSRC main.c 5
	sleep
	goto $-1
;#CSRC main.c 8
sub:	incf 0x21, f
	return
`

// CountdownSource is the HLL source of the "countdown" fixture.
const CountdownSource = `void sub(void);
void main(void) {
	unsigned char n = 5;
	do sub(); while (--n);
	sleep();
}
void sub(void) {
	count++;
}
`

type fixtureInstr struct {
	line     int
	op       string
	operands []int
}

var countdown = []fixtureInstr{
	{3, "MOVLW", []int{5}},
	{4, "MOVWF", []int{0x20}},
	{6, "CALL", []int{7}},
	{7, "DECFSZ", []int{0x20, 1}},
	{8, "GOTO", []int{2}},
	{10, "SLEEP", nil},
	{11, "GOTO", []int{5}},
	{13, "INCF", []int{0x21, 1}},
	{14, "RETURN", nil},
}

// SpinAsm is the listing of the "spin" fixture, a loop that never ends.
const SpinAsm = `	list p=16f84
;#CSRC main.c 3
loop:	incf 0x20, f
	goto loop
`

// SpinSource is the HLL source of the "spin" fixture.
const SpinSource = `void main(void) {
	for (;;)
		count++;
}
`

var spin = []fixtureInstr{
	{3, "INCF", []int{0x20, 1}},
	{4, "GOTO", []int{0}},
}

type fixtureDef struct {
	code        []fixtureInstr
	asm, source string
}

var fixtures = map[string]fixtureDef{
	"countdown": {countdown, CountdownAsm, CountdownSource},
	"spin":      {spin, SpinAsm, SpinSource},
}

// Countdown addresses.
const (
	CountdownCallAddr  = 2
	CountdownLoopAddr  = 3
	CountdownSleepAddr = 5
	CountdownSubAddr   = 7
)

// BuildFixture writes the fixture called name into a temporary directory
// and returns it. The fixtures are "countdown" and "spin".
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	def, ok := fixtures[name]
	if !ok {
		t.Fatalf("unknown fixture %q", name)
	}
	dir := t.TempDir()
	f := Fixture{
		Name:   name,
		Path:   filepath.Join(dir, "main.sym"),
		Asm:    filepath.Join(dir, "main.asm"),
		Source: filepath.Join(dir, "main.c"),
		Dir:    dir,
	}

	var code, lines []string
	for addr, in := range def.code {
		w, err := sim.Encode(in.op, in.operands...)
		if err != nil {
			t.Fatalf("%s: %v", in.op, err)
		}
		code = append(code, fmt.Sprintf("%#04x", w))
		lines = append(lines, fmt.Sprintf("  - {file: main.asm, line: %d, start: %d, end: %d}", in.line, addr, addr+1))
	}
	sym := fmt.Sprintf("processor: pic16f84\nprogram-memory-size: 64\ncode: [%s]\nlines:\n%s\nsources: [main.asm]\n",
		strings.Join(code, ", "), strings.Join(lines, "\n"))

	for path, content := range map[string]string{f.Path: sym, f.Asm: def.asm, f.Source: def.source} {
		if err := ioutil.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return f
}
