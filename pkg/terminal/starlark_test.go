package terminal

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

func writeStarFile(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".star")
	if err := ioutil.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStarlarkExamples(t *testing.T) {
	withTestTerminal("countdown", t, func(term *FakeTerminal) {
		t.Run("create_breakpoint_main", func(t *testing.T) { testStarlarkExampleCreateBreakpoint(t, term) })
		t.Run("count_calls", func(t *testing.T) { testStarlarkExampleCountCalls(t, term) })
		t.Run("echo_expr", func(t *testing.T) { testStarlarkEchoExpr(t, term) })
		t.Run("watch_register", func(t *testing.T) { testStarlarkWatchRegister(t, term) })
	})
}

func testStarlarkExampleCreateBreakpoint(t *testing.T, term *FakeTerminal) {
	path := writeStarFile(t, "create_breakpoint_sub", `
def main():
    for loc in find_location("main.asm:13"):
        create_breakpoint({"File": loc.File, "Line": loc.Line})
`)
	out1 := term.MustExec("source " + path)
	t.Logf("create_breakpoint_sub: %s", out1)
	out2 := term.MustExec("breakpoints")
	t.Logf("breakpoints: %q", out2)
	if !strings.Contains(out2, "main.asm:13") {
		t.Fatalf("create_breakpoint_sub example failed")
	}
	term.MustExec("clearall")
}

func testStarlarkExampleCountCalls(t *testing.T, term *FakeTerminal) {
	path := writeStarFile(t, "count_calls", `
def command_count_calls(args):
    "Counts the calls to the subroutine at a linespec."
    loc = find_location(args)[0]
    bp = create_breakpoint(File=loc.File, Line=loc.Line)
    n = 0
    for i in range(100):
        s = cont()
        if s.Sleeping:
            break
        n = n + 1
    clear_breakpoint(bp.ID)
    print("calls:", n)
`)
	term.MustExec("source " + path)
	term.AssertExec("help count_calls", "Counts the calls to the subroutine at a linespec.\n")
	out := term.MustExec("count_calls main.asm:13")
	if !strings.Contains(out, "calls: 5") {
		t.Fatalf("count_calls example failed: %q", out)
	}
	term.AssertExec("breakpoints", "")
	term.MustExec("reset")
}

func testStarlarkEchoExpr(t *testing.T, term *FakeTerminal) {
	term.MustExecStarlark(`def command_echo_expr(a, b, c):
    print("a", a, "b", b, "c", c)
`)
	out := term.MustExec("echo_expr 2+1, 3, 4")
	if out != "a 3 b 3 c 4\n" {
		t.Fatalf("wrong output %q", out)
	}
	out = term.MustExec(`echo_expr "x", (lambda v: v * 2)(3), [1]`)
	if out != "a x b 6 c [1]\n" {
		t.Fatalf("wrong output %q", out)
	}
}

func testStarlarkWatchRegister(t *testing.T, term *FakeTerminal) {
	out := term.MustExecStarlark(`
watch("GPR_20")
step()
s = step()
print(s.Watched[0].Name, s.Watched[0].Value)
print(register("W").Value)
watch("GPR_20", False)
print(len(state().Watched))
`)
	if out != "GPR_20 5\n5\n0\n" {
		t.Fatalf("wrong output %q", out)
	}
	term.MustExec("reset")
}

func TestStarlarkVariable(t *testing.T) {
	withTestTerminal("countdown", t, func(term *FakeTerminal) {
		term.MustExec("break main.asm:13")
		term.MustExec("continue")
		for _, tc := range []struct{ expr, tgt string }{
			{`print(state().CurrentLine.Line)`, "13"},
			{`print(state().PC)`, "7"},
			{`print(state().StackDepth)`, "1"},
			{`print(state().Breakpoint.ID)`, "1"},
			{`print(state().Mode)`, "asm"},
			{`print(program_info().Processor)`, "pic16f84"},
			{`print(program_info().Words)`, "9"},
			{`print(len(breakpoints()))`, "1"},
			{`print(get_breakpoint(1).Line)`, "13"},
			{`print(corresponding_line(state().CurrentLine.File, 13).Line)`, "8"},
			{`print(len(sources("\\.c$")))`, "1"},
			{`print(disassemble(0, 2)[1].Text)`, "MOVWF 0x20"},
			{`print(len(registers()) > 10)`, "True"},
		} {
			out := strings.TrimSpace(term.MustExecStarlark(tc.expr))
			if out != tc.tgt {
				t.Errorf("for %q\nexpected\n%s\ngot\n%s", tc.expr, tc.tgt, out)
			}
		}
		term.MustExecStarlark(`set_mode("hll")`)
		term.AssertExec("mode", "Debug mode is hll\n")
		if out := strings.TrimSpace(term.MustExecStarlark(`print(state().CurrentLine.Line)`)); out != "8" {
			t.Errorf("expected line 8 in hll mode, got %q", out)
		}
	})
}

func TestStarlarkErrors(t *testing.T) {
	withTestTerminal("countdown", t, func(term *FakeTerminal) {
		for _, expr := range []string{
			`clear_breakpoint(42)`,
			`find_location("nofile.c:3")`,
			`register("R99")`,
			`set_mode("c++")`,
			`dbg_command(1)`,
		} {
			if _, err := term.ExecStarlark(expr); err == nil {
				t.Errorf("expected error executing %q", expr)
			}
		}
		if _, err := term.ExecStarlark(`get_breakpoint(42)`); err == nil || !strings.Contains(err.Error(), "no breakpoint with id 42") {
			t.Errorf("wrong error for a missing breakpoint: %v", err)
		}
	})
}

func TestStarlarkDbgCommand(t *testing.T) {
	withTestTerminal("countdown", t, func(term *FakeTerminal) {
		out := term.MustExecStarlark(`dbg_command("break", "main.asm:13")`)
		if !strings.Contains(out, "Breakpoint 1 set at 0x07") {
			t.Fatalf("wrong output %q", out)
		}
		out = term.MustExecStarlark(`dbg_command("continue")`)
		if !strings.Contains(out, "main.asm:13 (PC: 0x07)") {
			t.Fatalf("wrong output %q", out)
		}
	})
}

func TestStarlarkFiles(t *testing.T) {
	withTestTerminal("countdown", t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "out.txt")
		term.MustExecStarlark(fmt.Sprintf(`write_file(%q, "W=" + str(register("W").Value))`, path))
		out := term.MustExecStarlark(fmt.Sprintf(`print(read_file(%q))`, path))
		if out != "W=0\n" {
			t.Fatalf("wrong output %q", out)
		}
	})
}
