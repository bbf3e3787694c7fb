package colorize_test

import (
	"bytes"
	"testing"

	"github.com/picdbg/picdbg/pkg/terminal/colorize"
)

var colors = map[colorize.Style]string{
	colorize.NormalStyle:  "<n>",
	colorize.KeywordStyle: "<k>",
	colorize.StringStyle:  "<s>",
	colorize.NumberStyle:  "<d>",
	colorize.CommentStyle: "<c>",
	colorize.LineNoStyle:  "<l>",
	colorize.ArrowStyle:   "<a>",
	colorize.TabStyle:     "<t>",
}

func TestPrintAsm(t *testing.T) {
	lines := []string{
		"loop:\tcall sub ; again",
		"\tmovlw h'1f'",
	}
	var buf bytes.Buffer
	if err := colorize.Print(&buf, "main.asm", lines, 1, 3, 2, colors, ""); err != nil {
		t.Fatal(err)
	}
	tgt := "<a>  <l>   1:\t<n>loop:<t>\t<k>call<n> sub <c>; again<n>\n" +
		"<a>=><l>   2:\t<t>\t<k>movlw<n> <d>h'1f'<n>\n"
	if buf.String() != tgt {
		t.Fatalf("got\n%q\nexpected\n%q", buf.String(), tgt)
	}
}

func TestPrintC(t *testing.T) {
	lines := []string{
		"void sub(void) {",
		`	count++; /* x */ puts("5");`,
	}
	var buf bytes.Buffer
	if err := colorize.Print(&buf, "main.c", lines, 1, 10, 0, colors, "    "); err != nil {
		t.Fatal(err)
	}
	tgt := "<a>  <l>   1:\t<k>void<n> sub(<k>void<n>) {\n" +
		"<a>  <l>   2:\t<t>    <n>count++; <c>/* x */<n> puts(<s>\"5\"<n>);\n"
	if buf.String() != tgt {
		t.Fatalf("got\n%q\nexpected\n%q", buf.String(), tgt)
	}
}

func TestPrintNoColors(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	var buf bytes.Buffer
	if err := colorize.Print(&buf, "notes.txt", lines, 0, 3, 2, nil, ""); err != nil {
		t.Fatal(err)
	}
	tgt := "     1:\ta\n=>   2:\tb\n"
	if buf.String() != tgt {
		t.Fatalf("got %q expected %q", buf.String(), tgt)
	}
}
