package terminal

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/picdbg/picdbg/service/api"
)

func disasmPrint(dv api.AsmInstructions, out io.Writer) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	defer tw.Flush()
	for _, inst := range dv {
		atbp := ""
		if inst.Breakpoint {
			atbp = "*"
		}
		atpc := ""
		if inst.AtPC {
			atpc = "=>"
		}
		loc := "?"
		if inst.Loc.File != "" {
			loc = fmt.Sprintf("%s:%d", filepath.Base(inst.Loc.File), inst.Loc.Line)
		}
		operand := ""
		if inst.Operand != "" {
			operand = "; " + inst.Operand
		}
		fmt.Fprintf(tw, "%s\t%s\t%#02x%s\t%04x\t%s\t%s\n", atpc, loc, inst.Loc.PC, atbp, inst.Word, inst.Text, operand)
	}
}
