package debugger

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/picdbg/picdbg/pkg/proc"
	"github.com/picdbg/picdbg/service/api"
)

const maxFindLocationCandidates = 5

// LocationSpec is a parsed location expression.
type LocationSpec interface {
	Find(d *Debugger, dbg *proc.Debugger, locStr string) ([]api.Location, error)
}

// NormalLocationSpec is a file:line location.
type NormalLocationSpec struct {
	Base       string
	LineOffset int
}

// AddrLocationSpec is a program address, as in *0x1f.
type AddrLocationSpec struct {
	AddrExpr string
}

// OffsetLocationSpec is a line relative to the current line, as in +3.
type OffsetLocationSpec struct {
	Offset int
}

// LineLocationSpec is a line of the current file.
type LineLocationSpec struct {
	Line int
}

func parseLocationSpec(locStr string) (LocationSpec, error) {
	rest := locStr

	malformed := func(reason string) error {
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	if len(rest) <= 0 {
		return nil, malformed("empty string")
	}

	switch rest[0] {
	case '+', '-':
		offset, err := strconv.Atoi(rest)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &OffsetLocationSpec{offset}, nil

	case '*':
		return &AddrLocationSpec{rest[1:]}, nil

	default:
		return parseLocationSpecDefault(locStr, rest)
	}
}

func parseLocationSpecDefault(locStr, rest string) (LocationSpec, error) {
	malformed := func(reason string) error {
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	v := strings.Split(rest, ":")
	if len(v) > 2 {
		// On Windows, path may contain ":", so split only on last ":"
		v = []string{strings.Join(v[0:len(v)-1], ":"), v[len(v)-1]}
	}

	if len(v) == 1 {
		n, err := strconv.ParseInt(v[0], 0, 64)
		if err == nil {
			return &LineLocationSpec{int(n)}, nil
		}
		return nil, malformed("no line number specified")
	}

	spec := &NormalLocationSpec{Base: v[0]}
	var err error
	spec.LineOffset, err = strconv.Atoi(v[1])
	if err != nil || spec.LineOffset <= 0 {
		rest = v[1]
		return nil, malformed("line number not positive or not a number")
	}
	return spec, nil
}

// ErrCouldNotFindLine is returned when a source line has no program
// address.
type ErrCouldNotFindLine struct {
	File string
	Line int
}

func (err *ErrCouldNotFindLine) Error() string {
	return fmt.Sprintf("could not find %s:%d", err.File, err.Line)
}

// AmbiguousLocationError is returned when a location expression matches
// more than one source file.
type AmbiguousLocationError struct {
	Location         string
	CandidatesString []string
}

func (ale AmbiguousLocationError) Error() string {
	return fmt.Sprintf("Location \"%s\" ambiguous: %s...", ale.Location, strings.Join(ale.CandidatesString, ", "))
}

func partialPathMatch(expr, path string) bool {
	if runtime.GOOS == "windows" {
		// Accept `expr` which is case-insensitive and slash-insensitive match to `path`
		expr = strings.ToLower(filepath.ToSlash(expr))
		path = strings.ToLower(filepath.ToSlash(path))
	}
	if len(expr) < len(path)-1 {
		return strings.HasSuffix(path, expr) && (path[len(path)-len(expr)-1] == '/')
	}
	return expr == path
}

// findFile returns the source file of the program that name designates.
func (d *Debugger) findFile(name string) (string, error) {
	var candidates []string
	for _, file := range d.proc.SourceFiles() {
		if file == name {
			return file, nil
		}
		if partialPathMatch(name, file) {
			candidates = append(candidates, file)
			if len(candidates) >= maxFindLocationCandidates {
				break
			}
		}
	}
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("could not find file %s", name)
	case 1:
		return candidates[0], nil
	}
	return "", AmbiguousLocationError{Location: name, CandidatesString: candidates}
}

func fileLineLocation(dbg *proc.Debugger, file string, line int) ([]api.Location, error) {
	addr, ok := dbg.ProgramAddress(file, line)
	if !ok {
		return nil, &ErrCouldNotFindLine{File: file, Line: line}
	}
	return []api.Location{{PC: addr, File: file, Line: line}}, nil
}

func (loc *NormalLocationSpec) Find(d *Debugger, dbg *proc.Debugger, locStr string) ([]api.Location, error) {
	file, err := d.findFile(loc.Base)
	if err != nil {
		if _, ambiguous := err.(AmbiguousLocationError); ambiguous {
			return nil, err
		}
		return nil, fmt.Errorf("Location \"%s\" not found", locStr)
	}
	return fileLineLocation(dbg, file, loc.LineOffset)
}

func (loc *AddrLocationSpec) Find(d *Debugger, dbg *proc.Debugger, locStr string) ([]api.Location, error) {
	addr, err := strconv.ParseInt(loc.AddrExpr, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse address %q: %v", loc.AddrExpr, err)
	}
	if addr < 0 || int(addr) >= d.proc.ProgramMemorySize() {
		return nil, fmt.Errorf("address %#x outside of program memory", addr)
	}
	sl, ok := dbg.LineAt(int(addr))
	if !ok {
		return nil, fmt.Errorf("no source line at address %#x", addr)
	}
	return []api.Location{{PC: int(addr), File: sl.File, Line: sl.Line}}, nil
}

func (loc *OffsetLocationSpec) Find(d *Debugger, dbg *proc.Debugger, locStr string) ([]api.Location, error) {
	cur, ok := dbg.CurrentLine()
	if !ok {
		return nil, fmt.Errorf("could not determine current location")
	}
	return fileLineLocation(dbg, cur.File, cur.Line+loc.Offset)
}

func (loc *LineLocationSpec) Find(d *Debugger, dbg *proc.Debugger, locStr string) ([]api.Location, error) {
	cur, ok := dbg.CurrentLine()
	if !ok {
		return nil, fmt.Errorf("could not determine current location")
	}
	return fileLineLocation(dbg, cur.File, loc.Line)
}
