package symfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/picdbg/picdbg/pkg/debugline"
)

// MarkerPrefix starts the comments a compiler inserts in the assembly it
// generates to name the source line the following instructions come from,
// as in ";#CSRC main.c 12".
const MarkerPrefix = ";#CSRC"

// ParseMarker parses a line marker. The file name is returned as written.
func ParseMarker(text string) (file string, line int, ok bool) {
	i := strings.Index(text, MarkerPrefix)
	if i < 0 {
		return "", 0, false
	}
	fields := strings.Fields(text[i+len(MarkerPrefix):])
	if len(fields) < 2 {
		return "", 0, false
	}
	line, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || line <= 0 {
		return "", 0, false
	}
	return strings.Join(fields[:len(fields)-1], " "), line, true
}

// ScanMarkers reads the assembly file asmFile and associates every line
// listed in bound that follows a marker with the source line named by the
// marker, up to the next marker. Relative marker file names are resolved
// against the directory of asmFile.
func ScanMarkers(asmFile string, bound map[debugline.SourceLine]bool) ([]debugline.Association, error) {
	fh, err := os.Open(asmFile)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var (
		r       []debugline.Association
		current *debugline.SourceLine
		dir     = filepath.Dir(asmFile)
	)
	s := bufio.NewScanner(fh)
	for lineno := 1; s.Scan(); lineno++ {
		if file, line, ok := ParseMarker(s.Text()); ok {
			current = &debugline.SourceLine{File: resolve(dir, file), Line: line}
			continue
		}
		asm := debugline.SourceLine{File: asmFile, Line: lineno}
		if current != nil && bound[asm] {
			r = append(r, debugline.Association{Source: *current, Assembly: asm})
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", asmFile, err)
	}
	return r, nil
}
