// Package symfile loads the symbol files describing a program for the
// simulator: its machine code, the assembly line that generated every
// address range and the high level language lines behind them.
package symfile

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/picdbg/picdbg/pkg/debugline"
	"github.com/picdbg/picdbg/pkg/logflags"
	"github.com/picdbg/picdbg/pkg/proc"
)

// LoadStatus is the outcome of loading a symbol file.
type LoadStatus uint8

const (
	Success LoadStatus = iota
	FileNotFound
	UnrecognizedProcessor
	FileNameTooLong
	ListingNotFound
	BadFile
	FileUnreadable
	Failure
	Unknown
)

func (s LoadStatus) String() string {
	switch s {
	case Success:
		return "success"
	case FileNotFound:
		return "file not found"
	case UnrecognizedProcessor:
		return "unrecognized processor"
	case FileNameTooLong:
		return "file name too long"
	case ListingNotFound:
		return "listing not found"
	case BadFile:
		return "bad file"
	case FileUnreadable:
		return "file unreadable"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// LoadError is returned by Load for every status other than Success.
type LoadError struct {
	Status LoadStatus
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("could not load %s: %s", e.Path, e.Status)
	}
	return fmt.Sprintf("could not load %s: %s: %v", e.Path, e.Status, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Status returns the load status carried by err: Success for nil, the
// status of a *LoadError and Unknown for any other error.
func Status(err error) LoadStatus {
	if err == nil {
		return Success
	}
	var lerr *LoadError
	if errors.As(err, &lerr) {
		return lerr.Status
	}
	return Unknown
}

// maxFileNameLen is the longest file name accepted for a symbol file.
const maxFileNameLen = 255

// processors lists the supported processors and their program memory size.
var processors = map[string]int{
	"pic16f84":   1024,
	"pic16f84a":  1024,
	"pic16f627":  1024,
	"pic16f627a": 1024,
	"pic16f628":  2048,
	"pic16f628a": 2048,
	"pic16f648a": 2048,
}

// Processors returns the names of the supported processors, sorted.
func Processors() []string {
	r := make([]string, 0, len(processors))
	for name := range processors {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// LineRange is the on disk form of a debugline.Binding.
type LineRange struct {
	File  string `yaml:"file"`
	Line  int    `yaml:"line"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

// Location is the on disk form of a debugline.SourceLine.
type Location struct {
	File string `yaml:"file"`
	Line int    `yaml:"line"`
}

// LineAssociation is the on disk form of a debugline.Association.
type LineAssociation struct {
	Source   Location `yaml:"source"`
	Assembly Location `yaml:"assembly"`
}

// document is the YAML layout of a symbol file.
type document struct {
	Processor         string            `yaml:"processor"`
	ProgramMemorySize int               `yaml:"program-memory-size"`
	Code              []uint16          `yaml:"code"`
	Lines             []LineRange       `yaml:"lines"`
	Sources           []string          `yaml:"sources"`
	Associations      []LineAssociation `yaml:"associations"`
}

// File is a loaded symbol file. Every path in it is absolute or relative to
// the working directory.
type File struct {
	Path              string
	Processor         string
	ProgramMemorySize int
	Code              []uint16
	Program           proc.Program
}

// Load reads and validates the symbol file at path and scans the assembly
// sources it lists for compiler line markers. Any error is a *LoadError.
func Load(path string) (*File, error) {
	log := logflags.LoaderLogger().WithField("file", path)
	fail := func(status LoadStatus, err error) (*File, error) {
		log.Debugf("load failed: %s: %v", status, err)
		return nil, &LoadError{Status: status, Path: path, Err: err}
	}

	if len(filepath.Base(path)) > maxFileNameLen {
		return fail(FileNameTooLong, nil)
	}
	buf, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return fail(FileNotFound, nil)
	case err != nil:
		return fail(FileUnreadable, err)
	}

	var doc document
	if err := yaml.UnmarshalStrict(buf, &doc); err != nil {
		return fail(BadFile, err)
	}

	maxSize, ok := processors[strings.ToLower(doc.Processor)]
	if !ok {
		return fail(UnrecognizedProcessor, fmt.Errorf("%q", doc.Processor))
	}
	size := doc.ProgramMemorySize
	if size == 0 {
		size = maxSize
	}
	if size < 0 || size > maxSize {
		return fail(BadFile, fmt.Errorf("program memory size %d out of range for %s", size, doc.Processor))
	}
	if len(doc.Code) > size {
		return fail(Failure, fmt.Errorf("program of %d words does not fit in %d words of program memory", len(doc.Code), size))
	}

	dir := filepath.Dir(path)
	f := &File{
		Path:              path,
		Processor:         strings.ToLower(doc.Processor),
		ProgramMemorySize: size,
		Code:              doc.Code,
	}

	listings := make(map[string]bool)
	for i, lr := range doc.Lines {
		if lr.File == "" || lr.Line <= 0 || lr.Start < 0 || lr.End <= lr.Start || lr.End > size {
			return fail(BadFile, fmt.Errorf("line range %d (%s:%d [%d, %d)) is invalid", i, lr.File, lr.Line, lr.Start, lr.End))
		}
		file := resolve(dir, lr.File)
		if _, seen := listings[file]; !seen {
			if _, err := os.Stat(file); err != nil {
				return fail(ListingNotFound, err)
			}
			listings[file] = true
		}
		f.Program.Bindings = append(f.Program.Bindings, debugline.Binding{
			Start: lr.Start,
			End:   lr.End,
			Line:  debugline.SourceLine{File: file, Line: lr.Line},
		})
	}

	for _, src := range doc.Sources {
		f.addSource(resolve(dir, src))
	}
	for file := range listings {
		f.addSource(file)
	}

	for _, a := range doc.Associations {
		f.Program.Associations = append(f.Program.Associations, debugline.Association{
			Source:   debugline.SourceLine{File: resolve(dir, a.Source.File), Line: a.Source.Line},
			Assembly: debugline.SourceLine{File: resolve(dir, a.Assembly.File), Line: a.Assembly.Line},
		})
	}

	bound := make(map[debugline.SourceLine]bool, len(f.Program.Bindings))
	for _, b := range f.Program.Bindings {
		bound[b.Line] = true
	}
	for _, file := range sortedKeys(listings) {
		assocs, err := ScanMarkers(file, bound)
		if err != nil {
			return fail(FileUnreadable, err)
		}
		f.Program.Associations = append(f.Program.Associations, assocs...)
	}
	for _, a := range f.Program.Associations {
		f.addSource(a.Source.File)
	}

	log.Debugf("loaded %s: %d words, %d line ranges, %d associations",
		f.Processor, len(f.Code), len(f.Program.Bindings), len(f.Program.Associations))
	return f, nil
}

func (f *File) addSource(file string) {
	for _, s := range f.Program.Sources {
		if s == file {
			return
		}
	}
	f.Program.Sources = append(f.Program.Sources, file)
}

func resolve(dir, file string) string {
	if filepath.IsAbs(file) {
		return filepath.Clean(file)
	}
	return filepath.Join(dir, file)
}

func sortedKeys(m map[string]bool) []string {
	r := make([]string, 0, len(m))
	for k := range m {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// Validity describes whether a path can be loaded as a symbol file.
type Validity uint8

const (
	DoesntExist Validity = iota
	IncorrectType
	Valid
)

func (v Validity) String() string {
	switch v {
	case DoesntExist:
		return "does not exist"
	case IncorrectType:
		return "incorrect type"
	}
	return "valid"
}

// Extensions lists the file extensions of symbol files.
var Extensions = []string{".sym", ".yml", ".yaml"}

// CheckValidity reports whether path names an existing regular file with a
// symbol file extension.
func CheckValidity(path string) Validity {
	fi, err := os.Stat(path)
	if err != nil {
		return DoesntExist
	}
	if !fi.Mode().IsRegular() {
		return IncorrectType
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return Valid
		}
	}
	return IncorrectType
}
