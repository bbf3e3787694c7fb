package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of picdbg.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// PicdbgVersion is the current version of picdbg.
var PicdbgVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// Short returns the version without build information, as reported to DAP
// clients.
func (v Version) Short() string {
	s := fmt.Sprintf("%s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		s += "-" + v.Metadata
	}
	return s
}

// BuildInfo returns the Go version picdbg was built with followed by its
// main module and dependencies, one per line.
func BuildInfo() string {
	var b strings.Builder
	b.WriteString(runtime.Version())
	b.WriteByte('\n')
	info, ok := debug.ReadBuildInfo()
	if !ok {
		b.WriteString("no module information\n")
		return b.String()
	}
	writeModule(&b, "mod", &info.Main)
	for _, dep := range info.Deps {
		writeModule(&b, "dep", dep)
	}
	return b.String()
}

func writeModule(b *strings.Builder, kind string, m *debug.Module) {
	fmt.Fprintf(b, "%s %s@%s", kind, m.Path, m.Version)
	if r := m.Replace; r != nil {
		fmt.Fprintf(b, " => %s@%s", r.Path, r.Version)
	}
	b.WriteByte('\n')
}

func fixBuild(v *Version) {
	// Git expands $Id$ to a blob hash; only replace unexpanded or expanded idents.
	if !strings.HasPrefix(v.Build, "$Id") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
