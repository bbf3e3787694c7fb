package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	if got := v.String(); got != "Version: 1.2.3-rc1\nBuild: abcdef" {
		t.Fatalf("unexpected version string %q", got)
	}
	if got := v.Short(); got != "1.2.3-rc1" {
		t.Fatalf("expected 1.2.3-rc1; got %q", got)
	}
	v.Metadata = ""
	if got := v.Short(); got != "1.2.3" {
		t.Fatalf("expected 1.2.3; got %q", got)
	}
}

func TestBuildInfo(t *testing.T) {
	lines := strings.Split(strings.TrimSuffix(BuildInfo(), "\n"), "\n")
	if !strings.HasPrefix(lines[0], "go") {
		t.Fatalf("expected build info to start with the Go version; got %q", lines[0])
	}
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, "mod ") && !strings.HasPrefix(l, "dep ") && l != "no module information" {
			t.Errorf("unexpected build info line %q", l)
		}
	}

	var b strings.Builder
	writeModule(&b, "dep", &debug.Module{Path: "github.com/spf13/cobra", Version: "v1.1.3"})
	writeModule(&b, "dep", &debug.Module{
		Path: "go.starlark.net", Version: "v0.0.0",
		Replace: &debug.Module{Path: "../starlark", Version: "(devel)"},
	})
	want := "dep github.com/spf13/cobra@v1.1.3\ndep go.starlark.net@v0.0.0 => ../starlark@(devel)\n"
	if got := b.String(); got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
}
