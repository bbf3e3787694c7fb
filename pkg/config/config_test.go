package config

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(configDirEnv, dir)

	c := LoadConfig()
	if c.GetSourceListCacheSize() != DefaultSourceListCacheSize {
		t.Fatalf("expected default cache size; got %d", c.GetSourceListCacheSize())
	}
	if c.GetMaxCyclesPerBatch() != DefaultMaxCyclesPerBatch {
		t.Fatalf("expected default batch size; got %d", c.GetMaxCyclesPerBatch())
	}
	buf, err := ioutil.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf), "# debug-mode: asm") {
		t.Fatalf("expected commented default configuration; got:\n%s", buf)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	t.Setenv(configDirEnv, t.TempDir())
	n := 4
	c := &Config{
		Aliases:             map[string][]string{"continue": {"go"}},
		SubstitutePath:      SubstitutePathRules{{From: "/build", To: "/src"}},
		SourceListCacheSize: &n,
		DebugMode:           "hll",
	}
	if err := SaveConfig(c); err != nil {
		t.Fatal(err)
	}
	got := LoadConfig()
	if got.DebugMode != "hll" || got.GetSourceListCacheSize() != 4 || got.Aliases["continue"][0] != "go" {
		t.Fatalf("unexpected configuration %+v", got)
	}
	if len(got.SubstitutePath) != 1 || got.SubstitutePath[0].To != "/src" {
		t.Fatalf("unexpected substitute-path rules %v", got.SubstitutePath)
	}
	hist, err := got.GetHistoryFile()
	if err != nil || filepath.Base(hist) != ".picdbg_history" {
		t.Fatalf("unexpected history file %q, %v", hist, err)
	}
}

func TestSubstitutePath(t *testing.T) {
	rules := SubstitutePathRules{{From: "/build/", To: "/home/me/src"}, {From: "/opt", To: "/usr"}}
	for _, tc := range []struct{ in, out string }{
		{"/build/main.asm", "/home/me/src/main.asm"},
		{"/build", "/home/me/src"},
		{"/buildx/main.asm", "/buildx/main.asm"},
		{"/opt/lib/a.inc", "/usr/lib/a.inc"},
		{"main.asm", "main.asm"},
	} {
		if got := rules.Substitute(tc.in); got != tc.out {
			t.Errorf("Substitute(%q) = %q; want %q", tc.in, got, tc.out)
		}
	}
}

func TestConfigureSetSimple(t *testing.T) {
	c := &Config{}
	if err := ConfigureSetSimple("8", "source-list-cache-size", ConfigureFindFieldByName(c, "source-list-cache-size", "yaml")); err != nil {
		t.Fatal(err)
	}
	if c.GetSourceListCacheSize() != 8 {
		t.Fatalf("expected 8; got %d", c.GetSourceListCacheSize())
	}
	if err := ConfigureSetSimple(`"hll"`, "debug-mode", ConfigureFindFieldByName(c, "debug-mode", "yaml")); err != nil || c.DebugMode != "hll" {
		t.Fatalf("expected unquoted hll; got %q, %v", c.DebugMode, err)
	}
	if err := ConfigureSetSimple("x", "source-list-line-color", ConfigureFindFieldByName(c, "source-list-line-color", "yaml")); err == nil {
		t.Fatalf("expected error for a non numeric value")
	}

	var buf bytes.Buffer
	ConfigureList(&buf, c, "yaml")
	if !strings.Contains(buf.String(), "debug-mode\t\"hll\"\n") || !strings.Contains(buf.String(), "max-cycles-per-batch\t<not defined>\n") {
		t.Fatalf("unexpected listing:\n%s", buf.String())
	}
}
