package config

import (
	"reflect"
	"testing"
)

func TestSplitQuotedFields(t *testing.T) {
	for _, tc := range []struct {
		name  string
		in    string
		quote rune
		want  []string
	}{
		{"substitute-path rule", `/build/src /home/me/src`, '"', []string{"/build/src", "/home/me/src"}},
		{"repeated spaces", "/src  /dst", '"', []string{"/src", "/dst"}},
		{"tabs and padding", "\t /src \t /dst\t", '"', []string{"/src", "/dst"}},
		{"quoted path with spaces", `"C:\My Projects\blink" /src`, '"', []string{`C:My Projectsblink`, "/src"}},
		{"escaped backslash", `"C:\\My Projects\\blink"`, '"', []string{`C:\My Projects\blink`}},
		{"delete rule", `  "/build src"  `, '"', []string{"/build src"}},
		{"alias", `stepout finish`, '"', []string{"stepout", "finish"}},
		{"quote inside a field", `st"ep o"ut fin`, '"', []string{"step out", "fin"}},
		{"escaped quote", `"say \"hi\"" x`, '"', []string{`say "hi"`, "x"}},
		{"single quotes", `'main.asm' fie'l\'d'`, '\'', []string{"main.asm", "fiel'd"}},
		{"empty strings", ` "" "" """" `, '"', []string{"", "", ""}},
		{"empty string last", `/src ""`, '"', []string{"/src", ""}},
		{"blank", "   ", '"', []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitQuotedFields(tc.in, tc.quote)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %#v; got %#v", tc.want, got)
			}
		})
	}
}

func TestConfigureListByName(t *testing.T) {
	batch := 500
	conf := &Config{
		DebugMode:         "hll",
		MaxCyclesPerBatch: &batch,
		Aliases:           map[string][]string{"stepout": {"finish"}},
	}
	for _, tc := range []struct {
		name, want string
	}{
		{"debug-mode", "debug-mode\t\"hll\"\n"},
		{"max-cycles-per-batch", "max-cycles-per-batch\t500\n"},
		{"aliases", "aliases\tmap[stepout:[finish]]\n"},
		{"source-list-cache-size", "source-list-cache-size\t<not defined>\n"},
		{"nonexistent", ""},
		{"", ""},
	} {
		if got := ConfigureListByName(conf, tc.name, "yaml"); got != tc.want {
			t.Errorf("%q: expected %q; got %q", tc.name, tc.want, got)
		}
	}
}
