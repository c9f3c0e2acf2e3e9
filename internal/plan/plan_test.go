package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
)

func TestDefault(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	if len(p.Archives) != 2 {
		t.Fatalf("got %d archives, want 2", len(p.Archives))
	}
	a, b := p.Archives[0], p.Archives[1]
	if a.URL != "https://www.sfml-dev.org/files/SFML-2.4.2-sources.zip" {
		t.Errorf("SFML url = %s", a.URL)
	}
	if b.URL != "https://www.sfml-dev.org/files/CSFML-2.4-sources.zip" {
		t.Errorf("CSFML url = %s", b.URL)
	}
	if a.ExpectedDir() != "SFML-2.4.2" || b.ExpectedDir() != "CSFML-2.4" {
		t.Errorf("dirs = %s, %s", a.ExpectedDir(), b.ExpectedDir())
	}
	if len(b.Requires) != 1 || b.Requires[0].Name != "SFML" || b.Requires[0].FindModule == nil {
		t.Fatalf("CSFML requires = %+v", b.Requires)
	}
	if got := b.Requires[0].FindModule.From; got != "share/SFML/cmake/Modules/FindSFML.cmake" {
		t.Errorf("find module from = %s", got)
	}
	if p.Prefix != "/usr/local" {
		t.Errorf("prefix = %s", p.Prefix)
	}
	want := []string{"window", "audio", "render_window", "render_texture"}
	if strings.Join(p.Project.Excludes, ",") != strings.Join(want, ",") {
		t.Errorf("excludes = %v, want %v", p.Project.Excludes, want)
	}
	if a.BuildSystem() != CMake {
		t.Errorf("build system = %s", a.BuildSystem())
	}
}

func TestExpand(t *testing.T) {
	vars := map[string]string{"VERSION": "2.4", "NAME": "CSFML"}
	tests := []struct {
		in, want string
	}{
		{"{NAME}-{VERSION}.zip", "CSFML-2.4.zip"},
		{"{UNKNOWN}/{VERSION}", "{UNKNOWN}/2.4"},
		{"no placeholders", "no placeholders"},
		{"{lower}", "{lower}"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in, vars); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

const validPlan = `
archives:
  - name: A
    version: 1.0.0
    url: https://example.com/A-{VERSION}.zip
  - name: B
    version: "2.0"
    url: https://example.com/B-{VERSION}.tar.gz
    dir: b-src
    requires:
      - name: A
project:
  steps:
    - name: build
      run: make
`

func TestParseDefaults(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Prefix != "/usr/local" || p.Project.Dir != "." {
		t.Errorf("defaults not applied: prefix=%q dir=%q", p.Prefix, p.Project.Dir)
	}
	b, ok := p.Archive("B")
	if !ok {
		t.Fatal("archive B not found")
	}
	if b.ExpectedDir() != "b-src" {
		t.Errorf("ExpectedDir = %s", b.ExpectedDir())
	}
	if b.FileName() != "B-2.0.tar.gz" {
		t.Errorf("FileName = %s", b.FileName())
	}
	if _, ok := p.Archive("C"); ok {
		t.Error("archive C should not exist")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(p *Plan)
		want string
	}{
		{"require later archive", func(p *Plan) {
			p.Archives[0].Requires = []Require{{Name: "B"}}
		}, `requires "B"`},
		{"duplicate archive", func(p *Plan) {
			p.Archives[1].Name = "A"
			p.Archives[1].URL = "https://example.com/A-2.0.zip"
		}, "duplicate archive"},
		{"bad version", func(p *Plan) {
			p.Archives[0].Version = "latest"
			p.Archives[0].URL = "https://example.com/latest.zip"
		}, "not a release version"},
		{"unversioned file", func(p *Plan) {
			p.Archives[0].URL = "https://example.com/A.zip"
		}, "does not carry version"},
		{"plain http unpinned", func(p *Plan) {
			p.Archives[0].URL = "http://example.com/A-1.0.0.zip"
		}, "plain http"},
		{"ftp", func(p *Plan) {
			p.Archives[0].URL = "ftp://example.com/A-1.0.0.zip"
		}, "unsupported url scheme"},
		{"malformed digest", func(p *Plan) {
			p.Archives[0].Sha256 = "abc"
		}, "malformed sha256"},
		{"nested dir", func(p *Plan) {
			p.Archives[0].Dir = "a/b"
		}, "single path element"},
		{"unknown build system", func(p *Plan) {
			p.Archives[0].Build = "meson"
		}, "unknown build system"},
		{"absolute find module", func(p *Plan) {
			p.Archives[1].Requires[0].FindModule = &FindModule{From: "/abs", To: "cmake"}
		}, "needs relative"},
		{"relative prefix", func(p *Plan) {
			p.Prefix = "usr/local"
		}, "not absolute"},
		{"no steps", func(p *Plan) {
			p.Project.Steps = nil
		}, "no steps"},
		{"spaced group", func(p *Plan) {
			p.Project.Excludes = []string{"two words"}
		}, "invalid excluded group"},
		{"exclusions without a test call", func(p *Plan) {
			p.Project.Steps[0].Run = "make && make check"
			p.Project.Steps[0].Excludes = true
			p.Project.Excludes = []string{"audio"}
		}, "takes test exclusions"},
		{"unresolved placeholder", func(p *Plan) {
			p.Archives[0].URL = "https://example.com/{MIRROR}/A-1.0.0.zip"
		}, "unresolved placeholder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(validPlan))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.edit(p)
			err = p.Validate()
			if err == nil {
				t.Fatalf("Validate succeeded, want error containing %q", tt.want)
			}
			if !strings.Contains(eris.ToString(err, false), tt.want) && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	if err != nil {
		t.Fatal(err)
	}
	p.Prefix = "relative"
	p.Project.Steps = nil
	err = p.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "not absolute") || !strings.Contains(msg, "no steps") {
		t.Errorf("error %q should report every problem", msg)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plan.yml")
	if err := os.WriteFile(file, []byte(validPlan), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(p.Archives) != 2 {
		t.Errorf("got %d archives", len(p.Archives))
	}

	if _, err := Load(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("Load of missing file succeeded")
	}

	p, err = Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if p.Archives[0].Name != "SFML" {
		t.Errorf("embedded plan starts with %s", p.Archives[0].Name)
	}
}
