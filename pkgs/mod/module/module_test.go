package module

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestEscapePath(t *testing.T) {
	tests := []struct {
		name        string
		modName     string
		wantEscaped string
		wantErr     bool
	}{
		{
			name:        "simple name",
			modName:     "SFML",
			wantEscaped: "SFML",
		},
		{
			name:        "nested",
			modName:     "sfml/csfml",
			wantEscaped: filepath.Join("sfml", "csfml"),
		},
		{
			name:    "empty string",
			modName: "",
			wantErr: true,
		},
		{
			name:    "parent escape",
			modName: "../SFML",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped, err := EscapePath(tt.modName)
			if (err != nil) != tt.wantErr {
				t.Errorf("EscapePath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if escaped != tt.wantEscaped {
				t.Errorf("EscapePath() = %v, want %v", escaped, tt.wantEscaped)
			}
		})
	}
}

func TestEscapePath_Invalid(t *testing.T) {
	if runtime.GOOS != "windows" {
		t.Skip("absolute path test only applies to windows")
	}

	_, err := EscapePath("C:\\absolute\\path")
	if err == nil {
		t.Error("EscapePath() expected error for absolute path on windows")
	}
}

func TestVersionDirAndString(t *testing.T) {
	v := Version{Name: "CSFML", Version: "2.4"}

	if got := v.Dir(); got != "CSFML-2.4" {
		t.Errorf("Version.Dir() = %v, want %v", got, "CSFML-2.4")
	}
	if got := v.String(); got != "CSFML@2.4" {
		t.Errorf("Version.String() = %v, want %v", got, "CSFML@2.4")
	}
}

func TestParse(t *testing.T) {
	v, err := Parse("SFML@2.4.2")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if v.Name != "SFML" || v.Version != "2.4.2" {
		t.Errorf("Parse() = %+v", v)
	}

	for _, bad := range []string{"SFML", "@2.4", "SFML@", ""} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) expected error", bad)
		}
	}
}
