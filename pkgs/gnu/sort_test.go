package gnu

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.0", "1.0", 0},
		{"3.22.1", "3.10", 1},
		{"1.2.10", "1.2.9", 1},
		{"1.10", "1.9", 1},
		{"2", "10", -1},
		{"1.01", "1.1", 0},
		{"", "", 0},
		{"1", "", 1},
		{"1.0~rc1", "1.0", -1},
		{"a", "1", 1},
		{"1.0a", "1.0b", -1},
		{"1.0.0-rc1", "1.0.0-rc2", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAtLeast(t *testing.T) {
	tests := []struct {
		have, want string
		ok         bool
	}{
		{"3.22.1", "3.10", true},
		{"3.10", "3.10", true},
		{"3.9.6", "3.10", false},
		{"1.0", "", true},
		{"", "1.0", false},
	}
	for _, tt := range tests {
		if got := AtLeast(tt.have, tt.want); got != tt.ok {
			t.Errorf("AtLeast(%q, %q) = %v, want %v", tt.have, tt.want, got, tt.ok)
		}
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"cmake version 3.22.1\n\nCMake suite maintained", "3.22.1"},
		{"GNU Make 4.3", "4.3"},
		{"cargo 1.75.0 (1d8b05cdd 2023-11-20)", "1.75.0"},
		{"cc (Ubuntu 11.4.0-1ubuntu1~22.04) 11.4.0", "11.4.0"},
		{"no digits here", ""},
		{"x86_64 gcc 9", "9"},
	}
	for _, tt := range tests {
		if got := Extract(tt.in); got != tt.want {
			t.Errorf("Extract(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
