package plan

import (
	"strings"
	"testing"
)

func TestPin(t *testing.T) {
	sumA := strings.Repeat("a", 64)
	sumB := strings.Repeat("b", 64)

	out, err := Pin(DefaultBytes(), map[string]string{"SFML": sumA, "CSFML": sumB})
	if err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	p, err := Parse(out)
	if err != nil {
		t.Fatalf("pinned plan does not parse: %v", err)
	}
	if p.Archives[0].Sha256 != sumA || p.Archives[1].Sha256 != sumB {
		t.Errorf("digests = %q, %q", p.Archives[0].Sha256, p.Archives[1].Sha256)
	}
	if !strings.Contains(string(out), "Placeholders in {BRACES}") {
		t.Error("Pin dropped the head comment")
	}
	if !strings.Contains(string(out), "{MIRROR}/SFML-{VERSION}-sources.zip") {
		t.Error("Pin expanded placeholders in the document")
	}
}

func TestPinAddsMissingKey(t *testing.T) {
	sum := strings.Repeat("c", 64)
	out, err := Pin([]byte(validPlan), map[string]string{"B": sum})
	if err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	p, err := Parse(out)
	if err != nil {
		t.Fatalf("pinned plan does not parse: %v", err)
	}
	if p.Archives[1].Sha256 != sum {
		t.Errorf("B sha256 = %q", p.Archives[1].Sha256)
	}
	if p.Archives[0].Sha256 != "" {
		t.Errorf("A sha256 changed to %q", p.Archives[0].Sha256)
	}
}

func TestPinUnknownArchive(t *testing.T) {
	if _, err := Pin([]byte(validPlan), map[string]string{"Z": strings.Repeat("0", 64)}); err == nil {
		t.Error("Pin of unknown archive succeeded")
	}
	if _, err := Pin([]byte("project: {}\n"), nil); err == nil {
		t.Error("Pin of plan without archives succeeded")
	}
}
