package bgpval

import "testing"

func TestParsePrefixMasksHostBits(t *testing.T) {
	p, err := ParsePrefix("10.0.0.5/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.String(); got != "10.0.0.0/24" {
		t.Errorf("expected host bits masked, got %s", got)
	}
}

func TestParsePrefixMissingMaskLen(t *testing.T) {
	if _, err := ParsePrefix("10.0.0.0"); err == nil {
		t.Fatal("expected error for missing mask length")
	}
}

func TestPrefixContains(t *testing.T) {
	p1, _ := ParsePrefix("10.0.0.0/16")
	p2, _ := ParsePrefix("10.0.1.0/24")
	p3, _ := ParsePrefix("10.1.0.0/24")

	if !p1.Contains(p2) {
		t.Error("expected p1 to contain p2")
	}
	if p1.Contains(p3) {
		t.Error("expected p1 to not contain p3")
	}
	if p2.Contains(p1) {
		t.Error("a more specific prefix cannot contain a less specific one")
	}
}

func TestPrefixContainsDifferentFamily(t *testing.T) {
	p1, _ := ParsePrefix("10.0.0.0/8")
	p2, _ := ParsePrefix("2001:db8::/32")
	if p1.Contains(p2) {
		t.Error("expected containment to fail across families")
	}
}

func TestPrefixEqual(t *testing.T) {
	a, _ := ParsePrefix("192.0.2.0/24")
	b, _ := ParsePrefix("192.0.2.0/24")
	if !a.Equal(b) {
		t.Error("expected equal prefixes")
	}
}
