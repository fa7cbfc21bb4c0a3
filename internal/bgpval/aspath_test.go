package bgpval

import "testing"

func TestASPathOriginAsn(t *testing.T) {
	var b ASPathBuilder
	b.AppendAsn(65001)
	b.AppendAsn(65002)
	b.AppendAsn(65003)
	path, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	origin, ok := path.OriginAS()
	if !ok {
		t.Fatal("expected an origin")
	}
	if origin.IsSet {
		t.Fatal("expected a single-ASN origin")
	}
	if origin.Asn != 65003 {
		t.Errorf("expected origin 65003, got %d", origin.Asn)
	}
	if path.Len() != 3 {
		t.Errorf("expected 3 segments, got %d", path.Len())
	}
}

func TestASPathOriginSet(t *testing.T) {
	var b ASPathBuilder
	b.AppendAsn(65001)
	b.AppendSet(SegSet, []uint32{65010, 65011})
	path, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	origin, ok := path.OriginAS()
	if !ok {
		t.Fatal("expected an origin")
	}
	if !origin.IsSet {
		t.Fatal("expected a set origin")
	}
	if len(origin.Set) != 2 || origin.Set[0] != 65010 || origin.Set[1] != 65011 {
		t.Errorf("unexpected set contents: %v", origin.Set)
	}
}

func TestASPathEmptyHasNoOrigin(t *testing.T) {
	var b ASPathBuilder
	path, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := path.OriginAS(); ok {
		t.Error("expected no origin for an empty path")
	}
}

func TestASPathIterateOrder(t *testing.T) {
	var b ASPathBuilder
	b.AppendAsn(1)
	b.AppendAsn(2)
	b.AppendSet(SegConfedSet, []uint32{3, 4})
	path, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var kinds []SegmentKind
	for it := path.Iterate(); it.Next(); {
		kinds = append(kinds, it.Kind())
	}
	if len(kinds) != 3 || kinds[0] != SegAsn || kinds[1] != SegAsn || kinds[2] != SegConfedSet {
		t.Errorf("unexpected segment kinds: %v", kinds)
	}
}
