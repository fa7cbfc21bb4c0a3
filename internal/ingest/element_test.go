package ingest

import (
	"testing"

	"github.com/route-beacon/viewstore/internal/state"
)

func TestFromParsedRouteRIBRow(t *testing.T) {
	r := &state.ParsedRoute{
		Prefix:   "198.51.100.0/24",
		Action:   "A",
		IsLocRIB: true,
		ASPath:   "65001 65002 65003",
	}
	el, err := FromParsedRoute("rrc01", "192.0.2.1", 60, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if el.Kind != KindRIBRow {
		t.Errorf("expected KindRIBRow, got %v", el.Kind)
	}
	if el.OriginASN != 65003 {
		t.Errorf("expected origin ASN 65003, got %d", el.OriginASN)
	}
}

func TestFromParsedRouteWithdraw(t *testing.T) {
	r := &state.ParsedRoute{
		Prefix: "198.51.100.0/24",
		Action: "D",
	}
	el, err := FromParsedRoute("rrc01", "192.0.2.1", 60, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if el.Kind != KindWithdraw {
		t.Errorf("expected KindWithdraw, got %v", el.Kind)
	}
}

func TestFromParsedRouteRejectsEOR(t *testing.T) {
	r := &state.ParsedRoute{IsEOR: true}
	_, err := FromParsedRoute("rrc01", "192.0.2.1", 60, r)
	if err == nil {
		t.Fatal("expected an error for an EOR marker")
	}
}

func TestOriginASNFromPathHandlesSetSegment(t *testing.T) {
	asn := originASNFromPath("65001 {65010,65011}")
	if asn != 65010 {
		t.Errorf("expected first member of trailing set 65010, got %d", asn)
	}
}

func TestOriginASNFromPathEmpty(t *testing.T) {
	if asn := originASNFromPath(""); asn != 0 {
		t.Errorf("expected 0 for an empty path, got %d", asn)
	}
}
