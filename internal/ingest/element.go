// Package ingest defines the normalized element the view store consumes,
// independent of whichever upstream decoder produced it (goBMP RIB
// dump/live update, or a state-change notification), and the adapters
// that build one from the teacher's existing goBMP JSON decoders.
package ingest

import (
	"strconv"
	"strings"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/peerstate"
	"github.com/route-beacon/viewstore/internal/state"
	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// Kind classifies an Element the way the upstream RIB/peer feed does:
// a RIB dump row, a live announcement or withdrawal, or a peer FSM
// state transition.
type Kind uint8

const (
	KindRIBRow Kind = iota
	KindAnnounce
	KindWithdraw
	KindStateChange
)

// Element is the normalized unit the view store's wireserver-facing
// ingest path produces from any upstream decoder.
type Element struct {
	Kind      Kind
	Time      uint32
	Collector string
	PeerIP    bgpval.Address
	Prefix    bgpval.Prefix
	OriginASN uint32
	NewState  peerstate.State
}

// FromParsedRoute builds an Element from a decoded goBMP unicast-prefix
// message (state.ParsedRoute), given the collector name and peer
// address this route was learned from, which the BMP peer header
// carries alongside the route itself.
func FromParsedRoute(collector, peerIPStr string, ts uint32, r *state.ParsedRoute) (Element, error) {
	if r.IsEOR {
		return Element{}, viewerrs.ErrMalformed
	}
	peerIP, err := bgpval.ParseAddress(peerIPStr)
	if err != nil {
		return Element{}, err
	}
	pfx, err := bgpval.ParsePrefix(r.Prefix)
	if err != nil {
		return Element{}, err
	}

	el := Element{
		Time:      ts,
		Collector: collector,
		PeerIP:    peerIP,
		Prefix:    pfx,
		OriginASN: originASNFromPath(r.ASPath),
	}

	switch r.Action {
	case "D":
		el.Kind = KindWithdraw
	default:
		if r.IsLocRIB {
			el.Kind = KindRIBRow
		} else {
			el.Kind = KindAnnounce
		}
	}
	return el, nil
}

// NewStateChange builds a peer FSM transition element, used by the
// goBMP peer-up/peer-down path (the state consumer's session
// start/termination handling) rather than a route decoder.
func NewStateChange(collector, peerIPStr string, ts uint32, newState peerstate.State) (Element, error) {
	peerIP, err := bgpval.ParseAddress(peerIPStr)
	if err != nil {
		return Element{}, err
	}
	return Element{
		Kind:      KindStateChange,
		Time:      ts,
		Collector: collector,
		PeerIP:    peerIP,
		NewState:  newState,
	}, nil
}

// originASNFromPath extracts the rightmost (originating) ASN from a
// space-separated AS_PATH string, building the path through
// bgpval.ASPathBuilder so set segments ("{65010,65011}") are handled
// the same way the wire view format represents them. Returns 0 if the
// path is empty or unparseable, matching the upstream's best-effort
// attribute extraction.
func originASNFromPath(asPath string) uint32 {
	asPath = strings.TrimSpace(asPath)
	if asPath == "" {
		return 0
	}

	var b bgpval.ASPathBuilder
	var set []uint32
	inSet := false
	for _, tok := range strings.Fields(asPath) {
		inSet = inSet || strings.HasPrefix(tok, "{")
		closesSet := strings.HasSuffix(tok, "}")
		tok = strings.Trim(tok, "{},")
		for _, asnStr := range strings.Split(tok, ",") {
			asnStr = strings.TrimSpace(asnStr)
			if asnStr == "" {
				continue
			}
			asn, err := strconv.ParseUint(asnStr, 10, 32)
			if err != nil {
				continue
			}
			if inSet {
				set = append(set, uint32(asn))
			} else {
				b.AppendAsn(uint32(asn))
			}
		}
		if inSet && closesSet {
			b.AppendSet(bgpval.SegSet, set)
			set, inSet = nil, false
		}
	}
	if inSet {
		b.AppendSet(bgpval.SegSet, set)
	}
	path, err := b.Build()
	if err != nil {
		return 0
	}
	origin, ok := path.OriginAS()
	if !ok {
		return 0
	}
	if origin.IsSet {
		if len(origin.Set) == 0 {
			return 0
		}
		return origin.Set[0]
	}
	return origin.Asn
}
