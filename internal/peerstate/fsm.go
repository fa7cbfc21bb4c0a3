// Package peerstate implements the per-peer BGP finite-state machine and
// the statistics that drive view completion: expected/received table
// counts and full-feed detection.
package peerstate

// State mirrors the BGP FSM values seen in upstream PeerState elements.
// Only Established is active; all others mean the peer contributes no
// prefixes.
type State uint8

const (
	Unknown State = iota
	Idle
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
	Null
)

// Active reports whether the state allows the peer to contribute prefixes.
func (s State) Active() bool { return s == Established }

// Thresholds configures the full-feed detection per §4.C.
type Thresholds struct {
	V4 int
	V6 int
}

// DefaultThresholds matches the spec's defaults: 400,000 v4 / 10,000 v6.
var DefaultThresholds = Thresholds{V4: 400000, V6: 10000}

// Peer tracks one peer's FSM state and per-view statistics. It is owned
// by a single store-view; a peer seen in multiple views gets one Peer
// per view.
type Peer struct {
	State State

	ExpectedPfxTableCnt  int
	ReceivedPfxTableCnt  int
	ReceivedV4Cnt        int
	ReceivedV6Cnt        int

	// ribOpen is true between the first RIB row of a dump and its
	// TableEnd; ribStart/ribEnd bound the element timestamps seen
	// while the RIB dump is in progress, so an out-of-order element or
	// a state transition mid-dump can be detected and reconciled
	// (spec.md §8 S4, S5; grounded on bgpribs_peerdata.c's active_ribs
	// bookkeeping — see SPEC_FULL.md §4.C).
	ribOpen  bool
	ribStart uint32
	ribEnd   uint32

	OutOfOrder uint64
}

// New returns a peer in the Unknown state.
func New() *Peer {
	return &Peer{State: Unknown}
}

// OnRIBRow applies a RIB row element: the peer becomes Established, and
// if this is the first row of the dump, ExpectedPfxTableCnt is bumped
// and the RIB's time bounds are opened.
func (p *Peer) OnRIBRow(ts uint32) {
	if !p.ribOpen {
		p.ExpectedPfxTableCnt++
		p.ribOpen = true
		p.ribStart = ts
		p.ribEnd = ts
	}
	p.State = Established
	if ts > p.ribEnd {
		p.ribEnd = ts
	}
}

// OnAnnounce reports whether an announcement at ts should be applied.
// Requires Established; an element whose timestamp predates the
// in-progress RIB's start while a dump is open is out of order and must
// not be applied (spec.md §8 S4).
func (p *Peer) OnAnnounce(ts uint32) bool {
	return p.onElement(ts)
}

// OnWithdraw reports whether a withdrawal at ts should be applied. Same
// gating as OnAnnounce.
func (p *Peer) OnWithdraw(ts uint32) bool {
	return p.onElement(ts)
}

func (p *Peer) onElement(ts uint32) bool {
	if !p.State.Active() {
		return false
	}
	if p.ribOpen && ts < p.ribStart {
		p.OutOfOrder++
		return false
	}
	if ts > p.ribEnd {
		p.ribEnd = ts
	}
	return true
}

// OnStateChange applies a direct FSM state transition. A transition away
// from Established arriving inside the currently open RIB's time bounds
// resets the active-RIB bookkeeping (spec.md §8 S5): subsequent rows for
// this peer in that RIB are ignored until another Established transition.
func (p *Peer) OnStateChange(newState State, ts uint32) {
	if newState != Established && p.ribOpen &&
		ts >= p.ribStart && ts <= p.ribEnd {
		p.ribOpen = false
		p.ribStart = 0
		p.ribEnd = 0
	}
	p.State = newState
}

// OnTableEnd records that a prefix table for this peer has finished
// arriving (delivered by the wire protocol's TableEnd, not an ingest
// element) and closes the open RIB window.
func (p *Peer) OnTableEnd() {
	p.ReceivedPfxTableCnt++
	p.ribOpen = false
}

// Done reports whether the peer has finished contributing to this view:
// it has received as many tables as expected, and expects at least one.
func (p *Peer) Done() bool {
	return p.ExpectedPfxTableCnt >= 1 && p.ReceivedPfxTableCnt >= p.ExpectedPfxTableCnt
}

// FullFeed reports whether the peer's observed RIB size exceeds the
// configured thresholds for either family.
func (p *Peer) FullFeed(t Thresholds) bool {
	return p.ReceivedV4Cnt > t.V4 || p.ReceivedV6Cnt > t.V6
}

// CountPrefix records one received v4 or v6 prefix for full-feed tracking.
func (p *Peer) CountPrefix(isV4 bool) {
	if isV4 {
		p.ReceivedV4Cnt++
	} else {
		p.ReceivedV6Cnt++
	}
}
