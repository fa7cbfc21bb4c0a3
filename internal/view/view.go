// Package view implements the per-bucket-time BGP view: a snapshot of
// prefixes observed from a set of peers, with deferred-clear semantics
// so the same allocation can be reused across bucket times without a
// full rebuild.
package view

import (
	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/peersign"
)

// PfxPeerInfo is the per-(prefix, peer) record stored in a view: the
// originating ASN for that peer's announcement of the prefix, plus the
// in-use flag that lets a view be cleared without walking every peer
// entry (grounded on bgpwatcher_view.c's peerid_pfxinfo_insert).
type PfxPeerInfo struct {
	OriginASN uint32
	inUse     bool
}

// pfxPeers holds, for one prefix, the set of peers currently announcing
// it. peersCnt counts only in-use entries; stale entries from a prior
// bucket time are lazily invalidated the next time a peer is inserted
// for this prefix (see addPeer).
type pfxPeers struct {
	peers    map[peersign.ID]PfxPeerInfo
	peersCnt int
}

func newPfxPeers() *pfxPeers {
	return &pfxPeers{peers: make(map[peersign.ID]PfxPeerInfo)}
}

// addPeer inserts or refreshes peerID's info for this prefix. When the
// first peer for this prefix after a clear is being inserted, all
// lingering entries from before the clear are invalidated in one pass,
// exactly mirroring the C implementation's deferred-clear trick.
func (p *pfxPeers) addPeer(peerID peersign.ID, info PfxPeerInfo) (firstForPeer bool) {
	if p.peersCnt == 0 {
		for id, v := range p.peers {
			v.inUse = false
			p.peers[id] = v
		}
	}
	existing, ok := p.peers[peerID]
	firstForPeer = !ok || !existing.inUse
	if firstForPeer {
		p.peersCnt++
	}
	info.inUse = true
	p.peers[peerID] = info
	return firstForPeer
}

func (p *pfxPeers) removePeer(peerID peersign.ID) (removed bool) {
	existing, ok := p.peers[peerID]
	if !ok || !existing.inUse || p.peersCnt == 0 {
		return false
	}
	existing.inUse = false
	p.peers[peerID] = existing
	p.peersCnt--
	return true
}

func (p *pfxPeers) get(peerID peersign.ID) (PfxPeerInfo, bool) {
	info, ok := p.peers[peerID]
	if !ok || !info.inUse || p.peersCnt == 0 {
		return PfxPeerInfo{}, false
	}
	return info, true
}

// PeerInfo accumulates per-family prefix counts contributed by one peer
// across the whole view, used for full-feed detection and reporting
// (bgpwatcher_peerinfo_t in the original).
type PeerInfo struct {
	V4PfxCnt int
	V6PfxCnt int
}

// View is a mutable snapshot of prefixes-by-peer for one bucket time.
// It is not safe for concurrent use; callers serialize access (the
// viewstore package owns one goroutine per store).
type View struct {
	v4pfxs    map[bgpval.Prefix]*pfxPeers
	v6pfxs    map[bgpval.Prefix]*pfxPeers
	v4pfxsCnt int
	v6pfxsCnt int

	peerInfo map[peersign.ID]*PeerInfo

	bgpTime        uint32
	wallCreatedSec uint32
	wallCreatedUs  uint32
}

// New returns an empty view.
func New() *View {
	return &View{
		v4pfxs:   make(map[bgpval.Prefix]*pfxPeers),
		v6pfxs:   make(map[bgpval.Prefix]*pfxPeers),
		peerInfo: make(map[peersign.ID]*PeerInfo),
	}
}

// SetCreated stamps the view's bgp-time and wall-clock creation time
// (bgpwatcher_view_t's time/time_created fields). Callers invoke this
// exactly once per fresh assignment of a bucket time to a view, not on
// every subsequent update within the same bucket.
func (v *View) SetCreated(bgpTime, wallCreatedSec, wallCreatedUsec uint32) {
	v.bgpTime = bgpTime
	v.wallCreatedSec = wallCreatedSec
	v.wallCreatedUs = wallCreatedUsec
}

// BGPTime returns the bucket time this view was last stamped with.
func (v *View) BGPTime() uint32 { return v.bgpTime }

// WallCreated returns the wall-clock time (seconds, microseconds) at
// which this view was stamped with its current bgp-time.
func (v *View) WallCreated() (sec, usec uint32) { return v.wallCreatedSec, v.wallCreatedUs }

func (v *View) family(pfx bgpval.Prefix) map[bgpval.Prefix]*pfxPeers {
	if pfx.Address.Family() == bgpval.FamilyV4 {
		return v.v4pfxs
	}
	return v.v6pfxs
}

// AddPrefix records that peerID announces pfx with the given per-peer
// info. It adapts the prefix's peer table, lazily invalidating any
// stale entries left over from before the view was last cleared.
func (v *View) AddPrefix(pfx bgpval.Prefix, peerID peersign.ID, info PfxPeerInfo) {
	table := v.family(pfx)
	pp, ok := table[pfx]
	if !ok {
		pp = newPfxPeers()
		table[pfx] = pp
	}
	if pp.peersCnt == 0 {
		v.bumpPfxCnt(pfx, 1)
	}
	if pp.addPeer(peerID, info) {
		v.bumpPeerPfxCnt(pfx, peerID, 1)
	}
}

// RemovePrefix withdraws peerID's announcement of pfx, if present.
func (v *View) RemovePrefix(pfx bgpval.Prefix, peerID peersign.ID) {
	table := v.family(pfx)
	pp, ok := table[pfx]
	if !ok {
		return
	}
	if pp.removePeer(peerID) {
		v.bumpPeerPfxCnt(pfx, peerID, -1)
		if pp.peersCnt == 0 {
			v.bumpPfxCnt(pfx, -1)
		}
	}
}

func (v *View) bumpPfxCnt(pfx bgpval.Prefix, delta int) {
	if pfx.Address.Family() == bgpval.FamilyV4 {
		v.v4pfxsCnt += delta
	} else {
		v.v6pfxsCnt += delta
	}
}

func (v *View) bumpPeerPfxCnt(pfx bgpval.Prefix, peerID peersign.ID, delta int) {
	pi, ok := v.peerInfo[peerID]
	if !ok {
		pi = &PeerInfo{}
		v.peerInfo[peerID] = pi
	}
	if pfx.Address.Family() == bgpval.FamilyV4 {
		pi.V4PfxCnt += delta
	} else {
		pi.V6PfxCnt += delta
	}
}

// PeerInfoFor returns the accumulated per-family counts for peerID.
func (v *View) PeerInfoFor(peerID peersign.ID) (PeerInfo, bool) {
	pi, ok := v.peerInfo[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return *pi, true
}

// Get returns peerID's info for pfx, if currently in use.
func (v *View) Get(pfx bgpval.Prefix, peerID peersign.ID) (PfxPeerInfo, bool) {
	table := v.family(pfx)
	pp, ok := table[pfx]
	if !ok {
		return PfxPeerInfo{}, false
	}
	return pp.get(peerID)
}

// V4PfxCount and V6PfxCount report the number of prefixes with at least
// one in-use peer, per address family.
func (v *View) V4PfxCount() int { return v.v4pfxsCnt }
func (v *View) V6PfxCount() int { return v.v6pfxsCnt }

// Clear resets the view to empty while preserving every underlying map
// allocation, so the view can be handed straight back into the sliding
// window's reuse pool (grounded on bgpwatcher_view_clear).
func (v *View) Clear() {
	for _, pp := range v.v4pfxs {
		pp.peersCnt = 0
	}
	for _, pp := range v.v6pfxs {
		pp.peersCnt = 0
	}
	v.v4pfxsCnt = 0
	v.v6pfxsCnt = 0
	for id := range v.peerInfo {
		delete(v.peerInfo, id)
	}
	v.bgpTime = 0
	v.wallCreatedSec = 0
	v.wallCreatedUs = 0
}

// V4PfxIter iterates the in-use IPv4 prefixes in the view. Order is
// unspecified.
func (v *View) V4PfxIter(fn func(pfx bgpval.Prefix) bool) {
	for pfx, pp := range v.v4pfxs {
		if pp.peersCnt == 0 {
			continue
		}
		if !fn(pfx) {
			return
		}
	}
}

// V6PfxIter iterates the in-use IPv6 prefixes in the view.
func (v *View) V6PfxIter(fn func(pfx bgpval.Prefix) bool) {
	for pfx, pp := range v.v6pfxs {
		if pp.peersCnt == 0 {
			continue
		}
		if !fn(pfx) {
			return
		}
	}
}

// PfxPeerIter iterates the in-use peers contributing to pfx.
func (v *View) PfxPeerIter(pfx bgpval.Prefix, fn func(peerID peersign.ID, info PfxPeerInfo) bool) {
	table := v.family(pfx)
	pp, ok := table[pfx]
	if !ok || pp.peersCnt == 0 {
		return
	}
	for id, info := range pp.peers {
		if !info.inUse {
			continue
		}
		if !fn(id, info) {
			return
		}
	}
}

// PeerIter iterates every peer that has contributed at least one
// in-use prefix since the last Clear.
func (v *View) PeerIter(fn func(peerID peersign.ID, info PeerInfo) bool) {
	for id, pi := range v.peerInfo {
		if pi.V4PfxCnt == 0 && pi.V6PfxCnt == 0 {
			continue
		}
		if !fn(id, *pi) {
			return
		}
	}
}
