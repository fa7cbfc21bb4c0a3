// Package viewstore implements the sliding window of bucket-time views
// and the dispatcher that decides when a view is ready to publish.
// Grounded on bgpwatcher_store.c's store_view_get/store_view_clear and
// bgpstore_interests_dispatcher.c's completion/dispatch logic.
package viewstore

import (
	"fmt"
	"time"

	"github.com/route-beacon/viewstore/internal/peersign"
	"github.com/route-beacon/viewstore/internal/peerstate"
	"github.com/route-beacon/viewstore/internal/view"
	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// State mirrors store_view_state_t.
type State uint8

const (
	StateUnused State = iota
	StateUnknown
	StatePartial
	StateFull
)

// ReuseMax forces a hard rebuild of a slot's view after this many
// soft-clears, bounding the accumulation of stale prefix entries in
// long-lived map allocations (STORE_VIEW_REUSE_MAX).
const ReuseMax = 1024

// dispatchStatus tracks, per completion state, whether this slot's
// current content was already dispatched and whether it has changed
// since.
type dispatchStatus struct {
	sent     bool
	modified bool
}

// Slot wraps one bucket-time view together with the bookkeeping needed
// to decide when it is complete: per-client done-tracking, per-peer
// FSM state, and reuse accounting.
type Slot struct {
	Time  uint32
	State State

	reuseCnt int
	view     *view.View

	doneClients map[string]struct{}
	peers       map[peersign.ID]*peerstate.Peer

	dispatch map[State]*dispatchStatus
	modified bool
}

func newSlot() *Slot {
	return &Slot{
		State:       StateUnused,
		view:        view.New(),
		doneClients: make(map[string]struct{}),
		peers:       make(map[peersign.ID]*peerstate.Peer),
		dispatch: map[State]*dispatchStatus{
			StatePartial: {},
			StateFull:    {},
		},
	}
}

// View exposes the underlying prefix snapshot.
func (s *Slot) View() *view.View { return s.view }

// Peer returns (creating if absent) this slot's FSM state for peerID.
func (s *Slot) Peer(peerID peersign.ID) *peerstate.Peer {
	p, ok := s.peers[peerID]
	if !ok {
		p = peerstate.New()
		s.peers[peerID] = p
	}
	return p
}

// MarkClientDone records that client has sent a complete set of tables
// for this slot.
func (s *Slot) MarkClientDone(client string) {
	s.doneClients[client] = struct{}{}
	s.modified = true
	for _, d := range s.dispatch {
		d.modified = true
	}
}

func (s *Slot) clientDone(client string) bool {
	_, ok := s.doneClients[client]
	return ok
}

// reset returns the slot to STORE_VIEW_UNUSED, preserving every
// allocation for reuse (store_view_clear's soft-clear path).
func (s *Slot) reset() {
	s.State = StateUnused
	s.reuseCnt++
	for k := range s.dispatch {
		s.dispatch[k].sent = false
		s.dispatch[k].modified = false
	}
	s.modified = false
	for k := range s.doneClients {
		delete(s.doneClients, k)
	}
	for k := range s.peers {
		delete(s.peers, k)
	}
	s.view.Clear()
}

// Window is the circular buffer of Len slots, one per ItemTime-spaced
// bucket time, covering a span of Len*ItemTime seconds.
type Window struct {
	Len      int
	ItemTime uint32

	slots     []*Slot
	firstIdx  int
	firstTime uint32
	inUseCnt  int
}

// NewWindow returns an empty window of length (in buckets) windowLen,
// each bucket spanning itemTime seconds.
func NewWindow(windowLen int, itemTime uint32) *Window {
	w := &Window{Len: windowLen, ItemTime: itemTime, slots: make([]*Slot, windowLen)}
	for i := range w.slots {
		w.slots[i] = newSlot()
	}
	return w
}

func (w *Window) duration() uint32 { return uint32(w.Len) * w.ItemTime }

// GetResult reports the outcome of a GetSlot call.
type GetResult int

const (
	ResultValid GetResult = iota
	ResultExceeded
)

// onExpire is invoked for any slot evicted by a window slide while it
// still holds unused data (COMPLETION_TRIGGER_WDW_EXCEEDED).
type onExpire func(s *Slot)

// GetSlot returns the slot for newTime, sliding the window forward if
// needed and evicting any slots that fall out of range. newTime must be
// a multiple of ItemTime, or err is errNotMultiple. Mirrors
// store_view_get.
func (w *Window) GetSlot(newTime uint32, expire onExpire) (*Slot, GetResult, error) {
	if newTime%w.ItemTime != 0 {
		return nil, ResultExceeded, errNotMultiple
	}

	if w.firstTime != 0 && newTime < w.firstTime {
		return nil, ResultExceeded, nil
	}

	var slot *Slot
	switch {
	case w.firstTime == 0:
		// First insertion ever: seed the window so newTime lands in the
		// last slot of the buffer, or, when newTime is too early for that
		// without wrapping below zero, so the window starts at newTime.
		w.firstIdx = 0
		if newTime+w.ItemTime > w.duration() {
			w.firstTime = newTime - w.duration() + w.ItemTime
		} else {
			w.firstTime = newTime
		}
		slot = w.slots[int((newTime-w.firstTime)/w.ItemTime)]
	case newTime < w.firstTime+w.duration():
		idx := (int((newTime-w.firstTime)/w.ItemTime) + w.firstIdx) % w.Len
		slot = w.slots[idx]
	default:
		slot = w.slide(newTime, expire)
	}

	w.rebuildIfExhausted(slot, newTime)

	if slot.Time != newTime {
		sec, usec := wallNow()
		slot.view.SetCreated(newTime, sec, usec)
	}

	if slot.State == StateUnused {
		slot.State = StateUnknown
		w.inUseCnt++
	}
	slot.Time = newTime
	return slot, ResultValid, nil
}

// wallNow returns the current wall-clock time split into the
// seconds/microseconds pair the view's time_created field stores.
func wallNow() (sec, usec uint32) {
	now := time.Now()
	return uint32(now.Unix()), uint32(now.Nanosecond() / 1000)
}

func (w *Window) slide(newTime uint32, expire onExpire) *Slot {
	minFirstTime := newTime - w.duration() + w.ItemTime

	idxOffset := w.firstIdx
	timeOffset := w.firstTime
	var slot *Slot
	for i := 0; i < w.Len; i++ {
		idx := (i + idxOffset) % w.Len
		slotTime := uint32(i)*w.ItemTime + timeOffset

		slot = w.slots[idx]
		w.firstIdx = idx
		w.firstTime = slotTime

		if slotTime >= minFirstTime {
			break
		}
		if slot.State == StateUnused {
			continue
		}
		if expire != nil {
			expire(slot)
		}
		slot.reset()
		w.inUseCnt--
	}

	if w.firstTime < minFirstTime {
		w.firstTime = minFirstTime
	}

	idx := (w.firstIdx + int((newTime-w.firstTime)/w.ItemTime)) % w.Len
	return w.slots[idx]
}

// rebuildIfExhausted forces a hard rebuild of slot if it has been
// soft-cleared ReuseMax times, to bound long-term map growth.
func (w *Window) rebuildIfExhausted(slot *Slot, newTime uint32) {
	if slot.reuseCnt < ReuseMax {
		return
	}
	idx := (w.firstIdx + int((newTime-w.firstTime)/w.ItemTime)) % w.Len
	fresh := newSlot()
	w.slots[idx] = fresh
	*slot = *fresh
}

// Slots returns the live slot backing array, oldest-first from
// firstIdx, for callers that need to sweep the whole window (timeout
// checks, metrics dumps).
func (w *Window) Slots(fn func(idx int, s *Slot) bool) {
	for i := 0; i < w.Len; i++ {
		idx := (w.firstIdx + i) % w.Len
		if !fn(idx, w.slots[idx]) {
			return
		}
	}
}

// String renders the window's occupancy for debugging/logging.
func (w *Window) String() string {
	return fmt.Sprintf("window(len=%d, item=%ds, first=%d@%d, inuse=%d)",
		w.Len, w.ItemTime, w.firstIdx, w.firstTime, w.inUseCnt)
}

// errNotMultiple documents why a misaligned bucket time is rejected,
// surfaced through viewerrs so callers can errors.Is against it.
var errNotMultiple = fmt.Errorf("viewstore: %w: bucket time must be a multiple of the item interval", viewerrs.ErrMalformed)
