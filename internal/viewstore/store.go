package viewstore

import (
	"time"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/peersign"
	"github.com/route-beacon/viewstore/internal/view"
)

// Config configures a Store's window geometry and behavior.
type Config struct {
	WindowLen      int
	ItemTime       uint32
	ViewTimeout    time.Duration
	PartialPublish bool
}

// DefaultConfig matches the upstream defaults: a 30-bucket, 60s-item
// window (WDW_LEN/WDW_ITEM_TIME) and a one-hour view timeout
// (BGPWATCHER_STORE_BGPVIEW_TIMEOUT), with Partial dispatch disabled.
var DefaultConfig = Config{
	WindowLen:   30,
	ItemTime:    60,
	ViewTimeout: time.Hour,
}

// clientSet adapts a map[string]struct{} to the ExpectedClients
// interface the dispatcher uses.
type clientSet map[string]struct{}

func (c clientSet) Names(yield func(name string) bool) {
	for name := range c {
		if !yield(name) {
			return
		}
	}
}

// Store owns the sliding window, the shared peer-signature registry,
// and the set of currently-connected producer clients expected to
// contribute prefix tables to every view.
type Store struct {
	cfg      Config
	window   *Window
	peersign *peersign.Registry

	expectedProducers clientSet

	// lastSlotTouch records, per slot index, the wall-clock time the
	// slot was last touched by an external event; used by SweepTimeouts
	// to trigger a timeout completion check (COMPLETION_TRIGGER_TIMEOUT_EXPIRED).
	lastSlotTouch map[int]time.Time
}

// NewStore returns an empty store sharing signs for the lifetime of the
// window.
func NewStore(cfg Config, signs *peersign.Registry) *Store {
	return &Store{
		cfg:               cfg,
		window:            NewWindow(cfg.WindowLen, cfg.ItemTime),
		peersign:          signs,
		expectedProducers: make(clientSet),
		lastSlotTouch:     make(map[int]time.Time),
	}
}

// TruncateTime rounds down ts to the nearest bucket boundary.
func (st *Store) TruncateTime(ts uint32) uint32 {
	return (ts / st.cfg.ItemTime) * st.cfg.ItemTime
}

// AddProducer / RemoveProducer track which clients must finish sending
// tables for a view to become Full.
func (st *Store) AddProducer(name string)    { st.expectedProducers[name] = struct{}{} }
func (st *Store) RemoveProducer(name string) { delete(st.expectedProducers, name) }

// expireSlot runs the completion check one last time for a slot that is
// about to be evicted by a window slide. It does not dispatch: the
// resulting state is not published, and the slot is cleared right after.
func (st *Store) expireSlot(s *Slot) {
	CompletionCheck(s, st.expectedProducers)
}

// GetSlot returns the slot for ts (rounded to the bucket boundary),
// sliding the window and evicting stale slots as needed.
func (st *Store) GetSlot(ts uint32) (*Slot, GetResult, error) {
	bucket := st.TruncateTime(ts)
	slot, res, err := st.window.GetSlot(bucket, st.expireSlot)
	if res == ResultValid {
		st.touch(slot)
	}
	return slot, res, err
}

func (st *Store) touch(s *Slot) {
	st.window.Slots(func(idx int, cand *Slot) bool {
		if cand == s {
			st.lastSlotTouch[idx] = time.Now()
			return false
		}
		return true
	})
}

// AddPrefix applies a received prefix record to slot s for peerID, updating both the view contents and the peer's full-feed
// counters.
func (st *Store) AddPrefix(s *Slot, pfx bgpval.Prefix, peerID peersign.ID, originASN uint32) {
	s.view.AddPrefix(pfx, peerID, view.PfxPeerInfo{OriginASN: originASN})
	s.modified = true
	for _, d := range s.dispatch {
		d.modified = true
	}
	s.Peer(peerID).CountPrefix(pfx.Address.Family() == bgpval.FamilyV4)
}

// TableEnd marks client as having finished sending its tables for slot
// s and runs the completion check.
func (st *Store) TableEnd(s *Slot, client string) {
	s.MarkClientDone(client)
	CompletionCheck(s, st.expectedProducers)
}

// SweepTimeouts forces every in-use slot whose ViewTimeout has elapsed
// since it was last touched to Full (TriggerTimeoutExpired) and returns
// the dispatch mask for each, so the caller can publish any view that
// stalled waiting on a producer that never finished. The slot is not
// removed: it stays in the window until a slide evicts it.
func (st *Store) SweepTimeouts(now time.Time) map[*Slot]DispatchKind {
	out := make(map[*Slot]DispatchKind)
	st.window.Slots(func(idx int, s *Slot) bool {
		if s.State == StateUnused {
			return true
		}
		last, ok := st.lastSlotTouch[idx]
		if !ok || now.Sub(last) < st.cfg.ViewTimeout {
			return true
		}
		s.State = StateFull
		if mask := Dispatch(s, PartialPublish(st.cfg.PartialPublish)); mask != DispatchNone {
			out[s] = mask
		}
		return true
	})
	return out
}

// CheckDispatch returns the dispatch mask for slot s given its current
// state, without re-running the completion check. Call it right after a
// state-changing event (TableEnd) whose caller already ran
// CompletionCheck, rather than waiting for the next timeout sweep.
func (st *Store) CheckDispatch(s *Slot) DispatchKind {
	return Dispatch(s, PartialPublish(st.cfg.PartialPublish))
}

// PeerSigns returns the shared peer-signature registry.
func (st *Store) PeerSigns() *peersign.Registry { return st.peersign }
