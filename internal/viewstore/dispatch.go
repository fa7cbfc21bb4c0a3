package viewstore

// DispatchKind is a bitmask of the consumer classes a completion check
// should notify, mirroring DISPATCH_TO_PARTIAL/FULL/FIRSTFULL.
type DispatchKind uint8

const (
	DispatchNone      DispatchKind = 0
	DispatchPartial   DispatchKind = 1 << iota
	DispatchFull
	DispatchFirstFull
)

// Has reports whether mask includes kind.
func (mask DispatchKind) Has(kind DispatchKind) bool { return mask&kind != 0 }

// PartialPublish gates whether Partial-state views are ever dispatched.
// The upstream dispatcher has the Partial path fully wired but a
// TODO-guarded early return that, in practice, only ever lets Full
// through; this store makes that choice a runtime config knob instead
// of dead code (documented as an Open Question resolution).
type PartialPublish bool

// Dispatch inspects a slot's state and per-state modified/sent flags
// and returns the set of consumer classes that should be notified,
// updating the dispatch-status flags as a side effect. Mirrors
// bgpstore_interests_dispatcher_run's two completion checks.
func Dispatch(s *Slot, partialPublish PartialPublish) DispatchKind {
	var mask DispatchKind

	if bool(partialPublish) && s.State == StatePartial {
		if ds := s.dispatch[StatePartial]; ds.modified {
			mask |= DispatchPartial
			ds.modified = false
			ds.sent = true
		}
	}

	if s.State == StateFull {
		if ds := s.dispatch[StateFull]; ds.modified {
			if !ds.sent {
				mask |= DispatchFirstFull
			} else {
				mask |= DispatchFull
			}
			ds.modified = false
			ds.sent = true
		}
	}

	return mask
}

// CompletionTrigger names why CompletionCheck ran, for logging/metrics.
type CompletionTrigger uint8

const (
	TriggerUnknown CompletionTrigger = iota
	TriggerWindowExceeded
	TriggerClientDisconnect
	TriggerTableEnd
	TriggerTimeoutExpired
)

// ExpectedClients is the set of producer-intent clients whose table
// stream must have finished for a slot to be Full, supplied by the
// caller (the wireserver tracks connected producers).
type ExpectedClients interface {
	// Names yields every client name expected to contribute prefix
	// tables to a view.
	Names(yield func(name string) bool)
}

// CompletionCheck updates slot.State based on which expected clients
// have finished sending their tables, mirroring
// store_view_completion_check. It must be called after every table-end
// and also opportunistically on timeouts/disconnects.
func CompletionCheck(s *Slot, expected ExpectedClients) {
	allDone := true
	expected.Names(func(name string) bool {
		if !s.clientDone(name) {
			allDone = false
			return false
		}
		return true
	})

	if allDone {
		s.State = StateFull
	} else {
		s.State = StatePartial
	}
}
