// Package peersign implements the bijection between a peer's identity
// (collector name, peer IP) and a compact 16-bit peer-id, shared across
// all views in a store.
package peersign

import (
	"fmt"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// ID is an opaque handle into a Registry. 0 is reserved to mean "none".
type ID uint16

// NoneID is the reserved "no peer" id.
const NoneID ID = 0

// Signature uniquely names a peer across collectors: a bounded collector
// name paired with the peer's address.
type Signature struct {
	Collector string
	PeerIP    bgpval.Address
}

const maxCollectorNameLen = 128

// Registry is a bidirectional map between peer-ids and signatures. Ids
// are assigned densely from 1 on first insertion and are never reused
// for a different signature. The two directions are always in lock-step.
type Registry struct {
	sigToID map[Signature]ID
	idToSig map[ID]Signature
	nextID  ID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sigToID: make(map[Signature]ID),
		idToSig: make(map[ID]Signature),
		nextID:  1,
	}
}

// SetAndGet returns the existing id for (collector, peerIP) or assigns and
// returns the next dense id.
func (r *Registry) SetAndGet(collector string, peerIP bgpval.Address) (ID, error) {
	if len(collector) > maxCollectorNameLen {
		return NoneID, fmt.Errorf("peersign: %w: collector name exceeds %d bytes", viewerrs.ErrMalformed, maxCollectorNameLen)
	}
	sig := Signature{Collector: collector, PeerIP: peerIP}
	if id, ok := r.sigToID[sig]; ok {
		return id, nil
	}
	id := r.nextID
	r.nextID++
	r.sigToID[sig] = id
	r.idToSig[id] = sig
	return id, nil
}

// GetByID returns the signature bound to id, and whether it was found.
func (r *Registry) GetByID(id ID) (Signature, bool) {
	sig, ok := r.idToSig[id]
	return sig, ok
}

// Set binds id to sig, used to rebuild the same id space during
// deserialization. It is idempotent if the mapping already holds exactly
// this (id, sig) pair. It returns ErrIDConflict if id or sig is already
// bound to a different counterpart.
func (r *Registry) Set(id ID, sig Signature) error {
	if existingSig, ok := r.idToSig[id]; ok {
		if existingSig != sig {
			return fmt.Errorf("peersign: %w: id %d already bound to %+v", viewerrs.ErrIDConflict, id, existingSig)
		}
		// Already bound to this exact signature; idempotent no-op, but
		// fall through to verify the reverse mapping agrees too.
	}
	if existingID, ok := r.sigToID[sig]; ok {
		if existingID != id {
			return fmt.Errorf("peersign: %w: signature %+v already bound to id %d", viewerrs.ErrIDConflict, sig, existingID)
		}
		return nil
	}
	r.idToSig[id] = sig
	r.sigToID[sig] = id
	if id >= r.nextID {
		r.nextID = id + 1
	}
	return nil
}

// Size returns the number of bound peer-ids.
func (r *Registry) Size() int { return len(r.idToSig) }

// Clear empties the registry and resets id assignment to start from 1.
// Views that borrow this registry must not call Clear while still in use.
func (r *Registry) Clear() {
	r.sigToID = make(map[Signature]ID)
	r.idToSig = make(map[ID]Signature)
	r.nextID = 1
}
