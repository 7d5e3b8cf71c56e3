package wrcgw

import (
	"sync"
	"time"
)

// Registry maps MAC<->serial and owns the WrenchContext set for a single
// serial port. Each port worker gets its own Registry (spec.md §4.5:
// "each port owns its own wrench registry; no global wrench map exists").
type Registry struct {
	mu sync.Mutex

	macToSerial map[uint32]Serial
	wrenches    map[Serial]*WrenchContext // keyed by serial

	// pendingHeartbeat tracks MACs that have been probed (GetInfo(serial))
	// but have not yet answered with InfoSerial, so there is no
	// WrenchContext yet to expire them on its own tick. Reaped after
	// heartbeatExpiry (spec.md §9's "35s hard expiry").
	pendingHeartbeat map[uint32]time.Time
}

// NewRegistry builds an empty per-port registry.
func NewRegistry() *Registry {
	return &Registry{
		macToSerial:      make(map[uint32]Serial),
		wrenches:         make(map[Serial]*WrenchContext),
		pendingHeartbeat: make(map[uint32]time.Time),
	}
}

// LookupByMAC returns the context bound to mac, if any.
func (r *Registry) LookupByMAC(mac uint32) (*WrenchContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	serial, ok := r.macToSerial[mac]
	if !ok {
		return nil, false
	}
	wc, ok := r.wrenches[serial]
	return wc, ok
}

// LookupBySerial returns the context for serial, if known.
func (r *Registry) LookupBySerial(serial Serial) (*WrenchContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wc, ok := r.wrenches[serial]
	return wc, ok
}

// NoteProbe records that mac was just asked for its serial, so the pending
// heartbeat reaper can expire it if InfoSerial never arrives.
func (r *Registry) NoteProbe(mac uint32, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingHeartbeat[mac] = now
}

// OnSerial implements spec.md §4.3's on_serial: binds serial to mac,
// creating a new WrenchContext if serial is unknown, or moving the
// mac->serial binding to the new mac if it changed for an already-known
// serial. It does not touch the context itself; the caller recovers any
// in-flight task through WrenchContext.Reconnect. Serial 0 is reserved
// and ignored.
//
// Returns the context, whether a MAC migration occurred, and whether a new
// context was created.
func (r *Registry) OnSerial(mac uint32, serial Serial, now time.Time) (wc *WrenchContext, migrated bool, created bool) {
	if serial.IsZero() {
		return nil, false, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pendingHeartbeat, mac)

	wc, ok := r.wrenches[serial]
	if !ok {
		wc = NewWrenchContext(serial, mac)
		r.wrenches[serial] = wc
		r.macToSerial[mac] = serial
		return wc, false, true
	}

	if wc.MAC() != mac {
		// Drop the stale mac->serial entry before installing the new one;
		// a reconnect under a new radio address is the common case this
		// spec calls out explicitly.
		delete(r.macToSerial, wc.MAC())
		r.macToSerial[mac] = serial
		return wc, true, false
	}

	return wc, false, false
}

// ReapHeartbeats drops pending MAC probes older than expiry. Called once
// per supervisor tick.
func (r *Registry) ReapHeartbeats(now time.Time, expiry time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for mac, seen := range r.pendingHeartbeat {
		if now.Sub(seen) > expiry {
			delete(r.pendingHeartbeat, mac)
		}
	}
}

// All returns every known context. Used by the per-tick supervisor loop.
func (r *Registry) All() []*WrenchContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*WrenchContext, 0, len(r.wrenches))
	for _, wc := range r.wrenches {
		out = append(out, wc)
	}
	return out
}
