package dispatch

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/dispatchr/internal/ir"
)

// Snapshot serializes the session: its context plus every constructed
// store that can serialize itself (Dehydrator, else json.Marshaler).
// Stores that cannot are left out.
func (d *Dispatcher) Snapshot() (*ir.Snapshot, error) {
	d.mu.Lock()
	sc := maps.Clone(d.storeCtx)
	names := make([]string, 0, len(d.instances))
	slots := make(map[string]*storeSlot, len(d.instances))
	for name, slot := range d.instances {
		if slot.ready.Load() {
			names = append(names, name)
			slots[name] = slot
		}
	}
	d.mu.Unlock()
	slices.Sort(names)

	snap := &ir.Snapshot{
		Context: sc,
		Stores:  make(map[string]json.RawMessage, len(names)),
	}
	if snap.Context == nil {
		snap.Context = ir.StoreContext{}
	}

	for _, name := range names {
		var state any
		switch s := slots[name].inst.(type) {
		case Dehydrator:
			v, err := s.Dehydrate()
			if err != nil {
				return nil, fmt.Errorf("dehydrate store %s: %w", name, err)
			}
			state = v
		case json.Marshaler:
			state = s
		default:
			continue
		}

		raw, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("serialize store %s: %w", name, err)
		}
		snap.Stores[name] = raw
	}

	return snap, nil
}

// Restore loads a snapshot into the session. Every store in the snapshot
// that the session has not created yet is constructed with its serialized
// state; only when all of them construct does the session take the
// snapshot's context and publish the new instances. Stores that were
// already created then take the state through Rehydrate when they
// implement it and are otherwise left untouched.
//
// Every store named in the snapshot must be registered; otherwise
// nothing is applied and an UNREGISTERED_STORE error is returned. A
// construction failure also leaves the session unchanged. A Rehydrate
// failure is reported after the context and new stores are in place, and
// stores earlier in name order keep the state they rehydrated.
func (d *Dispatcher) Restore(snap *ir.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	names := snap.StoreNames()
	descs := make(map[string]*Descriptor, len(names))
	for _, name := range names {
		desc, ok := d.registry.Descriptor(name)
		if !ok {
			return newError(CodeUnregisteredStore, name, "", "snapshot holds state for an unregistered store")
		}
		descs[name] = desc
	}

	sc := maps.Clone(snap.Context)
	if sc == nil {
		sc = ir.StoreContext{}
	}

	built := make(map[string]any, len(names))
	for _, name := range names {
		slot, _ := d.slot(name)
		if slot.ready.Load() {
			continue
		}
		inst, err := d.construct(descs[name], sc, snap.Stores[name])
		if err != nil {
			return fmt.Errorf("restore store %s: %w", name, err)
		}
		built[name] = inst
	}

	d.mu.Lock()
	d.storeCtx = sc
	d.mu.Unlock()

	for _, name := range names {
		if inst, ok := built[name]; ok && d.publish(name, inst) {
			d.logger.Debug("store created", "store", name, "restored", true)
			continue
		}
		slot, _ := d.slot(name)
		r, ok := slot.inst.(Rehydrator)
		if !ok {
			d.logger.Warn("store already created, snapshot state not applied", "store", name)
			continue
		}
		if err := r.Rehydrate(snap.Stores[name]); err != nil {
			return fmt.Errorf("rehydrate store %s: %w", name, err)
		}
	}

	d.logger.Debug("snapshot restored", "stores", len(names))
	return nil
}

// publish installs inst as the session's instance of name unless another
// caller created one first.
func (d *Dispatcher) publish(name string, inst any) bool {
	slot, _ := d.slot(name)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.ready.Load() {
		return false
	}
	slot.inst = inst
	slot.ready.Store(true)
	return true
}

var _ Session = (*Dispatcher)(nil)
