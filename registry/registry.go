package registry

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/offheap/memutils"
	"golang.org/x/exp/slices"
)

// ID identifies a record in a Registry. The generation makes ids of released records stale: they
// are rejected even after their slot has been reused.
type ID struct {
	index      uint32
	generation uint32
}

// NoID is never returned by Register
var NoID = ID{}

func (id ID) String() string {
	return fmt.Sprintf("%d#%d", id.index, id.generation)
}

// Record describes the block of one live handle. It holds addresses, never the handle itself, so a
// registry cannot keep a handle alive.
type Record struct {
	// Type is the handle's element type
	Type reflect.Type
	// Base is the start of the handle's block
	Base uintptr
	// Bridge is the bridge address of the handle's block
	Bridge uintptr
	// Size is the size of the handle's block
	Size int
	// Owned is true if the handle's block owns its region
	Owned bool
	// Dead, if not nil, marks the record as collectable the next time the registry is pruned. It
	// is set from outside the registry, typically by a finalizer.
	Dead *atomic.Bool
}

func (r Record) dead() bool {
	return r.Dead != nil && r.Dead.Load()
}

type slot struct {
	record     Record
	generation uint32
	live       bool
}

type addressKey struct {
	typ    reflect.Type
	bridge uintptr
}

// Registry is an arena of handle records with an index from (type, bridge address) to the records
// at that address. It answers "does this address already belong to one of our handles". Registry is
// not safe for concurrent use.
type Registry struct {
	slots          []slot
	free           []uint32
	liveCount      int
	nextGeneration uint32

	addresses *swiss.Map[addressKey, []uint32]
}

// New creates an empty Registry
func New() *Registry {
	return &Registry{
		addresses: swiss.NewMap[addressKey, []uint32](16),
	}
}

func (r *Registry) generation() uint32 {
	r.nextGeneration++
	if r.nextGeneration == 0 {
		r.nextGeneration++
	}
	return r.nextGeneration
}

func (r *Registry) index(record Record, index uint32) {
	key := addressKey{typ: record.Type, bridge: record.Bridge}
	indices, _ := r.addresses.Get(key)
	r.addresses.Put(key, append(indices, index))
}

func (r *Registry) unindex(record Record, index uint32) {
	key := addressKey{typ: record.Type, bridge: record.Bridge}
	indices, ok := r.addresses.Get(key)
	if !ok {
		return
	}

	indices = slices.DeleteFunc(indices, func(i uint32) bool { return i == index })
	if len(indices) == 0 {
		r.addresses.Delete(key)
		return
	}
	r.addresses.Put(key, indices)
}

func (r *Registry) slot(id ID) (*slot, error) {
	if id == NoID || int(id.index) >= len(r.slots) {
		return nil, errors.Newf("registry id %s does not exist", id)
	}

	s := &r.slots[id.index]
	if !s.live || s.generation != id.generation {
		return nil, errors.Newf("registry id %s is stale", id)
	}
	return s, nil
}

// Register adds a record and returns its id
func (r *Registry) Register(record Record) ID {
	var index uint32
	if len(r.free) > 0 {
		index = r.free[len(r.free)-1]
		r.free = r.free[:len(r.free)-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	generation := r.generation()
	r.slots[index] = slot{record: record, generation: generation, live: true}
	r.index(record, index)
	r.liveCount++
	memutils.DebugValidate(r)

	return ID{index: index, generation: generation}
}

// Move replaces the addresses of a record after its block was re-allocated
func (r *Registry) Move(id ID, record Record) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}

	r.unindex(s.record, id.index)
	if record.Dead == nil {
		record.Dead = s.record.Dead
	}
	s.record = record
	r.index(record, id.index)
	memutils.DebugValidate(r)
	return nil
}

// Release removes a record. Releasing a stale id is an error.
func (r *Registry) Release(id ID) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}

	r.release(id.index, s)
	memutils.DebugValidate(r)
	return nil
}

func (r *Registry) release(index uint32, s *slot) {
	r.unindex(s.record, index)
	s.record = Record{}
	s.live = false
	r.free = append(r.free, index)
	r.liveCount--
}

// Get returns the record for an id
func (r *Registry) Get(id ID) (Record, bool) {
	s, err := r.slot(id)
	if err != nil {
		return Record{}, false
	}
	return s.record, true
}

// Contains returns true if a live record of the provided type has the provided bridge address
func (r *Registry) Contains(typ reflect.Type, bridge uintptr) bool {
	_, found := r.Lookup(typ, bridge)
	return found
}

// Lookup returns a live record of the provided type with the provided bridge address. Records that
// own their block are preferred over aliases of it.
func (r *Registry) Lookup(typ reflect.Type, bridge uintptr) (Record, bool) {
	indices, ok := r.addresses.Get(addressKey{typ: typ, bridge: bridge})
	if !ok {
		return Record{}, false
	}

	var found *Record
	for _, index := range indices {
		record := &r.slots[index].record
		if record.dead() {
			continue
		}
		if record.Owned {
			return *record, true
		}
		if found == nil {
			found = record
		}
	}

	if found == nil {
		return Record{}, false
	}
	return *found, true
}

// Prune releases records marked dead and returns unused slots at the end of the arena. It returns
// the number of records released.
func (r *Registry) Prune() int {
	released := 0
	for i := range r.slots {
		s := &r.slots[i]
		if s.live && s.record.dead() {
			r.release(uint32(i), s)
			released++
		}
	}

	end := len(r.slots)
	for end > 0 && !r.slots[end-1].live {
		end--
	}

	if end < len(r.slots) {
		r.free = slices.DeleteFunc(r.free, func(index uint32) bool { return int(index) >= end })
		r.slots = slices.Clip(r.slots[:end])
	}
	memutils.DebugValidate(r)

	return released
}

// Len returns the number of live records
func (r *Registry) Len() int {
	return r.liveCount
}

// Slots returns the size of the arena, live and free slots together
func (r *Registry) Slots() int {
	return len(r.slots)
}

// Validate performs internal consistency checks on the arena and its address index
func (r *Registry) Validate() error {
	live := 0
	for i, s := range r.slots {
		if !s.live {
			continue
		}
		live++

		indices, ok := r.addresses.Get(addressKey{typ: s.record.Type, bridge: s.record.Bridge})
		if !ok || !slices.Contains(indices, uint32(i)) {
			return errors.Newf("record %d at %#x is missing from the address index", i, s.record.Bridge)
		}
	}

	if live != r.liveCount {
		return errors.Newf("registry counts %d live records but holds %d", r.liveCount, live)
	}
	if live+len(r.free) != len(r.slots) {
		return errors.Newf("registry has %d live records and %d free slots, but %d slots", live, len(r.free), len(r.slots))
	}

	indexed := 0
	var indexErr error
	r.addresses.Iter(func(key addressKey, indices []uint32) bool {
		for _, index := range indices {
			if int(index) >= len(r.slots) || !r.slots[index].live {
				indexErr = errors.Newf("address index points %#x at free slot %d", key.bridge, index)
				return true
			}
		}
		indexed += len(indices)
		return false
	})
	if indexErr != nil {
		return indexErr
	}
	if indexed != live {
		return errors.Newf("address index holds %d records but %d are live", indexed, live)
	}

	return nil
}

// BuildStatsString produces a json document describing the registry. If detailed is true, every live
// record is listed.
func (r *Registry) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	objState := writer.Object()
	r.WriteJSON(&objState, detailed)
	objState.End()

	return string(writer.Bytes())
}

// WriteJSON writes the fields of BuildStatsString into an object the caller has opened
func (r *Registry) WriteJSON(objState *jwriter.ObjectState, detailed bool) {
	objState.Name("Live").Int(r.liveCount)
	objState.Name("Slots").Int(len(r.slots))
	objState.Name("FreeSlots").Int(len(r.free))
	objState.Name("Addresses").Int(r.addresses.Count())

	if !detailed {
		return
	}

	arrayState := objState.Name("Records").Array()
	defer arrayState.End()

	for i, s := range r.slots {
		if !s.live {
			continue
		}

		obj := arrayState.Object()
		obj.Name("ID").String(ID{index: uint32(i), generation: s.generation}.String())
		obj.Name("Type").String(s.record.Type.String())
		obj.Name("Base").String(fmt.Sprintf("%#x", s.record.Base))
		obj.Name("Bridge").String(fmt.Sprintf("%#x", s.record.Bridge))
		obj.Name("Size").Int(s.record.Size)
		obj.Name("Owned").Bool(s.record.Owned)
		obj.End()
	}
}
