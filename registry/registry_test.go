package registry_test

import (
	"encoding/json"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/offheap/registry"
)

var (
	intType    = reflect.TypeOf(int32(0))
	stringType = reflect.TypeOf("")
)

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New()

	owner := r.Register(registry.Record{Type: stringType, Base: 0x1000, Bridge: 0x1004, Size: 16, Owned: true})
	require.NotEqual(t, registry.NoID, owner)
	require.Equal(t, 1, r.Len())

	require.True(t, r.Contains(stringType, 0x1004))
	require.False(t, r.Contains(stringType, 0x1000))
	require.False(t, r.Contains(intType, 0x1004))

	alias := r.Register(registry.Record{Type: stringType, Base: 0x1000, Bridge: 0x1004, Size: 16})
	record, found := r.Lookup(stringType, 0x1004)
	require.True(t, found)
	require.True(t, record.Owned)
	require.Equal(t, uintptr(0x1000), record.Base)

	require.NoError(t, r.Release(owner))
	record, found = r.Lookup(stringType, 0x1004)
	require.True(t, found)
	require.False(t, record.Owned)

	require.NoError(t, r.Release(alias))
	require.False(t, r.Contains(stringType, 0x1004))
	require.Equal(t, 0, r.Len())
	require.NoError(t, r.Validate())
}

func TestStaleIDs(t *testing.T) {
	r := registry.New()

	first := r.Register(registry.Record{Type: intType, Base: 0x10, Bridge: 0x10, Size: 4, Owned: true})
	require.NoError(t, r.Release(first))
	require.Error(t, r.Release(first))

	// the slot is reused, but the old id stays stale
	second := r.Register(registry.Record{Type: intType, Base: 0x20, Bridge: 0x20, Size: 4, Owned: true})
	require.Equal(t, 1, r.Slots())
	require.Error(t, r.Release(first))
	require.Error(t, r.Move(first, registry.Record{Type: intType, Base: 0x30, Bridge: 0x30, Size: 4}))
	_, found := r.Get(first)
	require.False(t, found)

	record, found := r.Get(second)
	require.True(t, found)
	require.Equal(t, uintptr(0x20), record.Base)

	require.Error(t, r.Release(registry.NoID))
	require.NoError(t, r.Release(second))
}

func TestMove(t *testing.T) {
	r := registry.New()

	id := r.Register(registry.Record{Type: stringType, Base: 0x100, Bridge: 0x104, Size: 12, Owned: true})
	require.NoError(t, r.Move(id, registry.Record{Type: stringType, Base: 0x200, Bridge: 0x204, Size: 24, Owned: true}))

	require.False(t, r.Contains(stringType, 0x104))
	record, found := r.Lookup(stringType, 0x204)
	require.True(t, found)
	require.Equal(t, 24, record.Size)
	require.NoError(t, r.Validate())
}

func TestPrune(t *testing.T) {
	r := registry.New()

	var dead atomic.Bool
	ids := make([]registry.ID, 0, 4)
	for i := 0; i < 4; i++ {
		record := registry.Record{Type: intType, Base: uintptr(0x100 * (i + 1)), Bridge: uintptr(0x100 * (i + 1)), Size: 4, Owned: true}
		if i >= 2 {
			record.Dead = &dead
		}
		ids = append(ids, r.Register(record))
	}

	require.NoError(t, r.Release(ids[0]))
	require.Equal(t, 0, r.Prune())
	require.Equal(t, 4, r.Slots())

	dead.Store(true)
	require.False(t, r.Contains(intType, 0x300))
	require.Equal(t, 2, r.Prune())
	require.Equal(t, 1, r.Len())
	require.Equal(t, 2, r.Slots())
	require.NoError(t, r.Validate())
	require.Error(t, r.Release(ids[3]))

	require.NoError(t, r.Release(ids[1]))
	r.Prune()
	require.Equal(t, 0, r.Slots())

	fresh := r.Register(registry.Record{Type: intType, Base: 0x900, Bridge: 0x900, Size: 4, Owned: true})
	require.Error(t, r.Release(ids[0]))
	require.NoError(t, r.Release(fresh))
	require.NoError(t, r.Validate())
}

func TestBuildStatsString(t *testing.T) {
	r := registry.New()
	r.Register(registry.Record{Type: stringType, Base: 0x100, Bridge: 0x104, Size: 12, Owned: true})
	released := r.Register(registry.Record{Type: intType, Base: 0x200, Bridge: 0x200, Size: 4, Owned: true})
	require.NoError(t, r.Release(released))

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.BuildStatsString(true)), &doc))
	require.Equal(t, float64(1), doc["Live"])
	require.Equal(t, float64(2), doc["Slots"])
	require.Equal(t, float64(1), doc["FreeSlots"])

	records := doc["Records"].([]any)
	require.Len(t, records, 1)
	record := records[0].(map[string]any)
	require.Equal(t, "string", record["Type"])
	require.Equal(t, "0x104", record["Bridge"])
	require.Equal(t, true, record["Owned"])

	require.NoError(t, json.Unmarshal([]byte(r.BuildStatsString(false)), &doc))
}
