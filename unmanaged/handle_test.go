package unmanaged_test

import (
	"bytes"
	"encoding/json"
	"io"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/offheap/host"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memory"
	"github.com/vkngwrapper/offheap/memory/mocks"
	"github.com/vkngwrapper/offheap/memutils"
	"github.com/vkngwrapper/offheap/unmanaged"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type vertex struct {
	X, Y, Z float32
	Color   uint32
}

func newHeap(t *testing.T, logger *slog.Logger) *unmanaged.Heap {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	allocator, err := memory.New(logger, memory.CreateOptions{Backend: memory.NewHeapBackend()})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, allocator.Destroy())
	})

	heap, err := unmanaged.NewHeap(logger, allocator, unmanaged.HeapOptions{})
	require.NoError(t, err)
	return heap
}

func TestFixedRoundTrip(t *testing.T) {
	heap := newHeap(t, nil)
	v := vertex{X: 1.5, Y: -2, Z: 1e9, Color: 0xFFAA00FF}

	h, err := unmanaged.NewWithValue(heap, layout.Fixed[vertex](), v)
	require.NoError(t, err)
	require.True(t, h.OwnsMemory())
	require.Equal(t, 16, h.Size())

	got, err := h.Get()
	require.NoError(t, err)
	require.Equal(t, v, got)
	require.Equal(t, v, h.Value())
	require.Equal(t, v, unmanaged.ToValue(h))
	require.NoError(t, h.Validate())

	require.NoError(t, h.Dispose())
}

func TestExportScenario(t *testing.T) {
	heap := newHeap(t, nil)
	l := layout.Fixed[int32]()

	h, err := unmanaged.New(heap, l)
	require.NoError(t, err)
	require.Equal(t, int32(0), h.Value())

	require.NoError(t, h.Set(42))
	exported, err := h.Export()
	require.NoError(t, err)
	require.Len(t, exported, 4)
	require.Equal(t, l.Encode(42), exported)

	imported, err := unmanaged.CreateFromExport(heap, l, exported)
	require.NoError(t, err)
	got, err := imported.Get()
	require.NoError(t, err)
	require.Equal(t, int32(42), got)
	require.Equal(t, int32(42), imported.Value())

	require.NoError(t, h.Dispose())
	require.NoError(t, imported.Dispose())
}

func TestCachedValueIsImmutable(t *testing.T) {
	heap := newHeap(t, nil)

	h, err := unmanaged.NewWithValue(heap, layout.Fixed[int64](), int64(10))
	require.NoError(t, err)

	before := h.Value()
	require.NoError(t, h.Set(20))
	require.Equal(t, int64(10), before)
	require.Equal(t, int64(20), h.Value())

	require.NoError(t, h.Dispose())
}

func TestExportRoundTripHeadered(t *testing.T) {
	heap := newHeap(t, nil)
	stringLayout := host.Default.StringLayout()

	h, err := unmanaged.NewWithValue(heap, stringLayout, host.NewString(host.Default, "hello"))
	require.NoError(t, err)
	require.Equal(t, 22, h.Size())

	exported, err := h.Export()
	require.NoError(t, err)
	require.Len(t, exported, 14)

	imported, err := unmanaged.CreateFromExport(heap, stringLayout, exported)
	require.NoError(t, err)
	got, err := imported.Get()
	require.NoError(t, err)
	require.Equal(t, "hello", got.String())

	address, err := imported.BridgeAddress()
	require.NoError(t, err)
	typ, ok := host.Default.TypeAt(address)
	require.True(t, ok)
	require.Equal(t, "host.String", typ.String())

	arrayLayout := host.ArrayLayoutOf[uint16](host.Default)
	array, err := unmanaged.NewWithValue(heap, arrayLayout, host.NewArray(host.Default, []uint16{1, 2, 3}))
	require.NoError(t, err)
	exported, err = array.Export()
	require.NoError(t, err)
	arrayCopy, err := unmanaged.CreateFromExport(heap, arrayLayout, exported)
	require.NoError(t, err)
	require.Equal(t, []uint16{1, 2, 3}, arrayCopy.Value().Slice())

	boxLayout := host.BoxLayoutOf[vertex](host.Default)
	box, err := unmanaged.NewWithValue(heap, boxLayout, host.NewBox(host.Default, vertex{X: 3}))
	require.NoError(t, err)
	exported, err = box.Export()
	require.NoError(t, err)
	require.Len(t, exported, 16)
	boxCopy, err := unmanaged.CreateFromExport(heap, boxLayout, exported)
	require.NoError(t, err)
	require.Equal(t, vertex{X: 3}, boxCopy.Value().Get())

	for _, d := range []interface{ Dispose() error }{h, imported, array, arrayCopy, box, boxCopy} {
		require.NoError(t, d.Dispose())
	}
}

func TestCreateFromExportErrors(t *testing.T) {
	heap := newHeap(t, nil)

	_, err := unmanaged.CreateFromExport(heap, layout.Fixed[int32](), []byte{1, 2})
	require.ErrorIs(t, err, memutils.ErrSizeMismatch)

	// claims ten characters but carries two
	_, err = unmanaged.CreateFromExport(heap, host.Default.StringLayout(), []byte{10, 0, 0, 0, 'h', 0, 'i', 0})
	require.ErrorIs(t, err, memutils.ErrSizeMismatch)

	require.Equal(t, 0, heap.Allocator().Statistics().AllocationCount)
	require.Equal(t, 0, heap.Registry().Len())
}

func TestCreateFromExportShortPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().Granularity().Return(8).AnyTimes()

	allocator, err := memory.New(nil, memory.CreateOptions{Backend: backend})
	require.NoError(t, err)
	heap, err := unmanaged.NewHeap(nil, allocator, unmanaged.HeapOptions{})
	require.NoError(t, err)

	// nothing is mapped, so nothing is read past a region
	for _, payload := range [][]byte{nil, {}, {2, 0}} {
		_, err = unmanaged.CreateFromExport(heap, host.Default.StringLayout(), payload)
		require.ErrorIs(t, err, memutils.ErrSizeMismatch)
	}
	_, err = unmanaged.CreateFromExport(heap, host.ArrayLayoutOf[int32](host.Default), []byte{1, 0, 0})
	require.ErrorIs(t, err, memutils.ErrSizeMismatch)

	require.Equal(t, 0, heap.Registry().Len())
	require.NoError(t, allocator.Destroy())
}

func TestSecureWipeAfterDispose(t *testing.T) {
	heap := newHeap(t, nil)

	fixed, err := unmanaged.NewWithValue(heap, layout.Fixed[uint64](), uint64(0xDEADBEEFCAFEF00D))
	require.NoError(t, err)
	address, err := fixed.BridgeAddress()
	require.NoError(t, err)
	fixedView := memutils.Bytes(address, 8)
	require.False(t, memutils.IsZero(fixedView))

	str, err := unmanaged.NewWithValue(heap, host.Default.StringLayout(), host.NewString(host.Default, "secret"))
	require.NoError(t, err)
	address, err = str.BridgeAddress()
	require.NoError(t, err)
	payloadView := memutils.Bytes(unsafe.Add(address, 4), str.Size()-8)
	require.False(t, memutils.IsZero(payloadView))

	require.NoError(t, fixed.Dispose())
	require.NoError(t, str.Dispose())

	require.True(t, memutils.IsZero(fixedView))
	require.True(t, memutils.IsZero(payloadView))
}

func TestDoubleDisposeFreesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)

	blockSize := memutils.AlignUp(4+memutils.DebugMargin, 8)
	data := make([]uint64, blockSize/8)
	dataPtr := unsafe.Pointer(&data[0])

	backend.EXPECT().Granularity().Return(8).AnyTimes()
	backend.EXPECT().Map(blockSize).Return(dataPtr, nil).Times(1)
	backend.EXPECT().Unmap(dataPtr, blockSize).Return(nil).Times(1)

	allocator, err := memory.New(nil, memory.CreateOptions{Backend: backend})
	require.NoError(t, err)
	heap, err := unmanaged.NewHeap(nil, allocator, unmanaged.HeapOptions{})
	require.NoError(t, err)

	h, err := unmanaged.NewWithValue(heap, layout.Fixed[int32](), int32(7))
	require.NoError(t, err)

	require.NoError(t, h.Dispose())
	require.NoError(t, h.Dispose())
	require.True(t, h.Disposed())
	require.NoError(t, allocator.Destroy())
}

func TestDisposedHandle(t *testing.T) {
	heap := newHeap(t, nil)

	h, err := unmanaged.NewWithValue(heap, layout.Fixed[int32](), int32(5))
	require.NoError(t, err)
	require.NoError(t, h.Dispose())

	_, err = h.Get()
	require.ErrorIs(t, err, memutils.ErrDisposed)
	require.ErrorIs(t, h.Set(6), memutils.ErrDisposed)
	_, err = h.Export()
	require.ErrorIs(t, err, memutils.ErrDisposed)
	_, err = h.BridgeAddress()
	require.ErrorIs(t, err, memutils.ErrDisposed)

	require.Equal(t, int32(0), h.Value())
	require.Equal(t, 0, h.Size())
	require.False(t, h.OwnsMemory())
	require.NoError(t, h.Validate())
	require.Equal(t, int32(0), unmanaged.ToValue[int32](nil))
}

func TestAliasingHeadered(t *testing.T) {
	var logs bytes.Buffer
	heap := newHeap(t, slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	stringLayout := host.Default.StringLayout()

	// extra capacity past the characters, which only the registry knows about
	padded := append([]byte{2, 0, 0, 0, 'h', 0, 'i', 0}, 0, 0, 0, 0)
	owner, err := unmanaged.CreateFromExport(heap, stringLayout, padded)
	require.NoError(t, err)
	require.Equal(t, 20, owner.Size())

	address, err := owner.BridgeAddress()
	require.NoError(t, err)

	alias, err := unmanaged.FromPointer(heap, stringLayout, address)
	require.NoError(t, err)
	require.False(t, alias.OwnsMemory())
	require.Equal(t, owner.Size(), alias.Size())
	require.Contains(t, logs.String(), "aliasing live handle")

	aliasValue, err := alias.Get()
	require.NoError(t, err)
	ownerValue, err := owner.Get()
	require.NoError(t, err)
	require.True(t, aliasValue.Equal(ownerValue))
	require.Equal(t, "hi", aliasValue.String())
	require.Equal(t, 2, heap.Registry().Len())

	require.NoError(t, alias.Dispose())
	ownerValue, err = owner.Get()
	require.NoError(t, err)
	require.Equal(t, "hi", ownerValue.String())
	require.True(t, owner.OwnsMemory())

	require.NoError(t, owner.Dispose())
	require.Equal(t, 0, heap.Registry().Len())
}

func TestSetOnHeaderedAliasDetaches(t *testing.T) {
	heap := newHeap(t, nil)
	stringLayout := host.Default.StringLayout()

	owner, err := unmanaged.NewWithValue(heap, stringLayout, host.NewString(host.Default, "ab"))
	require.NoError(t, err)
	address, err := owner.BridgeAddress()
	require.NoError(t, err)

	for _, text := range []string{"zz", "longer"} {
		alias, err := unmanaged.FromPointer(heap, stringLayout, address)
		require.NoError(t, err)
		require.False(t, alias.OwnsMemory())

		require.NoError(t, alias.Set(host.NewString(host.Default, text)))
		require.True(t, alias.OwnsMemory())
		require.Equal(t, text, alias.Value().String())
		aliasAddress, err := alias.BridgeAddress()
		require.NoError(t, err)
		require.NotEqual(t, address, aliasAddress)

		got, err := owner.Get()
		require.NoError(t, err)
		require.Equal(t, "ab", got.String())
		require.NoError(t, alias.Validate())

		require.NoError(t, alias.Dispose())
	}

	require.NoError(t, heap.Validate())
	require.NoError(t, owner.Dispose())
}

func TestCollectedHandlesArePruned(t *testing.T) {
	heap := newHeap(t, nil)
	stringLayout := host.Default.StringLayout()
	s := host.NewString(host.Default, "dropped")

	func() {
		_, err := unmanaged.FromPointer(heap, stringLayout, s.Address())
		require.NoError(t, err)
	}()
	require.Equal(t, 1, heap.Registry().Len())

	pruned := false
	for i := 0; i < 100 && !pruned; i++ {
		runtime.GC()

		h, err := unmanaged.FromPointer(heap, stringLayout, s.Address())
		require.NoError(t, err)
		pruned = heap.Registry().Len() == 1
		require.NoError(t, h.Dispose())

		if !pruned {
			time.Sleep(10 * time.Millisecond)
		}
	}

	require.True(t, pruned)
	require.Equal(t, 0, heap.Registry().Len())
	require.Equal(t, 0, heap.Registry().Prune())
	require.Equal(t, 0, heap.Registry().Slots())
	require.NoError(t, heap.Registry().Validate())
	require.Equal(t, "dropped", s.String())
}

func TestAliasingFixed(t *testing.T) {
	heap := newHeap(t, nil)

	owner, err := unmanaged.NewWithValue(heap, layout.Fixed[int64](), int64(7))
	require.NoError(t, err)
	address, err := owner.BridgeAddress()
	require.NoError(t, err)

	alias, err := unmanaged.FromPointer(heap, layout.Fixed[int64](), address)
	require.NoError(t, err)
	require.False(t, alias.OwnsMemory())
	require.Equal(t, int64(7), alias.Value())

	// writes through an alias land in the owner's block
	require.NoError(t, alias.Set(8))
	got, err := owner.Get()
	require.NoError(t, err)
	require.Equal(t, int64(8), got)

	require.NoError(t, alias.Dispose())
	got, err = owner.Get()
	require.NoError(t, err)
	require.Equal(t, int64(8), got)

	require.NoError(t, owner.Dispose())
}

func TestFromPointerForeign(t *testing.T) {
	var logs bytes.Buffer
	heap := newHeap(t, slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	s := host.NewString(host.Default, "foreign")
	h, err := unmanaged.FromPointer(heap, host.Default.StringLayout(), s.Address())
	require.NoError(t, err)
	require.False(t, h.OwnsMemory())
	require.Equal(t, 26, h.Size())
	require.Equal(t, "foreign", h.Value().String())
	require.Contains(t, logs.String(), "wrapping foreign memory")

	require.NoError(t, h.Dispose())
	require.Equal(t, "foreign", s.String())

	_, err = unmanaged.FromPointer(heap, host.Default.StringLayout(), nil)
	require.Error(t, err)
}

func TestFromValue(t *testing.T) {
	heap := newHeap(t, nil)

	fixed, err := unmanaged.FromValue(heap, layout.Fixed[int32](), int32(99))
	require.NoError(t, err)
	require.True(t, fixed.OwnsMemory())
	require.Equal(t, int32(99), fixed.Value())

	s := host.NewString(host.Default, "wrapped")
	wrapped, err := unmanaged.FromValue(heap, host.Default.StringLayout(), s)
	require.NoError(t, err)
	require.False(t, wrapped.OwnsMemory())
	require.Equal(t, s.Address(), wrapped.Value().Address())

	owner, err := unmanaged.NewWithValue(heap, host.Default.StringLayout(), s)
	require.NoError(t, err)
	alias, err := unmanaged.FromValue(heap, host.Default.StringLayout(), owner.Value())
	require.NoError(t, err)
	require.False(t, alias.OwnsMemory())
	require.Equal(t, owner.Size(), alias.Size())

	_, err = unmanaged.FromValue(heap, host.Default.StringLayout(), host.String{})
	require.Error(t, err)

	for _, d := range []interface{ Dispose() error }{fixed, wrapped, owner, alias} {
		require.NoError(t, d.Dispose())
	}
}

func TestHeaderedSetResizes(t *testing.T) {
	heap := newHeap(t, nil)
	stringLayout := host.Default.StringLayout()

	h, err := unmanaged.New(heap, stringLayout)
	require.NoError(t, err)
	require.Equal(t, 12, h.Size())
	require.Equal(t, host.String{}, h.Value())

	got, err := h.Get()
	require.NoError(t, err)
	require.Equal(t, "", got.String())

	require.NoError(t, h.Set(host.NewString(host.Default, "abcdef")))
	require.Equal(t, 24, h.Size())
	require.Equal(t, "abcdef", h.Value().String())

	require.NoError(t, h.Set(host.NewString(host.Default, "xy")))
	require.Equal(t, 16, h.Size())
	require.Equal(t, "xy", h.Value().String())

	// setting a handle to its own value changes nothing
	require.NoError(t, h.Set(h.Value()))
	require.Equal(t, "xy", h.Value().String())

	require.Error(t, h.Set(host.String{}))
	require.NoError(t, h.Validate())
	require.NoError(t, heap.Validate())
	require.NoError(t, h.Dispose())
}

func TestEqualHashString(t *testing.T) {
	heap := newHeap(t, nil)

	a, err := unmanaged.NewWithValue(heap, layout.Fixed[int32](), int32(42))
	require.NoError(t, err)
	b, err := unmanaged.NewWithValue(heap, layout.Fixed[int32](), int32(42))
	require.NoError(t, err)
	c, err := unmanaged.NewWithValue(heap, layout.Fixed[int32](), int32(43))
	require.NoError(t, err)

	require.True(t, a.Equal(42))
	require.False(t, a.Equal(43))
	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), c.Hash())
	require.Equal(t, "42", a.String())

	s1, err := unmanaged.NewWithValue(heap, host.Default.StringLayout(), host.NewString(host.Default, "same"))
	require.NoError(t, err)
	s2, err := unmanaged.NewWithValue(heap, host.Default.StringLayout(), host.NewString(host.Default, "same"))
	require.NoError(t, err)

	require.True(t, s1.Equal(host.NewString(host.Default, "same")))
	require.Equal(t, s1.Hash(), s2.Hash())
	require.Equal(t, "same", s1.String())

	for _, d := range []interface{ Dispose() error }{a, b, c, s1, s2} {
		require.NoError(t, d.Dispose())
	}
}

type untypedLayout struct{}

func (untypedLayout) Descriptor() layout.Descriptor {
	return layout.Descriptor{Name: "untyped", Kind: layout.KindString}
}

func (untypedLayout) Decode([]byte) (host.String, error) {
	return host.String{}, nil
}

func TestLayoutErrors(t *testing.T) {
	heap := newHeap(t, nil)

	_, err := unmanaged.New[host.String](heap, untypedLayout{})
	require.ErrorIs(t, err, memutils.ErrNoBridge)

	_, err = unmanaged.New[int32](heap, nil)
	require.Error(t, err)
}

func TestHeapStats(t *testing.T) {
	heap := newHeap(t, nil)

	h, err := unmanaged.NewWithValue(heap, layout.Fixed[int32](), int32(1))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(heap.BuildStatsString(true)), &doc))
	require.Equal(t, float64(1), doc["Registry"].(map[string]any)["Live"])
	require.Equal(t, float64(4), doc["Allocator"].(map[string]any)["Total"].(map[string]any)["AllocationBytes"])

	require.NoError(t, h.Dispose())
}

func TestNewHeapValidatesGeometry(t *testing.T) {
	g := layout.DefaultGeometry
	g.CharSize = -1
	_, err := unmanaged.NewHeap(nil, nil, unmanaged.HeapOptions{Geometry: g})
	require.Error(t, err)

	require.Same(t, unmanaged.DefaultHeap(), unmanaged.DefaultHeap())
	require.Equal(t, layout.DefaultGeometry, unmanaged.DefaultHeap().Geometry())
}
