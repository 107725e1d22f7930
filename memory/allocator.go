package memory

import (
	"cmp"
	"context"
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/offheap/memory/internal/utils"
	"github.com/vkngwrapper/offheap/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

type region struct {
	// Number of bytes the caller asked for
	size int
	// Number of bytes mapped from the backend, including the debug margin and granularity padding
	blockSize int
}

// Allocator hands out zero-filled regions of memory that live outside the Go heap. Every region
// must be returned with Free exactly once. Regions are tracked by address so the allocator can
// report statistics and unreleased memory.
type Allocator struct {
	logger      *slog.Logger
	backend     Backend
	createFlags CreateFlags
	callbacks   memoryCallbacks

	memoryLimit int
	budget      *semaphore.Weighted // nil if unlimited

	mutex   utils.OptionalRWMutex
	regions *swiss.Map[unsafe.Pointer, region]
	stats   memutils.Statistics
}

func (a *Allocator) blockSize(size int) int {
	return memutils.AlignUp(size+memutils.DebugMargin, uint(a.backend.Granularity()))
}

// Allocate maps a fresh zero-filled region of size bytes. A size of 0 returns a nil pointer and
// maps nothing.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if size < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "cannot allocate %d bytes", size)
	}
	if size == 0 {
		return nil, nil
	}

	blockSize := a.blockSize(size)

	if a.budget != nil && !a.budget.TryAcquire(int64(blockSize)) {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory,
			"allocating %d bytes would exceed the memory limit of %d bytes", blockSize, a.memoryLimit)
	}

	ptr, err := a.backend.Map(blockSize)
	if err != nil {
		if a.budget != nil {
			a.budget.Release(int64(blockSize))
		}
		return nil, err
	}

	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(ptr, size)
	}

	a.mutex.Lock()
	a.regions.Put(ptr, region{size: size, blockSize: blockSize})
	a.stats.BlockCount++
	a.stats.BlockBytes += blockSize
	a.stats.AllocationCount++
	a.stats.AllocationBytes += size
	a.mutex.Unlock()

	a.callbacks.Allocate(ptr, size)

	return ptr, nil
}

// Free unmaps a region previously returned by Allocate. Freeing a nil pointer is a no-op.
func (a *Allocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	a.mutex.Lock()
	r, ok := a.regions.Get(ptr)
	if ok {
		a.regions.Delete(ptr)
		a.stats.BlockCount--
		a.stats.BlockBytes -= r.blockSize
		a.stats.AllocationCount--
		a.stats.AllocationBytes -= r.size
	}
	a.mutex.Unlock()

	if !ok {
		return errors.Newf("attempted to free %p, which is not a live region of this allocator", ptr)
	}

	if !memutils.ValidateMagicValue(ptr, r.size) {
		panic(fmt.Sprintf("MEMORY CORRUPTION DETECTED PAST THE END OF REGION %p (%d bytes)", ptr, r.size))
	}

	a.callbacks.Free(ptr, r.size)

	err := a.backend.Unmap(ptr, r.blockSize)
	if a.budget != nil {
		a.budget.Release(int64(r.blockSize))
	}

	return err
}

// Size returns the number of bytes requested for the live region at ptr
func (a *Allocator) Size(ptr unsafe.Pointer) (int, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	r, ok := a.regions.Get(ptr)
	return r.size, ok
}

// Owns returns true if ptr points anywhere inside a live region of this allocator
func (a *Allocator) Owns(ptr unsafe.Pointer) bool {
	address := uintptr(ptr)
	found := false

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.regions.Iter(func(base unsafe.Pointer, r region) bool {
		if address >= uintptr(base) && address < uintptr(base)+uintptr(r.size) {
			found = true
			return true
		}
		return false
	})

	return found
}

// Statistics returns a summary of the regions currently live in this allocator
func (a *Allocator) Statistics() memutils.Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.stats
}

// CalculateStatistics sums detailed statistics about every live region into stats
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.regions.Iter(func(_ unsafe.Pointer, r region) bool {
		stats.AddBlock(r.blockSize, r.size)
		return false
	})
}

// BuildStatsString produces a json document describing the allocator. If detailed is true, every live
// region is listed.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	objState := writer.Object()
	a.WriteJSON(&objState, detailed)
	objState.End()

	return string(writer.Bytes())
}

// WriteJSON writes the fields of BuildStatsString into an object the caller has opened
func (a *Allocator) WriteJSON(objState *jwriter.ObjectState, detailed bool) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.CalculateStatistics(&stats)

	objState.Name("Flags").String(a.createFlags.String())
	objState.Name("Granularity").Int(a.backend.Granularity())
	objState.Name("MemoryLimit").Int(a.memoryLimit)

	totalObj := objState.Name("Total").Object()
	stats.WriteJSON(&totalObj)
	totalObj.End()

	if detailed {
		a.printRegions(objState)
	}
}

func (a *Allocator) printRegions(json *jwriter.ObjectState) {
	a.mutex.RLock()
	addresses := make([]unsafe.Pointer, 0, a.regions.Count())
	live := make(map[unsafe.Pointer]region, a.regions.Count())
	a.regions.Iter(func(base unsafe.Pointer, r region) bool {
		addresses = append(addresses, base)
		live[base] = r
		return false
	})
	a.mutex.RUnlock()

	slices.SortFunc(addresses, func(left, right unsafe.Pointer) int {
		return cmp.Compare(uintptr(left), uintptr(right))
	})

	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	for _, address := range addresses {
		r := live[address]

		obj := arrayState.Object()
		obj.Name("Address").String(fmt.Sprintf("%p", address))
		obj.Name("Size").Int(r.size)
		obj.Name("BlockSize").Int(r.blockSize)
		obj.End()
	}
}

func (a *Allocator) logUnreleasedMemory(address unsafe.Pointer, r region) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed region",
		slog.String("address", fmt.Sprintf("%p", address)),
		slog.Int("size", r.size),
		slog.Int("blockSize", r.blockSize),
	)
}

// Destroy unmaps every region that is still live. If any were, each one is logged and an error is
// returned after they have been unmapped.
func (a *Allocator) Destroy() error {
	a.mutex.RLock()
	leaked := make([]unsafe.Pointer, 0, a.regions.Count())
	a.regions.Iter(func(base unsafe.Pointer, r region) bool {
		a.logUnreleasedMemory(base, r)
		leaked = append(leaked, base)
		return false
	})
	a.mutex.RUnlock()

	if len(leaked) == 0 {
		return nil
	}

	var freeErr error
	for _, base := range leaked {
		freeErr = errors.CombineErrors(freeErr, a.Free(base))
	}

	err := errors.Newf("%d regions were not freed before the destruction of this allocator", len(leaked))
	if freeErr != nil {
		err = errors.WithSecondaryError(err, freeErr)
	}
	return err
}
