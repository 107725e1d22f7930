package unmanaged

import (
	"sync"

	"github.com/dolthub/maphash"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/memory"
	"github.com/vkngwrapper/offheap/registry"
	"golang.org/x/exp/slog"
)

// HeapOptions contains optional settings when creating a heap
type HeapOptions struct {
	// Geometry is the header layout of headered blocks. If it is left zero, layout.DefaultGeometry is used.
	Geometry layout.Geometry
	// Registry tracks the live handles of this heap. If it is left nil, a new one is created. Heaps
	// that share a registry detect aliasing between each other's handles.
	Registry *registry.Registry
}

// Heap is the allocator, registry, and geometry that a group of handles share. Handles and the
// registry are not safe for concurrent use, so neither is a Heap.
type Heap struct {
	logger    *slog.Logger
	allocator *memory.Allocator
	registry  *registry.Registry
	geometry  layout.Geometry
	hasher    maphash.Hasher[string]
}

// NewHeap creates a new Heap
//
// logger - The logger that aliasing decisions are written to at debug level
//
// allocator - The source of memory for handles of this heap. If nil, an allocator with default
// options is created.
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewHeap(logger *slog.Logger, allocator *memory.Allocator, options HeapOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}

	geometry := options.Geometry
	if geometry == (layout.Geometry{}) {
		geometry = layout.DefaultGeometry
	}
	err := geometry.Validate()
	if err != nil {
		return nil, err
	}

	if allocator == nil {
		allocator, err = memory.New(logger, memory.CreateOptions{})
		if err != nil {
			return nil, err
		}
	}

	reg := options.Registry
	if reg == nil {
		reg = registry.New()
	}

	return &Heap{
		logger:    logger,
		allocator: allocator,
		registry:  reg,
		geometry:  geometry,
		hasher:    maphash.NewHasher[string](),
	}, nil
}

var defaultHeap struct {
	once sync.Once
	heap *Heap
}

// DefaultHeap is the process-wide heap used when a nil heap is passed to a constructor. It uses
// slog.Default, page-mapped memory, and layout.DefaultGeometry.
func DefaultHeap() *Heap {
	defaultHeap.once.Do(func() {
		heap, err := NewHeap(nil, nil, HeapOptions{})
		if err != nil {
			panic(err)
		}
		defaultHeap.heap = heap
	})
	return defaultHeap.heap
}

func (h *Heap) Allocator() *memory.Allocator {
	return h.allocator
}

func (h *Heap) Registry() *registry.Registry {
	return h.registry
}

func (h *Heap) Geometry() layout.Geometry {
	return h.geometry
}

// Validate performs internal consistency checks on the heap's registry
func (h *Heap) Validate() error {
	return h.registry.Validate()
}

// BuildStatsString produces a json document describing the heap's allocator and registry. If detailed
// is true, every live region and record is listed.
func (h *Heap) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	objState := writer.Object()

	allocatorObj := objState.Name("Allocator").Object()
	h.allocator.WriteJSON(&allocatorObj, detailed)
	allocatorObj.End()

	registryObj := objState.Name("Registry").Object()
	h.registry.WriteJSON(&registryObj, detailed)
	registryObj.End()

	objState.End()
	return string(writer.Bytes())
}
