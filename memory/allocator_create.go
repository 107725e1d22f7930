package memory

import (
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/offheap/memory/internal/utils"
	"github.com/vkngwrapper/offheap/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := allocatorCreateFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// Backend is the source of raw regions. If it is left nil, NewPageBackend is used.
	Backend Backend

	// MemoryLimit is the maximum number of bytes, measured after rounding regions up to the
	// backend's granularity, that may be mapped at once. 0 indicates no limit. Allocations beyond
	// the limit fail with memutils.ErrOutOfMemory.
	MemoryLimit int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when regions are
	// mapped and unmapped by this allocator
	MemoryCallbackOptions *MemoryCallbackOptions
}

// New creates a new Allocator
//
// logger - The logger that unreleased memory and other diagnostics are written to
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if options.MemoryLimit < 0 {
		return nil, errors.Newf("memory.CreateOptions.MemoryLimit must not be negative, but was %d", options.MemoryLimit)
	}

	backend := options.Backend
	if backend == nil {
		backend = NewPageBackend()
	}

	err := memutils.CheckPow2(backend.Granularity(), "backend granularity")
	if err != nil {
		return nil, err
	}

	allocator := &Allocator{
		logger:      logger,
		backend:     backend,
		createFlags: options.Flags,
		memoryLimit: options.MemoryLimit,
		mutex:       utils.OptionalRWMutex{UseMutex: options.Flags&AllocatorCreateExternallySynchronized == 0},
		regions:     swiss.NewMap[unsafe.Pointer, region](42),
	}
	allocator.callbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Allocator: allocator,
	}

	if options.MemoryLimit > 0 {
		allocator.budget = semaphore.NewWeighted(int64(options.MemoryLimit))
	}

	return allocator, nil
}
