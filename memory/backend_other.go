//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package memory

// NewPageBackend falls back to a HeapBackend on platforms without a page-mapping backend
func NewPageBackend() Backend {
	return NewHeapBackend()
}
