package snapshot

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/offheap/layout"
	"github.com/vkngwrapper/offheap/unmanaged"
)

// Magic opens every frame
const Magic uint32 = 0x48464F55

// MaxPayloadSize bounds the raw size a frame may declare
const MaxPayloadSize = 1 << 30

const headerSize = 13

// Write frames payload, compressed with codec if that makes it smaller. The frame is
// [magic uint32][codec uint8][raw size uint32][stored size uint32][stored bytes], little endian.
func Write(w io.Writer, codec Codec, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return errors.Newf("payload of %d bytes exceeds the maximum of %d", len(payload), MaxPayloadSize)
	}

	stored, err := compress(codec, payload)
	if err != nil {
		return err
	}
	if stored == nil {
		codec = CodecNone
		stored = payload
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:], Magic)
	header[4] = byte(codec)
	binary.LittleEndian.PutUint32(header[5:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[9:], uint32(len(stored)))

	_, err = w.Write(header[:])
	if err != nil {
		return err
	}
	_, err = w.Write(stored)
	return err
}

// Read reads one frame written by Write and returns its payload
func Read(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	_, err := io.ReadFull(r, header[:])
	if err != nil {
		return nil, errors.Wrap(err, "reading frame header")
	}

	magic := binary.LittleEndian.Uint32(header[0:])
	if magic != Magic {
		return nil, errors.Newf("bad frame magic %#x", magic)
	}

	codec := Codec(header[4])
	rawSize := binary.LittleEndian.Uint32(header[5:])
	storedSize := binary.LittleEndian.Uint32(header[9:])
	if rawSize > MaxPayloadSize || storedSize > MaxPayloadSize {
		return nil, errors.Newf("frame declares %d raw and %d stored bytes, more than the maximum of %d", rawSize, storedSize, MaxPayloadSize)
	}

	stored := make([]byte, storedSize)
	_, err = io.ReadFull(r, stored)
	if err != nil {
		return nil, errors.Wrap(err, "reading frame payload")
	}

	return decompress(codec, stored, int(rawSize))
}

// Save writes the exported payload of h as one frame
func Save[T any](w io.Writer, codec Codec, h *unmanaged.Handle[T]) error {
	payload, err := h.Export()
	if err != nil {
		return err
	}
	return Write(w, codec, payload)
}

// Load reads one frame and creates a handle from its payload
func Load[T any](r io.Reader, heap *unmanaged.Heap, l layout.Layout[T]) (*unmanaged.Handle[T], error) {
	payload, err := Read(r)
	if err != nil {
		return nil, err
	}
	return unmanaged.CreateFromExport[T](heap, l, payload)
}
