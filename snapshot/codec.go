package snapshot

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how a payload is compressed inside a frame
type Codec uint8

const (
	// CodecNone stores the payload as-is
	CodecNone Codec = iota
	// CodecZstd compresses the payload with zstd
	CodecZstd
	// CodecLZ4 compresses the payload with lz4 block compression
	CodecLZ4
)

var codecMapping = make(map[Codec]string)

func init() {
	codecMapping[CodecNone] = "CodecNone"
	codecMapping[CodecZstd] = "CodecZstd"
	codecMapping[CodecLZ4] = "CodecLZ4"
}

func (c Codec) String() string {
	name, ok := codecMapping[c]
	if !ok {
		return "Unknown"
	}
	return name
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
}

// compress returns nil if the codec did not make data smaller
func compress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return nil, nil
	case CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		defer zstdEncoderPool.Put(enc)

		compressed := enc.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, nil
		}
		return compressed, nil
	case CodecLZ4:
		compressed := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, err
		}
		// lz4 reports incompressible data as 0 bytes written
		if n == 0 || n >= len(data) {
			return nil, nil
		}
		return compressed[:n], nil
	}

	return nil, errors.Newf("unknown codec %d", uint8(codec))
}

func decompress(codec Codec, data []byte, rawSize int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(data) != rawSize {
			return nil, errors.Newf("stored payload is %d bytes but %d were expected", len(data), rawSize)
		}
		return data, nil
	case CodecZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)

		var frame zstd.Header
		err = frame.Decode(data)
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		if frame.HasFCS && frame.FrameContentSize != uint64(rawSize) {
			return nil, errors.Newf("zstd frame holds %d bytes but %d were expected", frame.FrameContentSize, rawSize)
		}

		decoded, err := dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		if len(decoded) != rawSize {
			return nil, errors.Newf("zstd produced %d bytes but %d were expected", len(decoded), rawSize)
		}
		return decoded, nil
	case CodecLZ4:
		decoded := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, decoded)
		if err != nil {
			return nil, errors.Wrap(err, "lz4")
		}
		if n != rawSize {
			return nil, errors.Newf("lz4 produced %d bytes but %d were expected", n, rawSize)
		}
		return decoded, nil
	}

	return nil, errors.Newf("unknown codec %d", uint8(codec))
}
