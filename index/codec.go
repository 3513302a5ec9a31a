package index

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// compressionThreshold is the minimum payload size before compression is
	// considered. zstd overhead is not worth it for smaller payloads, and
	// most rows (cookies, history, bookmarks) stay well under it.
	compressionThreshold = 2048

	// maxDecodedSize is the hard cap during decompression to prevent
	// compression bombs from a corrupted index file.
	maxDecodedSize = 16 * 1024 * 1024

	encodingRaw  = 0x00
	encodingZstd = 0x01
)

var (
	// ErrCorrupted is returned when a stored payload cannot be decoded.
	ErrCorrupted = errors.New("index: corrupted payload")

	// ErrPayloadTooLarge is returned when a decoded payload exceeds the cap.
	ErrPayloadTooLarge = errors.New("index: payload exceeds maximum size")
)

// codec handles record payload encoding with optional zstd compression.
// Encoder and decoder are goroutine-safe and reused across operations.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &codec{encoder: enc, decoder: dec}, nil
}

func (c *codec) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// encode prefixes the payload with a one-byte encoding marker, compressing
// with zstd when the payload is large enough and compression wins.
func (c *codec) encode(data []byte) ([]byte, error) {
	if len(data) < compressionThreshold {
		return append([]byte{encodingRaw}, data...), nil
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()

	if enc == nil {
		return append([]byte{encodingRaw}, data...), nil
	}

	compressed := enc.EncodeAll(data, make([]byte, 1, len(data)/2))
	compressed[0] = encodingZstd
	if len(compressed) >= len(data)+1 {
		return append([]byte{encodingRaw}, data...), nil
	}
	return compressed, nil
}

// decode reverses encode, enforcing the decompression size cap.
func (c *codec) decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrCorrupted
	}

	switch data[0] {
	case encodingRaw:
		return data[1:], nil
	case encodingZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()

		if dec == nil {
			return nil, errors.New("index: decoder not initialized")
		}

		decompressed, err := dec.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		if len(decompressed) > maxDecodedSize {
			return nil, ErrPayloadTooLarge
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding 0x%02x", ErrCorrupted, data[0])
	}
}
