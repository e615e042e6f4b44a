// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
	// Blobs above this size are streamed through the encoder
	StreamingThreshold int64
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize:            1024,             // 1KB
		Level:              2,                // Balanced speed/compression
		StreamingThreshold: 50 * 1024 * 1024, // 50MB
	}
}

// compressionManager handles compression operations
type compressionManager struct {
	opts CompressionOptions

	encoders sync.Pool
	decoders sync.Pool
	bufs     sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	level := zstd.EncoderLevelFromZstd(opts.Level)

	// Validate the options once up front; the pools assume they work.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}
	dec.Close()

	return &compressionManager{
		opts: opts,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				return dec
			},
		},
		bufs: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}, nil
}

// compress returns the bytes to store and whether they are compressed.
// Compression is skipped for small blobs and when it does not save space.
func (cm *compressionManager) compress(data []byte) ([]byte, bool, error) {
	if len(data) < cm.opts.MinSize {
		return data, false, nil
	}

	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	var out []byte
	if int64(len(data)) > cm.opts.StreamingThreshold {
		var err error
		out, err = cm.compressStream(enc, data)
		if err != nil {
			return nil, false, err
		}
	} else {
		out = enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	if len(out) >= len(data) {
		return data, false, nil
	}
	return out, true, nil
}

// compressStream handles large content compression
func (cm *compressionManager) compressStream(enc *zstd.Encoder, data []byte) ([]byte, error) {
	buf := cm.bufs.Get().(*bytes.Buffer)
	defer cm.bufs.Put(buf)
	buf.Reset()

	enc.Reset(buf)
	if _, err := io.Copy(enc, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("streaming compression: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (cm *compressionManager) decompress(data []byte) ([]byte, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], zstdMagic) {
		return nil, fmt.Errorf("content is not zstd compressed")
	}

	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	if int64(len(data)) > cm.opts.StreamingThreshold {
		return cm.decompressStream(dec, data)
	}
	return dec.DecodeAll(data, nil)
}

// decompressStream handles large content decompression
func (cm *compressionManager) decompressStream(dec *zstd.Decoder, data []byte) ([]byte, error) {
	buf := cm.bufs.Get().(*bytes.Buffer)
	defer cm.bufs.Put(buf)
	buf.Reset()

	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("resetting decoder: %w", err)
	}
	if _, err := io.Copy(buf, dec); err != nil {
		return nil, fmt.Errorf("streaming decompression: %w", err)
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

// close drains the pools. Objects the pool already dropped are left to the
// garbage collector.
func (cm *compressionManager) close() {
	cm.encoders.New = nil
	cm.decoders.New = nil
	for {
		enc, ok := cm.encoders.Get().(*zstd.Encoder)
		if !ok {
			break
		}
		enc.Close()
	}
	for {
		dec, ok := cm.decoders.Get().(*zstd.Decoder)
		if !ok {
			break
		}
		dec.Close()
	}
}
