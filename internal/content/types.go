package content

import (
	"bytes"
	"encoding/hex"
	"fmt"

	blake2b "github.com/minio/blake2b-simd"
)

// DigestSize is the width of a BLAKE2b-512 digest in bytes.
const DigestSize = blake2b.Size

// Digest identifies a blob by its content.
type Digest [DigestSize]byte

// Hash returns the digest of data.
func Hash(data []byte) Digest {
	return Digest(blake2b.Sum512(data))
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first n hex characters.
func (d Digest) Short(n int) string {
	s := d.String()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) Compare(other Digest) int {
	return bytes.Compare(d[:], other[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a full-length hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != DigestSize*2 {
		return d, fmt.Errorf("invalid digest %q: expected %d hex characters", s, DigestSize*2)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return d, nil
}

// Store is an append-only map from digest to blob. Writing a blob that is
// already present is a no-op.
type Store interface {
	Write(data []byte) (Digest, error)
	Read(d Digest) ([]byte, error)
	Has(d Digest) (bool, error)
}
