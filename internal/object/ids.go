package object

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChangeIDSize is the width of a change id in bytes.
const ChangeIDSize = 16

// ChangeID names a logical change across rewrites.
type ChangeID [ChangeIDSize]byte

// RootChangeID belongs to the synthetic root commit.
var RootChangeID ChangeID

func NewChangeID() ChangeID {
	return ChangeID(uuid.New())
}

// String renders the id in reverse hex: 0-9a-f become z-k, so change ids
// and commit digests never look alike.
func (c ChangeID) String() string {
	return ToReverseHex(hex.EncodeToString(c[:]))
}

// Short returns the first n reverse-hex characters.
func (c ChangeID) Short(n int) string {
	s := c.String()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

func (c ChangeID) IsRoot() bool {
	return c == RootChangeID
}

func (c ChangeID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChangeID) UnmarshalText(text []byte) error {
	parsed, err := ParseChangeID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChangeID decodes a full reverse-hex change id.
func ParseChangeID(s string) (ChangeID, error) {
	var c ChangeID
	h, ok := FromReverseHex(s)
	if !ok || len(h) != ChangeIDSize*2 {
		return c, fmt.Errorf("invalid change id %q", s)
	}
	if _, err := hex.Decode(c[:], []byte(h)); err != nil {
		return c, fmt.Errorf("invalid change id %q: %w", s, err)
	}
	return c, nil
}

// ToReverseHex maps hex digits onto z..k.
func ToReverseHex(h string) string {
	var b strings.Builder
	b.Grow(len(h))
	for i := 0; i < len(h); i++ {
		b.WriteByte(reverseDigit(h[i]))
	}
	return b.String()
}

// FromReverseHex is the inverse of ToReverseHex. ok is false when s holds a
// character outside k..z.
func FromReverseHex(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'k' || c > 'z' {
			return "", false
		}
		b.WriteByte(hexDigit('z' - c))
	}
	return b.String(), true
}

func reverseDigit(c byte) byte {
	var v byte
	switch {
	case c >= '0' && c <= '9':
		v = c - '0'
	case c >= 'a' && c <= 'f':
		v = c - 'a' + 10
	}
	return 'z' - v
}

func hexDigit(v byte) byte {
	if v < 10 {
		return '0' + v
	}
	return 'a' + v - 10
}

// IsHexPrefix reports whether s could be a commit digest prefix.
func IsHexPrefix(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// IsReverseHexPrefix reports whether s could be a change id prefix.
func IsReverseHexPrefix(s string) bool {
	if s == "" {
		return false
	}
	_, ok := FromReverseHex(s)
	return ok
}
