package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// UUIDSize is the size of a Loxone control/icon identifier in bytes (128 bits).
const UUIDSize = 16

// ErrInvalidUUIDLength is returned when a byte slice is the wrong length to be a UUID.
var ErrInvalidUUIDLength = errors.New("protocol: invalid uuid length: expected 16 bytes")

// UUID is the 128-bit opaque identifier used to address controls and icons
// throughout the event stream. On the wire it travels as 16 raw bytes in
// little-endian order; this type stores those bytes exactly as received and
// never reinterprets them as a number.
type UUID [UUIDSize]byte

// ZeroUUID is the all-zero identifier.
var ZeroUUID = UUID{}

// FromBytes builds a UUID from a 16-byte slice, as read off the wire.
func FromBytes(b []byte) (UUID, error) {
	if len(b) != UUIDSize {
		return ZeroUUID, fmt.Errorf("%w: got %d bytes", ErrInvalidUUIDLength, len(b))
	}
	var id UUID
	copy(id[:], b)
	return id, nil
}

// String returns the plain hex encoding of the wire bytes (no dashes).
// This is the representation used nowhere in LoxAPP3 itself; callers that
// need the canonical dashed form should go through the catalog package,
// which knows how to bridge the two conventions.
func (id UUID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the identifier's raw wire bytes.
func (id UUID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether the identifier is the all-zero value.
func (id UUID) IsZero() bool {
	return id == ZeroUUID
}
