// Package protocol implements the Loxone Miniserver binary framing protocol:
// the two-part header scheme and the four event-table payload variants that
// ride inside it.
package protocol

import "errors"

// Header identifier byte values. The identifier selects how the payload
// frame that follows (if any) is decoded.
const (
	IdentText       uint8 = 0x00 // Text -> JSON reply
	IdentBinary     uint8 = 0x01 // BinaryText or BinaryFile
	IdentEventValue uint8 = 0x02 // EventTable(ValueEvents)
	IdentEventText  uint8 = 0x03 // EventTable(TextEvents)
	IdentDaytimer   uint8 = 0x04 // EventTable(DaytimerEvents)
	IdentOutOfSvc   uint8 = 0x05 // OutOfService, no payload frame
	IdentKeepAlive  uint8 = 0x06 // KeepAlive, no payload frame
	IdentWeather    uint8 = 0x07 // EventTable(WeatherEvents)
)

// HeaderMagic is the fixed first byte of every header frame.
const HeaderMagic uint8 = 0x03

// HeaderSize is the size in bytes of one header frame.
const HeaderSize = 8

var (
	// ErrBadMagic is returned when a header frame's first byte isn't HeaderMagic.
	ErrBadMagic = errors.New("protocol: bad header magic")

	// ErrUnknownIdentifier is returned for a header identifier byte outside 0x00-0x07.
	ErrUnknownIdentifier = errors.New("protocol: unknown header identifier")

	// ErrTruncated is returned when a header or payload frame is not the
	// length the protocol requires, or a record runs past the end of its payload.
	ErrTruncated = errors.New("protocol: truncated payload")

	// ErrUnexpectedFrameKind is returned when a payload frame's text/binary
	// kind doesn't match what the identifier requires.
	ErrUnexpectedFrameKind = errors.New("protocol: unexpected frame kind")
)

// IdentifierName returns a human-readable name for a header identifier, for logging.
func IdentifierName(id uint8) string {
	switch id {
	case IdentText:
		return "TEXT"
	case IdentBinary:
		return "BINARY"
	case IdentEventValue:
		return "EVENT_VALUE"
	case IdentEventText:
		return "EVENT_TEXT"
	case IdentDaytimer:
		return "EVENT_DAYTIMER"
	case IdentOutOfSvc:
		return "OUT_OF_SERVICE"
	case IdentKeepAlive:
		return "KEEPALIVE"
	case IdentWeather:
		return "EVENT_WEATHER"
	default:
		return "UNKNOWN"
	}
}

// Header is the decoded 8-byte binary header that precedes (or, for
// zero-payload identifiers, stands in for) every logical message.
//
//	Magic      [1 byte]  - always HeaderMagic
//	Identifier [1 byte]  - selects the payload variant
//	Info       [1 byte]  - 0x00 means Length is authoritative; anything else
//	                        means a second header frame carries the real length
//	Reserved   [1 byte]  - always 0
//	Length     [4 bytes] - payload length, little-endian
type Header struct {
	Identifier uint8
	Info       uint8
	Length     uint32
}
