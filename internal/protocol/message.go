package protocol

import "fmt"

// Message is the logical, decoded unit the dispatcher hands to its callers:
// one of six variants corresponding to the header identifiers. Go has no sum
// types, so this follows the interface-plus-unexported-marker-method idiom
// instead of modeling the variants as a class hierarchy.
type Message interface {
	isMessage()
}

// TextMessage is a Text reply: a JSON-encoded command response.
type TextMessage struct {
	JSON []byte
}

func (TextMessage) isMessage() {}

// BinaryTextMessage is a Binary frame carrying UTF-8 text rather than an
// event table (distinguished from BinaryFileMessage by the websocket frame
// kind the payload arrived in).
type BinaryTextMessage struct {
	Text string
}

func (BinaryTextMessage) isMessage() {}

// BinaryFileMessage is a Binary frame carrying an opaque file payload, one
// that arrived in a websocket binary frame rather than as UTF-8 text.
type BinaryFileMessage struct {
	Data []byte
}

func (BinaryFileMessage) isMessage() {}

// EventTable is the sum of the four event-table payload kinds. Like Message
// it uses the marker-method idiom rather than a tagged struct, so a type
// switch on the concrete slice type is how callers discriminate.
type EventTable interface {
	isEventTable()
}

// ValueEvents is an EventTable carrying numeric state updates.
type ValueEvents []ValueEvent

func (ValueEvents) isEventTable() {}

// TextEvents is an EventTable carrying string state updates.
type TextEvents []TextEvent

func (TextEvents) isEventTable() {}

// DaytimerEvents is an EventTable carrying day-schedule updates.
type DaytimerEvents []DaytimerEvent

func (DaytimerEvents) isEventTable() {}

// WeatherEvents is an EventTable carrying forecast updates.
type WeatherEvents []WeatherEvent

func (WeatherEvents) isEventTable() {}

// EventTableMessage wraps a decoded EventTable, corresponding to header
// identifiers 0x02-0x04 and 0x07.
type EventTableMessage struct {
	Table EventTable
}

func (EventTableMessage) isMessage() {}

// OutOfServiceMessage signals the Miniserver has gone out of service. It
// carries no payload frame.
type OutOfServiceMessage struct{}

func (OutOfServiceMessage) isMessage() {}

// KeepAliveMessage is the periodic liveness ping. It carries no payload frame.
type KeepAliveMessage struct{}

func (KeepAliveMessage) isMessage() {}

// FrameKind describes which websocket frame type carried a payload, needed
// to disambiguate Binary (0x01) into BinaryTextMessage vs BinaryFileMessage.
type FrameKind int

const (
	// FrameKindText marks a payload that arrived in a websocket text frame.
	FrameKindText FrameKind = iota
	// FrameKindBinary marks a payload that arrived in a websocket binary frame.
	FrameKindBinary
)

// Decode turns one header plus its payload frame (if HasPayloadFrame is
// true; pass nil otherwise) into a logical Message. kind disambiguates the
// Binary identifier's two message types and is ignored for every other
// identifier.
func Decode(h Header, payload []byte, kind FrameKind) (Message, error) {
	switch h.Identifier {
	case IdentText:
		return TextMessage{JSON: payload}, nil

	case IdentBinary:
		switch kind {
		case FrameKindText:
			return BinaryTextMessage{Text: lossyUTF8(payload)}, nil
		case FrameKindBinary:
			return BinaryFileMessage{Data: payload}, nil
		default:
			return nil, fmt.Errorf("%w: unknown frame kind %d", ErrUnexpectedFrameKind, kind)
		}

	case IdentEventValue:
		events, err := DecodeValueEvents(payload)
		if err != nil {
			return nil, err
		}
		return EventTableMessage{Table: ValueEvents(events)}, nil

	case IdentEventText:
		events, err := DecodeTextEvents(payload)
		if err != nil {
			return nil, err
		}
		return EventTableMessage{Table: TextEvents(events)}, nil

	case IdentDaytimer:
		events, err := DecodeDaytimerEvents(payload)
		if err != nil {
			return nil, err
		}
		return EventTableMessage{Table: DaytimerEvents(events)}, nil

	case IdentWeather:
		events, err := DecodeWeatherEvents(payload)
		if err != nil {
			return nil, err
		}
		return EventTableMessage{Table: WeatherEvents(events)}, nil

	case IdentOutOfSvc:
		return OutOfServiceMessage{}, nil

	case IdentKeepAlive:
		return KeepAliveMessage{}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownIdentifier, h.Identifier)
	}
}
