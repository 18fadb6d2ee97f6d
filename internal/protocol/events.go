package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ValueEvent is a single numeric state update. On the wire it is 24 bytes:
// a 16-byte UUID followed by an 8-byte little-endian IEEE-754 double.
type ValueEvent struct {
	UUID  UUID
	Value float64
}

const valueEventSize = UUIDSize + 8

// DecodeValueEvents decodes a ValueEvents payload: a packed array of
// 24-byte ValueEvent records with no separators.
func DecodeValueEvents(buf []byte) ([]ValueEvent, error) {
	if len(buf)%valueEventSize != 0 {
		return nil, fmt.Errorf("%w: value event payload is %d bytes, not a multiple of %d", ErrTruncated, len(buf), valueEventSize)
	}
	events := make([]ValueEvent, 0, len(buf)/valueEventSize)
	for n := 0; n < len(buf); n += valueEventSize {
		id, _ := FromBytes(buf[n : n+UUIDSize])
		bits := binary.LittleEndian.Uint64(buf[n+UUIDSize : n+valueEventSize])
		events = append(events, ValueEvent{UUID: id, Value: math.Float64frombits(bits)})
	}
	return events, nil
}

// TextEvent is a string state update. Its UUID identifies the control, its
// IconUUID an associated icon. Text is UTF-8, length-prefixed on the wire and
// padded with zero bytes to a 4-byte boundary; the padding never appears in
// the decoded Text.
type TextEvent struct {
	UUID     UUID
	IconUUID UUID
	Text     string
}

const textEventHeaderSize = UUIDSize + UUIDSize + 4

// DecodeTextEvents decodes a TextEvents payload. Invalid UTF-8 in a text
// field is replaced, never treated as a hard failure, matching the lossy
// decoding the protocol requires.
func DecodeTextEvents(buf []byte) ([]TextEvent, error) {
	var events []TextEvent
	n := 0
	for n < len(buf) {
		if n+textEventHeaderSize > len(buf) {
			return nil, fmt.Errorf("%w: text event header truncated", ErrTruncated)
		}
		id, _ := FromBytes(buf[n : n+UUIDSize])
		n += UUIDSize
		icon, _ := FromBytes(buf[n : n+UUIDSize])
		n += UUIDSize
		textLen := binary.LittleEndian.Uint32(buf[n : n+4])
		n += 4

		if n+int(textLen) > len(buf) {
			return nil, fmt.Errorf("%w: text event body truncated", ErrTruncated)
		}
		text := lossyUTF8(buf[n : n+int(textLen)])
		n += int(textLen)

		if pad := (4 - int(textLen)%4) % 4; pad > 0 {
			if n+pad > len(buf) {
				return nil, fmt.Errorf("%w: text event padding truncated", ErrTruncated)
			}
			n += pad
		}

		events = append(events, TextEvent{UUID: id, IconUUID: icon, Text: text})
	}
	return events, nil
}

func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// DaytimerEntry is one scheduled setpoint within a DaytimerEvent.
type DaytimerEntry struct {
	Mode         int32
	From         int32
	To           int32
	NeedActivate int32
	Value        float64
}

const daytimerEntrySize = 4 + 4 + 4 + 4 + 8

// DaytimerEvent is a day-schedule state update: a default value plus a
// variable number of time-bounded entries.
type DaytimerEvent struct {
	UUID    UUID
	Default float64
	Entries []DaytimerEntry
}

// DecodeDaytimerEvents decodes a DaytimerEvents payload.
func DecodeDaytimerEvents(buf []byte) ([]DaytimerEvent, error) {
	var events []DaytimerEvent
	n := 0
	for n < len(buf) {
		if n+UUIDSize+8+4 > len(buf) {
			return nil, fmt.Errorf("%w: daytimer event header truncated", ErrTruncated)
		}
		id, _ := FromBytes(buf[n : n+UUIDSize])
		n += UUIDSize
		defaultValue := math.Float64frombits(binary.LittleEndian.Uint64(buf[n : n+8]))
		n += 8
		count := int32(binary.LittleEndian.Uint32(buf[n : n+4]))
		n += 4

		entries := make([]DaytimerEntry, 0, count)
		for i := int32(0); i < count; i++ {
			if n+daytimerEntrySize > len(buf) {
				return nil, fmt.Errorf("%w: daytimer entry truncated", ErrTruncated)
			}
			entries = append(entries, DaytimerEntry{
				Mode:         int32(binary.LittleEndian.Uint32(buf[n : n+4])),
				From:         int32(binary.LittleEndian.Uint32(buf[n+4 : n+8])),
				To:           int32(binary.LittleEndian.Uint32(buf[n+8 : n+12])),
				NeedActivate: int32(binary.LittleEndian.Uint32(buf[n+12 : n+16])),
				Value:        math.Float64frombits(binary.LittleEndian.Uint64(buf[n+16 : n+24])),
			})
			n += daytimerEntrySize
		}

		events = append(events, DaytimerEvent{UUID: id, Default: defaultValue, Entries: entries})
	}
	return events, nil
}

// WeatherEntry is one forecast slot within a WeatherEvent.
type WeatherEntry struct {
	Timestamp            int32
	WeatherType          int32
	WindDirection        int32
	SolarRadiation       int32
	RelativeHumidity     int32
	Temperature          float64
	PerceivedTemperature float64
	DewPoint             float64
	Precipitation        float64
	WindSpeed            float64
	BarometricPressure   float64
}

const weatherEntrySize = 5*4 + 6*8

// WeatherEvent is a forecast state update: a last-update timestamp plus a
// variable number of forecast entries.
type WeatherEvent struct {
	UUID       UUID
	LastUpdate uint32
	Entries    []WeatherEntry
}

// DecodeWeatherEvents decodes a WeatherEvents payload.
func DecodeWeatherEvents(buf []byte) ([]WeatherEvent, error) {
	var events []WeatherEvent
	n := 0
	for n < len(buf) {
		if n+UUIDSize+4+4 > len(buf) {
			return nil, fmt.Errorf("%w: weather event header truncated", ErrTruncated)
		}
		id, _ := FromBytes(buf[n : n+UUIDSize])
		n += UUIDSize
		lastUpdate := binary.LittleEndian.Uint32(buf[n : n+4])
		n += 4
		count := int32(binary.LittleEndian.Uint32(buf[n : n+4]))
		n += 4

		entries := make([]WeatherEntry, 0, count)
		for i := int32(0); i < count; i++ {
			if n+weatherEntrySize > len(buf) {
				return nil, fmt.Errorf("%w: weather entry truncated", ErrTruncated)
			}
			e := WeatherEntry{
				Timestamp:        int32(binary.LittleEndian.Uint32(buf[n : n+4])),
				WeatherType:      int32(binary.LittleEndian.Uint32(buf[n+4 : n+8])),
				WindDirection:    int32(binary.LittleEndian.Uint32(buf[n+8 : n+12])),
				SolarRadiation:   int32(binary.LittleEndian.Uint32(buf[n+12 : n+16])),
				RelativeHumidity: int32(binary.LittleEndian.Uint32(buf[n+16 : n+20])),
			}
			f := n + 20
			e.Temperature = math.Float64frombits(binary.LittleEndian.Uint64(buf[f : f+8]))
			e.PerceivedTemperature = math.Float64frombits(binary.LittleEndian.Uint64(buf[f+8 : f+16]))
			e.DewPoint = math.Float64frombits(binary.LittleEndian.Uint64(buf[f+16 : f+24]))
			e.Precipitation = math.Float64frombits(binary.LittleEndian.Uint64(buf[f+24 : f+32]))
			e.WindSpeed = math.Float64frombits(binary.LittleEndian.Uint64(buf[f+32 : f+40]))
			e.BarometricPressure = math.Float64frombits(binary.LittleEndian.Uint64(buf[f+40 : f+48]))
			entries = append(entries, e)
			n += weatherEntrySize
		}

		events = append(events, WeatherEvent{UUID: id, LastUpdate: lastUpdate, Entries: entries})
	}
	return events, nil
}
