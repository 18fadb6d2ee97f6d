package protocol

import (
	"encoding/binary"
	"math"
	"testing"
)

func appendUUID(buf []byte, id UUID) []byte {
	return append(buf, id[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendF64(buf []byte, v float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(buf, tmp[:]...)
}

func TestDecodeValueEvents(t *testing.T) {
	id := UUID{1, 2, 3}
	var buf []byte
	buf = appendUUID(buf, id)
	buf = appendF64(buf, 21.5)

	events, err := DecodeValueEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].UUID != id || events[0].Value != 21.5 {
		t.Fatalf("got %+v", events)
	}
}

func TestDecodeValueEventsTruncated(t *testing.T) {
	if _, err := DecodeValueEvents([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for misaligned payload")
	}
}

func TestDecodeTextEventsPadding(t *testing.T) {
	id := UUID{9}
	icon := UUID{8}

	// "ab" (2 bytes) needs 2 bytes of padding to reach a 4-byte boundary.
	var buf []byte
	buf = appendUUID(buf, id)
	buf = appendUUID(buf, icon)
	buf = appendU32(buf, 2)
	buf = append(buf, 'a', 'b', 0, 0)

	events, err := DecodeTextEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Text != "ab" || events[0].UUID != id || events[0].IconUUID != icon {
		t.Fatalf("got %+v", events)
	}
}

func TestDecodeTextEventsInvalidUTF8(t *testing.T) {
	var buf []byte
	buf = appendUUID(buf, UUID{})
	buf = appendUUID(buf, UUID{})
	buf = appendU32(buf, 4)
	buf = append(buf, 0xff, 0xfe, 'h', 'i')

	events, err := DecodeTextEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %+v", events)
	}
	if events[0].Text == "" {
		t.Fatal("expected a lossily-decoded replacement string, not empty")
	}
}

func TestDecodeDaytimerEvents(t *testing.T) {
	id := UUID{4}
	var buf []byte
	buf = appendUUID(buf, id)
	buf = appendF64(buf, 19.0)
	buf = appendU32(buf, 1)
	buf = appendU32(buf, 0)
	buf = appendU32(buf, 480)
	buf = appendU32(buf, 1020)
	buf = appendU32(buf, 1)
	buf = appendF64(buf, 22.0)

	events, err := DecodeDaytimerEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Default != 19.0 || len(events[0].Entries) != 1 {
		t.Fatalf("got %+v", events)
	}
	entry := events[0].Entries[0]
	if entry.From != 480 || entry.To != 1020 || entry.NeedActivate != 1 || entry.Value != 22.0 {
		t.Fatalf("got %+v", entry)
	}
}

func TestDecodeWeatherEvents(t *testing.T) {
	id := UUID{7}
	var buf []byte
	buf = appendUUID(buf, id)
	buf = appendU32(buf, 1700000000)
	buf = appendU32(buf, 1)
	for i := 0; i < 5; i++ {
		buf = appendU32(buf, uint32(i))
	}
	for i := 0; i < 6; i++ {
		buf = appendF64(buf, float64(i)+0.5)
	}

	events, err := DecodeWeatherEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].LastUpdate != 1700000000 || len(events[0].Entries) != 1 {
		t.Fatalf("got %+v", events)
	}
	entry := events[0].Entries[0]
	if entry.Temperature != 0.5 || entry.BarometricPressure != 5.5 {
		t.Fatalf("got %+v", entry)
	}
}
