package protocol

import "testing"

func header(ident, info uint8, length uint32) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = HeaderMagic
	buf[1] = ident
	buf[2] = info
	buf[3] = 0
	buf[4] = byte(length)
	buf[5] = byte(length >> 8)
	buf[6] = byte(length >> 16)
	buf[7] = byte(length >> 24)
	return buf
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{"valid", header(IdentText, 0, 42), nil},
		{"bad magic", append([]byte{0x02}, header(IdentText, 0, 42)[1:]...), ErrBadMagic},
		{"short", []byte{HeaderMagic, 0x00, 0x00}, ErrTruncated},
		{"long", append(header(IdentText, 0, 42), 0x00), ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := DecodeHeader(tt.buf)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.Identifier != IdentText || h.Length != 42 {
				t.Fatalf("got %+v", h)
			}
		})
	}
}

func TestHeaderResolvedLength(t *testing.T) {
	h, err := DecodeHeader(header(IdentEventValue, 0x00, 24))
	if err != nil {
		t.Fatal(err)
	}
	if h.NeedsSecondHeader() {
		t.Fatal("info 0 should not need a second header")
	}
	if got := h.ResolvedLength(999); got != 24 {
		t.Fatalf("got %d, want 24", got)
	}

	h2, err := DecodeHeader(header(IdentText, 0x01, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !h2.NeedsSecondHeader() {
		t.Fatal("nonzero info should need a second header")
	}
	if got := h2.ResolvedLength(1234); got != 1234 {
		t.Fatalf("got %d, want 1234 from second header", got)
	}
}

func TestHeaderHasPayloadFrame(t *testing.T) {
	for ident, want := range map[uint8]bool{
		IdentText:       true,
		IdentBinary:     true,
		IdentEventValue: true,
		IdentEventText:  true,
		IdentDaytimer:   true,
		IdentWeather:    true,
		IdentOutOfSvc:   false,
		IdentKeepAlive:  false,
	} {
		h, err := DecodeHeader(header(ident, 0, 0))
		if err != nil {
			t.Fatal(err)
		}
		if got := h.HasPayloadFrame(); got != want {
			t.Errorf("identifier 0x%02x: HasPayloadFrame() = %v, want %v", ident, got, want)
		}
	}
}
