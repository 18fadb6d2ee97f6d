package dispatcher

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/postalsys/loxone-go/internal/protocol"
	"github.com/postalsys/loxone-go/internal/transport"
)

// fakeConn is an in-memory stand-in for a transport.Conn: a queue of
// pre-scripted inbound messages and a record of outbound writes, so the
// frame codec and FIFO correlation logic can be exercised without a real
// websocket.
type fakeConn struct {
	messages chan fakeMessage
	sent     chan string
	written  chan struct{}
}

type fakeMessage struct {
	data []byte
	kind transport.FrameKind
	err  error
	// afterWrite holds the message back until a command has been written,
	// so a scripted reply never reaches the read loop before the command
	// it answers has a pending reply slot.
	afterWrite bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		messages: make(chan fakeMessage, 64),
		sent:     make(chan string, 64),
		written:  make(chan struct{}, 64),
	}
}

func (f *fakeConn) push(data []byte, kind transport.FrameKind) {
	f.messages <- fakeMessage{data: data, kind: kind}
}

func (f *fakeConn) pushAfterWrite(data []byte, kind transport.FrameKind) {
	f.messages <- fakeMessage{data: data, kind: kind, afterWrite: true}
}

func (f *fakeConn) pushErr(err error) {
	f.messages <- fakeMessage{err: err}
}

func (f *fakeConn) ReadMessage(ctx context.Context) ([]byte, transport.FrameKind, error) {
	select {
	case m := <-f.messages:
		if m.err != nil {
			return nil, 0, m.err
		}
		if m.afterWrite {
			select {
			case <-f.written:
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
		return m.data, m.kind, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (f *fakeConn) WriteText(ctx context.Context, cmd string) error {
	f.sent <- cmd
	f.written <- struct{}{}
	return nil
}

func (f *fakeConn) Close() error { return nil }

func headerFrame(identifier, info byte, length uint32) []byte {
	b := make([]byte, protocol.HeaderSize)
	b[0] = protocol.HeaderMagic
	b[1] = identifier
	b[2] = info
	binary.LittleEndian.PutUint32(b[4:8], length)
	return b
}

func valueEventPayload(id protocol.UUID, value float64) []byte {
	b := make([]byte, 24)
	copy(b[0:16], id.Bytes())
	binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(value))
	return b
}

func TestSendCommandReceivesReply(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	reply := []byte(`{"LL":{"value":"1"}}`)
	conn.pushAfterWrite(headerFrame(protocol.IdentText, 0x00, uint32(len(reply))), transport.FrameBinary)
	conn.push(reply, transport.FrameText)

	msg, err := d.SendCommand(ctx, "jdev/sio/whatever")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	text, ok := msg.(protocol.TextMessage)
	if !ok {
		t.Fatalf("got %T, want TextMessage", msg)
	}
	if string(text.JSON) != string(reply) {
		t.Errorf("got %q, want %q", text.JSON, reply)
	}

	select {
	case sent := <-conn.sent:
		if sent != "jdev/sio/whatever" {
			t.Errorf("sent %q", sent)
		}
	default:
		t.Fatal("command was never written")
	}
}

func TestSendCommandFIFOOrder(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	type result struct {
		idx int
		msg protocol.Message
		err error
	}
	results := make(chan result, 2)

	go func() {
		msg, err := d.SendCommand(ctx, "first")
		results <- result{0, msg, err}
	}()
	// Give the first SendCommand a chance to enqueue before the second.
	time.Sleep(10 * time.Millisecond)
	go func() {
		msg, err := d.SendCommand(ctx, "second")
		results <- result{1, msg, err}
	}()
	time.Sleep(10 * time.Millisecond)

	first := []byte(`"one"`)
	second := []byte(`"two"`)
	conn.push(headerFrame(protocol.IdentText, 0x00, uint32(len(first))), transport.FrameBinary)
	conn.push(first, transport.FrameText)
	conn.push(headerFrame(protocol.IdentText, 0x00, uint32(len(second))), transport.FrameBinary)
	conn.push(second, transport.FrameText)

	got := map[int]string{}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("result %d: %v", r.idx, r.err)
		}
		got[r.idx] = string(r.msg.(protocol.TextMessage).JSON)
	}
	if got[0] != string(first) {
		t.Errorf("first command got %q, want %q", got[0], first)
	}
	if got[1] != string(second) {
		t.Errorf("second command got %q, want %q", got[1], second)
	}
}

func TestSecondHeaderLengthResolution(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	reply := []byte(`{"longer":"payload than the placeholder length"}`)
	// Info != 0 means the first header's length is bogus and must be
	// discarded in favor of the second header's.
	conn.pushAfterWrite(headerFrame(protocol.IdentText, 0x01, 0), transport.FrameBinary)
	conn.push(headerFrame(protocol.IdentText, 0x00, uint32(len(reply))), transport.FrameBinary)
	conn.push(reply, transport.FrameText)

	msg, err := d.SendCommand(ctx, "jdev/sio/whatever")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if string(msg.(protocol.TextMessage).JSON) != string(reply) {
		t.Errorf("got %q", msg.(protocol.TextMessage).JSON)
	}
}

func TestEventDelivery(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	id, _ := protocol.FromBytes(make([]byte, 16))
	payload := valueEventPayload(id, 42.5)
	conn.push(headerFrame(protocol.IdentEventValue, 0x00, uint32(len(payload))), transport.FrameBinary)
	conn.push(payload, transport.FrameBinary)

	select {
	case ev := <-d.Events():
		ve, ok := ev.(protocol.ValueEvent)
		if !ok {
			t.Fatalf("got %T, want ValueEvent", ev)
		}
		if ve.Value != 42.5 {
			t.Errorf("value = %v", ve.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestKeepAliveSignalsOnce(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	conn.push(headerFrame(protocol.IdentKeepAlive, 0x00, 0), transport.FrameBinary)

	select {
	case <-d.KeepAliveSignal():
	case <-time.After(time.Second):
		t.Fatal("keepalive signal never fired")
	}
}

func TestOutOfServiceClosesEverything(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	resultCh := make(chan error, 1)
	go func() {
		_, err := d.SendCommand(ctx, "jdev/sio/whatever")
		resultCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	conn.push(headerFrame(protocol.IdentOutOfSvc, 0x00, 0), transport.FrameBinary)

	select {
	case err := <-resultCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("got %v, want ErrConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending command was never failed")
	}

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher never reported done")
	}
	if !errors.Is(d.Err(), ErrOutOfService) {
		t.Errorf("Err() = %v, want ErrOutOfService", d.Err())
	}

	ev, ok := <-d.Events()
	if !ok {
		t.Fatal("event sink closed without delivering the out-of-service sentinel")
	}
	if _, ok := ev.(OutOfServiceEvent); !ok {
		t.Fatalf("got %T, want OutOfServiceEvent", ev)
	}
	if _, ok := <-d.Events(); ok {
		t.Fatal("event sink should be closed after the sentinel")
	}
}

func TestReplyDroppedWhenNoPendingCommand(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	reply := []byte(`"unsolicited"`)
	conn.push(headerFrame(protocol.IdentText, 0x00, uint32(len(reply))), transport.FrameBinary)
	conn.push(reply, transport.FrameText)

	// The stray reply must not wedge or crash the loop; a subsequent
	// command should still complete normally.
	time.Sleep(10 * time.Millisecond)

	next := []byte(`"ok"`)
	conn.pushAfterWrite(headerFrame(protocol.IdentText, 0x00, uint32(len(next))), transport.FrameBinary)
	conn.push(next, transport.FrameText)

	msg, err := d.SendCommand(ctx, "jdev/sio/whatever")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if string(msg.(protocol.TextMessage).JSON) != string(next) {
		t.Errorf("got %q", msg.(protocol.TextMessage).JSON)
	}
}

func TestReadErrorFailsPendingCommands(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	resultCh := make(chan error, 1)
	go func() {
		_, err := d.SendCommand(ctx, "jdev/sio/whatever")
		resultCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	conn.pushErr(errors.New("connection reset"))

	select {
	case err := <-resultCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("got %v, want ErrConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending command was never failed")
	}
}
