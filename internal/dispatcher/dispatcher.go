// Package dispatcher owns the read half of a Miniserver connection: it runs
// the frame codec's main loop, correlates replies to outstanding commands in
// FIFO order, and fans decoded event records out to a single subscriber.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/postalsys/loxone-go/internal/logging"
	"github.com/postalsys/loxone-go/internal/metrics"
	"github.com/postalsys/loxone-go/internal/protocol"
	"github.com/postalsys/loxone-go/internal/recovery"
	"github.com/postalsys/loxone-go/internal/transport"
)

// ErrConnectionClosed is returned to every waiting SendCommand call, and to
// subsequent ones, once the read loop has exited.
var ErrConnectionClosed = errors.New("dispatcher: connection closed")

// ErrOutOfService is the shutdown cause recorded when the Miniserver sends
// an OutOfService frame.
var ErrOutOfService = errors.New("dispatcher: miniserver out of service")

// Conn is the read/write surface the dispatcher needs from a transport
// connection. *transport.Conn satisfies it; tests substitute an in-memory
// fake so the frame codec and FIFO correlation logic can be exercised
// without a real websocket.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, transport.FrameKind, error)
	WriteText(ctx context.Context, cmd string) error
	Close() error
}

// Event is one decoded event-table record delivered to the event sink: a
// protocol.ValueEvent, protocol.TextEvent, protocol.DaytimerEvent,
// protocol.WeatherEvent, or the OutOfServiceEvent sentinel. The top-level
// EventTableMessage wrapper is an implementation detail of the frame codec —
// callers see a flat stream.
type Event any

// OutOfServiceEvent is delivered on the event sink, immediately before it
// closes, when the Miniserver reports itself out of service. Its presence
// lets a consumer distinguish this from an ordinary connection drop, where
// the sink simply closes with nothing delivered; Dispatcher.Err (and the
// root Client) also report ErrOutOfService as the shutdown cause.
type OutOfServiceEvent struct{}

type replyResult struct {
	msg protocol.Message
	err error
}

// Dispatcher runs the main read loop described by the frame codec: resolve
// a header (possibly a two-part Type B header), read its payload frame if
// any, decode it, and route the result to either the oldest pending reply
// slot or the event sink.
type Dispatcher struct {
	conn    Conn
	logger  *slog.Logger
	metrics *metrics.Metrics
	id      uuid.UUID

	events chan Event
	done   chan struct{}

	keepAliveOnce sync.Once
	keepAliveCh   chan struct{}

	sendMu  sync.Mutex
	mu      sync.Mutex
	pending []chan replyResult

	closeOnce sync.Once
	closeMu   sync.Mutex
	closeErr  error
}

// New creates a Dispatcher over conn. logger defaults to slog.Default() and
// eventQueueSize to 1024 if unset; m may be nil, in which case metrics
// recording is a no-op.
func New(conn Conn, logger *slog.Logger, m *metrics.Metrics, eventQueueSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if eventQueueSize <= 0 {
		eventQueueSize = 1024
	}
	return &Dispatcher{
		conn:        conn,
		logger:      logger,
		metrics:     m,
		id:          uuid.New(),
		events:      make(chan Event, eventQueueSize),
		done:        make(chan struct{}),
		keepAliveCh: make(chan struct{}),
	}
}

// ID returns the correlation id this dispatcher tags its log lines with, so
// concurrent connections (e.g. a reconnect racing a graceful shutdown) can
// be told apart in a shared log stream.
func (d *Dispatcher) ID() uuid.UUID {
	return d.id
}

// Events returns the channel decoded event records are delivered on. It is
// closed once the read loop exits, after which a receive returns the zero
// Event and ok=false.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// Done is closed once the read loop has exited, for any reason.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err returns the cause of the read loop's exit, or nil while still
// running. A connection closed by the caller ends the loop with the
// transport's read error, which Err returns like any other cause.
func (d *Dispatcher) Err() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	return d.closeErr
}

// KeepAliveSignal returns a channel that closes the first time a KeepAlive
// frame is observed. The client facade's EnableStatusUpdate selects on this
// alongside an idle timer to implement the initial-state quiescence window.
func (d *Dispatcher) KeepAliveSignal() <-chan struct{} {
	return d.keepAliveCh
}

// Start launches the read loop in its own goroutine. Start must be called
// exactly once per Dispatcher.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer recovery.RecoverDispatchLoop(d.logger, func(err error) {
		d.shutdown(err)
	})
	for {
		msg, err := d.readMessage(ctx)
		if err != nil {
			d.shutdown(fmt.Errorf("dispatcher: read loop: %w", err))
			return
		}
		if d.route(msg) {
			return
		}
	}
}

// readMessage assembles one logical message per the frame codec: a header
// frame, optionally a second header frame carrying the real length, and a
// payload frame for every identifier except OutOfService and KeepAlive.
func (d *Dispatcher) readMessage(ctx context.Context) (protocol.Message, error) {
	headerBytes, kind, err := d.conn.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	if kind != transport.FrameBinary {
		return nil, fmt.Errorf("%w: header frame arrived as text", protocol.ErrUnexpectedFrameKind)
	}
	header, err := protocol.DecodeHeader(headerBytes)
	if err != nil {
		d.metrics.RecordFrameError("bad_header")
		return nil, err
	}

	length := header.Length
	if header.NeedsSecondHeader() {
		secondBytes, kind2, err := d.conn.ReadMessage(ctx)
		if err != nil {
			return nil, err
		}
		if kind2 != transport.FrameBinary {
			return nil, fmt.Errorf("%w: second header frame arrived as text", protocol.ErrUnexpectedFrameKind)
		}
		second, err := protocol.DecodeHeader(secondBytes)
		if err != nil {
			d.metrics.RecordFrameError("bad_second_header")
			return nil, err
		}
		length = second.Length
	}
	resolved := header.ResolvedLength(length)

	var payload []byte
	var frameKind protocol.FrameKind
	if header.HasPayloadFrame() {
		data, pkind, err := d.conn.ReadMessage(ctx)
		if err != nil {
			return nil, err
		}
		if uint32(len(data)) != resolved {
			d.metrics.RecordFrameError("length_mismatch")
			return nil, fmt.Errorf("%w: payload is %d bytes, header promised %d", protocol.ErrTruncated, len(data), resolved)
		}
		payload = data
		if pkind == transport.FrameText {
			frameKind = protocol.FrameKindText
		} else {
			frameKind = protocol.FrameKindBinary
		}
	}

	msg, err := protocol.Decode(header, payload, frameKind)
	if err != nil {
		d.metrics.RecordFrameError("decode")
		return nil, err
	}
	d.metrics.RecordFrameDecoded(protocol.IdentifierName(header.Identifier), len(payload))
	d.logger.Debug("frame decoded",
		logging.KeyComponent, "dispatcher",
		logging.KeyIdentifier, protocol.IdentifierName(header.Identifier),
		logging.KeyFrameLength, len(payload))
	return msg, nil
}

// route dispatches one decoded message to the reply queue or the event
// sink, per the main loop steps. It returns true if the loop should stop.
func (d *Dispatcher) route(msg protocol.Message) (terminal bool) {
	switch m := msg.(type) {
	case protocol.KeepAliveMessage:
		d.metrics.RecordKeepaliveRecv()
		d.keepAliveOnce.Do(func() { close(d.keepAliveCh) })
		return false

	case protocol.EventTableMessage:
		d.deliverEvents(m.Table)
		return false

	case protocol.OutOfServiceMessage:
		d.logger.Warn("miniserver reported out of service", logging.KeyComponent, "dispatcher")
		d.pushEvent(OutOfServiceEvent{})
		d.shutdown(ErrOutOfService)
		return true

	default:
		d.completeNextReply(msg, nil)
		return false
	}
}

func (d *Dispatcher) deliverEvents(table protocol.EventTable) {
	var kind string
	var count int

	switch t := table.(type) {
	case protocol.ValueEvents:
		kind, count = "value", len(t)
		for _, e := range t {
			d.pushEvent(e)
		}
	case protocol.TextEvents:
		kind, count = "text", len(t)
		for _, e := range t {
			d.pushEvent(e)
		}
	case protocol.DaytimerEvents:
		kind, count = "daytimer", len(t)
		for _, e := range t {
			d.pushEvent(e)
		}
	case protocol.WeatherEvents:
		kind, count = "weather", len(t)
		for _, e := range t {
			d.pushEvent(e)
		}
	}
	d.metrics.RecordEventsDelivered(kind, count)
}

// pushEvent delivers a single decoded record to the event sink. A full sink
// means the subscriber isn't keeping up; the record is dropped rather than
// blocking the read loop, since a stalled subscriber must never be able to
// wedge the connection's ability to answer pending commands or keepalives.
func (d *Dispatcher) pushEvent(e Event) {
	select {
	case d.events <- e:
		d.metrics.SetEventQueueDepth(len(d.events))
	default:
		d.metrics.RecordEventsDropped(1)
		d.logger.Warn("event sink full, dropping event", logging.KeyComponent, "dispatcher")
	}
}

// completeNextReply pops the oldest pending reply slot and completes it. A
// reply with no matching pending command signals a server bug or a
// cancelled request; per the main loop's step 5 this must not crash, only
// be logged and counted.
func (d *Dispatcher) completeNextReply(msg protocol.Message, err error) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		d.metrics.RecordReplyDropped()
		d.logger.Warn("reply with no pending command, dropping", logging.KeyComponent, "dispatcher")
		return
	}
	ch := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()

	ch <- replyResult{msg: msg, err: err}
	close(ch)
}

func (d *Dispatcher) enqueueReply() chan replyResult {
	ch := make(chan replyResult, 1)
	d.mu.Lock()
	d.pending = append(d.pending, ch)
	d.mu.Unlock()
	return ch
}

func (d *Dispatcher) removeReply(target chan replyResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.pending {
		if ch == target {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return
		}
	}
}

// SendCommand writes cmd on the write half and blocks for its reply, or
// until ctx is cancelled or the connection closes. Commands are serialized
// so that the reply queue's FIFO order always matches send order, since the
// wire protocol carries no request id to correlate on.
func (d *Dispatcher) SendCommand(ctx context.Context, cmd string) (protocol.Message, error) {
	select {
	case <-d.done:
		return nil, ErrConnectionClosed
	default:
	}

	d.sendMu.Lock()
	ch := d.enqueueReply()
	err := d.conn.WriteText(ctx, cmd)
	d.sendMu.Unlock()

	if err != nil {
		d.removeReply(ch)
		return nil, fmt.Errorf("dispatcher: send command: %w", err)
	}
	d.metrics.RecordCommandSent()

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return res.msg, res.err
	case <-ctx.Done():
		d.removeReply(ch)
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrConnectionClosed
	}
}

// shutdown tears the dispatcher down exactly once: every pending reply is
// failed with ErrConnectionClosed and the event sink is closed, so a caller
// blocked on either one is always released.
func (d *Dispatcher) shutdown(cause error) {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		d.closeErr = cause
		d.closeMu.Unlock()

		d.mu.Lock()
		pending := d.pending
		d.pending = nil
		d.mu.Unlock()

		for _, ch := range pending {
			ch <- replyResult{err: ErrConnectionClosed}
			close(ch)
		}

		d.metrics.RecordDisconnect(disconnectReason(cause))
		close(d.events)
		close(d.done)
	})
}

func disconnectReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrOutOfService):
		return "out_of_service"
	default:
		return "read_error"
	}
}
