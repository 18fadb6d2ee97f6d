package loxone

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/postalsys/loxone-go/internal/catalog"
	"github.com/postalsys/loxone-go/internal/config"
	"github.com/postalsys/loxone-go/internal/dispatcher"
	"github.com/postalsys/loxone-go/internal/logging"
	"github.com/postalsys/loxone-go/internal/metrics"
	"github.com/postalsys/loxone-go/internal/protocol"
	"github.com/postalsys/loxone-go/internal/session"
	"github.com/postalsys/loxone-go/internal/transport"
	"github.com/postalsys/loxone-go/internal/xcrypto"
)

// Client is a connected handle to a Miniserver's remotecontrol endpoint. Its
// Dispatcher writes commands one at a time and owns the read half,
// delivering decoded events through Events(); the Client keeps the
// connection itself only to close it.
type Client struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn closer
	disp *dispatcher.Dispatcher

	sessMu sync.Mutex
	sess   *session.Session
	token  string
	user   string
}

// closer is the minimal surface Client needs from the transport connection;
// *transport.Conn satisfies it, and tests substitute a fake.
type closer interface {
	Close() error
}

// Option customizes Connect.
type Option func(*Client)

// WithLogger overrides the logger Connect would otherwise build from
// cfg.Logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics attaches a metrics sink. Pass nil (the default) to disable
// metrics recording entirely.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Connect dials the Miniserver named by cfg.Miniserver.URL, negotiates the
// remotecontrol subprotocol, and starts the dispatcher's read loop. It does
// not perform the key-exchange or authentication handshake; call KeyExchange
// and either Authenticate or GetJWT next.
func Connect(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, *http.Response, error) {
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	}

	c.metrics.RecordConnect()

	conn, resp, err := transport.Dial(ctx, cfg.Miniserver.URL, transport.DialOptions{})
	if err != nil {
		c.metrics.RecordHandshakeError("dial")
		return nil, resp, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.conn = conn

	c.disp = dispatcher.New(conn, c.logger, c.metrics, cfg.Dispatch.EventQueueSize)
	c.disp.Start(ctx)

	c.logger.Info("connected to miniserver",
		logging.KeyComponent, "client",
		logging.KeyMiniserver, cfg.Miniserver.URL,
		logging.KeyUUID, c.disp.ID().String())

	return c, resp, nil
}

// Close closes the underlying transport connection. The dispatcher's read
// loop observes the resulting I/O error and fails every pending and future
// call with ErrConnectionClosed.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Events returns the channel decoded event records (protocol.ValueEvent,
// protocol.TextEvent, protocol.DaytimerEvent, protocol.WeatherEvent,
// OutOfServiceEvent) are delivered on. It closes once the connection is lost.
func (c *Client) Events() <-chan dispatcher.Event {
	return c.disp.Events()
}

// Err returns the cause the dispatcher's read loop exited with, or nil while
// still running. It reports ErrOutOfService once the Miniserver has sent an
// OutOfService frame, and wraps ErrProtocolViolation when a malformed frame
// (bad magic, wrong length, unknown identifier, unexpected frame kind) ended
// the loop. A close through Close is reported as the transport's read error.
func (c *Client) Err() error {
	err := c.disp.Err()
	switch {
	case errors.Is(err, dispatcher.ErrOutOfService):
		return ErrOutOfService
	case errors.Is(err, protocol.ErrBadMagic), errors.Is(err, protocol.ErrTruncated),
		errors.Is(err, protocol.ErrUnknownIdentifier), errors.Is(err, protocol.ErrUnexpectedFrameKind):
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return err
}

// KeyExchange builds a fresh Session from the Miniserver's certificate PEM,
// sends it, and returns the server's acknowledgement value.
func (c *Client) KeyExchange(ctx context.Context, certPEM string) (string, error) {
	pub, err := xcrypto.ParsePublicKey(certPEM)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCertDecode, err)
	}

	sess, bundle, err := session.New(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}

	start := time.Now()
	value, err := c.sendForStringValue(ctx, "jdev/sys/keyexchange/"+bundle)
	if err != nil {
		c.metrics.RecordHandshakeError("keyexchange")
		return "", err
	}

	c.sessMu.Lock()
	c.sess = sess
	c.sessMu.Unlock()

	c.metrics.RecordHandshake(time.Since(start).Seconds())
	return value, nil
}

// KeyInfo is the getkey2 reply: the per-user key material needed to compute
// a password hash.
type KeyInfo struct {
	Key     string
	Salt    string
	HashAlg string
}

// GetKey fetches the key/salt/hashAlg triple getjwt's password hash is
// computed against.
func (c *Client) GetKey(ctx context.Context, user string) (KeyInfo, error) {
	msg, err := c.sendCommand(ctx, "jdev/sys/getkey2/"+url.PathEscape(user))
	if err != nil {
		return KeyInfo{}, c.wrapDispatchErr(err)
	}
	env, err := expectLLReply(msg)
	if err != nil {
		return KeyInfo{}, err
	}
	var v struct {
		Key     string `json:"key"`
		Salt    string `json:"salt"`
		HashAlg string `json:"hashAlg"`
	}
	if err := json.Unmarshal(env.LL.Value, &v); err != nil {
		return KeyInfo{}, fmt.Errorf("%w: getkey2 value not an object: %v", ErrProtocolViolation, err)
	}
	return KeyInfo{Key: v.Key, Salt: v.Salt, HashAlg: v.HashAlg}, nil
}

// GetJWT authenticates as user/password, requesting a token scoped to
// permission with the given client uuid and info string, and returns the
// server's token object. The session must already have a key exchanged via
// KeyExchange, since the request is sent encrypted.
func (c *Client) GetJWT(ctx context.Context, user, password string, permission int, clientUUID, info string) (map[string]any, error) {
	key, err := c.GetKey(ctx, user)
	if err != nil {
		return nil, err
	}

	rawKey, err := hex.DecodeString(key.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: getkey2 key is not hex: %v", ErrProtocolViolation, err)
	}

	digest, err := xcrypto.HashPassword(key.HashAlg, user, password, rawKey, key.Salt)
	if err != nil {
		if errors.Is(err, xcrypto.ErrUnsupportedAlgorithm) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}

	plaintext := fmt.Sprintf("jdev/sys/getjwt/%s/%s/%d/%s/%s", hex.EncodeToString(digest), user, permission, clientUUID, info)
	cmd, err := c.encryptCommand(plaintext)
	if err != nil {
		return nil, err
	}

	msg, err := c.sendCommand(ctx, cmd)
	if err != nil {
		return nil, c.wrapDispatchErr(err)
	}
	env, err := expectLLReply(msg)
	if err != nil {
		return nil, err
	}

	var v map[string]any
	if err := json.Unmarshal(env.LL.Value, &v); err != nil {
		return nil, fmt.Errorf("%w: getjwt value not an object: %v", ErrProtocolViolation, err)
	}

	if token, ok := v["token"].(string); ok {
		c.user = user
		c.token = token
	}
	return v, nil
}

// Authenticate re-establishes a session using a previously issued token,
// skipping the username/password exchange GetJWT requires. The wire form,
// like getjwt, is sent through the encrypted command wrapper.
func (c *Client) Authenticate(ctx context.Context, token, user string) error {
	plaintext := fmt.Sprintf("jdev/sys/authwithtoken/%s/%s", token, user)
	cmd, err := c.encryptCommand(plaintext)
	if err != nil {
		return err
	}

	msg, err := c.sendCommand(ctx, cmd)
	if err != nil {
		return c.wrapDispatchErr(err)
	}
	if _, err := expectLLReply(msg); err != nil {
		return err
	}

	c.user = user
	c.token = token
	return nil
}

// GetLoxAPP3Timestamp returns the Miniserver's structure-file last-modified
// timestamp, used to decide whether a cached catalog is stale.
func (c *Client) GetLoxAPP3Timestamp(ctx context.Context) (string, error) {
	return c.sendForStringValue(ctx, "jdev/sps/LoxAPPversion3")
}

// GetLoxAPP3Catalog fetches and parses the full structure file.
func (c *Client) GetLoxAPP3Catalog(ctx context.Context) (*catalog.Catalog, error) {
	msg, err := c.sendCommand(ctx, "data/LoxAPP3.json")
	if err != nil {
		return nil, c.wrapDispatchErr(err)
	}
	bt, ok := msg.(protocol.BinaryTextMessage)
	if !ok {
		return nil, fmt.Errorf("%w: LoxAPP3.json reply was %T, want BinaryText", ErrProtocolViolation, msg)
	}
	cat, err := catalog.Parse([]byte(bt.Text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return cat, nil
}

// StatusUpdate is the result of EnableStatusUpdate: the burst of events the
// Miniserver sent immediately on enabling updates, collected up to the
// configured quiescence window, plus the live stream to keep reading from.
type StatusUpdate struct {
	InitialState []dispatcher.Event
	Stream       <-chan dispatcher.Event
}

// EnableStatusUpdate turns on the binary event stream and waits out the
// configured InitialStateIdleWindow (or the first KeepAlive, whichever
// comes first) to collect the Miniserver's initial burst of state before
// handing back the live stream for the caller to range over.
func (c *Client) EnableStatusUpdate(ctx context.Context) (StatusUpdate, error) {
	msg, err := c.sendCommand(ctx, "jdev/sps/enablebinstatusupdate")
	if err != nil {
		return StatusUpdate{}, c.wrapDispatchErr(err)
	}
	if _, err := expectLLReply(msg); err != nil {
		return StatusUpdate{}, err
	}

	idleWindow := c.cfg.Dispatch.InitialStateIdleWindow
	if idleWindow <= 0 {
		idleWindow = 500 * time.Millisecond
	}

	var initial []dispatcher.Event
	timer := time.NewTimer(idleWindow)
	defer timer.Stop()

collect:
	for {
		select {
		case ev, ok := <-c.disp.Events():
			if !ok {
				break collect
			}
			initial = append(initial, ev)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleWindow)
		case <-c.disp.KeepAliveSignal():
			break collect
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return StatusUpdate{}, ctx.Err()
		}
	}

	return StatusUpdate{InitialState: initial, Stream: c.disp.Events()}, nil
}

// sendCommand bounds ctx by cfg.Dispatch.CommandTimeout (when configured)
// before handing cmd to the dispatcher, so a Miniserver that stops
// answering fails a call instead of hanging it forever on a caller context
// with no deadline of its own.
func (c *Client) sendCommand(ctx context.Context, cmd string) (protocol.Message, error) {
	if c.cfg != nil && c.cfg.Dispatch.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Dispatch.CommandTimeout)
		defer cancel()
	}
	return c.disp.SendCommand(ctx, cmd)
}

func (c *Client) encryptCommand(plaintext string) (string, error) {
	c.sessMu.Lock()
	sess := c.sess
	c.sessMu.Unlock()
	if sess == nil {
		return "", fmt.Errorf("%w: no session, call KeyExchange first", ErrProtocolViolation)
	}
	cmd, err := sess.EncryptCommand("enc", plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return cmd, nil
}

func (c *Client) sendForStringValue(ctx context.Context, cmd string) (string, error) {
	msg, err := c.sendCommand(ctx, cmd)
	if err != nil {
		return "", c.wrapDispatchErr(err)
	}
	env, err := expectLLReply(msg)
	if err != nil {
		return "", err
	}
	var value string
	if err := json.Unmarshal(env.LL.Value, &value); err != nil {
		return "", fmt.Errorf("%w: value is not a string: %v", ErrProtocolViolation, err)
	}
	return value, nil
}

func (c *Client) wrapDispatchErr(err error) error {
	if errors.Is(err, dispatcher.ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// llEnvelope mirrors the {"LL":{"control":...,"Code":"200","value":...}}
// shape every text reply carries. value is left as raw JSON since its shape
// varies per command: a bare string for most queries, an object for
// getkey2/getjwt.
type llEnvelope struct {
	LL struct {
		Control string          `json:"control"`
		Code    string          `json:"Code"`
		Value   json.RawMessage `json:"value"`
	} `json:"LL"`
}

// expectLLReply asserts msg is a Text message and decodes its LL envelope,
// stripping embedded carriage returns the Miniserver is known to emit and
// surfacing a non-200 Code as ErrServerError.
func expectLLReply(msg protocol.Message) (*llEnvelope, error) {
	text, ok := msg.(protocol.TextMessage)
	if !ok {
		return nil, fmt.Errorf("%w: reply was %T, want Text", ErrProtocolViolation, msg)
	}

	cleaned := bytes.ReplaceAll(text.JSON, []byte("\r"), nil)
	var env llEnvelope
	if err := json.Unmarshal(cleaned, &env); err != nil {
		return nil, fmt.Errorf("%w: decode LL reply: %v", ErrProtocolViolation, err)
	}
	if env.LL.Code != "" && env.LL.Code != "200" {
		return nil, fmt.Errorf("%w: code %s", ErrServerError, env.LL.Code)
	}
	return &env, nil
}
