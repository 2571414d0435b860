package haier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Gateway session defaults.
const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultReconnectDelay    = 30 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
)

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens gateway sockets.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error)
}

// WebsocketDialer adapts a gorilla dialer to Dialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// DialContext dials urlStr.
func (d WebsocketDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Handshake body is not used
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// GatewayResolver finds the gateway to connect to. *Client implements it.
type GatewayResolver interface {
	GetGatewayURL(ctx context.Context) (string, error)
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Resolver GatewayResolver
	Tokens   TokenProvider

	// EnsureToken runs before every connect attempt, typically
	// TokenStore.EnsureFresh. A failure counts as a failed attempt.
	EnsureToken func(ctx context.Context) error

	Publisher Publisher
	Controls  ControlSource
	Dialer    Dialer

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration

	// MaxAttempts ends Listen after that many consecutive failed
	// sessions. Zero retries forever.
	MaxAttempts int

	Logger Logger
}

// GatewayStats is a point-in-time view of the gateway connection.
type GatewayStats struct {
	Connected      bool      `json:"connected"`
	SessionID      string    `json:"session_id,omitempty"`
	Connects       int64     `json:"connects"`
	Disconnects    int64     `json:"disconnects"`
	FramesReceived int64     `json:"frames_received"`
	DecodeErrors   int64     `json:"decode_errors"`
	CommandsSent   int64     `json:"commands_sent"`
	HeartbeatsSent int64     `json:"heartbeats_sent"`
	LastConnected  time.Time `json:"last_connected,omitzero"`
}

// Gateway supervises the WebSocket session with the vendor gateway.
//
// Each Listen call generates a session id and makes it authoritative.
// Status events are emitted only while the emitting session is still
// the authoritative one, so a superseded session unwinding during a
// reload cannot mark the gateway down after its successor came up.
//
// Thread Safety: All methods are safe for concurrent use.
type Gateway struct {
	resolver    GatewayResolver
	tokens      TokenProvider
	ensureToken func(ctx context.Context) error
	publisher   Publisher
	controls    ControlSource
	dialer      Dialer
	logger      Logger

	heartbeatInterval time.Duration
	reconnectDelay    time.Duration
	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	maxAttempts       int

	after func(time.Duration) <-chan time.Time
	newID func() string

	// authMu guards authoritative and serialises status emission against it.
	authMu        sync.Mutex
	authoritative string
	sessionID     atomic.Value

	sessionMu sync.Mutex
	active    *session

	connects       atomic.Int64
	disconnects    atomic.Int64
	framesReceived atomic.Int64
	decodeErrors   atomic.Int64
	commandsSent   atomic.Int64
	heartbeatsSent atomic.Int64
	lastConnected  atomic.Int64
}

// session is one live socket. All writes go through write.
type session struct {
	id         string
	agClientID string
	conn       Conn
	timeout    time.Duration

	writeMu sync.Mutex
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout)) //nolint:errcheck // Write reports the real failure
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// NewGateway creates a Gateway. Zero durations take the package defaults.
func NewGateway(opts GatewayOptions) *Gateway {
	g := &Gateway{
		resolver:          opts.Resolver,
		tokens:            opts.Tokens,
		ensureToken:       opts.EnsureToken,
		publisher:         opts.Publisher,
		controls:          opts.Controls,
		dialer:            opts.Dialer,
		logger:            orNop(opts.Logger),
		heartbeatInterval: orDefault(opts.HeartbeatInterval, DefaultHeartbeatInterval),
		reconnectDelay:    orDefault(opts.ReconnectDelay, DefaultReconnectDelay),
		handshakeTimeout:  orDefault(opts.HandshakeTimeout, DefaultHandshakeTimeout),
		writeTimeout:      orDefault(opts.WriteTimeout, DefaultWriteTimeout),
		maxAttempts:       opts.MaxAttempts,
		after:             time.After,
		newID:             uuid.NewString,
	}
	if g.dialer == nil {
		g.dialer = WebsocketDialer{Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: g.handshakeTimeout,
		}}
	}
	if g.tokens == nil {
		g.tokens = StaticToken("")
	}
	return g
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Listen subscribes to deviceIDs and streams their pushes until ctx is
// cancelled. Failed or dropped sessions are retried after the reconnect
// delay. Listen returns nil on cancellation and an error only when
// MaxAttempts is exhausted.
func (g *Gateway) Listen(ctx context.Context, deviceIDs []string) error {
	id := g.newID()
	g.authMu.Lock()
	g.authoritative = id
	g.sessionID.Store(id)
	g.authMu.Unlock()

	log := g.logger
	log.Info("gateway listener started", "session_id", id, "devices", len(deviceIDs))
	defer log.Info("gateway listener stopped", "session_id", id)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := g.runSession(ctx, id, deviceIDs)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			failures = 0
		}
		failures++

		log.Warn("gateway connection lost, waiting to retry",
			"session_id", id, "error", err, "retry_in", g.reconnectDelay.String())
		if g.maxAttempts > 0 && failures >= g.maxAttempts {
			return fmt.Errorf("gateway: giving up after %d attempts: %w", failures, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-g.after(g.reconnectDelay):
		}
	}
}

// runSession performs one connect-subscribe-stream cycle. connected
// reports whether the socket was established.
func (g *Gateway) runSession(ctx context.Context, id string, deviceIDs []string) (connected bool, err error) {
	defer g.emitStatus(id, false)

	conn, token, err := g.connect(ctx)
	if err != nil {
		return false, err
	}

	s := &session{id: id, agClientID: token, conn: conn, timeout: g.writeTimeout}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	// Closing the socket is the only way to unblock ReadMessage.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close() //nolint:errcheck // Socket teardown
	}()

	cancelControl := func() {}
	defer func() {
		cancelControl()
		g.clearActive(s)
		close(stop)
		wg.Wait()
		g.disconnects.Add(1)
	}()

	frame, err := EncodeSubscribe(token, deviceIDs)
	if err != nil {
		return true, err
	}
	if err := s.write(frame); err != nil {
		return true, err
	}

	wg.Add(1)
	go g.heartbeat(s, stop, &wg)

	if g.controls != nil {
		cancelControl = g.controls.SubscribeControl(func(ev ControlEvent) {
			if err := g.sendCommand(s, ev); err != nil {
				g.logger.Error("failed to send command", "device_id", ev.DeviceID, "error", err)
			}
		})
	}

	g.setActive(s)
	g.connects.Add(1)
	g.lastConnected.Store(time.Now().UnixNano())
	g.logger.Info("gateway subscribed", "session_id", id, "devices", len(deviceIDs))
	g.emitStatus(id, true)

	return true, g.readLoop(ctx, s)
}

// connect refreshes the token if needed, resolves the gateway and dials it.
func (g *Gateway) connect(ctx context.Context) (Conn, string, error) {
	if g.ensureToken != nil {
		if err := g.ensureToken(ctx); err != nil {
			return nil, "", fmt.Errorf("ensuring token: %w", err)
		}
	}
	if g.resolver == nil {
		return nil, "", errors.New("gateway: no resolver configured")
	}
	server, err := g.resolver.GetGatewayURL(ctx)
	if err != nil {
		return nil, "", err
	}

	token := g.tokens.AccessToken()
	dialCtx, cancel := context.WithTimeout(ctx, g.handshakeTimeout)
	defer cancel()

	g.logger.Debug("dialing gateway", "server", server)
	conn, err := g.dialer.DialContext(dialCtx, SessionURL(server, token), nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: dial %s: %w", ErrTransport, server, err)
	}
	return conn, token, nil
}

// SessionURL builds the socket URL for server. The access token doubles
// as the agent client id. The query is written token first, as the
// gateway documents it.
func SessionURL(server, token string) string {
	t := url.QueryEscape(token)
	return strings.TrimRight(server, "/") + "/userag?token=" + t + "&agClientId=" + t
}

// readLoop hands text frames to the codec until the socket fails or ctx ends.
func (g *Gateway) readLoop(ctx context.Context, s *session) error {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		g.framesReceived.Add(1)

		if msgType != websocket.TextMessage {
			g.logger.Warn("ignoring non-text gateway frame", "type", msgType)
		} else {
			g.handleFrame(data)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (g *Gateway) handleFrame(data []byte) {
	snap, err := DecodeFrame(data)
	if err != nil {
		g.decodeErrors.Add(1)
		g.logger.Warn("dropping undecodable gateway frame", "error", err)
		return
	}
	if snap == nil {
		g.logger.Debug("gateway frame ignored", "frame", string(data))
		return
	}
	if g.publisher != nil {
		g.publisher.PublishDataChanged(DataChangedEvent(*snap))
	}
}

// heartbeat sends a HeartBeat frame immediately and then every interval
// until stop is closed. Send failures are logged; the read loop notices
// a dead socket.
func (g *Gateway) heartbeat(s *session, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for {
		frame, err := EncodeHeartbeat(s.agClientID)
		if err == nil {
			err = s.write(frame)
		}
		if err != nil {
			g.logger.Warn("failed to send heartbeat", "session_id", s.id, "error", err)
		} else {
			g.heartbeatsSent.Add(1)
			g.logger.Debug("heartbeat sent", "session_id", s.id)
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) sendCommand(s *session, ev ControlEvent) error {
	frame, err := EncodeCommand(s.agClientID, ev.DeviceID, ev.Attributes)
	if err != nil {
		return err
	}
	if err := s.write(frame); err != nil {
		return err
	}
	g.commandsSent.Add(1)
	g.logger.Info("command sent", "device_id", ev.DeviceID, "attributes", len(ev.Attributes))
	return nil
}

func (g *Gateway) emitStatus(id string, status bool) {
	g.authMu.Lock()
	defer g.authMu.Unlock()

	if g.authoritative != id {
		g.logger.Debug("suppressing status from superseded session", "session_id", id, "status", status)
		return
	}
	if g.publisher != nil {
		g.publisher.PublishStatusChanged(StatusChangedEvent{Status: status})
	}
}

func (g *Gateway) setActive(s *session) {
	g.sessionMu.Lock()
	g.active = s
	g.sessionMu.Unlock()
}

func (g *Gateway) clearActive(s *session) {
	g.sessionMu.Lock()
	if g.active == s {
		g.active = nil
	}
	g.sessionMu.Unlock()
}

// SessionID returns the authoritative session id, empty before the first Listen.
func (g *Gateway) SessionID() string {
	id, _ := g.sessionID.Load().(string)
	return id
}

// IsConnected reports whether a session socket is live.
func (g *Gateway) IsConnected() bool {
	g.sessionMu.Lock()
	defer g.sessionMu.Unlock()
	return g.active != nil
}

// Stats returns connection counters.
func (g *Gateway) Stats() GatewayStats {
	stats := GatewayStats{
		Connected:      g.IsConnected(),
		SessionID:      g.SessionID(),
		Connects:       g.connects.Load(),
		Disconnects:    g.disconnects.Load(),
		FramesReceived: g.framesReceived.Load(),
		DecodeErrors:   g.decodeErrors.Load(),
		CommandsSent:   g.commandsSent.Load(),
		HeartbeatsSent: g.heartbeatsSent.Load(),
	}
	if ns := g.lastConnected.Load(); ns != 0 {
		stats.LastConnected = time.Unix(0, ns)
	}
	return stats
}
