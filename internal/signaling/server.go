package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxcall/signaling-relay/internal/metrics"
	"github.com/voxcall/signaling-relay/internal/ratelimit"
	"github.com/voxcall/signaling-relay/internal/rooms"
)

const wsWriteWait = 1 * time.Second

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	// Rooms is the room/membership store. Required.
	Rooms *rooms.Store

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Inbound hardening. Zero values fall back to conservative defaults.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// Keepalive. The server pings at PingInterval and drops connections that
	// stay silent (no frames, no pongs) for IdleTimeout.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// CheckOrigin overrides the upgrade origin check. Nil accepts all
	// origins; the production wiring enforces origins in the outer HTTP
	// middleware instead.
	CheckOrigin func(r *http.Request) bool
}

// Server implements the rendezvous WebSocket endpoint.
//
// Each accepted connection gets its own reader goroutine; all room state
// lives in rooms.Store, which serializes membership changes so joins,
// relays and disconnect cleanup observe consistent state. Notifications are
// written outside the store lock, so a third member may see two concurrent
// joins in either order; per-socket ordering still holds through each
// connection's serialized writer (a joiner's welcome always precedes any
// frame relayed to it).
type Server struct {
	rooms   *rooms.Store
	metrics *metrics.Metrics
	log     *slog.Logger

	maxMessageBytes      int64
	maxMessagesPerSecond int
	idleTimeout          time.Duration
	pingInterval         time.Duration

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	maxRate := cfg.MaxMessagesPerSecond
	if maxRate <= 0 {
		maxRate = 50
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	ping := cfg.PingInterval
	if ping <= 0 || ping >= idle {
		ping = idle / 3
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		rooms:   cfg.Rooms,
		metrics: m,
		log:     logger,

		maxMessageBytes:      maxBytes,
		maxMessagesPerSecond: maxRate,
		idleTimeout:          idle,
		pingInterval:         ping,

		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		clients:  make(map[*client]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Close drops all live connections. Membership cleanup runs through each
// connection's normal disconnect path.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		srv:  s,
		conn: conn,
		id:   uuid.NewString(),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		),
		pingDone: make(chan struct{}),
	}
	c.log = s.log.With("conn_id", c.id, "remote_addr", r.RemoteAddr)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	c.run()
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// client is one live WebSocket connection. It implements rooms.Connection so
// the store can key memberships by it.
type client struct {
	srv  *Server
	conn *websocket.Conn
	id   string
	log  *slog.Logger

	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	pingDone  chan struct{}
	closeOnce sync.Once
}

func (c *client) ID() string { return c.id }

func (c *client) run() {
	defer c.cleanup()

	c.conn.SetReadLimit(c.srv.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	})

	go c.pingLoop()

	c.log.Debug("connection accepted")

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		// Any inbound frame proves liveness, not just pongs.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))

		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.RateLimited)
			c.log.Warn("message rate limit exceeded")
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		env, err := parseEnvelope(data)
		if err != nil {
			// Malformed input is dropped without terminating the connection.
			c.srv.metrics.Inc(metrics.BadMessages)
			c.log.Debug("dropping malformed message", "err", err)
			continue
		}

		if env.Type.IsControl() {
			c.handleControl(data)
			continue
		}
		c.relay(data)
	}
}

// cleanup runs exactly once when the read loop exits, for any reason. The
// membership entry is reconciled before the connection object is forgotten,
// and remaining members are told the user left.
func (c *client) cleanup() {
	close(c.pingDone)
	c.close()
	c.srv.untrack(c)

	removed, remaining, ok := c.srv.rooms.RemoveMember(c)
	if !ok {
		c.log.Debug("connection closed")
		return
	}

	c.log.Info("user disconnected", "room_id", removed.RoomID, "user_id", removed.UserID)

	notice := UserLeft{Type: MessageTypeUserLeft, UserID: removed.UserID}
	for _, member := range remaining {
		if peer, ok := member.Conn.(*client); ok {
			_ = peer.sendJSON(notice)
		}
	}
}

func (c *client) pingLoop() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.pingDone:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) handleControl(data []byte) {
	msg, err := ParseControlMessage(data)
	if err != nil {
		c.srv.metrics.Inc(metrics.BadMessages)
		c.log.Debug("dropping invalid control message", "err", err)
		return
	}

	switch msg.Type {
	case MessageTypeCreateRoom:
		c.handleCreateRoom(msg)
	case MessageTypeValidateRoom:
		c.handleValidateRoom(msg)
	case MessageTypeValidatePassword:
		c.handleValidatePassword(msg)
	case MessageTypeJoinRoom:
		c.handleJoinRoom(msg)
	}
}

func (c *client) handleCreateRoom(msg ControlMessage) {
	password := msg.Password
	// An empty password means no password: the room is open.
	if password != nil && *password == "" {
		password = nil
	}

	roomID, err := c.srv.rooms.CreateRoom(password)
	if errors.Is(err, rooms.ErrTooManyRooms) {
		_ = c.sendError(CodeTooManyRooms, "too many rooms")
		return
	}
	if err != nil {
		c.log.Error("failed to create room", "err", err)
		_ = c.sendError(CodeInternalError, "failed to create room")
		return
	}

	c.log.Info("room created", "room_id", roomID, "password_required", password != nil)
	_ = c.sendJSON(RoomCreated{Type: MessageTypeRoomCreated, RoomID: roomID})
}

func (c *client) handleValidateRoom(msg ControlMessage) {
	v := c.srv.rooms.Validate(msg.RoomID, msg.Password)
	_ = c.sendJSON(RoomValidation{
		Type:             MessageTypeRoomValidation,
		Exists:           v.Exists,
		PasswordRequired: v.PasswordRequired,
		PasswordCorrect:  v.PasswordCorrect,
	})
}

func (c *client) handleValidatePassword(msg ControlMessage) {
	ok, err := c.srv.rooms.CheckPassword(msg.RoomID, *msg.Password)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		_ = c.sendJSON(PasswordValidation{
			Type:    MessageTypePasswordValidation,
			Success: false,
			Error:   "room not found",
		})
		return
	}
	_ = c.sendJSON(PasswordValidation{Type: MessageTypePasswordValidation, Success: ok})
}

func (c *client) handleJoinRoom(msg ControlMessage) {
	others, err := c.srv.rooms.AddMember(msg.RoomID, c, msg.UserID)
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		// Rooms are never created implicitly; create-room must come first.
		_ = c.sendError(CodeRoomNotFound, "room does not exist")
		return
	case errors.Is(err, rooms.ErrAlreadyInRoom):
		_ = c.sendError(CodeAlreadyInRoom, "connection is already in a room")
		return
	case errors.Is(err, rooms.ErrRoomFull):
		_ = c.sendError(CodeRoomFull, "room is full")
		return
	case err != nil:
		c.log.Error("failed to join room", "err", err)
		_ = c.sendError(CodeInternalError, "failed to join room")
		return
	}

	c.log.Info("user joined room", "room_id", msg.RoomID, "user_id", msg.UserID, "members", len(others)+1)

	_ = c.sendJSON(Welcome{Type: MessageTypeWelcome, UserID: msg.UserID, RoomID: msg.RoomID})

	notice := NewUser{Type: MessageTypeNewUser, UserID: msg.UserID}
	for _, member := range others {
		if peer, ok := member.Conn.(*client); ok {
			_ = peer.sendJSON(notice)
		}
	}
}

// relay forwards an opaque frame to every member of the sender's room whose
// user id matches the frame's target. The payload passes through untouched
// apart from the `from` field, which is overwritten with the sender's
// resolved identity. Unknown targets and roomless senders are dropped
// silently; the protocol has no delivery-failure notice.
func (c *client) relay(data []byte) {
	var addr relayTarget
	if err := json.Unmarshal(data, &addr); err != nil {
		c.srv.metrics.Inc(metrics.BadMessages)
		return
	}

	from, targets, ok := c.srv.rooms.ResolveTargets(c, addr.Target)
	if !ok {
		c.srv.metrics.Inc(metrics.RelayDroppedNoRoom)
		c.log.Debug("dropping relay from roomless connection")
		return
	}
	if len(targets) == 0 {
		c.srv.metrics.Inc(metrics.RelayDroppedNoTarget)
		c.log.Debug("dropping relay to unknown target", "target", addr.Target)
		return
	}

	payload, err := stampRelayFrom(data, from)
	if err != nil {
		c.srv.metrics.Inc(metrics.BadMessages)
		return
	}

	for _, member := range targets {
		peer, ok := member.Conn.(*client)
		if !ok {
			continue
		}
		if err := peer.send(payload); err != nil {
			continue
		}
		c.srv.metrics.Inc(metrics.RelaysDelivered)
	}
}

func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(data)
}

func (c *client) sendError(code, message string) error {
	return c.sendJSON(ErrorMessage{Type: MessageTypeError, Code: code, Message: message})
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
