package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrRequestInFlight is returned when a request of the same kind is
	// already awaiting its response.
	ErrRequestInFlight = errors.New("signalclient: request already in flight")

	ErrClosed = errors.New("signalclient: connection closed")
)

// ServerError is a protocol-level error response from the relay.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("signalclient: server error %s: %s", e.Code, e.Message)
}

// RoomStatus is the result of a validate-room request.
type RoomStatus struct {
	Exists           bool
	PasswordRequired bool
	PasswordCorrect  bool
}

// RelayMessage is a peer frame forwarded by the relay. From carries the
// server-stamped sender identity; Raw is the full frame for payload decoding.
type RelayMessage struct {
	Type string
	From string
	Raw  []byte
}

// Handlers receives asynchronous server notifications. Nil fields are
// ignored. Handlers run on the client's read goroutine; they must not block.
type Handlers struct {
	OnNewUser  func(userID string)
	OnUserLeft func(userID string)
	OnRelay    func(msg RelayMessage)
}

type pendingKind int

const (
	pendingCreate pendingKind = iota
	pendingValidate
	pendingPassword
	pendingJoin
	pendingKinds
)

type response struct {
	raw []byte
	err error
}

// Client is one WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	handlers Handlers

	writeMu sync.Mutex

	mu      sync.Mutex
	pending [pendingKinds]chan response
	closed  bool
	readErr error

	done chan struct{}
}

// Dial connects to the relay's /ws endpoint and starts the read loop.
func Dial(ctx context.Context, url string, handlers Handlers) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalclient: dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// CreateRoom asks the relay for a fresh room. A nil password creates an open
// room.
func (c *Client) CreateRoom(ctx context.Context, password *string) (string, error) {
	raw, err := c.request(ctx, pendingCreate, map[string]any{
		"type":     "create-room",
		"password": password,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("signalclient: decode room-created: %w", err)
	}
	return resp.RoomID, nil
}

// ValidateRoom reports whether the room exists and whether it needs a
// password. Supplying a password also checks it in the same round trip.
func (c *Client) ValidateRoom(ctx context.Context, roomID string, password *string) (RoomStatus, error) {
	req := map[string]any{"type": "validate-room", "roomId": roomID}
	if password != nil {
		req["password"] = *password
	}
	raw, err := c.request(ctx, pendingValidate, req)
	if err != nil {
		return RoomStatus{}, err
	}

	var resp struct {
		Exists           bool `json:"exists"`
		PasswordRequired bool `json:"passwordRequired"`
		PasswordCorrect  bool `json:"passwordCorrect"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return RoomStatus{}, fmt.Errorf("signalclient: decode room-validation: %w", err)
	}
	return RoomStatus(resp), nil
}

// ValidatePassword checks a password against an existing room.
func (c *Client) ValidatePassword(ctx context.Context, roomID, password string) (bool, error) {
	raw, err := c.request(ctx, pendingPassword, map[string]any{
		"type":     "validate-password",
		"roomId":   roomID,
		"password": password,
	})
	if err != nil {
		return false, err
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("signalclient: decode password-validation: %w", err)
	}
	if resp.Error != "" {
		return false, &ServerError{Code: "validation_failed", Message: resp.Error}
	}
	return resp.Success, nil
}

// JoinRoom registers this connection in the room under userID. The server's
// welcome confirms the join; protocol errors come back as *ServerError.
func (c *Client) JoinRoom(ctx context.Context, roomID, userID string) error {
	_, err := c.request(ctx, pendingJoin, map[string]any{
		"type":   "join-room",
		"roomId": roomID,
		"userId": userID,
	})
	return err
}

// SendToUser relays an arbitrary payload to the named room member. Extra
// fields beyond type/target pass through the relay untouched.
func (c *Client) SendToUser(target, msgType string, fields map[string]any) error {
	frame := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		frame[k] = v
	}
	frame["type"] = msgType
	frame["target"] = target
	return c.writeJSON(frame)
}

func (c *Client) request(ctx context.Context, kind pendingKind, req map[string]any) ([]byte, error) {
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	}
	if c.pending[kind] != nil {
		c.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	c.pending[kind] = ch
	c.mu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.clearPending(kind, ch)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.raw, resp.err
	case <-ctx.Done():
		c.clearPending(kind, ch)
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	}
}

func (c *Client) clearPending(kind pendingKind, ch chan response) {
	c.mu.Lock()
	if c.pending[kind] == ch {
		c.pending[kind] = nil
	}
	c.mu.Unlock()
}

func (c *Client) resolve(kind pendingKind, resp response) {
	c.mu.Lock()
	ch := c.pending[kind]
	c.pending[kind] = nil
	c.mu.Unlock()
	if ch != nil {
		ch <- resp
	}
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = [pendingKinds]chan response{}
		err := c.readErr
		c.mu.Unlock()

		if err == nil {
			err = ErrClosed
		}
		for _, ch := range pending {
			if ch != nil {
				ch <- response{err: err}
			}
		}
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
		From   string `json:"from"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Type {
	case "room-created":
		c.resolve(pendingCreate, response{raw: data})
	case "room-validation":
		c.resolve(pendingValidate, response{raw: data})
	case "password-validation":
		c.resolve(pendingPassword, response{raw: data})
	case "welcome":
		c.resolve(pendingJoin, response{raw: data})
	case "error":
		var msg struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &msg)
		// Error responses are only produced for create-room and join-room;
		// join is the common case and is tried first.
		err := &ServerError{Code: msg.Code, Message: msg.Message}
		if !c.resolveErr(pendingJoin, err) {
			c.resolveErr(pendingCreate, err)
		}
	case "new-user":
		if c.handlers.OnNewUser != nil {
			c.handlers.OnNewUser(env.UserID)
		}
	case "user-left":
		if c.handlers.OnUserLeft != nil {
			c.handlers.OnUserLeft(env.UserID)
		}
	default:
		if c.handlers.OnRelay != nil {
			c.handlers.OnRelay(RelayMessage{Type: env.Type, From: env.From, Raw: data})
		}
	}
}

func (c *Client) resolveErr(kind pendingKind, err error) bool {
	c.mu.Lock()
	ch := c.pending[kind]
	c.pending[kind] = nil
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- response{err: err}
	return true
}
