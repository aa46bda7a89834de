package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type MessageType string

const (
	// Control messages (client to server).
	MessageTypeCreateRoom       MessageType = "create-room"
	MessageTypeValidateRoom     MessageType = "validate-room"
	MessageTypeValidatePassword MessageType = "validate-password"
	MessageTypeJoinRoom         MessageType = "join-room"

	// Server to client.
	MessageTypeWelcome            MessageType = "welcome"
	MessageTypeRoomCreated        MessageType = "room-created"
	MessageTypeRoomValidation     MessageType = "room-validation"
	MessageTypePasswordValidation MessageType = "password-validation"
	MessageTypeNewUser            MessageType = "new-user"
	MessageTypeUserLeft           MessageType = "user-left"
	MessageTypeError              MessageType = "error"
)

// IsControl reports whether the type is handled by the server's protocol
// state machine. Every other type is a relay message forwarded to a targeted
// room member.
func (t MessageType) IsControl() bool {
	switch t {
	case MessageTypeCreateRoom, MessageTypeValidateRoom, MessageTypeValidatePassword, MessageTypeJoinRoom:
		return true
	}
	return false
}

// Error codes carried by MessageTypeError responses.
const (
	CodeRoomNotFound  = "room_not_found"
	CodeAlreadyInRoom = "already_in_room"
	CodeTooManyRooms  = "too_many_rooms"
	CodeRoomFull      = "room_full"
	CodeInternalError = "internal_error"
)

// ControlMessage is the decoded form of the four client control messages.
// Password distinguishes JSON null/absent (open room) from an empty string.
type ControlMessage struct {
	Type     MessageType `json:"type"`
	RoomID   string      `json:"roomId,omitempty"`
	UserID   string      `json:"userId,omitempty"`
	Password *string     `json:"password,omitempty"`
}

// ParseControlMessage strictly decodes a control message: unknown fields and
// trailing data are rejected, and per-type required fields are enforced.
func ParseControlMessage(data []byte) (ControlMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ControlMessage
	if err := dec.Decode(&msg); err != nil {
		return ControlMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ControlMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return ControlMessage{}, err
	}
	return msg, nil
}

func (m ControlMessage) validate() error {
	switch m.Type {
	case MessageTypeCreateRoom:
		if m.RoomID != "" || m.UserID != "" {
			return fmt.Errorf("create-room message has unexpected fields")
		}
	case MessageTypeValidateRoom:
		if m.RoomID == "" {
			return fmt.Errorf("validate-room message missing roomId")
		}
		if m.UserID != "" {
			return fmt.Errorf("validate-room message has unexpected fields")
		}
	case MessageTypeValidatePassword:
		if m.RoomID == "" {
			return fmt.Errorf("validate-password message missing roomId")
		}
		if m.Password == nil {
			return fmt.Errorf("validate-password message missing password")
		}
		if m.UserID != "" {
			return fmt.Errorf("validate-password message has unexpected fields")
		}
	case MessageTypeJoinRoom:
		if m.RoomID == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if m.UserID == "" {
			return fmt.Errorf("join-room message missing userId")
		}
		if m.Password != nil {
			return fmt.Errorf("join-room message has unexpected fields")
		}
	default:
		return fmt.Errorf("not a control message type %q", m.Type)
	}
	return nil
}

// envelope is the minimal decode used to classify an inbound frame before
// dispatching it as a control or relay message.
type envelope struct {
	Type MessageType `json:"type"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Type == "" {
		return envelope{}, fmt.Errorf("message missing type")
	}
	return env, nil
}

// Server-to-client message schemas.

type Welcome struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
	RoomID string      `json:"roomId"`
}

type RoomCreated struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId"`
}

type RoomValidation struct {
	Type             MessageType `json:"type"`
	Exists           bool        `json:"exists"`
	PasswordRequired bool        `json:"passwordRequired"`
	PasswordCorrect  bool        `json:"passwordCorrect"`
}

type PasswordValidation struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
}

type NewUser struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

type UserLeft struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// relayTarget extracts the addressing fields of a relay frame. The payload
// itself stays opaque.
type relayTarget struct {
	Target string `json:"target"`
}

// stampRelayFrom rewrites the frame's `from` field to the resolved sender
// identity, leaving every other top-level field byte-for-byte intact.
func stampRelayFrom(data []byte, from string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	fields["from"] = encoded
	return json.Marshal(fields)
}
