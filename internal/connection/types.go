package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrPeerClosed         = errors.New("peer closed connection")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrNilHandler         = errors.New("nil handler")
	ErrUnsupportedScheme  = errors.New("unsupported url scheme")
)

// State is the connection state reported by the Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MessageType is the tag carried in the "type" field of every frame.
type MessageType string

// Wildcard matches every inbound message.
const Wildcard MessageType = "*"

const (
	TypeDeviceOnline     MessageType = "device_online"
	TypeDeviceOffline    MessageType = "device_offline"
	TypeDeviceStatus     MessageType = "device_status"
	TypeSyncProgress     MessageType = "sync_progress"
	TypeSyncComplete     MessageType = "sync_complete"
	TypeSyncError        MessageType = "sync_error"
	TypeMeetingUpdate    MessageType = "meeting_update"
	TypePermissionUpdate MessageType = "permission_update"
	TypeNotification     MessageType = "notification"
	TypeHeartbeat        MessageType = "heartbeat"
)

var knownTypes = map[MessageType]struct{}{
	TypeDeviceOnline:     {},
	TypeDeviceOffline:    {},
	TypeDeviceStatus:     {},
	TypeSyncProgress:     {},
	TypeSyncComplete:     {},
	TypeSyncError:        {},
	TypeMeetingUpdate:    {},
	TypePermissionUpdate: {},
	TypeNotification:     {},
	TypeHeartbeat:        {},
}

// Known reports whether t is one of the message types the backend emits.
// The wildcard is not a message type.
func (t MessageType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Message is a decoded inbound frame.
type Message struct {
	Type          MessageType     `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"` // Unix milliseconds as sent by the backend
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// Handler receives messages for the type it was registered under.
type Handler func(Message)

// StateListener is called on every state transition.
type StateListener func(from, to State)

// ListenerID identifies a registration made with On or OnStateChange.
type ListenerID uint64

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Max time for the opening handshake
	PingInterval     time.Duration // Keepalive ping period (0 disables the heartbeat)
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	BaseURL         string        // Base endpoint, e.g. https://console.example.com/ws/status
	ReconnectDelay  time.Duration // Fixed wait before each reconnect attempt
	ReconnectJitter float64       // Spread of each wait as a fraction of ReconnectDelay, in [0, 1)
	MaxAttempts     int           // Reconnect attempts before giving up (0 = default, < 0 = never reconnect)
	StableAfter     time.Duration // Open time after which the attempt counter resets (0 = default, < 0 = never)
	DialTimeout     time.Duration // Upper bound for a single dial
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectDelay: 5 * time.Second,
		MaxAttempts:    10,
		StableAfter:    30 * time.Second,
		DialTimeout:    15 * time.Second,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State               State
	Attempts            int   // Reconnect attempts since the last reset
	ReconnectsScheduled int64 // Lifetime count of scheduled reconnects
	MessagesReceived    int64
	DecodeFailures      int64
	UnknownTypes        int64
	ListenerPanics      int64
	Listeners           int
}
