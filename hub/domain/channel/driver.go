package channel

import (
	"context"
	"errors"
	"time"
)

// ErrProbeUnsupported is returned by drivers without a native liveness
// probe; the health monitor then falls back to the registry's view.
var ErrProbeUnsupported = errors.New("driver does not support probing")

// DisconnectReason classifies why a driver lost its connection.
type DisconnectReason string

const (
	ReasonNetwork   DisconnectReason = "network"
	ReasonLoggedOut DisconnectReason = "logged-out"
	ReasonBanned    DisconnectReason = "banned"
	ReasonUnknown   DisconnectReason = "unknown"
)

// Terminal reports whether the reason rules out automatic reconnection.
func (r DisconnectReason) Terminal() bool {
	return r == ReasonLoggedOut || r == ReasonBanned
}

// ConnectionState mirrors the driver-side connection lifecycle.
type ConnectionState string

const (
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
	ConnectionConnecting ConnectionState = "connecting"
)

// ConnectionUpdate is emitted by a driver whenever its link changes or an
// auth challenge becomes available.
type ConnectionUpdate struct {
	State    ConnectionState
	QR       string
	Identity string
	Reason   DisconnectReason
}

// InboundMessage is the raw event a driver delivers for a received message.
type InboundMessage struct {
	From      string
	To        string
	UserName  string
	Text      string
	Type      string
	FromMe    bool
	Timestamp time.Time
	Raw       map[string]any
}

// EventHandlers carries the callbacks a driver invokes asynchronously.
// Drivers may call them from their own goroutines; receivers must be
// safe under concurrent delivery.
type EventHandlers struct {
	OnMessage          func(msg InboundMessage)
	OnConnectionUpdate func(update ConnectionUpdate)
}

// Driver is the per-platform client this core delegates wire protocol
// work to. One Driver instance backs one Session; the implementation is
// selected once at session creation and never re-dispatched by type.
type Driver interface {
	Type() PlatformType
	SetHandlers(h EventHandlers)
	// Connect starts the login flow. Progress (QR challenge, open, close)
	// arrives through OnConnectionUpdate.
	Connect(ctx context.Context, sessionID string) error
	Send(ctx context.Context, to, text string) error
	// Disconnect drops the link without invalidating credentials.
	Disconnect(ctx context.Context) error
	// Logout invalidates credentials; a new interactive login is required.
	Logout(ctx context.Context) error
	IsConnected() bool
	Identity() string
	// Probe performs a liveness check and returns ErrProbeUnsupported
	// when the platform has no cheap way to verify the link.
	Probe(ctx context.Context) error
}

// DriverConfig is handed to a factory when a session is created.
type DriverConfig struct {
	ChannelID string
	Phone     string
	TokenRef  string
	Settings  map[string]any
}

// DriverFactory builds a Driver for one channel.
type DriverFactory func(cfg DriverConfig) (Driver, error)
