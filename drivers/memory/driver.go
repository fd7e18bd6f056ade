// Package memory provides a loopback driver with no external transport.
// It backs development setups and the hub's integration tests: the test
// script drives connection updates and inbound messages by hand, and
// every outbound send is recorded.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/conduitchat/conduit/hub/domain/channel"
)

// SentMessage is one recorded outbound delivery.
type SentMessage struct {
	To   string
	Text string
	At   time.Time
}

// Driver is a scriptable channel.Driver.
type Driver struct {
	mu        sync.Mutex
	platform  channel.PlatformType
	handlers  channel.EventHandlers
	connected bool
	identity  string
	sent      []SentMessage

	// Script knobs, fixed at build time.
	qr          string
	autoConnect bool
	sendErr     error
	probeErr    error
}

// Option configures a scripted driver.
type Option func(*Driver)

// WithQR makes Connect emit a QR challenge instead of opening directly.
func WithQR(qr string) Option {
	return func(d *Driver) { d.qr = qr }
}

// WithAutoConnect makes Connect emit an open event immediately.
func WithAutoConnect(identity string) Option {
	return func(d *Driver) {
		d.autoConnect = true
		d.identity = identity
	}
}

// WithSendError makes every Send fail with err.
func WithSendError(err error) Option {
	return func(d *Driver) { d.sendErr = err }
}

// WithProbeError makes every Probe fail with err. Pass
// channel.ErrProbeUnsupported to exercise the fallback path.
func WithProbeError(err error) Option {
	return func(d *Driver) { d.probeErr = err }
}

func New(platform channel.PlatformType, opts ...Option) *Driver {
	d := &Driver{platform: platform}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Factory returns a channel.DriverFactory producing drivers with the
// given script. Every session for the platform shares the script but
// gets its own driver instance.
func Factory(platform channel.PlatformType, opts ...Option) channel.DriverFactory {
	return func(cfg channel.DriverConfig) (channel.Driver, error) {
		return New(platform, opts...), nil
	}
}

func (d *Driver) Type() channel.PlatformType { return d.platform }

func (d *Driver) SetHandlers(h channel.EventHandlers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = h
}

func (d *Driver) Connect(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	qr := d.qr
	auto := d.autoConnect
	identity := d.identity
	d.mu.Unlock()

	if qr != "" {
		d.emitUpdate(channel.ConnectionUpdate{State: channel.ConnectionConnecting, QR: qr})
		return nil
	}
	if auto {
		d.mu.Lock()
		d.connected = true
		d.mu.Unlock()
		d.emitUpdate(channel.ConnectionUpdate{State: channel.ConnectionOpen, Identity: identity})
	}
	return nil
}

func (d *Driver) Send(ctx context.Context, to, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, SentMessage{To: to, Text: text, At: time.Now().UTC()})
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Driver) Logout(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Driver) Identity() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity
}

func (d *Driver) Probe(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.probeErr != nil {
		return d.probeErr
	}
	if !d.connected {
		return context.DeadlineExceeded
	}
	return nil
}

// EmitOpen scripts a successful (re)connection.
func (d *Driver) EmitOpen(identity string) {
	d.mu.Lock()
	d.connected = true
	if identity != "" {
		d.identity = identity
	}
	d.mu.Unlock()
	d.emitUpdate(channel.ConnectionUpdate{State: channel.ConnectionOpen, Identity: identity})
}

// EmitClose scripts a connection loss with the given reason.
func (d *Driver) EmitClose(reason channel.DisconnectReason) {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	d.emitUpdate(channel.ConnectionUpdate{State: channel.ConnectionClose, Reason: reason})
}

// EmitMessage scripts an inbound message delivery.
func (d *Driver) EmitMessage(msg channel.InboundMessage) {
	d.mu.Lock()
	h := d.handlers.OnMessage
	d.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

// Sent returns a copy of every recorded outbound message.
func (d *Driver) Sent() []SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SentMessage(nil), d.sent...)
}

func (d *Driver) emitUpdate(u channel.ConnectionUpdate) {
	d.mu.Lock()
	h := d.handlers.OnConnectionUpdate
	d.mu.Unlock()
	if h != nil {
		h(u)
	}
}
