// Package widget implements the embeddable web chat platform. There is
// no external transport: visitors post messages through the REST
// ingress and poll their pending replies, so the driver connects
// instantly and keeps a per-visitor outbox.
package widget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conduitchat/conduit/hub/domain/channel"
)

// OutboundMessage is one reply waiting for a visitor to poll it.
type OutboundMessage struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Hub tracks the live widget driver per channel so the REST ingress can
// route visitor traffic to it.
type Hub struct {
	mu      sync.RWMutex
	drivers map[string]*Driver
}

func NewHub() *Hub {
	return &Hub{drivers: make(map[string]*Driver)}
}

// Factory returns the channel.DriverFactory for widget channels.
func (h *Hub) Factory() channel.DriverFactory {
	return func(cfg channel.DriverConfig) (channel.Driver, error) {
		if cfg.ChannelID == "" {
			return nil, fmt.Errorf("widget driver requires a channel id")
		}
		d := &Driver{
			channelID: cfg.ChannelID,
			outbox:    make(map[string][]OutboundMessage),
		}
		h.mu.Lock()
		h.drivers[cfg.ChannelID] = d
		h.mu.Unlock()
		return d, nil
	}
}

// Get returns the live driver for a channel, if any.
func (h *Hub) Get(channelID string) (*Driver, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.drivers[channelID]
	return d, ok
}

// Driver is the widget-side channel.Driver.
type Driver struct {
	mu        sync.Mutex
	channelID string
	handlers  channel.EventHandlers
	connected bool
	outbox    map[string][]OutboundMessage
}

func (d *Driver) Type() channel.PlatformType { return channel.PlatformWidget }

func (d *Driver) SetHandlers(h channel.EventHandlers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = h
}

// Connect opens immediately; there is no login handshake for widgets.
func (d *Driver) Connect(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	d.connected = true
	h := d.handlers.OnConnectionUpdate
	identity := "widget:" + d.channelID
	d.mu.Unlock()
	if h != nil {
		h(channel.ConnectionUpdate{State: channel.ConnectionOpen, Identity: identity})
	}
	return nil
}

// Send queues the reply for the visitor's next poll.
func (d *Driver) Send(ctx context.Context, to, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("widget channel %s is not connected", d.channelID)
	}
	d.outbox[to] = append(d.outbox[to], OutboundMessage{Text: text, At: time.Now().UTC()})
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Driver) Logout(ctx context.Context) error {
	return d.Disconnect(ctx)
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Driver) Identity() string {
	return "widget:" + d.channelID
}

func (d *Driver) Probe(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("widget channel %s is not connected", d.channelID)
	}
	return nil
}

// Ingest delivers a visitor message into the hub pipeline.
func (d *Driver) Ingest(visitorID, visitorName, text string) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return fmt.Errorf("widget channel %s is not connected", d.channelID)
	}
	h := d.handlers.OnMessage
	d.mu.Unlock()
	if h == nil {
		return fmt.Errorf("widget channel %s has no message handler", d.channelID)
	}
	h(channel.InboundMessage{
		From:      visitorID,
		UserName:  visitorName,
		Text:      text,
		Type:      "text",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Drain pops every pending reply for the visitor.
func (d *Driver) Drain(visitorID string) []OutboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.outbox[visitorID]
	delete(d.outbox, visitorID)
	return pending
}
