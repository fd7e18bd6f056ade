package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/conduitchat/conduit/pkg/pubsub"
	"github.com/sirupsen/logrus"
)

// InboundHandler receives every message a connected driver delivers.
type InboundHandler func(channelID string, msg channel.InboundMessage)

// SessionResult is the outcome of a session creation attempt.
type SessionResult struct {
	Success   bool   `json:"success"`
	QR        string `json:"qr,omitempty"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// SessionInfo is a point-in-time snapshot of a live session.
type SessionInfo struct {
	ChannelID   string    `json:"channel_id"`
	Platform    string    `json:"platform"`
	Connected   bool      `json:"connected"`
	Identity    string    `json:"identity,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

type session struct {
	channelID   string
	driver      channel.Driver
	startedAt   time.Time
	connectedAt time.Time
	connected   bool
	identity    string
	lastQR      string
}

// SessionRegistry owns every live driver session, one per channel. All
// connect, send and disconnect traffic for a channel flows through it.
//
// Cada sesión lleva un número de generación; cualquier reconexión
// programada que pertenezca a una generación vieja se descarta.
type SessionRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	generations map[string]uint64

	factories map[channel.PlatformType]channel.DriverFactory
	gateway   storage.Gateway
	events    pubsub.Publisher

	onInbound InboundHandler

	qrTimeout        time.Duration
	reconnectBackoff time.Duration
}

// RegistryOption customizes registry construction.
type RegistryOption func(*SessionRegistry)

// WithQRTimeout overrides how long CreateSession waits for the first
// QR challenge or open event.
func WithQRTimeout(d time.Duration) RegistryOption {
	return func(r *SessionRegistry) { r.qrTimeout = d }
}

// WithReconnectBackoff overrides the fixed delay before a reconnect
// attempt after a non-terminal close.
func WithReconnectBackoff(d time.Duration) RegistryOption {
	return func(r *SessionRegistry) { r.reconnectBackoff = d }
}

// WithEventPublisher attaches a broker publisher for channel status events.
func WithEventPublisher(p pubsub.Publisher) RegistryOption {
	return func(r *SessionRegistry) { r.events = p }
}

func NewSessionRegistry(gateway storage.Gateway, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions:         make(map[string]*session),
		generations:      make(map[string]uint64),
		factories:        make(map[channel.PlatformType]channel.DriverFactory),
		gateway:          gateway,
		events:           pubsub.NewNoop(),
		qrTimeout:        30 * time.Second,
		reconnectBackoff: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFactory binds a driver factory to a platform type. Factories
// must be registered before any session for that platform is created.
func (r *SessionRegistry) RegisterFactory(platform channel.PlatformType, f channel.DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = f
}

// SetInboundHandler wires the message sink. Must be called before
// sessions are created.
func (r *SessionRegistry) SetInboundHandler(h InboundHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onInbound = h
}

// CreateSession builds a driver for the channel, starts its login flow
// and waits for the first QR challenge or open event. When neither
// arrives within the QR timeout the attempt is torn down and the caller
// gets a plain timeout result.
func (r *SessionRegistry) CreateSession(ctx context.Context, channelID string) SessionResult {
	ch, err := r.gateway.GetChannel(ctx, channelID)
	if err != nil {
		logrus.WithError(err).Errorf("[SESSION] Channel %s not found", channelID)
		return SessionResult{Success: false, Error: "channel not found"}
	}

	r.mu.RLock()
	factory, ok := r.factories[ch.Type]
	r.mu.RUnlock()
	if !ok {
		return SessionResult{Success: false, Error: fmt.Sprintf("no driver registered for platform %s", ch.Type)}
	}

	// Tumba cualquier sesión anterior antes de levantar la nueva.
	r.teardown(ctx, channelID, false)

	drv, err := factory(channel.DriverConfig{
		ChannelID: ch.ID,
		Phone:     ch.Phone,
		TokenRef:  ch.TokenRef,
	})
	if err != nil {
		logrus.WithError(err).Errorf("[SESSION] Driver build failed for channel %s", channelID)
		return SessionResult{Success: false, Error: err.Error()}
	}

	sess := &session{channelID: channelID, driver: drv, startedAt: time.Now().UTC()}

	r.mu.Lock()
	r.generations[channelID]++
	gen := r.generations[channelID]
	r.sessions[channelID] = sess
	r.mu.Unlock()

	firstCh := make(chan channel.ConnectionUpdate, 8)
	drv.SetHandlers(channel.EventHandlers{
		OnMessage: func(msg channel.InboundMessage) {
			r.deliverInbound(channelID, msg)
		},
		OnConnectionUpdate: func(u channel.ConnectionUpdate) {
			select {
			case firstCh <- u:
			default:
			}
			r.handleConnectionUpdate(channelID, gen, u)
		},
	})

	if err := r.gateway.UpdateChannelStatus(ctx, channelID, channel.StatusConnecting); err != nil {
		logrus.WithError(err).Warnf("[SESSION] Failed to mark channel %s connecting", channelID)
	}

	if err := drv.Connect(ctx, channelID); err != nil {
		logrus.WithError(err).Errorf("[SESSION] Connect failed for channel %s", channelID)
		r.teardown(ctx, channelID, false)
		_ = r.gateway.UpdateChannelStatus(ctx, channelID, channel.StatusError)
		return SessionResult{Success: false, Error: err.Error()}
	}

	timer := time.NewTimer(r.qrTimeout)
	defer timer.Stop()

	for {
		select {
		case u := <-firstCh:
			if u.QR != "" {
				logrus.Infof("[SESSION] QR challenge ready for channel %s", channelID)
				return SessionResult{Success: true, QR: u.QR}
			}
			switch u.State {
			case channel.ConnectionOpen:
				return SessionResult{Success: true, Connected: true}
			case channel.ConnectionClose:
				r.teardown(ctx, channelID, false)
				_ = r.gateway.UpdateChannelStatus(ctx, channelID, channel.StatusError)
				reason := string(u.Reason)
				if reason == "" {
					reason = "connection closed"
				}
				return SessionResult{Success: false, Error: reason}
			default:
				// Estado intermedio, seguimos esperando.
			}
		case <-timer.C:
			logrus.Warnf("[SESSION] Login timed out for channel %s", channelID)
			r.teardown(ctx, channelID, false)
			_ = r.gateway.UpdateChannelStatus(ctx, channelID, channel.StatusError)
			return SessionResult{Success: false, Error: "timeout"}
		case <-ctx.Done():
			r.teardown(ctx, channelID, false)
			return SessionResult{Success: false, Error: ctx.Err().Error()}
		}
	}
}

// GetSessionInfo returns a snapshot of the live session, if any.
func (r *SessionRegistry) GetSessionInfo(channelID string) (*SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[channelID]
	if !ok {
		return nil, false
	}
	return &SessionInfo{
		ChannelID:   sess.channelID,
		Platform:    string(sess.driver.Type()),
		Connected:   sess.connected,
		Identity:    sess.identity,
		StartedAt:   sess.startedAt,
		ConnectedAt: sess.connectedAt,
	}, true
}

// IsConnected reports whether the channel has a live, open session.
func (r *SessionRegistry) IsConnected(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[channelID]
	return ok && sess.connected && sess.driver.IsConnected()
}

// ActiveChannelIDs lists every channel with a registered session.
func (r *SessionRegistry) ActiveChannelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SendMessage delivers text through the channel's session. It fails
// fast: no session or a closed link returns false without retrying.
func (r *SessionRegistry) SendMessage(ctx context.Context, channelID, to, text string) bool {
	r.mu.RLock()
	sess, ok := r.sessions[channelID]
	r.mu.RUnlock()
	if !ok || !sess.driver.IsConnected() {
		logrus.Warnf("[SESSION] Dropping send for channel %s: no live session", channelID)
		return false
	}
	if err := sess.driver.Send(ctx, to, text); err != nil {
		logrus.WithError(err).Errorf("[SESSION] Send failed for channel %s", channelID)
		return false
	}
	return true
}

// Probe runs the driver's liveness check for the channel.
func (r *SessionRegistry) Probe(ctx context.Context, channelID string) error {
	r.mu.RLock()
	sess, ok := r.sessions[channelID]
	r.mu.RUnlock()
	if !ok {
		return storage.ErrNotFound
	}
	return sess.driver.Probe(ctx)
}

// DisconnectSession logs the channel out and removes its session. The
// operation is terminal: no reconnect is scheduled and any pending one
// is cancelled.
func (r *SessionRegistry) DisconnectSession(ctx context.Context, channelID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[channelID]
	if ok {
		delete(r.sessions, channelID)
	}
	r.generations[channelID]++
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("no session for channel %s", channelID)
	}

	if err := sess.driver.Logout(ctx); err != nil {
		logrus.WithError(err).Warnf("[SESSION] Logout failed for channel %s", channelID)
	}
	if err := r.gateway.UpdateChannelStatus(ctx, channelID, channel.StatusOffline); err != nil {
		logrus.WithError(err).Warnf("[SESSION] Failed to mark channel %s offline", channelID)
	}
	r.publishStatus(ctx, channelID, sess, string(channel.StatusOffline), "")
	logrus.Infof("[SESSION] Channel %s disconnected", channelID)
	return nil
}

// Shutdown drops every session without invalidating credentials.
func (r *SessionRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		sessions = append(sessions, sess)
		r.generations[id]++
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.driver.Disconnect(ctx); err != nil {
			logrus.WithError(err).Warnf("[SESSION] Disconnect failed for channel %s", sess.channelID)
		}
	}
}

// teardown drops the session silently, cancelling any pending reconnect
// via the generation bump. It does not touch the channel status.
func (r *SessionRegistry) teardown(ctx context.Context, channelID string, logout bool) {
	r.mu.Lock()
	sess, ok := r.sessions[channelID]
	if ok {
		delete(r.sessions, channelID)
	}
	r.generations[channelID]++
	r.mu.Unlock()

	if !ok {
		return
	}
	var err error
	if logout {
		err = sess.driver.Logout(ctx)
	} else {
		err = sess.driver.Disconnect(ctx)
	}
	if err != nil {
		logrus.WithError(err).Debugf("[SESSION] Teardown error for channel %s", channelID)
	}
}

func (r *SessionRegistry) deliverInbound(channelID string, msg channel.InboundMessage) {
	r.mu.RLock()
	h := r.onInbound
	r.mu.RUnlock()
	if h != nil {
		h(channelID, msg)
	}
}

func (r *SessionRegistry) handleConnectionUpdate(channelID string, gen uint64, u channel.ConnectionUpdate) {
	r.mu.Lock()
	if r.generations[channelID] != gen {
		r.mu.Unlock()
		return
	}
	sess, ok := r.sessions[channelID]
	if !ok {
		r.mu.Unlock()
		return
	}

	switch u.State {
	case channel.ConnectionOpen:
		sess.connected = true
		sess.connectedAt = time.Now().UTC()
		if u.Identity != "" {
			sess.identity = u.Identity
		}
		r.mu.Unlock()
		r.persistOnline(channelID, sess.identity)
		r.publishStatus(context.Background(), channelID, sess, string(channel.StatusOnline), "")
		logrus.Infof("[SESSION] Channel %s connected as %s", channelID, sess.identity)
		return

	case channel.ConnectionClose:
		sess.connected = false
		if u.Reason.Terminal() {
			delete(r.sessions, channelID)
			r.generations[channelID]++
			r.mu.Unlock()
			logrus.Warnf("[SESSION] Channel %s closed terminally (%s), session removed", channelID, u.Reason)
			if err := r.gateway.UpdateChannelStatus(context.Background(), channelID, channel.StatusError); err != nil {
				logrus.WithError(err).Warnf("[SESSION] Failed to mark channel %s errored", channelID)
			}
			r.publishStatus(context.Background(), channelID, sess, string(channel.StatusError), string(u.Reason))
			return
		}
		r.mu.Unlock()
		logrus.Infof("[SESSION] Channel %s closed (%s), reconnecting in %s", channelID, u.Reason, r.reconnectBackoff)
		r.scheduleReconnect(channelID, gen)
		return

	default:
		if u.QR != "" {
			sess.lastQR = u.QR
		}
		r.mu.Unlock()
	}
}

func (r *SessionRegistry) scheduleReconnect(channelID string, gen uint64) {
	time.AfterFunc(r.reconnectBackoff, func() {
		r.mu.RLock()
		sess, ok := r.sessions[channelID]
		current := r.generations[channelID]
		r.mu.RUnlock()
		if !ok || current != gen {
			return
		}
		ctx := context.Background()
		if err := r.gateway.UpdateChannelStatus(ctx, channelID, channel.StatusConnecting); err != nil {
			logrus.WithError(err).Warnf("[SESSION] Failed to mark channel %s connecting", channelID)
		}
		if err := sess.driver.Connect(ctx, channelID); err != nil {
			logrus.WithError(err).Errorf("[SESSION] Reconnect failed for channel %s", channelID)
		}
	})
}

// persistOnline records the open link and, when the platform reports an
// identity, keeps it on the channel record.
func (r *SessionRegistry) persistOnline(channelID, identity string) {
	ctx := context.Background()
	ch, err := r.gateway.GetChannel(ctx, channelID)
	if err != nil {
		logrus.WithError(err).Warnf("[SESSION] Failed to load channel %s after connect", channelID)
		return
	}
	ch.Status = channel.StatusOnline
	if identity != "" {
		ch.Phone = identity
	}
	if err := r.gateway.SaveChannel(ctx, ch); err != nil {
		logrus.WithError(err).Warnf("[SESSION] Failed to persist online status for channel %s", channelID)
	}
}

func (r *SessionRegistry) publishStatus(ctx context.Context, channelID string, sess *session, status, reason string) {
	err := r.events.Publish(ctx, pubsub.KeyChannelStatusChanged, pubsub.Event{
		Payload: pubsub.ChannelStatusPayload{
			ChannelID: channelID,
			Platform:  string(sess.driver.Type()),
			Status:    status,
			Reason:    reason,
		},
	})
	if err != nil {
		logrus.WithError(err).Debug("[SESSION] Status event publish failed")
	}
}
