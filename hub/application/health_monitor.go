package application

import (
	"context"
	"errors"
	"time"

	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/health"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/sirupsen/logrus"
)

// HealthMonitor probes every active channel on a fixed interval and
// keeps a per-channel health record. Channels that cross the critical
// threshold get one remediation attempt through the session registry.
type HealthMonitor struct {
	registry *SessionRegistry
	gateway  storage.Gateway
	store    health.Store

	interval time.Duration
	now      func() time.Time
}

// MonitorOption customizes monitor construction.
type MonitorOption func(*HealthMonitor)

// WithCheckInterval overrides the probe cadence.
func WithCheckInterval(d time.Duration) MonitorOption {
	return func(m *HealthMonitor) { m.interval = d }
}

// WithMonitorClock overrides the monitor's notion of now.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *HealthMonitor) { m.now = now }
}

func NewHealthMonitor(registry *SessionRegistry, gateway storage.Gateway, store health.Store, opts ...MonitorOption) *HealthMonitor {
	m := &HealthMonitor{
		registry: registry,
		gateway:  gateway,
		store:    store,
		interval: 30 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the check loop until ctx is cancelled.
func (m *HealthMonitor) Start(ctx context.Context) {
	logrus.Infof("[HEALTH] Monitor started, interval %s", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("[HEALTH] Monitor stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes every active channel exactly once and prunes records
// of channels that are no longer active.
func (m *HealthMonitor) CheckOnce(ctx context.Context) {
	channels, err := m.gateway.GetActiveChannels(ctx)
	if err != nil {
		logrus.WithError(err).Error("[HEALTH] Failed to list active channels")
		return
	}

	active := make(map[string]bool, len(channels))
	for i := range channels {
		active[channels[i].ID] = true
		m.checkChannel(ctx, &channels[i])
	}

	m.prune(ctx, active)
}

func (m *HealthMonitor) checkChannel(ctx context.Context, ch *channel.Channel) {
	started := m.now()
	err := m.registry.Probe(ctx, ch.ID)
	if errors.Is(err, channel.ErrProbeUnsupported) {
		// El driver no sabe sondear; usamos la vista del registro.
		if m.registry.IsConnected(ch.ID) {
			err = nil
		} else {
			err = errors.New("session not connected")
		}
	}
	latencyMs := float64(m.now().Sub(started)) / float64(time.Millisecond)

	rec := m.loadRecord(ctx, ch.ID)

	if err == nil {
		if rec.Status != health.StatusHealthy {
			rec.Since = m.now()
		}
		rec.Status = health.StatusHealthy
		rec.ConsecutiveErrors = 0
		rec.LastHeartbeat = m.now()
		rec.AvgResponseMs = (rec.AvgResponseMs + latencyMs) / 2
		m.putRecord(ctx, rec)
		return
	}

	rec.ConsecutiveErrors++
	prev := rec.Status
	if rec.ConsecutiveErrors >= health.MaxConsecutiveErrors {
		rec.Status = health.StatusCritical
	} else {
		rec.Status = health.StatusWarning
	}
	if rec.Status != prev {
		rec.Since = m.now()
	}
	m.putRecord(ctx, rec)

	logrus.WithError(err).Warnf("[HEALTH] Channel %s check failed (%d consecutive, %s)",
		ch.ID, rec.ConsecutiveErrors, rec.Status)

	switch rec.Status {
	case health.StatusWarning:
		if updErr := m.gateway.UpdateChannelStatus(ctx, ch.ID, channel.StatusConnecting); updErr != nil {
			logrus.WithError(updErr).Warnf("[HEALTH] Failed to mark channel %s connecting", ch.ID)
		}
	case health.StatusCritical:
		if updErr := m.gateway.UpdateChannelStatus(ctx, ch.ID, channel.StatusError); updErr != nil {
			logrus.WithError(updErr).Warnf("[HEALTH] Failed to mark channel %s errored", ch.ID)
		}
		// One remediation attempt per crossing into critical.
		if rec.ConsecutiveErrors == health.MaxConsecutiveErrors {
			go m.remediate(ch.ID)
		}
	}
}

func (m *HealthMonitor) remediate(channelID string) {
	logrus.Infof("[HEALTH] Remediating channel %s via session recreation", channelID)
	res := m.registry.CreateSession(context.Background(), channelID)
	if !res.Success {
		logrus.Warnf("[HEALTH] Remediation failed for channel %s: %s", channelID, res.Error)
		return
	}
	logrus.Infof("[HEALTH] Remediation for channel %s succeeded (connected=%v)", channelID, res.Connected)
}

func (m *HealthMonitor) loadRecord(ctx context.Context, channelID string) health.Record {
	rec, err := m.store.Get(ctx, channelID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logrus.WithError(err).Warnf("[HEALTH] Failed to load record for channel %s", channelID)
		}
		return health.Record{ChannelID: channelID, Status: health.StatusHealthy, Since: m.now()}
	}
	return *rec
}

func (m *HealthMonitor) putRecord(ctx context.Context, rec health.Record) {
	if err := m.store.Put(ctx, rec); err != nil {
		logrus.WithError(err).Warnf("[HEALTH] Failed to store record for channel %s", rec.ChannelID)
	}
}

// prune removes health records for channels no longer active.
func (m *HealthMonitor) prune(ctx context.Context, active map[string]bool) {
	records, err := m.store.List(ctx)
	if err != nil {
		logrus.WithError(err).Warn("[HEALTH] Failed to list records for pruning")
		return
	}
	for _, rec := range records {
		if active[rec.ChannelID] {
			continue
		}
		if err := m.store.Delete(ctx, rec.ChannelID); err != nil {
			logrus.WithError(err).Warnf("[HEALTH] Failed to prune record for channel %s", rec.ChannelID)
		}
	}
}
