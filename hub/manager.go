// Package hub wires the session registry, health monitor and message
// dispatcher into one lifecycle-managed unit.
package hub

import (
	"context"
	"sync"

	"github.com/conduitchat/conduit/agentengine"
	"github.com/conduitchat/conduit/hub/application"
	"github.com/conduitchat/conduit/hub/domain/agent"
	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/health"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/conduitchat/conduit/pkg/msgworker"
	"github.com/conduitchat/conduit/pkg/pubsub"
	"github.com/sirupsen/logrus"
)

// Stores bundles the persistence handles the transport layer reads from.
type Stores struct {
	Gateway storage.Gateway
	Agents  agent.Store
	Health  health.Store
}

// Deps carries everything the Manager composes. Gateway, AgentEngine
// and HealthStore are required; Publisher and Broadcast are optional.
type Deps struct {
	Gateway     storage.Gateway
	AgentEngine *agentengine.Engine
	HealthStore health.Store
	Publisher   pubsub.Publisher
	Broadcast   application.BroadcastFunc

	RegistryOptions []application.RegistryOption
	MonitorOptions  []application.MonitorOption
	PoolWorkers     int
	PoolQueueSize   int
}

// Manager owns the hub's moving parts and their shared lifecycle.
type Manager struct {
	registry   *application.SessionRegistry
	monitor    *application.HealthMonitor
	dispatcher *application.Dispatcher
	pool       *msgworker.MessageWorkerPool

	gateway storage.Gateway

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
}

func NewManager(deps Deps) *Manager {
	if deps.Publisher == nil {
		deps.Publisher = pubsub.NewNoop()
	}

	regOpts := append([]application.RegistryOption{
		application.WithEventPublisher(deps.Publisher),
	}, deps.RegistryOptions...)
	registry := application.NewSessionRegistry(deps.Gateway, regOpts...)

	pool := msgworker.NewMessageWorkerPool(deps.PoolWorkers, deps.PoolQueueSize)

	dispOpts := []application.DispatcherOption{
		application.WithDispatchPublisher(deps.Publisher),
	}
	if deps.Broadcast != nil {
		dispOpts = append(dispOpts, application.WithBroadcast(deps.Broadcast))
	}
	dispatcher := application.NewDispatcher(deps.Gateway, registry, deps.AgentEngine, pool, dispOpts...)
	registry.SetInboundHandler(dispatcher.HandleInbound)

	monitor := application.NewHealthMonitor(registry, deps.Gateway, deps.HealthStore, deps.MonitorOptions...)

	return &Manager{
		registry:   registry,
		monitor:    monitor,
		dispatcher: dispatcher,
		pool:       pool,
		gateway:    deps.Gateway,
	}
}

// Registry exposes the session registry for the transport layer.
func (m *Manager) Registry() *application.SessionRegistry { return m.registry }

// Dispatcher exposes the pipeline for ingress paths such as the web widget.
func (m *Manager) Dispatcher() *application.Dispatcher { return m.dispatcher }

// PoolStats reports live worker pool metrics.
func (m *Manager) PoolStats() msgworker.PoolStats { return m.pool.GetStats() }

// RegisterFactory binds a platform driver factory.
func (m *Manager) RegisterFactory(platform channel.PlatformType, f channel.DriverFactory) {
	m.registry.RegisterFactory(platform, f)
}

// Start launches the worker pool, the health monitor and resumes the
// sessions of channels that were connected before the last shutdown.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel

		m.pool.Start(runCtx)
		go m.monitor.Start(runCtx)
		go m.resumeSessions(runCtx)

		logrus.Info("[HUB] Manager started")
	})
}

// Stop tears the hub down: sessions first so drivers stop emitting,
// then the pool so queued jobs drain.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.registry.Shutdown(ctx)
		m.pool.Stop()
		logrus.Info("[HUB] Manager stopped")
	})
}

// resumeSessions recreates sessions for channels persisted as online or
// connecting. Channels stuck in error keep waiting for an operator.
func (m *Manager) resumeSessions(ctx context.Context) {
	channels, err := m.gateway.GetActiveChannels(ctx)
	if err != nil {
		logrus.WithError(err).Error("[HUB] Failed to list channels for session resume")
		return
	}
	for _, ch := range channels {
		if ch.Status != channel.StatusOnline && ch.Status != channel.StatusConnecting {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		logrus.Infof("[HUB] Resuming session for channel %s (%s)", ch.ID, ch.Type)
		res := m.registry.CreateSession(ctx, ch.ID)
		if !res.Success {
			logrus.Warnf("[HUB] Resume failed for channel %s: %s", ch.ID, res.Error)
		}
	}
}
