package hub

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/conduitchat/conduit/agentengine"
	"github.com/conduitchat/conduit/drivers/memory"
	"github.com/conduitchat/conduit/hub/application"
	"github.com/conduitchat/conduit/hub/domain/agent"
	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, gw *repository.MemoryGateway) *Manager {
	t.Helper()
	store := repository.NewMemoryAgentStore()
	require.NoError(t, store.SaveAgent(context.Background(), &agent.Agent{
		ID: "agent1", Name: "Greeter", Active: true,
	}))
	require.NoError(t, store.SavePrompt(context.Background(), &agent.Prompt{
		ID: "p1", AgentID: "agent1", TriggerWords: []string{"hello"},
		Priority: 10, Active: true, Template: "Hi {userName}!",
	}))

	mgr := NewManager(Deps{
		Gateway:     gw,
		AgentEngine: agentengine.NewEngine(store, agentengine.WithRandSource(rand.NewSource(1))),
		HealthStore: repository.NewMemoryHealthStore(),
		RegistryOptions: []application.RegistryOption{
			application.WithQRTimeout(200 * time.Millisecond),
			application.WithReconnectBackoff(20 * time.Millisecond),
		},
		MonitorOptions: []application.MonitorOption{
			application.WithCheckInterval(time.Hour),
		},
		PoolWorkers:   4,
		PoolQueueSize: 16,
	})
	t.Cleanup(func() { mgr.Stop(context.Background()) })
	return mgr
}

func TestManagerResumesOnlineChannels(t *testing.T) {
	gw := repository.NewMemoryGateway()
	require.NoError(t, gw.SaveChannel(context.Background(), &channel.Channel{
		ID: "ch1", Name: "resumable", Type: channel.PlatformWhatsApp,
		Status: channel.StatusOnline,
	}))
	require.NoError(t, gw.SaveChannel(context.Background(), &channel.Channel{
		ID: "ch2", Name: "errored", Type: channel.PlatformWhatsApp,
		Status: channel.StatusError,
	}))

	mgr := newTestManager(t, gw)
	mgr.RegisterFactory(channel.PlatformWhatsApp, memory.Factory(
		channel.PlatformWhatsApp, memory.WithAutoConnect("+5215550001111"),
	))
	mgr.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !mgr.Registry().IsConnected("ch1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, mgr.Registry().IsConnected("ch1"), "online channel must be resumed on boot")
	assert.False(t, mgr.Registry().IsConnected("ch2"), "errored channel must wait for an operator")
}

func TestManagerEndToEndReply(t *testing.T) {
	gw := repository.NewMemoryGateway()
	require.NoError(t, gw.SaveChannel(context.Background(), &channel.Channel{
		ID: "ch1", Name: "main", Type: channel.PlatformWhatsApp,
		Status: channel.StatusPending, AgentID: "agent1", AutoReply: true,
	}))

	mgr := newTestManager(t, gw)
	var drv *memory.Driver
	mgr.RegisterFactory(channel.PlatformWhatsApp, func(cfg channel.DriverConfig) (channel.Driver, error) {
		drv = memory.New(channel.PlatformWhatsApp, memory.WithAutoConnect("+5215550001111"))
		return drv, nil
	})
	mgr.Start(context.Background())

	res := mgr.Registry().CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)
	require.True(t, res.Connected)

	drv.EmitMessage(channel.InboundMessage{From: "user1", UserName: "Alice", Text: "hello"})

	deadline := time.Now().Add(2 * time.Second)
	for len(drv.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := drv.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi Alice!", sent[0].Text)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	gw := repository.NewMemoryGateway()
	mgr := newTestManager(t, gw)
	mgr.Start(context.Background())
	mgr.Stop(context.Background())
	mgr.Stop(context.Background())
}
