package application

import (
	"context"
	"testing"
	"time"

	"github.com/conduitchat/conduit/drivers/memory"
	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/health"
	"github.com/conduitchat/conduit/hub/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedActiveChannel(t *testing.T, gw *repository.MemoryGateway, id string) {
	t.Helper()
	err := gw.SaveChannel(context.Background(), &channel.Channel{
		ID:     id,
		Name:   "test " + id,
		Type:   channel.PlatformWhatsApp,
		Status: channel.StatusOnline,
	})
	require.NoError(t, err)
}

func TestCheckOnceHealthyChannel(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedActiveChannel(t, gw, "ch1")
	reg, _ := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))
	require.True(t, reg.CreateSession(context.Background(), "ch1").Success)

	store := repository.NewMemoryHealthStore()
	mon := NewHealthMonitor(reg, gw, store)

	mon.CheckOnce(context.Background())

	rec, err := store.Get(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, rec.Status)
	assert.Equal(t, 0, rec.ConsecutiveErrors)
	assert.False(t, rec.LastHeartbeat.IsZero())
}

func TestCheckOnceEscalatesToCritical(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedActiveChannel(t, gw, "ch1")
	// No session is ever created, so every probe fails.
	reg := NewSessionRegistry(gw)
	store := repository.NewMemoryHealthStore()
	mon := NewHealthMonitor(reg, gw, store)

	ctx := context.Background()

	mon.CheckOnce(ctx)
	rec, err := store.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, health.StatusWarning, rec.Status)
	assert.Equal(t, 1, rec.ConsecutiveErrors)
	ch, _ := gw.GetChannel(ctx, "ch1")
	assert.Equal(t, channel.StatusConnecting, ch.Status)

	mon.CheckOnce(ctx)
	rec, _ = store.Get(ctx, "ch1")
	assert.Equal(t, health.StatusWarning, rec.Status)
	assert.Equal(t, 2, rec.ConsecutiveErrors)

	mon.CheckOnce(ctx)
	rec, _ = store.Get(ctx, "ch1")
	assert.Equal(t, health.StatusCritical, rec.Status)
	assert.Equal(t, 3, rec.ConsecutiveErrors)
	ch, _ = gw.GetChannel(ctx, "ch1")
	assert.Equal(t, channel.StatusError, ch.Status)
}

func TestCriticalTriggersRemediation(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedActiveChannel(t, gw, "ch1")
	reg, _ := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))
	store := repository.NewMemoryHealthStore()
	mon := NewHealthMonitor(reg, gw, store)

	ctx := context.Background()
	// Without a session the first three checks fail and cross the
	// critical threshold, which kicks off a session recreation.
	mon.CheckOnce(ctx)
	mon.CheckOnce(ctx)
	mon.CheckOnce(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !reg.IsConnected("ch1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, reg.IsConnected("ch1"), "remediation should have rebuilt the session")

	// The next tick observes the recovered link and resets the record.
	mon.CheckOnce(ctx)
	rec, err := store.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, rec.Status)
	assert.Equal(t, 0, rec.ConsecutiveErrors)
}

func TestRecoveryResetsConsecutiveErrors(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedActiveChannel(t, gw, "ch1")
	reg, _ := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))
	store := repository.NewMemoryHealthStore()
	mon := NewHealthMonitor(reg, gw, store)

	ctx := context.Background()
	mon.CheckOnce(ctx)
	rec, _ := store.Get(ctx, "ch1")
	require.Equal(t, 1, rec.ConsecutiveErrors)

	require.True(t, reg.CreateSession(ctx, "ch1").Success)
	mon.CheckOnce(ctx)

	rec, err := store.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, rec.Status)
	assert.Equal(t, 0, rec.ConsecutiveErrors)
}

func TestProbeUnsupportedFallsBackToRegistryView(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedActiveChannel(t, gw, "ch1")
	reg, _ := newRegistryWithDriver(t, gw,
		memory.WithAutoConnect("id1"),
		memory.WithProbeError(channel.ErrProbeUnsupported),
	)
	require.True(t, reg.CreateSession(context.Background(), "ch1").Success)

	store := repository.NewMemoryHealthStore()
	mon := NewHealthMonitor(reg, gw, store)
	mon.CheckOnce(context.Background())

	rec, err := store.Get(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, rec.Status)
}

func TestAvgResponseUsesMovingAverage(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedActiveChannel(t, gw, "ch1")
	reg, _ := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))
	require.True(t, reg.CreateSession(context.Background(), "ch1").Success)

	store := repository.NewMemoryHealthStore()
	require.NoError(t, store.Put(context.Background(), health.Record{
		ChannelID:     "ch1",
		Status:        health.StatusHealthy,
		AvgResponseMs: 100,
	}))

	mon := NewHealthMonitor(reg, gw, store)
	mon.CheckOnce(context.Background())

	rec, err := store.Get(context.Background(), "ch1")
	require.NoError(t, err)
	// The probe itself is near-instant, so the average roughly halves.
	assert.Less(t, rec.AvgResponseMs, 100.0)
	assert.Greater(t, rec.AvgResponseMs, 0.0)
}

func TestPruneRemovesInactiveRecords(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedActiveChannel(t, gw, "ch1")
	reg, _ := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))
	require.True(t, reg.CreateSession(context.Background(), "ch1").Success)

	store := repository.NewMemoryHealthStore()
	require.NoError(t, store.Put(context.Background(), health.Record{
		ChannelID: "gone-channel",
		Status:    health.StatusCritical,
	}))

	mon := NewHealthMonitor(reg, gw, store)
	mon.CheckOnce(context.Background())

	_, err := store.Get(context.Background(), "gone-channel")
	assert.Error(t, err, "records for inactive channels must be pruned")

	_, err = store.Get(context.Background(), "ch1")
	assert.NoError(t, err)
}
