package widget

import (
	"context"
	"testing"

	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWidgetLifecycle(t *testing.T) {
	hub := NewHub()
	drv, err := hub.Factory()(channel.DriverConfig{ChannelID: "ch1"})
	require.NoError(t, err)

	got, ok := hub.Get("ch1")
	require.True(t, ok)
	assert.Equal(t, drv, channel.Driver(got))

	var inbound []channel.InboundMessage
	var opened bool
	drv.SetHandlers(channel.EventHandlers{
		OnMessage:          func(msg channel.InboundMessage) { inbound = append(inbound, msg) },
		OnConnectionUpdate: func(u channel.ConnectionUpdate) { opened = u.State == channel.ConnectionOpen },
	})

	require.NoError(t, drv.Connect(context.Background(), "s1"))
	assert.True(t, opened, "widgets connect instantly")
	assert.True(t, drv.IsConnected())

	require.NoError(t, got.Ingest("visitor1", "Alice", "hola"))
	require.Len(t, inbound, 1)
	assert.Equal(t, "visitor1", inbound[0].From)
	assert.Equal(t, "hola", inbound[0].Text)

	require.NoError(t, drv.Send(context.Background(), "visitor1", "bienvenida"))
	pending := got.Drain("visitor1")
	require.Len(t, pending, 1)
	assert.Equal(t, "bienvenida", pending[0].Text)
	assert.Empty(t, got.Drain("visitor1"), "drain removes delivered replies")

	require.NoError(t, drv.Disconnect(context.Background()))
	assert.Error(t, got.Ingest("visitor1", "Alice", "after close"))
	assert.Error(t, drv.Send(context.Background(), "visitor1", "after close"))
}
