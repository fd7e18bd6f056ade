package application

import (
	"context"
	"testing"
	"time"

	"github.com/conduitchat/conduit/drivers/memory"
	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChannel(t *testing.T, gw *repository.MemoryGateway, id string, platform channel.PlatformType) {
	t.Helper()
	err := gw.SaveChannel(context.Background(), &channel.Channel{
		ID:     id,
		Name:   "test " + id,
		Type:   platform,
		Status: channel.StatusPending,
	})
	require.NoError(t, err)
}

func newRegistryWithDriver(t *testing.T, gw *repository.MemoryGateway, opts ...memory.Option) (*SessionRegistry, func() *memory.Driver) {
	t.Helper()
	reg := NewSessionRegistry(gw,
		WithQRTimeout(200*time.Millisecond),
		WithReconnectBackoff(20*time.Millisecond),
	)
	var last *memory.Driver
	reg.RegisterFactory(channel.PlatformWhatsApp, func(cfg channel.DriverConfig) (channel.Driver, error) {
		last = memory.New(channel.PlatformWhatsApp, opts...)
		return last, nil
	})
	return reg, func() *memory.Driver { return last }
}

func TestCreateSessionDeliversQR(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	reg, _ := newRegistryWithDriver(t, gw, memory.WithQR("qr-payload"))

	res := reg.CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)
	assert.Equal(t, "qr-payload", res.QR)
	assert.False(t, res.Connected)

	_, ok := reg.GetSessionInfo("ch1")
	assert.True(t, ok, "session must stay registered while the QR is pending")
}

func TestCreateSessionImmediateConnect(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	reg, _ := newRegistryWithDriver(t, gw, memory.WithAutoConnect("+5215550001111"))

	res := reg.CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)
	assert.True(t, res.Connected)

	info, ok := reg.GetSessionInfo("ch1")
	require.True(t, ok)
	assert.True(t, info.Connected)
	assert.Equal(t, "+5215550001111", info.Identity)

	ch, err := gw.GetChannel(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, channel.StatusOnline, ch.Status)
	assert.Equal(t, "+5215550001111", ch.Phone)
}

func TestCreateSessionTimesOut(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	// Sin QR ni auto-connect el driver nunca emite nada.
	reg, _ := newRegistryWithDriver(t, gw)

	res := reg.CreateSession(context.Background(), "ch1")
	assert.False(t, res.Success)
	assert.Equal(t, "timeout", res.Error)

	_, ok := reg.GetSessionInfo("ch1")
	assert.False(t, ok, "a timed-out attempt must not leave a session behind")

	ch, err := gw.GetChannel(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, channel.StatusError, ch.Status)
}

func TestCreateSessionUnknownChannel(t *testing.T) {
	gw := repository.NewMemoryGateway()
	reg, _ := newRegistryWithDriver(t, gw)

	res := reg.CreateSession(context.Background(), "ghost")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestCreateSessionUnregisteredPlatform(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformTelegram)
	reg, _ := newRegistryWithDriver(t, gw) // only whatsapp is registered

	res := reg.CreateSession(context.Background(), "ch1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no driver registered")
}

func TestTerminalCloseRemovesSession(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	reg, driver := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))

	res := reg.CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)

	driver().EmitClose(channel.ReasonLoggedOut)

	_, ok := reg.GetSessionInfo("ch1")
	assert.False(t, ok, "logged-out must remove the session")

	ch, err := gw.GetChannel(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, channel.StatusError, ch.Status)

	// No reconnect may fire after a terminal close.
	time.Sleep(60 * time.Millisecond)
	_, ok = reg.GetSessionInfo("ch1")
	assert.False(t, ok)
}

func TestNetworkCloseReconnects(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	reg, driver := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))

	res := reg.CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)
	require.True(t, reg.IsConnected("ch1"))

	driver().EmitClose(channel.ReasonNetwork)
	assert.False(t, reg.IsConnected("ch1"))

	// The backoff is 20ms; the auto-connect script reopens on Connect.
	deadline := time.Now().Add(time.Second)
	for !reg.IsConnected("ch1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, reg.IsConnected("ch1"), "session should reconnect after a network close")
}

func TestDisconnectSessionIsTerminal(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	reg, driver := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))

	res := reg.CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)

	require.NoError(t, reg.DisconnectSession(context.Background(), "ch1"))
	_, ok := reg.GetSessionInfo("ch1")
	assert.False(t, ok)

	ch, err := gw.GetChannel(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, channel.StatusOffline, ch.Status)

	// A close event from the old driver generation must be ignored.
	driver().EmitClose(channel.ReasonNetwork)
	time.Sleep(60 * time.Millisecond)
	_, ok = reg.GetSessionInfo("ch1")
	assert.False(t, ok, "no reconnect after an explicit disconnect")

	assert.Error(t, reg.DisconnectSession(context.Background(), "ch1"))
}

func TestSendMessageFailsFast(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	reg, driver := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))

	// Without a session the send is dropped immediately.
	assert.False(t, reg.SendMessage(context.Background(), "ch1", "user1", "hello"))

	res := reg.CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)
	assert.True(t, reg.SendMessage(context.Background(), "ch1", "user1", "hello"))

	sent := driver().Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "user1", sent[0].To)
	assert.Equal(t, "hello", sent[0].Text)

	driver().EmitClose(channel.ReasonNetwork)
	assert.False(t, reg.SendMessage(context.Background(), "ch1", "user1", "again"),
		"a closed link must fail fast, not queue")
}

func TestInboundHandlerReceivesMessages(t *testing.T) {
	gw := repository.NewMemoryGateway()
	seedChannel(t, gw, "ch1", channel.PlatformWhatsApp)
	reg, driver := newRegistryWithDriver(t, gw, memory.WithAutoConnect("id1"))

	got := make(chan channel.InboundMessage, 1)
	reg.SetInboundHandler(func(channelID string, msg channel.InboundMessage) {
		if channelID == "ch1" {
			got <- msg
		}
	})

	res := reg.CreateSession(context.Background(), "ch1")
	require.True(t, res.Success)

	driver().EmitMessage(channel.InboundMessage{From: "user1", Text: "hola"})
	select {
	case msg := <-got:
		assert.Equal(t, "hola", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("inbound message never reached the handler")
	}
}
