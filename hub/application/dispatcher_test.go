package application

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/conduitchat/conduit/agentengine"
	"github.com/conduitchat/conduit/agentengine/providers"
	"github.com/conduitchat/conduit/drivers/memory"
	"github.com/conduitchat/conduit/hub/domain/agent"
	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/message"
	"github.com/conduitchat/conduit/hub/repository"
	"github.com/conduitchat/conduit/pkg/msgworker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	gw       *repository.MemoryGateway
	registry *SessionRegistry
	driver   func() *memory.Driver
	disp     *Dispatcher
}

func newDispatcherFixture(t *testing.T, agentStore agent.Store, engineOpts ...agentengine.Option) *dispatcherFixture {
	t.Helper()
	gw := repository.NewMemoryGateway()
	reg, driver := newRegistryWithDriver(t, gw, memory.WithAutoConnect("+5215550001111"))

	engineOpts = append([]agentengine.Option{agentengine.WithRandSource(rand.NewSource(7))}, engineOpts...)
	eng := agentengine.NewEngine(agentStore, engineOpts...)

	pool := msgworker.NewMessageWorkerPool(4, 16)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	disp := NewDispatcher(gw, reg, eng, pool,
		WithReplyDelay(func(seconds int) {}),
	)
	reg.SetInboundHandler(disp.HandleInbound)

	return &dispatcherFixture{gw: gw, registry: reg, driver: driver, disp: disp}
}

func seedGreeterAgent(t *testing.T) *repository.MemoryAgentStore {
	t.Helper()
	store := repository.NewMemoryAgentStore()
	ctx := context.Background()
	require.NoError(t, store.SaveAgent(ctx, &agent.Agent{
		ID: "agent1", Name: "Greeter", Active: true,
	}))
	require.NoError(t, store.SavePrompt(ctx, &agent.Prompt{
		ID: "p1", AgentID: "agent1", TriggerWords: []string{"hello"},
		Priority: 10, Active: true, Template: "Hi {userName}!",
	}))
	return store
}

func seedAutoReplyChannel(t *testing.T, gw *repository.MemoryGateway, agentID string, autoReply bool) {
	t.Helper()
	require.NoError(t, gw.SaveChannel(context.Background(), &channel.Channel{
		ID:        "ch1",
		Name:      "main line",
		Type:      channel.PlatformWhatsApp,
		Status:    channel.StatusOnline,
		AgentID:   agentID,
		AutoReply: autoReply,
	}))
}

func waitForSends(t *testing.T, driver *memory.Driver, n int) []memory.SentMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := driver.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(10 * time.Millisecond)
	}
	return driver.Sent()
}

func TestInboundTriggersAutoReply(t *testing.T) {
	f := newDispatcherFixture(t, seedGreeterAgent(t))
	seedAutoReplyChannel(t, f.gw, "agent1", true)
	require.True(t, f.registry.CreateSession(context.Background(), "ch1").Success)

	f.disp.ProcessInbound(context.Background(), "ch1", channel.InboundMessage{
		From: "user1", UserName: "Alice", Text: "hello there", Type: "text",
	})

	sent := f.driver().Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "user1", sent[0].To)
	assert.Equal(t, "Hi Alice!", sent[0].Text)

	convID := message.ConversationID("ch1", "user1")
	msgs, err := f.gw.GetRecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "inbound and outbound must both be persisted")

	inbound, outbound := msgs[0], msgs[1]
	assert.False(t, inbound.IsFromBot)
	assert.Equal(t, "hello there", inbound.Text)

	assert.True(t, outbound.IsFromBot)
	assert.Equal(t, "Hi Alice!", outbound.Text)
	assert.Equal(t, "agent1", outbound.Metadata[message.MetaAgentID])
	assert.Equal(t, "Greeter", outbound.Metadata[message.MetaAgentName])
	assert.Equal(t, message.StatusSent, outbound.Status)
}

func TestBotEchoIsPersistedButNeverAnswered(t *testing.T) {
	f := newDispatcherFixture(t, seedGreeterAgent(t))
	seedAutoReplyChannel(t, f.gw, "agent1", true)
	require.True(t, f.registry.CreateSession(context.Background(), "ch1").Success)

	f.disp.ProcessInbound(context.Background(), "ch1", channel.InboundMessage{
		From: "user1", Text: "hello", FromMe: true,
	})

	assert.Empty(t, f.driver().Sent(), "own echoes must not trigger replies")

	convID := message.ConversationID("ch1", "user1")
	msgs, err := f.gw.GetRecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsFromBot)
}

func TestChannelWithoutAgentNeverReplies(t *testing.T) {
	f := newDispatcherFixture(t, seedGreeterAgent(t))
	seedAutoReplyChannel(t, f.gw, "", true) // auto-reply on, no agent bound
	require.True(t, f.registry.CreateSession(context.Background(), "ch1").Success)

	f.disp.ProcessInbound(context.Background(), "ch1", channel.InboundMessage{
		From: "user1", Text: "hello",
	})
	assert.Empty(t, f.driver().Sent())

	// El mensaje igual queda guardado.
	convID := message.ConversationID("ch1", "user1")
	msgs, err := f.gw.GetRecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestChannelWithAutoReplyOffNeverReplies(t *testing.T) {
	f := newDispatcherFixture(t, seedGreeterAgent(t))
	seedAutoReplyChannel(t, f.gw, "agent1", false)
	require.True(t, f.registry.CreateSession(context.Background(), "ch1").Success)

	f.disp.ProcessInbound(context.Background(), "ch1", channel.InboundMessage{
		From: "user1", Text: "hello",
	})
	assert.Empty(t, f.driver().Sent())
}

type explodingProvider struct{}

func (explodingProvider) Name() string { return "exploding" }
func (explodingProvider) Complete(ctx context.Context, req providers.CompletionRequest) (string, error) {
	return "", context.DeadlineExceeded
}

func TestProviderFailureSendsApology(t *testing.T) {
	store := repository.NewMemoryAgentStore()
	require.NoError(t, store.SaveAgent(context.Background(), &agent.Agent{
		ID: "agent1", Name: "GenAI", Active: true,
		Settings: agent.Settings{UseProvider: true},
	}))

	f := newDispatcherFixture(t, store, agentengine.WithProvider(explodingProvider{}))
	seedAutoReplyChannel(t, f.gw, "agent1", true)
	require.True(t, f.registry.CreateSession(context.Background(), "ch1").Success)

	f.disp.ProcessInbound(context.Background(), "ch1", channel.InboundMessage{
		From: "user1", Text: "hello",
	})

	sent := f.driver().Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ProviderFailureReply, sent[0].Text)

	convID := message.ConversationID("ch1", "user1")
	msgs, err := f.gw.GetRecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "agent1", msgs[1].Metadata[message.MetaAgentID])
}

func TestConversationIsCreatedOnceAndGroupsMessages(t *testing.T) {
	f := newDispatcherFixture(t, seedGreeterAgent(t))
	seedAutoReplyChannel(t, f.gw, "", false)
	require.True(t, f.registry.CreateSession(context.Background(), "ch1").Success)

	ctx := context.Background()
	f.disp.ProcessInbound(ctx, "ch1", channel.InboundMessage{From: "user1", UserName: "Alice", Text: "first"})
	f.disp.ProcessInbound(ctx, "ch1", channel.InboundMessage{From: "user1", Text: "second"})
	f.disp.ProcessInbound(ctx, "ch1", channel.InboundMessage{From: "user2", Text: "other party"})

	convs, err := f.gw.GetConversationsByChannel(ctx, "ch1")
	require.NoError(t, err)
	assert.Len(t, convs, 2, "one conversation per remote party")

	convID := message.ConversationID("ch1", "user1")
	msgs, err := f.gw.GetRecentMessages(ctx, convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)

	conv, err := f.gw.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", conv.UserName)
}

func TestDriverEventsFlowThroughThePool(t *testing.T) {
	f := newDispatcherFixture(t, seedGreeterAgent(t))
	seedAutoReplyChannel(t, f.gw, "agent1", true)
	require.True(t, f.registry.CreateSession(context.Background(), "ch1").Success)

	f.driver().EmitMessage(channel.InboundMessage{
		From: "user1", UserName: "Alice", Text: "hello via driver",
	})

	sent := waitForSends(t, f.driver(), 1)
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi Alice!", sent[0].Text)
}
