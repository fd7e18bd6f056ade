package application

import (
	"context"
	"time"

	"github.com/conduitchat/conduit/agentengine"
	"github.com/conduitchat/conduit/agentengine/providers"
	"github.com/conduitchat/conduit/hub/domain/channel"
	"github.com/conduitchat/conduit/hub/domain/message"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/conduitchat/conduit/pkg/msgworker"
	"github.com/conduitchat/conduit/pkg/pipemonitor"
	"github.com/conduitchat/conduit/pkg/pubsub"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProviderFailureReply is sent when the generative backend errors out.
// The customer still gets an answer instead of silence.
const ProviderFailureReply = "Sorry, I'm having trouble responding right now. A human agent will follow up with you shortly."

// historyLimit bounds how many prior turns feed the generative provider.
const historyLimit = 10

// BroadcastFunc pushes a persisted message to connected UI clients.
type BroadcastFunc func(msg message.ConversationMessage)

// Dispatcher runs the inbound pipeline: normalize, persist, decide,
// reply. Jobs for the same conversation are serialized by the worker
// pool; different conversations run in parallel.
type Dispatcher struct {
	gateway  storage.Gateway
	registry *SessionRegistry
	engine   *agentengine.Engine
	pool     *msgworker.MessageWorkerPool
	events   pubsub.Publisher

	broadcast BroadcastFunc
	delayFn   func(seconds int)
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithBroadcast attaches a UI push sink invoked for every persisted message.
func WithBroadcast(fn BroadcastFunc) DispatcherOption {
	return func(d *Dispatcher) { d.broadcast = fn }
}

// WithDispatchPublisher attaches a broker publisher for message events.
func WithDispatchPublisher(p pubsub.Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.events = p }
}

// WithReplyDelay overrides how per-agent reply delays are applied.
func WithReplyDelay(fn func(seconds int)) DispatcherOption {
	return func(d *Dispatcher) { d.delayFn = fn }
}

func NewDispatcher(gateway storage.Gateway, registry *SessionRegistry, engine *agentengine.Engine, pool *msgworker.MessageWorkerPool, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		gateway:  gateway,
		registry: registry,
		engine:   engine,
		pool:     pool,
		events:   pubsub.NewNoop(),
		delayFn: func(seconds int) {
			time.Sleep(time.Duration(seconds) * time.Second)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleInbound queues the raw driver event onto the worker pool. The
// conversation key guarantees in-order processing per remote party.
func (d *Dispatcher) HandleInbound(channelID string, msg channel.InboundMessage) {
	convID := message.ConversationID(channelID, msg.From)
	d.pool.Dispatch(msgworker.ConversationJob{
		ChannelID:      channelID,
		ConversationID: convID,
		Handler: func(ctx context.Context) error {
			d.ProcessInbound(ctx, channelID, msg)
			return nil
		},
	})
}

// ProcessInbound runs the full pipeline for one inbound message. It is
// exported for ingress paths that already serialize their traffic.
func (d *Dispatcher) ProcessInbound(ctx context.Context, channelID string, in channel.InboundMessage) {
	ch, err := d.gateway.GetChannel(ctx, channelID)
	if err != nil {
		logrus.WithError(err).Errorf("[DISPATCH] Dropping message for unknown channel %s", channelID)
		return
	}

	convID := message.ConversationID(channelID, in.From)
	msg := d.normalize(ch, convID, in)

	d.ensureConversation(ctx, ch, convID, in)

	// Los errores de persistencia se registran y se tragan: un fallo de
	// escritura nunca debe cortar la entrega.
	if err := d.gateway.SaveMessage(ctx, &msg); err != nil {
		logrus.WithError(err).Errorf("[DISPATCH] Failed to persist inbound message %s", msg.ID)
	}

	pipemonitor.Record(pipemonitor.Event{
		TraceID:        msg.ID,
		ChannelID:      channelID,
		ConversationID: convID,
		Platform:       string(ch.Type),
		Stage:          "inbound",
		Status:         "ok",
	})

	d.publishMessage(ctx, pubsub.KeyMessageReceived, &msg, string(ch.Type))
	if d.broadcast != nil {
		d.broadcast(msg)
	}

	// Own echoes never trigger a reply; otherwise two bridged bots could
	// loop forever.
	if in.FromMe || msg.IsFromBot {
		return
	}
	if !ch.AutoReply || ch.AgentID == "" {
		return
	}

	d.reply(ctx, ch, convID, msg)
}

func (d *Dispatcher) reply(ctx context.Context, ch *channel.Channel, convID string, inbound message.ConversationMessage) {
	pipemonitor.Record(pipemonitor.Event{
		TraceID:        inbound.ID,
		ChannelID:      ch.ID,
		ConversationID: convID,
		Platform:       string(ch.Type),
		Stage:          "ai_request",
		Status:         "ok",
	})

	started := time.Now()
	res, err := d.engine.GenerateReply(ctx, ch.AgentID, agentengine.ReplyInput{
		Message:     inbound.Text,
		MessageType: inbound.Type,
		UserName:    inbound.Metadata["user_name"],
		Platform:    string(ch.Type),
		ChannelID:   ch.ID,
		History:     d.loadHistory(ctx, convID),
	})
	if err != nil {
		logrus.WithError(err).Errorf("[DISPATCH] Reply generation failed for channel %s", ch.ID)
		pipemonitor.Record(pipemonitor.Event{
			TraceID:        inbound.ID,
			ChannelID:      ch.ID,
			ConversationID: convID,
			Platform:       string(ch.Type),
			Stage:          "ai_response",
			Status:         "error",
			Error:          err.Error(),
		})
		// Degrade to the fixed apology, attributed to the bound agent.
		res = &agentengine.ReplyResult{
			Text:    ProviderFailureReply,
			AgentID: ch.AgentID,
			Source:  "fallback",
		}
	}
	if res == nil {
		pipemonitor.Record(pipemonitor.Event{
			TraceID:        inbound.ID,
			ChannelID:      ch.ID,
			ConversationID: convID,
			Platform:       string(ch.Type),
			Stage:          "ai_response",
			Status:         "skipped",
		})
		return
	}

	pipemonitor.Record(pipemonitor.Event{
		TraceID:        inbound.ID,
		ChannelID:      ch.ID,
		ConversationID: convID,
		Platform:       string(ch.Type),
		Stage:          "ai_response",
		Status:         "ok",
		DurationMs:     time.Since(started).Milliseconds(),
		Metadata:       map[string]string{"source": res.Source},
	})

	if res.DelaySeconds > 0 {
		d.delayFn(res.DelaySeconds)
	}

	sent := d.registry.SendMessage(ctx, ch.ID, inbound.From, res.Text)
	status := message.StatusSent
	outStatus := "ok"
	if !sent {
		status = message.StatusFailed
		outStatus = "error"
	}

	outbound := message.ConversationMessage{
		ID:             uuid.NewString(),
		ChannelID:      ch.ID,
		ConversationID: convID,
		IsFromBot:      true,
		From:           ch.Phone,
		To:             inbound.From,
		Text:           res.Text,
		Type:           message.TypeText,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Metadata: map[string]string{
			message.MetaPlatform:  string(ch.Type),
			message.MetaAgentID:   res.AgentID,
			message.MetaAgentName: res.AgentName,
			message.MetaSource:    res.Source,
		},
	}
	if err := d.gateway.SaveMessage(ctx, &outbound); err != nil {
		logrus.WithError(err).Errorf("[DISPATCH] Failed to persist outbound message %s", outbound.ID)
	}

	pipemonitor.Record(pipemonitor.Event{
		TraceID:        inbound.ID,
		ChannelID:      ch.ID,
		ConversationID: convID,
		Platform:       string(ch.Type),
		Stage:          "outbound",
		Status:         outStatus,
	})

	d.publishMessage(ctx, pubsub.KeyMessageSent, &outbound, string(ch.Type))
	if d.broadcast != nil {
		d.broadcast(outbound)
	}
}

func (d *Dispatcher) normalize(ch *channel.Channel, convID string, in channel.InboundMessage) message.ConversationMessage {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	meta := map[string]string{
		message.MetaPlatform: string(ch.Type),
	}
	if in.UserName != "" {
		meta["user_name"] = in.UserName
	}
	return message.ConversationMessage{
		ID:             uuid.NewString(),
		ChannelID:      ch.ID,
		ConversationID: convID,
		IsFromBot:      in.FromMe,
		From:           in.From,
		To:             in.To,
		Text:           in.Text,
		Type:           message.ParseType(in.Type),
		Timestamp:      ts,
		Status:         message.StatusDelivered,
		Metadata:       meta,
	}
}

func (d *Dispatcher) ensureConversation(ctx context.Context, ch *channel.Channel, convID string, in channel.InboundMessage) {
	if _, err := d.gateway.GetConversation(ctx, convID); err == nil {
		return
	}
	conv := message.Conversation{
		ID:        convID,
		ChannelID: ch.ID,
		Remote:    in.From,
		UserName:  in.UserName,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.gateway.SaveConversation(ctx, &conv); err != nil {
		logrus.WithError(err).Errorf("[DISPATCH] Failed to create conversation %s", convID)
	}
}

// loadHistory maps recent conversation turns into provider history.
func (d *Dispatcher) loadHistory(ctx context.Context, convID string) []providers.HistoryMessage {
	msgs, err := d.gateway.GetRecentMessages(ctx, convID, historyLimit)
	if err != nil {
		logrus.WithError(err).Debugf("[DISPATCH] Failed to load history for %s", convID)
		return nil
	}
	out := make([]providers.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.IsFromBot {
			role = "assistant"
		}
		out = append(out, providers.HistoryMessage{Role: role, Text: m.Text})
	}
	return out
}

func (d *Dispatcher) publishMessage(ctx context.Context, key string, msg *message.ConversationMessage, platform string) {
	err := d.events.Publish(ctx, key, pubsub.Event{
		Payload: pubsub.MessagePayload{
			MessageID:      msg.ID,
			ChannelID:      msg.ChannelID,
			ConversationID: msg.ConversationID,
			Platform:       platform,
			From:           msg.From,
			To:             msg.To,
			Text:           msg.Text,
			IsFromBot:      msg.IsFromBot,
			AgentID:        msg.Metadata[message.MetaAgentID],
		},
	})
	if err != nil {
		logrus.WithError(err).Debug("[DISPATCH] Message event publish failed")
	}
}
