package agentengine

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conduitchat/conduit/agentengine/providers"
	"github.com/conduitchat/conduit/hub/domain/agent"
	"github.com/conduitchat/conduit/hub/domain/message"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/conduitchat/conduit/pkg/timeutils"
	"github.com/sirupsen/logrus"
)

// OfflineMessage is sent when a message arrives outside the agent's
// working hours. Prompts are not consulted in that case.
const OfflineMessage = "Thanks for reaching out! We're currently offline, but we'll get back to you as soon as we're available."

// defaultFallbacks is the generic acknowledgement pool used when an
// agent has no prompts or none of them match.
var defaultFallbacks = []string{
	"Thanks for your message! An agent will be with you shortly.",
	"Got it! We'll get back to you as soon as possible.",
	"Thanks for writing in. Someone from our team will follow up soon.",
	"We received your message and will reply shortly.",
}

// ReplyInput carries everything the engine needs to decide on a reply.
type ReplyInput struct {
	Message     string
	MessageType message.MessageType
	UserName    string
	Platform    string
	ChannelID   string
	History     []providers.HistoryMessage
}

// ReplyResult is a produced reply. A nil result means "no reply".
type ReplyResult struct {
	Text         string
	AgentID      string
	AgentName    string
	Source       string // prompt | fallback | offline | provider
	DelaySeconds int
}

// Engine decides, per agent and inbound message, whether and what to
// reply. It is stateless across calls except for the externally stored
// agent catalog and the per-agent rate windows.
type Engine struct {
	store    agent.Store
	provider providers.Provider

	rndMu sync.Mutex
	rnd   *rand.Rand
	now   func() time.Time

	rateMu  sync.Mutex
	rateLog map[string][]time.Time
}

// Option customizes engine construction.
type Option func(*Engine)

// WithRandSource makes the fallback selection deterministic for tests.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) {
		e.rnd = rand.New(src)
	}
}

// WithClock overrides the engine's notion of now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithProvider attaches a generative backend used by agents that opt in.
func WithProvider(p providers.Provider) Option {
	return func(e *Engine) {
		e.provider = p
	}
}

func NewEngine(store agent.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		rateLog: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateReply resolves the agent and runs the reply decision. A nil
// result with nil error means no reply should be sent. A non-nil error
// only occurs for generative provider failures; the caller decides how
// to degrade.
func (e *Engine) GenerateReply(ctx context.Context, agentID string, in ReplyInput) (*ReplyResult, error) {
	a, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logrus.WithError(err).Errorf("[AGENT_ENGINE] Failed to load agent %s", agentID)
		}
		return nil, nil
	}
	if !a.Active {
		return nil, nil
	}

	if !e.allowByRate(a) {
		logrus.Debugf("[AGENT_ENGINE] Agent %s hit its per-minute reply limit", a.ID)
		return nil, nil
	}

	now := e.localNow(a)

	// Working hours gate: outside hours the fixed offline message wins,
	// prompts are never consulted.
	if len(a.Settings.WorkingHours) > 0 && !e.withinWorkingHours(a, now) {
		return e.result(a, OfflineMessage, "offline"), nil
	}

	if a.Settings.UseProvider && e.provider != nil {
		text, err := e.provider.Complete(ctx, providers.CompletionRequest{
			SystemPrompt: a.Settings.SystemPrompt,
			History:      in.History,
			UserMessage:  in.Message,
		})
		if err != nil {
			return nil, err
		}
		if text == "" {
			return e.result(a, e.pickFallback(), "fallback"), nil
		}
		return e.result(a, text, "provider"), nil
	}

	if prompt := e.matchPrompt(a, in, now); prompt != nil {
		return e.result(a, renderTemplate(prompt.Template, in, now), "prompt"), nil
	}

	return e.result(a, e.pickFallback(), "fallback"), nil
}

func (e *Engine) result(a *agent.Agent, text, source string) *ReplyResult {
	return &ReplyResult{
		Text:         text,
		AgentID:      a.ID,
		AgentName:    a.Name,
		Source:       source,
		DelaySeconds: a.Settings.ResponseDelaySeconds,
	}
}

// matchPrompt returns the highest-priority active prompt whose predicate
// accepts the message, or nil.
func (e *Engine) matchPrompt(a *agent.Agent, in ReplyInput, now time.Time) *agent.Prompt {
	prompts := make([]agent.Prompt, 0, len(a.Prompts))
	for _, p := range a.Prompts {
		if p.Active {
			prompts = append(prompts, p)
		}
	}
	sort.SliceStable(prompts, func(i, j int) bool {
		return prompts[i].Priority > prompts[j].Priority
	})

	lowered := strings.ToLower(in.Message)
	for i := range prompts {
		if e.promptMatches(&prompts[i], lowered, in.MessageType, now) {
			return &prompts[i]
		}
	}
	return nil
}

func (e *Engine) promptMatches(p *agent.Prompt, loweredText string, msgType message.MessageType, now time.Time) bool {
	if len(p.TriggerWords) > 0 {
		hit := false
		for _, w := range p.TriggerWords {
			if w != "" && strings.Contains(loweredText, strings.ToLower(w)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if p.Conditions == nil {
		return true
	}

	if len(p.Conditions.MessageTypes) > 0 {
		allowed := false
		for _, t := range p.Conditions.MessageTypes {
			if t == msgType {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if w := p.Conditions.TimeOfDay; w != nil {
		start, err1 := timeutils.ParseClock(w.Start)
		end, err2 := timeutils.ParseClock(w.End)
		if err1 != nil || err2 != nil {
			return false
		}
		if !timeutils.WithinWindow(timeutils.ClockInt(now), start, end) {
			return false
		}
	}

	return true
}

// withinWorkingHours checks the schedule entry matching today's weekday.
// A day with no entry is closed.
func (e *Engine) withinWorkingHours(a *agent.Agent, now time.Time) bool {
	for key, hours := range a.Settings.WorkingHours {
		if !timeutils.MatchesWeekday(key, now.Weekday()) {
			continue
		}
		start, err1 := timeutils.ParseClock(hours.Start)
		end, err2 := timeutils.ParseClock(hours.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if timeutils.WithinWindow(timeutils.ClockInt(now), start, end) {
			return true
		}
	}
	return false
}

func (e *Engine) localNow(a *agent.Agent) time.Time {
	now := e.now()
	if tz := a.Settings.Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return now.In(loc)
		}
	}
	return now
}

func (e *Engine) pickFallback() string {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return defaultFallbacks[e.rnd.Intn(len(defaultFallbacks))]
}

// allowByRate enforces MaxResponsesPerMinute with a sliding window.
// Zero means unlimited.
func (e *Engine) allowByRate(a *agent.Agent) bool {
	limit := a.Settings.MaxResponsesPerMinute
	if limit <= 0 {
		return true
	}

	now := e.now()
	cutoff := now.Add(-time.Minute)

	e.rateMu.Lock()
	defer e.rateMu.Unlock()

	window := e.rateLog[a.ID]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		e.rateLog[a.ID] = kept
		return false
	}
	e.rateLog[a.ID] = append(kept, now)
	return true
}

// renderTemplate substitutes the supported placeholders.
func renderTemplate(tpl string, in ReplyInput, now time.Time) string {
	r := strings.NewReplacer(
		"{userName}", in.UserName,
		"{userMessage}", in.Message,
		"{platform}", in.Platform,
		"{time}", now.Format("15:04"),
	)
	return r.Replace(tpl)
}
