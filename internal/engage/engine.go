// Package engage runs the per-message engagement pipeline: remember the message,
// decide whether to speak, compose the reply and hand it to a transport.
package engage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/judge"
	"github.com/nextlevelbuilder/chimein/internal/summarizer"
)

const (
	DefaultContextWindow = 20
	DefaultSummaryWindow = 30
	DefaultLLMPerMinute  = 6
)

// Tier names which stage produced a decision.
const (
	TierRules = "rules"
	TierLLM   = "llm"
)

// Config tunes the pipeline around the judges.
type Config struct {
	BotName       string
	ContextWindow int // messages shown to the judges and the reply prompt
	SummaryWindow int // messages folded into each summarization

	// LLMPerMinute caps second-tier escalations per channel. Over budget the
	// message is dropped.
	LLMPerMinute int

	// AutonomousChannels limits unprompted replies to these channel keys.
	// Empty means every channel. Elsewhere only mentions and replies are answered.
	AutonomousChannels []string
}

func (c Config) withDefaults() Config {
	if c.ContextWindow <= 0 {
		c.ContextWindow = DefaultContextWindow
	}
	if c.SummaryWindow <= 0 {
		c.SummaryWindow = DefaultSummaryWindow
	}
	if c.LLMPerMinute <= 0 {
		c.LLMPerMinute = DefaultLLMPerMinute
	}
	return c
}

// Decision is the outcome of Decide.
type Decision struct {
	Respond bool
	Mode    judge.ResponseMode
	Score   int
	Tier    string
	Reason  string
}

// Sink delivers the assistant's output back to the chat platform.
type Sink interface {
	// Reply posts text in the channel, threaded to replyToID when non-empty,
	// and returns the platform ID of the sent message.
	Reply(ctx context.Context, channelID, replyToID, text string) (string, error)
	// React adds an emoji reaction to a message.
	React(ctx context.Context, channelID, messageID, emoji string) error
}

// Deps are the components the engine drives. LLM and Summarizer may be nil.
type Deps struct {
	Buffer     *buffer.Buffer
	Contexts   *chanctx.Store
	Rules      *judge.RuleJudge
	LLM        *judge.LLMJudge
	Summarizer *summarizer.Summarizer
	Responder  *Responder
}

// Engine owns the pipeline state for all channels of one process.
type Engine struct {
	buf       *buffer.Buffer
	contexts  *chanctx.Store
	rules     *judge.RuleJudge
	llm       *judge.LLMJudge
	sum       *summarizer.Summarizer
	responder *Responder

	mu         sync.Mutex
	cfg        Config
	autonomous map[string]struct{}
	limiters   map[string]*rate.Limiter

	now func() time.Time
}

// New wires an engine.
func New(d Deps, cfg Config) *Engine {
	e := &Engine{
		buf:       d.Buffer,
		contexts:  d.Contexts,
		rules:     d.Rules,
		llm:       d.LLM,
		sum:       d.Summarizer,
		responder: d.Responder,
		limiters:  make(map[string]*rate.Limiter),
		now:       time.Now,
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps the pipeline tuning. Existing escalation budgets are reset.
func (e *Engine) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	auto := make(map[string]struct{}, len(cfg.AutonomousChannels))
	for _, id := range cfg.AutonomousChannels {
		auto[id] = struct{}{}
	}

	e.mu.Lock()
	e.cfg = cfg
	e.autonomous = auto
	e.limiters = make(map[string]*rate.Limiter)
	e.mu.Unlock()
}

// Rules exposes the rule judge for hot reload.
func (e *Engine) Rules() *judge.RuleJudge { return e.rules }

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Observe records an inbound message: buffer append, counter increment and a
// summarization check. It never waits on the network.
func (e *Engine) Observe(ctx context.Context, msg buffer.ChannelMessage) {
	e.buf.Add(msg)
	e.contexts.IncrementMessageCount(ctx, msg.ChannelID)
	if e.sum != nil {
		e.sum.MaybeTrigger(ctx, msg.ChannelID, e.buf.Recent(msg.ChannelID, e.config().SummaryWindow))
	}
}

// Decide runs the rule judge and, for ambiguous scores, the LLM judge.
func (e *Engine) Decide(ctx context.Context, msg buffer.ChannelMessage, sig judge.Signals) Decision {
	cfg := e.config()
	recent := e.buf.Recent(msg.ChannelID, cfg.ContextWindow)

	res := e.rules.Evaluate(msg, recent, sig)
	d := Decision{Score: res.Score, Mode: res.Mode, Tier: TierRules, Reason: res.Reason}
	if res.Admit {
		d.Respond = true
		return d
	}

	if e.llm == nil || res.Score <= e.rules.Config().LLMFloor {
		return d
	}
	if !e.allowEscalation(msg.ChannelID, cfg.LLMPerMinute) {
		d.Reason += "; llm budget exhausted"
		slog.Debug("llm escalation skipped, budget exhausted", "channel_id", msg.ChannelID, "score", res.Score)
		return d
	}

	v := e.llm.Evaluate(ctx, msg.Content, buffer.FormatLines(recent), cfg.BotName)
	d.Tier = TierLLM
	d.Reason += "; llm: " + v.Reason
	if !v.Respond {
		return d
	}
	d.Respond = true
	d.Mode = v.Mode
	return d
}

func (e *Engine) allowEscalation(channelID string, perMinute int) bool {
	e.mu.Lock()
	lim, ok := e.limiters[channelID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		e.limiters[channelID] = lim
	}
	e.mu.Unlock()
	return lim.Allow()
}

// Respond composes the reply for an admitted decision.
func (e *Engine) Respond(ctx context.Context, msg buffer.ChannelMessage, d Decision) (Reply, error) {
	cfg := e.config()
	cc := e.contexts.Get(ctx, msg.ChannelID)
	recent := e.buf.ContextString(msg.ChannelID, cfg.ContextWindow)
	return e.responder.Compose(ctx, Prompt{
		BotName:       cfg.BotName,
		Mode:          d.Mode,
		Message:       msg,
		ChannelDigest: cc.FormatForInjection(),
		Recent:        recent,
	})
}

// RecordResponse arms the judge windows for a channel and, when own is non-nil,
// remembers the bot's own message in the buffer.
func (e *Engine) RecordResponse(channelID string, own *buffer.ChannelMessage) {
	e.rules.RecordResponse(channelID)
	if own == nil {
		return
	}
	m := *own
	m.ChannelID = channelID
	m.IsBot = true
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.now()
	}
	e.buf.Add(m)
}

// HandleInbound runs the whole pipeline for one message and delivers any output
// through sink.
func (e *Engine) HandleInbound(ctx context.Context, msg buffer.ChannelMessage, sig judge.Signals, sink Sink) Decision {
	e.Observe(ctx, msg)
	if msg.IsBot {
		return Decision{Reason: "bot message"}
	}

	direct := sig.Mentioned || sig.ReplyToBot
	if !direct && !e.isAutonomous(msg.ChannelID) {
		return Decision{Reason: "channel not autonomous"}
	}

	d := e.Decide(ctx, msg, sig)
	slog.Debug("engagement decision",
		"channel_id", msg.ChannelID,
		"message_id", msg.ID,
		"respond", d.Respond,
		"score", d.Score,
		"mode", d.Mode,
		"tier", d.Tier,
		"reason", d.Reason,
	)
	if !d.Respond {
		return d
	}

	reply, err := e.Respond(ctx, msg, d)
	if err != nil {
		slog.Warn("compose reply failed", "channel_id", msg.ChannelID, "mode", d.Mode, "error", err)
		return d
	}

	if reply.Emoji != "" {
		if err := sink.React(ctx, msg.ChannelID, msg.ID, reply.Emoji); err != nil {
			slog.Warn("send reaction failed", "channel_id", msg.ChannelID, "error", err)
			return d
		}
		e.RecordResponse(msg.ChannelID, nil)
		return d
	}

	sentID, err := sink.Reply(ctx, msg.ChannelID, msg.ID, reply.Text)
	if err != nil {
		slog.Warn("send reply failed", "channel_id", msg.ChannelID, "error", err)
		return d
	}
	if sentID == "" {
		sentID = uuid.NewString()
	}
	e.RecordResponse(msg.ChannelID, &buffer.ChannelMessage{
		ID:         sentID,
		AuthorName: e.config().BotName,
		Content:    reply.Text,
	})
	return d
}

func (e *Engine) isAutonomous(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.autonomous) == 0 {
		return true
	}
	_, ok := e.autonomous[channelID]
	return ok
}

// Sweep is the periodic maintenance pass: expired buffer entries, stale judge
// timers and idle escalation limiters are dropped.
func (e *Engine) Sweep() (messages, timers, limiters int) {
	messages = e.buf.CleanupExpired()
	timers = e.rules.Prune()

	e.mu.Lock()
	burst := float64(e.cfg.LLMPerMinute)
	for id, lim := range e.limiters {
		if lim.Tokens() >= burst {
			delete(e.limiters, id)
			limiters++
		}
	}
	e.mu.Unlock()
	return messages, timers, limiters
}
