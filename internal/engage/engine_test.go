package engage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/judge"
	"github.com/nextlevelbuilder/chimein/internal/providers"
	"github.com/nextlevelbuilder/chimein/internal/summarizer"
)

type sent struct {
	channelID, targetID, body string
}

type fakeSink struct {
	mu        sync.Mutex
	replies   []sent
	reactions []sent
	err       error
}

func (s *fakeSink) Reply(_ context.Context, channelID, replyToID, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.replies = append(s.replies, sent{channelID, replyToID, text})
	return "sent-1", nil
}

func (s *fakeSink) React(_ context.Context, channelID, messageID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reactions = append(s.reactions, sent{channelID, messageID, emoji})
	return nil
}

// fakeModel answers judge prompts (JSON mode) and reply prompts (text mode).
type fakeModel struct {
	verdict    string
	judgeCalls atomic.Int32
	replyCalls atomic.Int32
	lastReply  atomic.Value
}

func (m *fakeModel) Generate(_ context.Context, prompt string, format providers.ResponseFormat) (string, error) {
	if format == providers.FormatJSON {
		m.judgeCalls.Add(1)
		return m.verdict, nil
	}
	m.replyCalls.Add(1)
	m.lastReply.Store(prompt)
	return "hello from the bot", nil
}

type testEngine struct {
	*Engine
	model *fakeModel
	sink  *fakeSink
	buf   *buffer.Buffer
	rules *judge.RuleJudge
}

func newTestEngine(t *testing.T, jcfg judge.Config, cfg Config) *testEngine {
	t.Helper()
	model := &fakeModel{verdict: `{"respond": true, "reason": "helpful"}`}
	buf := buffer.New(50, time.Hour)
	rules := judge.NewRuleJudge(jcfg)
	e := New(Deps{
		Buffer:    buf,
		Contexts:  chanctx.NewStore(nil, chanctx.DefaultThresholds()),
		Rules:     rules,
		LLM:       judge.NewLLMJudge(model),
		Responder: NewResponder(model, ""),
	}, cfg)
	return &testEngine{Engine: e, model: model, sink: &fakeSink{}, buf: buf, rules: rules}
}

func inbound(id, channelID, content string) buffer.ChannelMessage {
	return buffer.ChannelMessage{
		ID:         id,
		ChannelID:  channelID,
		AuthorID:   "u1",
		AuthorName: "alice",
		Content:    content,
		CreatedAt:  time.Now(),
	}
}

func TestHandleInbound_MentionReplies(t *testing.T) {
	te := newTestEngine(t, judge.DefaultConfig(), Config{BotName: "chimein"})

	d := te.HandleInbound(context.Background(), inbound("m1", "c1", "hey @chimein"), judge.Signals{Mentioned: true}, te.sink)
	if !d.Respond || d.Tier != TierRules || d.Score != 100 {
		t.Fatalf("decision = %+v", d)
	}
	if len(te.sink.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(te.sink.replies))
	}
	if r := te.sink.replies[0]; r.channelID != "c1" || r.targetID != "m1" || r.body != "hello from the bot" {
		t.Errorf("reply = %+v", r)
	}
	if _, ok := te.rules.LastResponse("c1"); !ok {
		t.Error("reply not recorded with the judge")
	}

	recent := te.buf.Recent("c1", 10)
	if len(recent) != 2 {
		t.Fatalf("buffer has %d messages, want inbound + own reply", len(recent))
	}
	own := recent[1]
	if !own.IsBot || own.ID != "sent-1" || own.AuthorName != "chimein" || own.Content != "hello from the bot" {
		t.Errorf("own message = %+v", own)
	}
	if te.model.judgeCalls.Load() != 0 {
		t.Error("LLM judge consulted for a mention")
	}
}

func TestHandleInbound_LowScoreDropped(t *testing.T) {
	te := newTestEngine(t, judge.DefaultConfig(), Config{})

	d := te.HandleInbound(context.Background(), inbound("m1", "c1", "ok"), judge.Signals{}, te.sink)
	if d.Respond {
		t.Errorf("decision = %+v, want drop", d)
	}
	if te.model.judgeCalls.Load() != 0 || te.model.replyCalls.Load() != 0 {
		t.Error("model called for a message below the LLM floor")
	}
	if len(te.sink.replies)+len(te.sink.reactions) != 0 {
		t.Error("sink used for a dropped message")
	}
	if te.buf.Len("c1") != 1 {
		t.Error("dropped message not observed")
	}
}

func TestDecide_EscalatesAmbiguousScores(t *testing.T) {
	tests := []struct {
		name      string
		floor     int
		verdict   string
		want      bool
		wantTier  string
		wantCalls int32
	}{
		{"llm yes", 10, `{"respond": true, "reason": "open question"}`, true, TierLLM, 1},
		{"llm no", 10, `{"respond": false, "reason": "not for us"}`, false, TierLLM, 1},
		{"llm garbage", 10, `¯\_(ツ)_/¯`, false, TierLLM, 1},
		{"score equal to floor is dropped", 20, `{"respond": true}`, false, TierRules, 0},
		{"score just above floor escalates", 19, `{"respond": true}`, true, TierLLM, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jcfg := judge.DefaultConfig()
			jcfg.LLMFloor = tt.floor
			te := newTestEngine(t, jcfg, Config{})
			te.model.verdict = tt.verdict

			msg := inbound("m1", "c1", "anyone know a good pizza place?")
			te.Observe(context.Background(), msg)
			d := te.Decide(context.Background(), msg, judge.Signals{})

			if d.Score != 20 {
				t.Errorf("Score = %d, want 20", d.Score)
			}
			if d.Tier != tt.wantTier || d.Respond != tt.want {
				t.Errorf("decision = %+v, want tier %s respond=%v", d, tt.wantTier, tt.want)
			}
			if tt.want && d.Mode != judge.ModeFullResponse {
				t.Errorf("Mode = %q, want full_response", d.Mode)
			}
			if got := te.model.judgeCalls.Load(); got != tt.wantCalls {
				t.Errorf("judge calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestDecide_EscalationBudget(t *testing.T) {
	jcfg := judge.DefaultConfig()
	jcfg.LLMFloor = 10
	te := newTestEngine(t, jcfg, Config{LLMPerMinute: 1})
	te.model.verdict = `{"respond": false}`

	ctx := context.Background()
	for i, ch := range []string{"c1", "c1", "c2"} {
		msg := inbound("m", ch, "what time is it?")
		te.Observe(ctx, msg)
		d := te.Decide(ctx, msg, judge.Signals{})
		if i == 1 && !strings.Contains(d.Reason, "budget") {
			t.Errorf("second escalation in c1 not budgeted: %+v", d)
		}
	}
	if got := te.model.judgeCalls.Load(); got != 2 {
		t.Errorf("judge calls = %d, want 2 (one per channel)", got)
	}
}

func TestHandleInbound_ReactOnly(t *testing.T) {
	jcfg := judge.DefaultConfig()
	jcfg.Threshold = 15
	te := newTestEngine(t, jcfg, Config{BotName: "chimein"})

	d := te.HandleInbound(context.Background(), inbound("m7", "c1", "pizza tonight?"), judge.Signals{}, te.sink)
	if !d.Respond || d.Mode != judge.ModeReactOnly {
		t.Fatalf("decision = %+v, want react_only", d)
	}
	if len(te.sink.reactions) != 1 || te.sink.reactions[0].body != DefaultQuestionEmoji || te.sink.reactions[0].targetID != "m7" {
		t.Errorf("reactions = %+v", te.sink.reactions)
	}
	if te.model.replyCalls.Load() != 0 {
		t.Error("model called for a reaction")
	}
	if _, ok := te.rules.LastResponse("c1"); !ok {
		t.Error("reaction not recorded with the judge")
	}
	if te.buf.Len("c1") != 1 {
		t.Errorf("buffer Len = %d, reactions add no message", te.buf.Len("c1"))
	}
}

func TestHandleInbound_NonAutonomousChannel(t *testing.T) {
	jcfg := judge.DefaultConfig()
	jcfg.Threshold = 0
	te := newTestEngine(t, jcfg, Config{AutonomousChannels: []string{"c-auto"}})
	ctx := context.Background()

	d := te.HandleInbound(ctx, inbound("m1", "c-quiet", "hello?"), judge.Signals{}, te.sink)
	if d.Respond {
		t.Errorf("answered unprompted in a non-autonomous channel: %+v", d)
	}
	if te.buf.Len("c-quiet") != 1 {
		t.Error("message in non-autonomous channel not observed")
	}

	d = te.HandleInbound(ctx, inbound("m2", "c-quiet", "@bot hi"), judge.Signals{Mentioned: true}, te.sink)
	if !d.Respond || len(te.sink.replies) != 1 {
		t.Errorf("mention in non-autonomous channel not answered: %+v", d)
	}

	d = te.HandleInbound(ctx, inbound("m3", "c-auto", "hello?"), judge.Signals{}, te.sink)
	if !d.Respond {
		t.Errorf("autonomous channel not answered: %+v", d)
	}
}

func TestHandleInbound_SendFailureNotRecorded(t *testing.T) {
	te := newTestEngine(t, judge.DefaultConfig(), Config{})
	te.sink.err = errors.New("forbidden")

	te.HandleInbound(context.Background(), inbound("m1", "c1", "hi"), judge.Signals{ReplyToBot: true}, te.sink)
	if _, ok := te.rules.LastResponse("c1"); ok {
		t.Error("failed send was recorded as a response")
	}
	if te.buf.Len("c1") != 1 {
		t.Errorf("buffer Len = %d, want only the inbound message", te.buf.Len("c1"))
	}
}

func TestHandleInbound_BotMessagesOnlyObserved(t *testing.T) {
	te := newTestEngine(t, judge.DefaultConfig(), Config{})
	msg := inbound("m1", "c1", "beep")
	msg.IsBot = true

	d := te.HandleInbound(context.Background(), msg, judge.Signals{Mentioned: true}, te.sink)
	if d.Respond || len(te.sink.replies) != 0 {
		t.Errorf("answered a bot: %+v", d)
	}
	if te.buf.Len("c1") != 1 {
		t.Error("bot message not observed")
	}
}

func TestObserveTriggersSummarizer(t *testing.T) {
	buf := buffer.New(50, time.Hour)
	contexts := chanctx.NewStore(nil, chanctx.Thresholds{MessageCount: 2, Minutes: 30})
	gen := providers.GeneratorFunc(func(context.Context, string, providers.ResponseFormat) (string, error) {
		return `{"summary": "pizza planning", "mood": "hungry", "topic_keywords": ["pizza"]}`, nil
	})
	sum := summarizer.New(gen, contexts, summarizer.Config{})
	e := New(Deps{
		Buffer:     buf,
		Contexts:   contexts,
		Rules:      judge.NewRuleJudge(judge.DefaultConfig()),
		Summarizer: sum,
		Responder:  NewResponder(gen, ""),
	}, Config{})

	ctx := context.Background()
	e.Observe(ctx, inbound("m1", "c1", "pizza?"))
	if got := contexts.Get(ctx, "c1").MessageCountSinceUpdate; got != 1 {
		t.Errorf("counter = %d, want 1", got)
	}
	e.Observe(ctx, inbound("m2", "c1", "yes pizza"))

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sum.Wait(wctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got := contexts.Get(ctx, "c1")
	if got.Summary != "pizza planning" || got.MessageCountSinceUpdate != 0 {
		t.Errorf("context = %+v, want summarized and reset", got)
	}
	if len(got.ActiveUsers) != 1 || got.ActiveUsers[0] != "alice" {
		t.Errorf("ActiveUsers = %v", got.ActiveUsers)
	}
}

func TestRespondInjectsChannelContext(t *testing.T) {
	te := newTestEngine(t, judge.DefaultConfig(), Config{BotName: "chimein"})
	ctx := context.Background()

	te.contexts.Update(ctx, "c1", func(c *chanctx.ChannelContext) {
		c.Summary = "planning a trip to Lisbon"
		c.Mood = "excited"
	})
	msg := inbound("m1", "c1", "where should we eat?")
	te.Observe(ctx, msg)

	reply, err := te.Respond(ctx, msg, Decision{Respond: true, Mode: judge.ModeShortAck})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text == "" || reply.Emoji != "" {
		t.Errorf("reply = %+v", reply)
	}
	prompt, _ := te.model.lastReply.Load().(string)
	for _, want := range []string{"planning a trip to Lisbon", "Mood: excited", "alice: where should we eat?", "one short"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSweep(t *testing.T) {
	jcfg := judge.DefaultConfig()
	jcfg.LLMFloor = 10
	te := newTestEngine(t, jcfg, Config{LLMPerMinute: 2})
	ctx := context.Background()

	old := inbound("m0", "c1", "ancient")
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	te.buf.Add(old)

	msg := inbound("m1", "c2", "anyone?")
	te.Observe(ctx, msg)
	te.Decide(ctx, msg, judge.Signals{})

	messages, _, limiters := te.Sweep()
	if messages != 1 {
		t.Errorf("Sweep removed %d messages, want 1", messages)
	}
	if limiters != 0 {
		t.Errorf("Sweep removed %d limiters, want 0 while budget is spent", limiters)
	}
}
