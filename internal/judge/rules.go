package judge

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
)

// RuleJudge scores messages and tracks the per-channel response timestamps that
// drive the cooldown and engagement windows. Safe for concurrent use.
type RuleJudge struct {
	mu           sync.RWMutex
	cfg          Config
	keywords     []string // lowercased copy of cfg.Keywords
	lastResponse map[string]time.Time
	now          func() time.Time
}

// NewRuleJudge creates a judge with the given tuning.
func NewRuleJudge(cfg Config) *RuleJudge {
	j := &RuleJudge{
		lastResponse: make(map[string]time.Time),
		now:          time.Now,
	}
	j.SetConfig(cfg)
	return j
}

// Config returns the active tuning.
func (j *RuleJudge) Config() Config {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cfg
}

// SetConfig swaps the tuning in place. Channel timers are kept.
func (j *RuleJudge) SetConfig(cfg Config) {
	kw := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}

	j.mu.Lock()
	j.cfg = cfg
	j.keywords = kw
	j.mu.Unlock()
}

// RecordResponse arms the cooldown and engagement windows for a channel.
// Call it once per reply or reaction actually sent.
func (j *RuleJudge) RecordResponse(channelID string) {
	j.mu.Lock()
	j.lastResponse[channelID] = j.now()
	j.mu.Unlock()
}

// LastResponse returns when the bot last spoke in a channel.
func (j *RuleJudge) LastResponse(channelID string) (time.Time, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	t, ok := j.lastResponse[channelID]
	return t, ok
}

// Prune forgets channels whose windows have both expired. Returns the number removed.
func (j *RuleJudge) Prune() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	horizon := max(j.cfg.Cooldown, j.cfg.EngagementWindow)
	now := j.now()
	removed := 0
	for id, t := range j.lastResponse {
		if now.Sub(t) >= horizon {
			delete(j.lastResponse, id)
			removed++
		}
	}
	return removed
}

// Evaluate scores msg against the recent channel window. It reads judge state
// but never mutates it, so repeated calls at the same instant agree.
func (j *RuleJudge) Evaluate(msg buffer.ChannelMessage, recent []buffer.ChannelMessage, sig Signals) Result {
	j.mu.RLock()
	cfg := j.cfg
	keywords := j.keywords
	last, spoke := j.lastResponse[msg.ChannelID]
	j.mu.RUnlock()

	switch {
	case sig.Mentioned:
		return Result{Score: scoreMentioned, Admit: true, Reason: "mentioned", Mode: ModeFullResponse}
	case sig.ReplyToBot:
		return Result{Score: scoreMentioned, Admit: true, Reason: "reply to bot", Mode: ModeFullResponse}
	case sig.NameCalled:
		return Result{Score: scoreNameCalled, Admit: true, Reason: "name called", Mode: ModeFullResponse}
	}

	now := j.now()
	engaged := spoke && now.Sub(last) < cfg.EngagementWindow
	cooling := spoke && now.Sub(last) < cfg.Cooldown

	var s scorer
	if engaged {
		s.add(cfg.EngagementBoost, "engaged")
	}

	text := strings.TrimSpace(msg.Content)
	if strings.HasSuffix(text, "?") || strings.HasSuffix(text, "？") {
		s.add(bonusQuestion, "question")
	}
	lower := strings.ToLower(text)
	if kw, ok := firstKeyword(lower, keywords); ok {
		s.add(bonusKeyword, "keyword "+kw)
	}

	if window := humanMessages(recent); len(window) > 0 {
		scoreWindow(&s, cfg, keywords, window)
	}

	if cooling {
		s.add(-penaltyCooldown, "cooldown")
	}

	score := min(max(s.total, 0), 100)
	return Result{
		Score:  score,
		Admit:  score >= cfg.Threshold,
		Reason: s.reason(),
		Mode:   classify(cfg, score, engaged),
	}
}

func scoreWindow(s *scorer, cfg Config, keywords []string, window []buffer.ChannelMessage) {
	if distinctAuthors(window) == 2 {
		s.add(-penaltyPrivate, "private exchange")
	}

	if name := strings.ToLower(strings.TrimSpace(cfg.BotName)); name != "" {
		mentioned := false
		for _, m := range window {
			if strings.Contains(strings.ToLower(m.Content), name) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			s.add(-penaltyDisengaged, "bot not discussed")
		}
	}

	if n := cfg.FastChatterCount; n > 1 && len(window) >= n {
		first, last := window[len(window)-n], window[len(window)-1]
		if last.CreatedAt.Sub(first.CreatedAt) <= fastChatterSpan {
			s.add(-penaltyFastChatter, "fast chatter")
		}
	}

	for _, m := range window {
		if kw, ok := firstKeyword(strings.ToLower(m.Content), keywords); ok {
			s.add(bonusExpertTopic, "expert topic "+kw)
			break
		}
	}

	if len(window) >= 2 && cfg.SilenceThreshold > 0 {
		gap := window[len(window)-1].CreatedAt.Sub(window[len(window)-2].CreatedAt)
		if gap > cfg.SilenceThreshold {
			s.add(bonusSilence, "quiet channel reopened")
		}
	}

	switch ratio, ok := decayRatio(window, cfg.DecayWindow); {
	case !ok:
	case ratio <= 0.5:
		s.add(-penaltyDecayStrong, fmt.Sprintf("conversation winding down (%.2f)", ratio))
	case ratio <= 0.7:
		s.add(-penaltyDecayMild, fmt.Sprintf("conversation slowing (%.2f)", ratio))
	}
}

// classify picks the response mode. The engaged mid-score case falls through to
// full_response.
func classify(cfg Config, score int, engaged bool) ResponseMode {
	if !cfg.ResponseDiversity {
		return ModeFullResponse
	}
	switch {
	case score >= cfg.FullResponseThreshold:
		return ModeFullResponse
	case score >= cfg.ShortAckThreshold && !engaged:
		return ModeShortAck
	case score < cfg.ShortAckThreshold:
		return ModeReactOnly
	default:
		return ModeFullResponse
	}
}

type scorer struct {
	total   int
	reasons []string
}

func (s *scorer) add(delta int, why string) {
	s.total += delta
	s.reasons = append(s.reasons, fmt.Sprintf("%s %+d", why, delta))
}

func (s *scorer) reason() string {
	if len(s.reasons) == 0 {
		return "no signals"
	}
	return strings.Join(s.reasons, "; ")
}

func humanMessages(msgs []buffer.ChannelMessage) []buffer.ChannelMessage {
	out := make([]buffer.ChannelMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsBot {
			out = append(out, m)
		}
	}
	return out
}

func distinctAuthors(msgs []buffer.ChannelMessage) int {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		id := m.AuthorID
		if id == "" {
			id = m.AuthorName
		}
		seen[id] = struct{}{}
	}
	return len(seen)
}

func firstKeyword(lowerText string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(lowerText, k) {
			return k, true
		}
	}
	return "", false
}

// decayRatio compares the average message length of the second half of the
// trailing window to the first half.
func decayRatio(window []buffer.ChannelMessage, size int) (float64, bool) {
	if size <= 0 {
		return 0, false
	}
	if len(window) > size {
		window = window[len(window)-size:]
	}
	if len(window) < minDecaySample {
		return 0, false
	}

	half := len(window) / 2
	firstAvg := avgLen(window[:half])
	if firstAvg == 0 {
		return 0, false
	}
	return avgLen(window[half:]) / firstAvg, true
}

func avgLen(msgs []buffer.ChannelMessage) float64 {
	total := 0
	for _, m := range msgs {
		total += utf8.RuneCountInString(strings.TrimSpace(m.Content))
	}
	return float64(total) / float64(len(msgs))
}
