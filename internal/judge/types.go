// Package judge decides whether the assistant should speak up in a channel.
//
// RuleJudge is the synchronous first tier: it scores a message from cheap
// heuristics over the recent window and either admits it, drops it, or leaves
// it in the ambiguous band. LLMJudge is the second tier for that band.
package judge

import "time"

// ResponseMode is how the assistant should answer an admitted message.
type ResponseMode string

const (
	ModeFullResponse ResponseMode = "full_response"
	ModeShortAck     ResponseMode = "short_ack"
	ModeReactOnly    ResponseMode = "react_only"
)

// Signals are the transport-level facts about a message.
type Signals struct {
	Mentioned  bool // explicit @mention of the bot
	NameCalled bool // bot name or alias used in the text
	ReplyToBot bool // message replies to one of the bot's own messages
}

// Result is the outcome of one rule evaluation.
type Result struct {
	Score  int          `json:"score"`
	Admit  bool         `json:"admit"`
	Reason string       `json:"reason"`
	Mode   ResponseMode `json:"mode"`
}

// Config holds every tunable of the rule judge.
type Config struct {
	BotName  string
	Keywords []string

	Threshold             int // admit when score >= threshold
	LLMFloor              int // at or below this the message is dropped without asking the LLM
	FullResponseThreshold int
	ShortAckThreshold     int
	EngagementBoost       int

	Cooldown         time.Duration
	EngagementWindow time.Duration
	SilenceThreshold time.Duration

	FastChatterCount  int  // last N non-bot messages inside 60s
	DecayWindow       int  // trailing non-bot messages for the length-decay check
	ResponseDiversity bool // false = always full_response
}

// DefaultConfig returns the built-in judge tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:             60,
		LLMFloor:              30,
		FullResponseThreshold: 70,
		ShortAckThreshold:     40,
		EngagementBoost:       30,
		Cooldown:              5 * time.Minute,
		EngagementWindow:      3 * time.Minute,
		SilenceThreshold:      10 * time.Minute,
		FastChatterCount:      5,
		DecayWindow:           10,
		ResponseDiversity:     true,
	}
}

// Score contributions.
const (
	scoreMentioned  = 100
	scoreNameCalled = 80

	bonusQuestion      = 20
	bonusKeyword       = 15
	bonusExpertTopic   = 15
	bonusSilence       = 10
	penaltyPrivate     = 20
	penaltyDisengaged  = 10
	penaltyFastChatter = 10
	penaltyDecayMild   = 10
	penaltyDecayStrong = 15
	penaltyCooldown    = 50

	fastChatterSpan = 60 * time.Second
	minDecaySample  = 4
)
