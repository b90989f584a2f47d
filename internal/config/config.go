package config

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/engage"
	"github.com/nextlevelbuilder/chimein/internal/judge"
	"github.com/nextlevelbuilder/chimein/internal/store"
	"github.com/nextlevelbuilder/chimein/internal/summarizer"
)

// Config is the root configuration for the chimein daemon.
type Config struct {
	Bot         BotConfig         `json:"bot"`
	Buffer      BufferConfig      `json:"buffer"`
	Context     ContextConfig     `json:"context"`
	Judge       JudgeConfig       `json:"judge"`
	Summarizer  SummarizerConfig  `json:"summarizer"`
	Engage      EngageConfig      `json:"engage"`
	Providers   ProvidersConfig   `json:"providers"`
	Channels    ChannelsConfig    `json:"channels"`
	Store       StoreConfig       `json:"store"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	mu          sync.RWMutex
}

// BotConfig identifies the assistant in chat.
type BotConfig struct {
	Name    string   `json:"name"`              // display name, also the default name-called trigger
	Aliases []string `json:"aliases,omitempty"` // extra names that count as being called
	Persona string   `json:"persona,omitempty"` // prepended to every reply prompt
}

// Names returns the bot name followed by its aliases.
func (b BotConfig) Names() []string {
	names := make([]string, 0, 1+len(b.Aliases))
	if b.Name != "" {
		names = append(names, b.Name)
	}
	return append(names, b.Aliases...)
}

// BufferConfig sizes the short-term message memory.
type BufferConfig struct {
	Capacity   int `json:"capacity"`    // messages kept per channel (default 50)
	TTLMinutes int `json:"ttl_minutes"` // messages older than this are ignored (default 60)
}

// ContextConfig sets when channel summaries are refreshed.
type ContextConfig struct {
	MessageThreshold int `json:"message_threshold"` // new messages before a refresh (default 20)
	MinutesThreshold int `json:"minutes_threshold"` // or minutes since the last refresh (default 30)
}

// JudgeConfig tunes the rule-based judge. Durations are in seconds.
type JudgeConfig struct {
	Keywords              []string `json:"keywords,omitempty"` // expert topics
	Threshold             int      `json:"threshold"`
	LLMFloor              int      `json:"llm_floor"`
	FullResponseThreshold int      `json:"full_response_threshold"`
	ShortAckThreshold     int      `json:"short_ack_threshold"`
	EngagementBoost       int      `json:"engagement_boost"`
	CooldownSec           int      `json:"cooldown_sec"`
	EngagementWindowSec   int      `json:"engagement_window_sec"`
	SilenceThresholdSec   int      `json:"silence_threshold_sec"`
	FastChatterCount      int      `json:"fast_chatter_count"`
	DecayWindow           int      `json:"decay_window"`
	ResponseDiversity     *bool    `json:"response_diversity,omitempty"` // default true
	LLMEnabled            *bool    `json:"llm_enabled,omitempty"`        // second-tier judge (default true)
}

// SummarizerConfig bounds background summarization.
type SummarizerConfig struct {
	Enabled       *bool `json:"enabled,omitempty"` // default true
	TimeoutSec    int   `json:"timeout_sec"`
	MaxConcurrent int   `json:"max_concurrent"`
}

// EngageConfig tunes the pipeline around the judges.
type EngageConfig struct {
	ContextWindow      int      `json:"context_window"`
	SummaryWindow      int      `json:"summary_window"`
	LLMPerMinute       int      `json:"llm_per_minute"`
	AutonomousChannels []string `json:"autonomous_channels,omitempty"` // "discord:<id>", "telegram:<id>"; empty = all
}

// ProvidersConfig selects the model backend.
type ProvidersConfig struct {
	Default     string         `json:"default"` // "anthropic", "openai" or "openrouter"
	Model       string         `json:"model,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	Anthropic   ProviderConfig `json:"anthropic"`
	OpenAI      ProviderConfig `json:"openai"`
	OpenRouter  ProviderConfig `json:"openrouter"`
}

// ProviderConfig holds one backend's endpoint. API keys come from env only.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
}

// ChannelsConfig contains per-platform settings.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

// DiscordConfig configures the Discord gateway connection.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"`                    // from env CHIMEIN_DISCORD_TOKEN only
	AllowFrom []string `json:"allow_from,omitempty"` // channel IDs; empty = all
}

// TelegramConfig configures the Telegram long-polling bot.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"` // from env CHIMEIN_TELEGRAM_TOKEN only
	Proxy     string   `json:"proxy,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"` // chat IDs; empty = all
}

// StoreConfig selects the channel context backend.
// PostgresDSN is NEVER read from config.json (secret), only from env CHIMEIN_POSTGRES_DSN.
type StoreConfig struct {
	Driver      string `json:"driver"` // "file" (default), "sqlite", "postgres"
	Path        string `json:"path,omitempty"`
	PostgresDSN string `json:"-"`
}

// MaintenanceConfig schedules the periodic sweep.
type MaintenanceConfig struct {
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron expression (default "*/5 * * * *")
}

// TelemetryConfig configures OpenTelemetry OTLP export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "chimein")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// BufferTTL returns the buffer TTL as a duration.
func (c *Config) BufferTTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Buffer.TTLMinutes) * time.Minute
}

// ToJudgeConfig converts the judge section, filling unset values from judge.DefaultConfig.
func (c *Config) ToJudgeConfig() judge.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jc := judge.DefaultConfig()
	j := c.Judge
	jc.BotName = c.Bot.Name
	jc.Keywords = j.Keywords
	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v int) {
		if v > 0 {
			*dst = secs(v)
		}
	}
	setInt(&jc.Threshold, j.Threshold)
	setInt(&jc.LLMFloor, j.LLMFloor)
	setInt(&jc.FullResponseThreshold, j.FullResponseThreshold)
	setInt(&jc.ShortAckThreshold, j.ShortAckThreshold)
	setInt(&jc.EngagementBoost, j.EngagementBoost)
	setInt(&jc.FastChatterCount, j.FastChatterCount)
	setInt(&jc.DecayWindow, j.DecayWindow)
	setDur(&jc.Cooldown, j.CooldownSec)
	setDur(&jc.EngagementWindow, j.EngagementWindowSec)
	setDur(&jc.SilenceThreshold, j.SilenceThresholdSec)
	jc.ResponseDiversity = boolOr(j.ResponseDiversity, true)
	return jc
}

// LLMJudgeEnabled reports whether ambiguous scores are escalated to the model.
func (c *Config) LLMJudgeEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.Judge.LLMEnabled, true)
}

// SummarizerEnabled reports whether channel summaries are maintained.
func (c *Config) SummarizerEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.Summarizer.Enabled, true)
}

// ToEngageConfig converts the engage section.
func (c *Config) ToEngageConfig() engage.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return engage.Config{
		BotName:            c.Bot.Name,
		ContextWindow:      c.Engage.ContextWindow,
		SummaryWindow:      c.Engage.SummaryWindow,
		LLMPerMinute:       c.Engage.LLMPerMinute,
		AutonomousChannels: c.Engage.AutonomousChannels,
	}
}

// ToSummarizerConfig converts the summarizer section.
func (c *Config) ToSummarizerConfig() summarizer.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return summarizer.Config{
		Timeout:       secs(c.Summarizer.TimeoutSec),
		MaxConcurrent: c.Summarizer.MaxConcurrent,
	}
}

// ToThresholds converts the context section.
func (c *Config) ToThresholds() chanctx.Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := chanctx.DefaultThresholds()
	if c.Context.MessageThreshold > 0 {
		t.MessageCount = c.Context.MessageThreshold
	}
	if c.Context.MinutesThreshold > 0 {
		t.Minutes = c.Context.MinutesThreshold
	}
	return t
}

// ToStoreConfig converts the store section with the path expanded.
func (c *Config) ToStoreConfig() store.StoreConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return store.StoreConfig{
		Driver:      c.Store.Driver,
		Path:        ExpandHome(c.Store.Path),
		PostgresDSN: c.Store.PostgresDSN,
	}
}
