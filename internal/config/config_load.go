package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/engage"
	"github.com/nextlevelbuilder/chimein/internal/judge"
	"github.com/nextlevelbuilder/chimein/internal/store"
	"github.com/nextlevelbuilder/chimein/internal/summarizer"
)

const DefaultSweepSchedule = "*/5 * * * *"

// Default returns a Config with sensible defaults.
func Default() *Config {
	jd := judge.DefaultConfig()
	return &Config{
		Bot: BotConfig{Name: "Chime"},
		Buffer: BufferConfig{
			Capacity:   buffer.DefaultCapacity,
			TTLMinutes: int(buffer.DefaultTTL.Minutes()),
		},
		Context: ContextConfig{
			MessageThreshold: chanctx.DefaultMessageThreshold,
			MinutesThreshold: chanctx.DefaultMinutesThreshold,
		},
		Judge: JudgeConfig{
			Threshold:             jd.Threshold,
			LLMFloor:              jd.LLMFloor,
			FullResponseThreshold: jd.FullResponseThreshold,
			ShortAckThreshold:     jd.ShortAckThreshold,
			EngagementBoost:       jd.EngagementBoost,
			CooldownSec:           int(jd.Cooldown.Seconds()),
			EngagementWindowSec:   int(jd.EngagementWindow.Seconds()),
			SilenceThresholdSec:   int(jd.SilenceThreshold.Seconds()),
			FastChatterCount:      jd.FastChatterCount,
			DecayWindow:           jd.DecayWindow,
		},
		Summarizer: SummarizerConfig{
			TimeoutSec:    int(summarizer.DefaultTimeout.Seconds()),
			MaxConcurrent: summarizer.DefaultMaxConcurrent,
		},
		Engage: EngageConfig{
			ContextWindow: engage.DefaultContextWindow,
			SummaryWindow: engage.DefaultSummaryWindow,
			LLMPerMinute:  engage.DefaultLLMPerMinute,
		},
		Providers: ProvidersConfig{
			Default:     "anthropic",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Store: StoreConfig{
			Driver: store.DriverFile,
			Path:   "~/.chimein/contexts",
		},
		Maintenance: MaintenanceConfig{SweepSchedule: DefaultSweepSchedule},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "chimein",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CHIMEIN_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CHIMEIN_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("CHIMEIN_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("CHIMEIN_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CHIMEIN_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	// Allow overriding default provider/model
	envStr("CHIMEIN_PROVIDER", &c.Providers.Default)
	envStr("CHIMEIN_MODEL", &c.Providers.Model)
	envStr("CHIMEIN_BOT_NAME", &c.Bot.Name)

	// Store
	envStr("CHIMEIN_STORE_DRIVER", &c.Store.Driver)
	envStr("CHIMEIN_STORE_PATH", &c.Store.Path)
	envStr("CHIMEIN_POSTGRES_DSN", &c.Store.PostgresDSN)

	// Telemetry
	envStr("CHIMEIN_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CHIMEIN_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CHIMEIN_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CHIMEIN_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CHIMEIN_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("CHIMEIN_LLM_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engage.LLMPerMinute = n
		}
	}

	// Autonomous channels from env (comma-separated)
	if v := os.Getenv("CHIMEIN_AUTONOMOUS_CHANNELS"); v != "" {
		c.Engage.AutonomousChannels = splitList(v)
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after reloading from disk to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	j := c.Judge
	if j.Threshold < 0 || j.Threshold > 100 {
		return fmt.Errorf("judge.threshold must be within 0..100, got %d", j.Threshold)
	}
	if j.LLMFloor > 0 && j.Threshold > 0 && j.LLMFloor > j.Threshold {
		return fmt.Errorf("judge.llm_floor (%d) must not exceed judge.threshold (%d)", j.LLMFloor, j.Threshold)
	}
	if j.ShortAckThreshold > 0 && j.FullResponseThreshold > 0 && j.ShortAckThreshold > j.FullResponseThreshold {
		return fmt.Errorf("judge.short_ack_threshold (%d) must not exceed judge.full_response_threshold (%d)",
			j.ShortAckThreshold, j.FullResponseThreshold)
	}
	switch c.Store.Driver {
	case "", store.DriverFile, store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Providers.Default {
	case "", "anthropic", "openai", "openrouter":
	default:
		return fmt.Errorf("unknown provider %q", c.Providers.Default)
	}
	return nil
}

// Save writes the config to a JSON file. Secrets are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
