package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chimein/internal/judge"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Name != "Chime" || cfg.Store.Driver != "file" {
		t.Errorf("defaults not applied: %+v", cfg.Bot)
	}
	if got := cfg.ToJudgeConfig(); got.Threshold != 60 || got.Cooldown != 5*time.Minute {
		t.Errorf("judge defaults = %+v", got)
	}
}

func TestLoad_JSON5AndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
		// comments and trailing commas are allowed
		bot: { name: "Pip", aliases: ["pipster"], },
		judge: { threshold: 55, cooldown_sec: 120, keywords: ["golang"] },
		engage: { autonomous_channels: ["discord:1"] },
	}`)

	t.Setenv("CHIMEIN_DISCORD_TOKEN", "tok")
	t.Setenv("CHIMEIN_POSTGRES_DSN", "postgres://x")
	t.Setenv("CHIMEIN_AUTONOMOUS_CHANNELS", "telegram:5, discord:2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Bot.Names(); len(got) != 2 || got[0] != "Pip" || got[1] != "pipster" {
		t.Errorf("names = %v", got)
	}
	jc := cfg.ToJudgeConfig()
	if jc.Threshold != 55 || jc.Cooldown != 2*time.Minute || jc.BotName != "Pip" {
		t.Errorf("judge config = %+v", jc)
	}
	if jc.LLMFloor != judge.DefaultConfig().LLMFloor || !jc.ResponseDiversity {
		t.Errorf("unset judge fields not defaulted: %+v", jc)
	}
	if !cfg.Channels.Discord.Enabled || cfg.Channels.Discord.Token != "tok" {
		t.Error("discord not enabled from env token")
	}
	if cfg.ToStoreConfig().PostgresDSN != "postgres://x" {
		t.Error("postgres DSN not read from env")
	}
	ec := cfg.ToEngageConfig()
	if len(ec.AutonomousChannels) != 2 || ec.AutonomousChannels[1] != "discord:2" {
		t.Errorf("autonomous channels = %v", ec.AutonomousChannels)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"syntax", `{bot: `, "parse config"},
		{"threshold range", `{judge: {threshold: 150}}`, "judge.threshold"},
		{"floor above threshold", `{judge: {threshold: 40, llm_floor: 50}}`, "llm_floor"},
		{"ack above full", `{judge: {short_ack_threshold: 80, full_response_threshold: 70}}`, "short_ack_threshold"},
		{"store driver", `{store: {driver: "redis"}}`, "store driver"},
		{"provider", `{providers: {default: "nope"}}`, "provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			writeFile(t, path, tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFileValidatesEnv(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"store driver", "CHIMEIN_STORE_DRIVER", "redis", "store driver"},
		{"provider", "CHIMEIN_PROVIDER", "nope", "provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_OmitsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-secret"
	cfg.Channels.Telegram.Token = "123:abc"
	cfg.Store.PostgresDSN = "postgres://user:pw@host/db"

	path := filepath.Join(t.TempDir(), "sub", "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"sk-secret", "123:abc", "pw@host"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("saved config contains secret %q", secret)
		}
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	off := false
	cfg.Judge.ResponseDiversity = &off
	cfg.Judge.LLMEnabled = &off
	cfg.Context.MessageThreshold = 5
	cfg.Summarizer.TimeoutSec = 10

	if cfg.ToJudgeConfig().ResponseDiversity {
		t.Error("response diversity not disabled")
	}
	if cfg.LLMJudgeEnabled() {
		t.Error("llm judge not disabled")
	}
	if !cfg.SummarizerEnabled() {
		t.Error("summarizer should default to enabled")
	}
	if got := cfg.ToThresholds(); got.MessageCount != 5 || got.Minutes != 30 {
		t.Errorf("thresholds = %+v", got)
	}
	if got := cfg.ToSummarizerConfig(); got.Timeout != 10*time.Second {
		t.Errorf("summarizer timeout = %v", got.Timeout)
	}
	if cfg.BufferTTL() != time.Hour {
		t.Errorf("buffer ttl = %v", cfg.BufferTTL())
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("ExpandHome = %q", got)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{judge: {threshold: 60}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{judge: {threshold: 45}}`)

	select {
	case c := <-got:
		if c.Judge.Threshold != 45 {
			t.Errorf("reloaded threshold = %d, want 45", c.Judge.Threshold)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	<-done
}
