package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/chanctx"
	"github.com/nextlevelbuilder/chimein/internal/channels"
	"github.com/nextlevelbuilder/chimein/internal/channels/discord"
	"github.com/nextlevelbuilder/chimein/internal/channels/telegram"
	"github.com/nextlevelbuilder/chimein/internal/config"
	"github.com/nextlevelbuilder/chimein/internal/engage"
	"github.com/nextlevelbuilder/chimein/internal/judge"
	"github.com/nextlevelbuilder/chimein/internal/providers"
	"github.com/nextlevelbuilder/chimein/internal/store"
	"github.com/nextlevelbuilder/chimein/internal/summarizer"
	"github.com/nextlevelbuilder/chimein/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

// pipeline is the wired engagement stack.
type pipeline struct {
	engine     *engage.Engine
	rules      *judge.RuleJudge
	summarizer *summarizer.Summarizer // nil when disabled
}

func buildPipeline(cfg *config.Config, backend store.ContextStore, gen providers.Generator) *pipeline {
	buf := buffer.New(cfg.Buffer.Capacity, cfg.BufferTTL())
	contexts := chanctx.NewStore(backend, cfg.ToThresholds())
	rules := judge.NewRuleJudge(cfg.ToJudgeConfig())

	var llm *judge.LLMJudge
	if cfg.LLMJudgeEnabled() {
		llm = judge.NewLLMJudge(gen)
	}
	var sum *summarizer.Summarizer
	if cfg.SummarizerEnabled() {
		sum = summarizer.New(gen, contexts, cfg.ToSummarizerConfig())
	}

	eng := engage.New(engage.Deps{
		Buffer:     buf,
		Contexts:   contexts,
		Rules:      rules,
		LLM:        llm,
		Summarizer: sum,
		Responder:  engage.NewResponder(gen, cfg.Bot.Persona),
	}, cfg.ToEngageConfig())

	return &pipeline{engine: eng, rules: rules, summarizer: sum}
}

// reload applies tuning from a changed config file. Credentials, store and
// channel settings need a restart.
func (p *pipeline) reload(cfg *config.Config) {
	p.rules.SetConfig(cfg.ToJudgeConfig())
	p.engine.SetConfig(cfg.ToEngageConfig())
	slog.Info("engagement tuning reloaded", "threshold", cfg.Judge.Threshold, "llm_per_minute", cfg.Engage.LLMPerMinute)
}

func registerChannels(mgr *channels.Manager, cfg *config.Config, handler channels.Handler) error {
	names := cfg.Bot.Names()

	if dc := cfg.Channels.Discord; dc.Enabled && dc.Token != "" {
		ch, err := discord.New(dc, handler, names)
		if err != nil {
			return err
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	if tc := cfg.Channels.Telegram; tc.Enabled && tc.Token != "" {
		ch, err := telegram.New(tc, handler, names)
		if err != nil {
			return err
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	return nil
}

// watchConfig runs the hot-reload watcher. A watcher failure only disables
// reloading; the daemon keeps running.
func watchConfig(ctx context.Context, path string, onChange func(*config.Config)) {
	if err := config.Watch(ctx, path, onChange); err != nil {
		slog.Warn("config hot reload disabled", "path", path, "error", err)
	}
}

func runDaemon() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	gen, err := newGenerator(cfg)
	if err != nil {
		return fmt.Errorf("provider: %w (run `chimein onboard` to configure)", err)
	}

	backend, err := openContextStore(cfg.ToStoreConfig())
	if err != nil {
		return fmt.Errorf("open context store: %w", err)
	}
	defer backend.Close()

	p := buildPipeline(cfg, backend, gen)

	mgr := channels.NewManager()
	if err := registerChannels(mgr, cfg, p.engine); err != nil {
		return err
	}
	if len(mgr.GetEnabledChannels()) == 0 {
		return errors.New("no channels enabled: set CHIMEIN_DISCORD_TOKEN or CHIMEIN_TELEGRAM_TOKEN")
	}
	if err := mgr.StartAll(ctx); err != nil {
		return err
	}

	slog.Info("chimein running",
		"version", Version,
		"channels", mgr.GetEnabledChannels(),
		"provider", cfg.Providers.Default,
		"store", cfg.Store.Driver,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runSweeper(gctx, cfg.Maintenance.SweepSchedule, p.engine)
	})
	g.Go(func() error {
		watchConfig(gctx, cfgPath, p.reload)
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("background task failed", "error", err)
	}

	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = mgr.StopAll(sctx)
	if p.summarizer != nil {
		if err := p.summarizer.Wait(sctx); err != nil {
			slog.Warn("summaries still running at shutdown", "error", err)
		}
	}
	return nil
}
