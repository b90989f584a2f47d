package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/chimein/internal/config"
	"github.com/nextlevelbuilder/chimein/internal/providers"
	"github.com/nextlevelbuilder/chimein/internal/store"
	"github.com/nextlevelbuilder/chimein/internal/store/file"
	"github.com/nextlevelbuilder/chimein/internal/store/pg"
	"github.com/nextlevelbuilder/chimein/internal/store/sqlite"
)

const (
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenRouterModel = "anthropic/claude-haiku-4.5"
	openRouterAPIBase      = "https://openrouter.ai/api/v1"
)

// openContextStore opens the channel context backend selected by cfg.
func openContextStore(cfg store.StoreConfig) (store.ContextStore, error) {
	switch cfg.Driver {
	case "", store.DriverFile:
		return file.NewFileContextStore(cfg.Path)
	case store.DriverSQLite:
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "contexts.db")
		}
		return sqlite.Open(path)
	case store.DriverPostgres:
		db, err := pg.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return pg.NewPGContextStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newProvider builds the model backend named by cfg.Providers.Default.
func newProvider(cfg *config.Config) (providers.Provider, error) {
	p := cfg.Providers
	switch p.Default {
	case "", "anthropic":
		if p.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("CHIMEIN_ANTHROPIC_API_KEY is not set")
		}
		opts := []providers.AnthropicOption{}
		if p.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(p.Anthropic.APIBase))
		}
		if p.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(p.Model))
		}
		return providers.NewAnthropicProvider(p.Anthropic.APIKey, opts...), nil
	case "openai":
		if p.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("CHIMEIN_OPENAI_API_KEY is not set")
		}
		return providers.NewOpenAIProvider("openai", p.OpenAI.APIKey, p.OpenAI.APIBase, defaultOpenAIModel), nil
	case "openrouter":
		if p.OpenRouter.APIKey == "" {
			return nil, fmt.Errorf("CHIMEIN_OPENROUTER_API_KEY is not set")
		}
		base := p.OpenRouter.APIBase
		if base == "" {
			base = openRouterAPIBase
		}
		return providers.NewOpenAIProvider("openrouter", p.OpenRouter.APIKey, base, defaultOpenRouterModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Default)
	}
}

// newGenerator wraps the configured provider with the shared model settings.
func newGenerator(cfg *config.Config) (providers.Generator, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return providers.NewGenerator(p, cfg.Providers.Model, cfg.Providers.MaxTokens, cfg.Providers.Temperature), nil
}
