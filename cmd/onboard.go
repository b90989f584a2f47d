package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chimein/internal/config"
	"github.com/nextlevelbuilder/chimein/internal/providers"
	"github.com/nextlevelbuilder/chimein/internal/store"
)

// providerEnvKeys maps provider names to the env var holding their API key,
// in auto-detection order.
var providerEnvKeys = []struct{ name, envKey string }{
	{"anthropic", "CHIMEIN_ANTHROPIC_API_KEY"},
	{"openrouter", "CHIMEIN_OPENROUTER_API_KEY"},
	{"openai", "CHIMEIN_OPENAI_API_KEY"},
}

func onboardCmd() *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create a config file interactively (or from env with --auto)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if auto {
				return runAutoOnboard(cfgPath)
			}
			return runOnboard(cfgPath)
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "non-interactive setup from CHIMEIN_* environment variables")
	return cmd
}

// detectProvider returns the first provider with an API key in cfg.
func detectProvider(cfg *config.Config) string {
	for _, p := range providerEnvKeys {
		if providerAPIKey(cfg, p.name) != "" {
			return p.name
		}
	}
	return ""
}

func providerAPIKey(cfg *config.Config, name string) string {
	switch name {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey
	case "openai":
		return cfg.Providers.OpenAI.APIKey
	case "openrouter":
		return cfg.Providers.OpenRouter.APIKey
	}
	return ""
}

func runAutoOnboard(cfgPath string) error {
	fmt.Println("Auto-onboard: reading CHIMEIN_* environment variables...")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if providerAPIKey(cfg, cfg.Providers.Default) == "" {
		cfg.Providers.Default = detectProvider(cfg)
	}
	if cfg.Providers.Default == "" {
		return errors.New("no provider API key found in environment")
	}
	fmt.Printf("  Provider: %s\n", cfg.Providers.Default)

	if err := verifyProvider(cfg); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Config written to %s\n", cfgPath)
	return nil
}

func runOnboard(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	var (
		aliases    = strings.Join(cfg.Bot.Aliases, ", ")
		keywords   = strings.Join(cfg.Judge.Keywords, ", ")
		autonomous = strings.Join(cfg.Engage.AutonomousChannels, ", ")
		enableDisc = cfg.Channels.Discord.Enabled
		enableTele = cfg.Channels.Telegram.Enabled
	)
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Shown in chat and matched when people call the bot by name.").
				Value(&cfg.Bot.Name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Aliases").
				Description("Comma-separated nicknames.").
				Value(&aliases),
			huh.NewText().
				Title("Persona").
				Description("Optional style notes prepended to every reply prompt.").
				Value(&cfg.Bot.Persona),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
				).
				Value(&cfg.Providers.Default),
			huh.NewInput().
				Title("Model").
				Description("Leave empty for the provider default.").
				Value(&cfg.Providers.Model),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable Discord?").Value(&enableDisc),
			huh.NewConfirm().Title("Enable Telegram?").Value(&enableTele),
			huh.NewInput().
				Title("Autonomous channels").
				Description("Comma-separated keys like discord:123 or telegram:-100. Empty = all channels.").
				Value(&autonomous),
			huh.NewInput().
				Title("Expert topics").
				Description("Comma-separated keywords that make the bot more likely to join in.").
				Value(&keywords),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Context store").
				Options(
					huh.NewOption("JSON files", store.DriverFile),
					huh.NewOption("SQLite", store.DriverSQLite),
					huh.NewOption("Postgres (DSN from CHIMEIN_POSTGRES_DSN)", store.DriverPostgres),
				).
				Value(&cfg.Store.Driver),
			huh.NewInput().
				Title("Store path").
				Description("Directory for JSON files, or the SQLite database file.").
				Value(&cfg.Store.Path),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard cancelled: %w", err)
	}

	cfg.Bot.Aliases = splitCSV(aliases)
	cfg.Judge.Keywords = splitCSV(keywords)
	cfg.Engage.AutonomousChannels = splitCSV(autonomous)
	cfg.Channels.Discord.Enabled = enableDisc
	cfg.Channels.Telegram.Enabled = enableTele

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("\nConfig written to %s\n", cfgPath)

	printSecretHints(cfg)
	if providerAPIKey(cfg, cfg.Providers.Default) != "" {
		if err := verifyProvider(cfg); err != nil {
			fmt.Printf("Warning: %s\n", err)
		}
	}
	return nil
}

func printSecretHints(cfg *config.Config) {
	var missing []string
	for _, p := range providerEnvKeys {
		if p.name == cfg.Providers.Default && providerAPIKey(cfg, p.name) == "" {
			missing = append(missing, p.envKey)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		missing = append(missing, "CHIMEIN_DISCORD_TOKEN")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		missing = append(missing, "CHIMEIN_TELEGRAM_TOKEN")
	}
	if cfg.Store.Driver == store.DriverPostgres && cfg.Store.PostgresDSN == "" {
		missing = append(missing, "CHIMEIN_POSTGRES_DSN")
	}
	if len(missing) == 0 {
		return
	}
	fmt.Println("\nSecrets are read from the environment only. Set before starting:")
	for _, k := range missing {
		fmt.Printf("  export %s=...\n", k)
	}
}

// verifyProvider sends a one-token request to catch invalid keys early.
// Only 401/403 is treated as an error; other failures are printed as warnings.
func verifyProvider(cfg *config.Config) error {
	prov, err := newProvider(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err = prov.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Model:    cfg.Providers.Model,
		Options:  map[string]interface{}{providers.OptMaxTokens: 1},
	})
	if err == nil {
		fmt.Printf("  %s: OK\n", prov.Name())
		return nil
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) && (httpErr.Status == 401 || httpErr.Status == 403) {
		return fmt.Errorf("%s returned %d: invalid API key", prov.Name(), httpErr.Status)
	}
	fmt.Printf("  %s: WARNING %s\n", prov.Name(), err)
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
