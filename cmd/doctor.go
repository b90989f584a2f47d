package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chimein/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and the context store",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("chimein doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Providers:")
	fmt.Printf("    %-12s %s\n", "Default:", cfg.Providers.Default)
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	if _, err := newProvider(cfg); err != nil {
		fmt.Printf("    %-12s %s\n", "Status:", err)
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")

	fmt.Println()
	fmt.Println("  Context store:")
	sc := cfg.ToStoreConfig()
	fmt.Printf("    %-12s %s\n", "Driver:", sc.Driver)
	if sc.Path != "" {
		fmt.Printf("    %-12s %s\n", "Path:", sc.Path)
	}
	if s, err := openContextStore(sc); err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		recs, listErr := s.List(ctx)
		cancel()
		s.Close()
		if listErr != nil {
			fmt.Printf("    %-12s LIST FAILED (%s)\n", "Status:", listErr)
		} else {
			fmt.Printf("    %-12s OK (%d channels)\n", "Status:", len(recs))
		}
	}

	fmt.Println()
	fmt.Println("  Engagement:")
	jc := cfg.ToJudgeConfig()
	fmt.Printf("    %-12s %s\n", "Bot names:", strings.Join(cfg.Bot.Names(), ", "))
	fmt.Printf("    %-12s admit >= %d, llm > %d\n", "Thresholds:", jc.Threshold, jc.LLMFloor)
	fmt.Printf("    %-12s %v\n", "LLM judge:", cfg.LLMJudgeEnabled())
	fmt.Printf("    %-12s %v\n", "Summaries:", cfg.SummarizerEnabled())
	schedule := cfg.Maintenance.SweepSchedule
	if schedule == "" {
		schedule = config.DefaultSweepSchedule
	}
	if gronx.New().IsValid(schedule) {
		fmt.Printf("    %-12s %s\n", "Sweep:", schedule)
	} else {
		fmt.Printf("    %-12s %s (INVALID)\n", "Sweep:", schedule)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", maskKey(apiKey))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
