package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/config"
	"github.com/nextlevelbuilder/chimein/internal/judge"
)

const dryRunChannel = "cli:dry-run"

// judgeReport is the JSON printed by `chimein judge`.
type judgeReport struct {
	Rules judge.Result   `json:"rules"`
	LLM   *judge.Verdict `json:"llm,omitempty"`
}

func judgeCmd() *cobra.Command {
	var (
		transcript string
		author     string
		mentioned  bool
		nameCalled bool
		replyToBot bool
		useLLM     bool
	)
	cmd := &cobra.Command{
		Use:   "judge <message>",
		Short: "Score a message with the current judge settings (dry run, nothing is sent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			recent, err := loadTranscript(transcript, time.Now())
			if err != nil {
				return err
			}
			msg := buffer.ChannelMessage{
				ID:         "dry-run",
				ChannelID:  dryRunChannel,
				AuthorID:   author,
				AuthorName: author,
				Content:    args[0],
				CreatedAt:  time.Now(),
			}
			recent = append(recent, msg)

			sig := judge.Signals{Mentioned: mentioned, NameCalled: nameCalled, ReplyToBot: replyToBot}
			report := judgeReport{Rules: judge.NewRuleJudge(cfg.ToJudgeConfig()).Evaluate(msg, recent, sig)}

			if useLLM {
				gen, err := newGenerator(cfg)
				if err != nil {
					return err
				}
				v := judge.NewLLMJudge(gen).Evaluate(context.Background(), msg.Content, buffer.FormatLines(recent), cfg.Bot.Name)
				report.LLM = &v
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&transcript, "transcript", "", "JSON file with an array of prior messages (oldest first)")
	cmd.Flags().StringVar(&author, "author", "user", "author name of the scored message")
	cmd.Flags().BoolVar(&mentioned, "mention", false, "treat the message as an @mention")
	cmd.Flags().BoolVar(&nameCalled, "name-called", false, "treat the message as calling the bot by name")
	cmd.Flags().BoolVar(&replyToBot, "reply", false, "treat the message as a reply to the bot")
	cmd.Flags().BoolVar(&useLLM, "llm", false, "also ask the LLM judge")
	return cmd
}

// loadTranscript reads prior messages for a dry run. Messages without a
// timestamp are spaced one minute apart ending just before now.
func loadTranscript(path string, now time.Time) ([]buffer.ChannelMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	var msgs []buffer.ChannelMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	for i := range msgs {
		msgs[i].ChannelID = dryRunChannel
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now.Add(-time.Duration(len(msgs)-i) * time.Minute)
		}
	}
	return msgs, nil
}
