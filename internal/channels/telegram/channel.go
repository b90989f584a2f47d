package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/chimein/internal/channels"
	"github.com/nextlevelbuilder/chimein/internal/config"
)

const maxMessageLen = 4096

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, handler channels.Handler, botNames []string) (*Channel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", handler, cfg.AllowFrom, botNames),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	// Stop() cancels this context to shut down long polling.
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message == nil {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
					continue
				}
				c.handleMessage(pollCtx, update.Message)
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Telegram holds the getUpdates lock until the poller exits.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}

	return nil
}

// Reply sends text to a chat, quoting replyToID on the first chunk.
// It returns the ID of the first sent message.
func (c *Channel) Reply(ctx context.Context, channelID, replyToID, text string) (string, error) {
	if !c.IsRunning() {
		return "", fmt.Errorf("telegram bot not running")
	}
	chatID, err := parseChatID(c.LocalID(channelID))
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", channelID, err)
	}

	var firstID string
	for i, chunk := range channels.SplitMessage(text, maxMessageLen) {
		msg := tu.Message(tu.ID(chatID), chunk)
		if i == 0 && replyToID != "" {
			if id, convErr := strconv.Atoi(replyToID); convErr == nil {
				msg.ReplyParameters = &telego.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true}
			}
		}
		sent, err := c.bot.SendMessage(ctx, msg)
		if err != nil {
			return firstID, fmt.Errorf("send telegram message: %w", err)
		}
		if i == 0 {
			firstID = strconv.Itoa(sent.MessageID)
		}
	}
	return firstID, nil
}

// React sets an emoji reaction on a message.
func (c *Channel) React(ctx context.Context, channelID, messageID, emoji string) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}
	chatID, err := parseChatID(c.LocalID(channelID))
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", channelID, err)
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}

	err = c.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: id,
		Reaction: []telego.ReactionType{
			&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
		},
	})
	if err != nil {
		return fmt.Errorf("set telegram reaction: %w", err)
	}
	return nil
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	return strconv.ParseInt(chatIDStr, 10, 64)
}
