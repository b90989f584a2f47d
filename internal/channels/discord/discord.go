package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/channels"
	"github.com/nextlevelbuilder/chimein/internal/config"
	"github.com/nextlevelbuilder/chimein/internal/judge"
)

const maxMessageLen = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string // populated on start
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, handler channels.Handler, botNames []string) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", handler, cfg.AllowFrom, botNames),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Reply sends text to a channel, threading the first chunk to replyToID.
// It returns the ID of the first sent message.
func (c *Channel) Reply(_ context.Context, channelID, replyToID, text string) (string, error) {
	if !c.IsRunning() {
		return "", fmt.Errorf("discord bot not running")
	}
	local := c.LocalID(channelID)

	var firstID string
	for i, chunk := range channels.SplitMessage(text, maxMessageLen) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && replyToID != "" {
			send.Reference = &discordgo.MessageReference{MessageID: replyToID, ChannelID: local}
		}
		sent, err := c.session.ChannelMessageSendComplex(local, send)
		if err != nil {
			return firstID, fmt.Errorf("send discord message: %w", err)
		}
		if i == 0 {
			firstID = sent.ID
		}
	}
	return firstID, nil
}

// React adds an emoji reaction to a message.
func (c *Channel) React(_ context.Context, channelID, messageID, emoji string) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if err := c.session.MessageReactionAdd(c.LocalID(channelID), messageID, emoji); err != nil {
		return fmt.Errorf("add discord reaction: %w", err)
	}
	return nil
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Own replies are recorded by the engine when sent.
	if m.Author == nil || m.Author.ID == c.botUserID {
		return
	}

	msg, sig := toChannelMessage(m, c.botUserID, c.BotNames())

	slog.Debug("discord message received",
		"sender_id", msg.AuthorID,
		"channel_id", m.ChannelID,
		"is_bot", msg.IsBot,
		"preview", channels.Truncate(msg.Content, 50),
	)

	c.HandleMessage(context.Background(), msg, sig, c)
}

// toChannelMessage converts a gateway event into a buffered message and its
// addressing signals. DMs count as mentions.
func toChannelMessage(m *discordgo.MessageCreate, botUserID string, botNames []string) (buffer.ChannelMessage, judge.Signals) {
	content := m.Content
	if botUserID != "" && len(botNames) > 0 {
		content = strings.ReplaceAll(content, "<@"+botUserID+">", "@"+botNames[0])
		content = strings.ReplaceAll(content, "<@!"+botUserID+">", "@"+botNames[0])
	}

	attachments := make([]string, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		attachments = append(attachments, att.URL)
	}

	msg := buffer.ChannelMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		AuthorName:  resolveDisplayName(m),
		Content:     content,
		CreatedAt:   m.Timestamp,
		IsBot:       m.Author.Bot,
		Attachments: attachments,
	}

	var sig judge.Signals
	for _, u := range m.Mentions {
		if u != nil && u.ID == botUserID {
			sig.Mentioned = true
			break
		}
	}
	if m.GuildID == "" {
		sig.Mentioned = true
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && ref.Author.ID == botUserID {
		sig.ReplyToBot = true
	}
	sig.NameCalled = channels.NameCalled(content, botNames)
	return msg, sig
}

// resolveDisplayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
