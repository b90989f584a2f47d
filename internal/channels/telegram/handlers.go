package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/channels"
	"github.com/nextlevelbuilder/chimein/internal/judge"
)

// handleMessage processes an incoming Telegram message. The engine may call a
// model, so each message is handled off the polling goroutine.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	// Skip service messages (member added/removed, title changed, etc.).
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped",
			"chat_id", message.Chat.ID,
			"new_members", len(message.NewChatMembers),
			"left_member", message.LeftChatMember != nil,
		)
		return
	}

	user := message.From
	if user == nil {
		return
	}
	botUsername := c.bot.Username()
	// Own replies are recorded by the engine when sent.
	if user.IsBot && strings.EqualFold(user.Username, botUsername) {
		return
	}

	msg, sig := toChannelMessage(message, botUsername, c.BotNames())

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", message.Chat.ID,
		"user_id", user.ID,
		"username", user.Username,
		"text_preview", channels.Truncate(msg.Content, 60),
	)

	go c.HandleMessage(ctx, msg, sig, c)
}

// toChannelMessage converts a Telegram message into a buffered message and its
// addressing signals. Private chats count as mentions.
func toChannelMessage(message *telego.Message, botUsername string, botNames []string) (buffer.ChannelMessage, judge.Signals) {
	user := message.From

	content := message.Text
	if content == "" {
		content = message.Caption
	}

	msg := buffer.ChannelMessage{
		ID:          strconv.Itoa(message.MessageID),
		ChannelID:   strconv.FormatInt(message.Chat.ID, 10),
		AuthorID:    strconv.FormatInt(user.ID, 10),
		AuthorName:  displayName(user),
		Content:     content,
		CreatedAt:   time.Unix(message.Date, 0),
		IsBot:       user.IsBot,
		Attachments: mediaKinds(message),
	}

	sig := judge.Signals{
		Mentioned:  detectMention(message, botUsername) || message.Chat.Type == "private",
		NameCalled: channels.NameCalled(content, botNames),
	}
	if reply := message.ReplyToMessage; reply != nil && reply.From != nil && botUsername != "" {
		sig.ReplyToBot = strings.EqualFold(reply.From.Username, botUsername)
	}
	return msg, sig
}

// detectMention checks if the message @mentions the bot in text or caption.
func detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	target := "@" + strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			if entity.Type != "mention" && entity.Type != "bot_command" {
				continue
			}
			end := entity.Offset + entity.Length
			if entity.Offset < 0 || end > len(pair.text) {
				continue
			}
			if strings.Contains(strings.ToLower(pair.text[entity.Offset:end]), target) {
				return true
			}
		}
		// Entity offsets are UTF-16 based, so fall back to a substring check.
		if strings.Contains(strings.ToLower(pair.text), target) {
			return true
		}
	}
	return false
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}

// mediaKinds lists the media types carried by a message.
func mediaKinds(msg *telego.Message) []string {
	var kinds []string
	add := func(present bool, kind string) {
		if present {
			kinds = append(kinds, kind)
		}
	}
	add(len(msg.Photo) > 0, "photo")
	add(msg.Audio != nil, "audio")
	add(msg.Video != nil, "video")
	add(msg.Document != nil, "document")
	add(msg.Voice != nil, "voice")
	add(msg.Sticker != nil, "sticker")
	add(msg.Animation != nil, "animation")
	return kinds
}

// isServiceMessage reports messages with no user content (member joins,
// title changes, pins).
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	return true
}
