// Package channels connects chat platforms (Discord, Telegram) to the
// engagement engine. Each adapter converts platform events into
// buffer.ChannelMessage values plus judge.Signals, and acts as the engine's
// engage.Sink for replies and reactions.
package channels

import (
	"context"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/engage"
	"github.com/nextlevelbuilder/chimein/internal/judge"
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// Handler consumes inbound messages. *engage.Engine satisfies it.
type Handler interface {
	HandleInbound(ctx context.Context, msg buffer.ChannelMessage, sig judge.Signals, sink engage.Sink) engage.Decision
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	handler   Handler
	running   atomic.Bool
	allowList []string
	botNames  []string
}

// NewBaseChannel creates a new BaseChannel. allowList holds platform chat IDs;
// empty means every chat. botNames are matched for name-called detection.
func NewBaseChannel(name string, handler Handler, allowList, botNames []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		handler:   handler,
		allowList: allowList,
		botNames:  botNames,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// BotNames returns the names the bot answers to.
func (c *BaseChannel) BotNames() []string { return c.botNames }

// IsAllowed checks if a platform chat is permitted by the allowlist.
// Empty allowlist means all chats are allowed.
func (c *BaseChannel) IsAllowed(chatID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if strings.TrimSpace(allowed) == chatID {
			return true
		}
	}
	return false
}

// Key namespaces a platform chat ID so channels from different platforms never collide.
func (c *BaseChannel) Key(chatID string) string { return c.name + ":" + chatID }

// LocalID strips the platform prefix added by Key.
func (c *BaseChannel) LocalID(key string) string {
	return strings.TrimPrefix(key, c.name+":")
}

// HandleMessage namespaces the message's channel ID and hands it to the engine.
// msg.ChannelID must hold the platform chat ID.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg buffer.ChannelMessage, sig judge.Signals, sink engage.Sink) {
	if !c.IsAllowed(msg.ChannelID) {
		return
	}
	msg.ChannelID = c.Key(msg.ChannelID)
	c.handler.HandleInbound(ctx, msg, sig, sink)
}

// NameCalled reports whether any of names appears in text as a whole word,
// ignoring case.
func NameCalled(text string, names []string) bool {
	lower := strings.ToLower(text)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		for start := 0; ; {
			i := strings.Index(lower[start:], n)
			if i < 0 {
				break
			}
			i += start
			end := i + len(n)
			if isBoundary(lower, i-1) && isBoundary(lower, end) {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	if r >= 0x80 {
		return false
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// SplitMessage breaks content into chunks of at most maxLen bytes, preferring
// newline boundaries in the second half of a chunk.
func SplitMessage(content string, maxLen int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= maxLen {
			chunks = append(chunks, content)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		for cutAt > 0 && !utf8RuneStart(content[cutAt]) {
			cutAt--
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	return chunks
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Truncate shortens s to at most maxWidth terminal cells, appending "..." if truncated.
func Truncate(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return runewidth.Truncate(s, maxWidth, "...")
}
