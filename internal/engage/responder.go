package engage

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/chimein/internal/buffer"
	"github.com/nextlevelbuilder/chimein/internal/judge"
	"github.com/nextlevelbuilder/chimein/internal/providers"
)

const (
	DefaultReactionEmoji = "👍"
	DefaultQuestionEmoji = "🤔"
)

// Reply is what the assistant sends: either text or a single reaction emoji.
type Reply struct {
	Text  string
	Emoji string
}

// Prompt carries everything reply generation may use.
type Prompt struct {
	BotName       string
	Mode          judge.ResponseMode
	Message       buffer.ChannelMessage
	ChannelDigest string // chanctx FormatForInjection output, may be empty
	Recent        string // buffer ContextString output, may be empty
}

// Responder turns an admitted decision into a reply.
type Responder struct {
	gen     providers.Generator
	persona string
}

// NewResponder creates a responder. persona is prepended to every text prompt.
func NewResponder(gen providers.Generator, persona string) *Responder {
	return &Responder{gen: gen, persona: strings.TrimSpace(persona)}
}

// Compose builds the reply for p.Mode. Reactions need no model call.
func (r *Responder) Compose(ctx context.Context, p Prompt) (Reply, error) {
	if p.Mode == judge.ModeReactOnly {
		return Reply{Emoji: pickReaction(p.Message.Content)}, nil
	}

	text, err := r.gen.Generate(ctx, r.buildPrompt(p), providers.FormatText)
	if err != nil {
		return Reply{}, fmt.Errorf("compose %s: %w", p.Mode, err)
	}
	return Reply{Text: text}, nil
}

func (r *Responder) buildPrompt(p Prompt) string {
	var sb strings.Builder
	if r.persona != "" {
		sb.WriteString(r.persona)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "You are %s, a participant in a group chat.\n", p.BotName)

	if p.ChannelDigest != "" {
		sb.WriteString("\n")
		sb.WriteString(p.ChannelDigest)
		sb.WriteString("\n")
	}
	if p.Recent != "" {
		sb.WriteString("\nRecent messages:\n")
		sb.WriteString(p.Recent)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nReply to this message from %s:\n%s\n\n", p.Message.DisplayName(), p.Message.Content)

	if p.Mode == judge.ModeShortAck {
		sb.WriteString("Keep it to one short, casual sentence (under 15 words). No questions back.")
	} else {
		sb.WriteString("Answer naturally and helpfully, matching the tone of the chat. Plain text only.")
	}
	return sb.String()
}

func pickReaction(content string) string {
	c := strings.TrimSpace(content)
	if strings.HasSuffix(c, "?") || strings.HasSuffix(c, "？") {
		return DefaultQuestionEmoji
	}
	return DefaultReactionEmoji
}
