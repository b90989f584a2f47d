package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

const botID = "999"

func newEvent(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}}
}

func TestToChannelMessage_Signals(t *testing.T) {
	names := []string{"Chime"}

	mention := newEvent("<@999> what do you think")
	mention.Mentions = []*discordgo.User{{ID: botID}}

	reply := newEvent("sure")
	reply.ReferencedMessage = &discordgo.Message{Author: &discordgo.User{ID: botID}}

	dm := newEvent("hi")
	dm.GuildID = ""

	tests := []struct {
		name                   string
		ev                     *discordgo.MessageCreate
		mention, reply, called bool
	}{
		{"plain", newEvent("lunch anyone"), false, false, false},
		{"mention", mention, true, false, true},
		{"reply to bot", reply, false, true, false},
		{"name called", newEvent("chime, thoughts?"), false, false, true},
		{"dm", dm, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, sig := toChannelMessage(tt.ev, botID, names)
			if sig.Mentioned != tt.mention || sig.ReplyToBot != tt.reply || sig.NameCalled != tt.called {
				t.Errorf("signals = %+v, want mention=%v reply=%v called=%v", sig, tt.mention, tt.reply, tt.called)
			}
		})
	}
}

func TestToChannelMessage_Fields(t *testing.T) {
	ev := newEvent("<@999> look at this")
	ev.Member = &discordgo.Member{Nick: "Ally"}
	ev.Attachments = []*discordgo.MessageAttachment{{URL: "https://cdn.example/a.png"}}

	msg, _ := toChannelMessage(ev, botID, []string{"Chime"})
	if msg.Content != "@Chime look at this" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.AuthorName != "Ally" {
		t.Errorf("author name = %q, want nickname", msg.AuthorName)
	}
	if msg.ChannelID != "c1" || msg.ID != "m1" || msg.AuthorID != "u1" {
		t.Errorf("ids = %+v", msg)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0] != "https://cdn.example/a.png" {
		t.Errorf("attachments = %v", msg.Attachments)
	}
	if !msg.CreatedAt.Equal(ev.Timestamp) {
		t.Errorf("created at = %v", msg.CreatedAt)
	}
}

func TestToChannelMessage_OtherBot(t *testing.T) {
	ev := newEvent("beep")
	ev.Author.Bot = true
	msg, _ := toChannelMessage(ev, botID, nil)
	if !msg.IsBot {
		t.Error("IsBot = false for bot author")
	}
}
