package chanctx

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestShouldSummarize(t *testing.T) {
	th := Thresholds{MessageCount: 20, Minutes: 30}
	tests := []struct {
		name    string
		count   int
		updated time.Time
		now     time.Time
		want    bool
	}{
		{"count reached just after update", 20, t0, t0, true},
		{"count above threshold", 35, t0, t0.Add(time.Minute), true},
		{"few messages, recent update", 3, t0, t0.Add(10 * time.Minute), false},
		{"few messages, stale update", 3, t0, t0.Add(31 * time.Minute), true},
		{"exactly at minutes threshold", 3, t0, t0.Add(30 * time.Minute), false},
		{"no messages, stale update", 0, t0, t0.Add(5 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ChannelContext{ChannelID: "c", LastUpdated: tt.updated, MessageCountSinceUpdate: tt.count}
			if got := c.ShouldSummarize(th, tt.now); got != tt.want {
				t.Errorf("ShouldSummarize(count=%d, elapsed=%v) = %v, want %v",
					tt.count, tt.now.Sub(tt.updated), got, tt.want)
			}
		})
	}
}

func TestFormatForInjection(t *testing.T) {
	tests := []struct {
		name string
		ctx  ChannelContext
		want string
	}{
		{
			name: "no summary",
			ctx:  ChannelContext{Mood: "happy", TopicKeywords: []string{"go"}},
			want: "",
		},
		{
			name: "summary only",
			ctx:  ChannelContext{Summary: "debugging a deploy"},
			want: "[Channel context]\nSummary: debugging a deploy",
		},
		{
			name: "all sections",
			ctx: ChannelContext{
				Summary:       "debugging a deploy",
				Mood:          "tense",
				TopicKeywords: []string{"k8s", "helm"},
				ActiveUsers:   []string{"alice", "bob"},
			},
			want: "[Channel context]\nSummary: debugging a deploy\nMood: tense\nTopics: k8s, helm\nActive users: alice, bob",
		},
		{
			name: "users without topics",
			ctx:  ChannelContext{Summary: "s", ActiveUsers: []string{"carol"}},
			want: "[Channel context]\nSummary: s\nActive users: carol",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.FormatForInjection(); got != tt.want {
				t.Errorf("FormatForInjection() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecordRoundTrip(t *testing.T) {
	zone := time.FixedZone("ICT", 7*3600)
	orig := ChannelContext{
		ChannelID:               "discord:99",
		Summary:                 "release planning",
		Mood:                    "focused",
		TopicKeywords:           []string{"release", "changelog"},
		ActiveUsers:             []string{"dana", "eli"},
		LastUpdated:             time.Date(2025, 3, 1, 19, 4, 5, 987654321, zone),
		MessageCountSinceUpdate: 4,
	}

	got, err := FromRecord(orig.ToRecord())
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if got.ChannelID != orig.ChannelID || got.Summary != orig.Summary || got.Mood != orig.Mood ||
		got.MessageCountSinceUpdate != orig.MessageCountSinceUpdate {
		t.Errorf("round trip = %+v, want %+v", got, orig)
	}
	if !got.LastUpdated.Equal(orig.LastUpdated) {
		t.Errorf("LastUpdated = %v, want same instant as %v", got.LastUpdated, orig.LastUpdated)
	}
	if len(got.TopicKeywords) != 2 || got.TopicKeywords[1] != "changelog" || len(got.ActiveUsers) != 2 || got.ActiveUsers[0] != "dana" {
		t.Errorf("lists = %v / %v", got.TopicKeywords, got.ActiveUsers)
	}

	rec := orig.ToRecord()
	rec.TopicKeywords[0] = "mutated"
	if orig.TopicKeywords[0] != "release" {
		t.Error("ToRecord shares list storage with the context")
	}
}

func TestFromRecordBadTimestamp(t *testing.T) {
	rec := New("c", t0).ToRecord()
	rec.LastUpdated = "yesterday"
	if _, err := FromRecord(rec); err == nil {
		t.Error("FromRecord accepted an invalid timestamp")
	}
}
