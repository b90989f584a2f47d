package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/chimein/internal/providers"
)

func TestLLMJudgeEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  bool
	}{
		{"json yes", `{"respond": true, "reason": "asked a question"}`, nil, true},
		{"json no", `{"respond": false, "reason": "private chat"}`, nil, false},
		{"missing respond", `{"reason": "unsure"}`, nil, false},
		{"fenced json", "```json\n{\"respond\": true, \"reason\": \"x\"}\n```", nil, true},
		{"prose around json", `Here you go: {"respond": true} thanks`, nil, true},
		{"salvaged text", "True, I think it should answer.", nil, true},
		{"unparseable no", "nope, stay quiet", nil, false},
		{"wrong type without true", `{"respond": "yes"}`, nil, false},
		{"generation error", "", errors.New("timeout"), false},
		{"generation error ignores text", "true", errors.New("503"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := providers.GeneratorFunc(func(ctx context.Context, prompt string, format providers.ResponseFormat) (string, error) {
				if format != providers.FormatJSON {
					t.Errorf("format = %q, want json", format)
				}
				return tt.reply, tt.err
			})
			got := NewLLMJudge(gen).Evaluate(context.Background(), "is anyone using nix?", "a: hi", "chimein")
			if got.Respond != tt.want {
				t.Errorf("Respond = %v, want %v (verdict %+v)", got.Respond, tt.want, got)
			}
			if got.Respond && got.Mode != ModeFullResponse {
				t.Errorf("Mode = %q, want full_response", got.Mode)
			}
			if !got.Respond && got.Mode != "" {
				t.Errorf("Mode = %q on a no", got.Mode)
			}
		})
	}
}

func TestLLMJudgePrompt(t *testing.T) {
	var prompt string
	gen := providers.GeneratorFunc(func(ctx context.Context, p string, _ providers.ResponseFormat) (string, error) {
		prompt = p
		return `{"respond": false}`, nil
	})
	j := NewLLMJudge(gen)

	j.Evaluate(context.Background(), "what's the best editor?", "alice: vim\nbob: emacs", "chimein")
	for _, want := range []string{"chimein", "what's the best editor?", "alice: vim\nbob: emacs", `"respond"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	j.Evaluate(context.Background(), "hello", "", "chimein")
	if !strings.Contains(prompt, "(no recent messages)") {
		t.Errorf("empty context not labelled:\n%s", prompt)
	}
}

func TestParseJudgeReply(t *testing.T) {
	reply, err := ParseJudgeReply(`{"respond": true, "reason": "on topic"}`)
	if err != nil {
		t.Fatalf("ParseJudgeReply: %v", err)
	}
	if reply.Respond == nil || !*reply.Respond || reply.Reason != "on topic" {
		t.Errorf("reply = %+v", reply)
	}

	reply, err = ParseJudgeReply(`{"reason": "x"}`)
	if err != nil {
		t.Fatalf("ParseJudgeReply: %v", err)
	}
	if reply.Respond != nil {
		t.Errorf("Respond = %v, want nil when absent", *reply.Respond)
	}

	if _, err := ParseJudgeReply("no json"); err == nil {
		t.Error("expected error for reply without an object")
	}
}
