package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/chimein/internal/providers"
)

const llmJudgePrompt = `You are deciding whether %[1]s, an assistant sitting in a group chat, should join the conversation.

Recent conversation:
%[2]s

New message:
%[3]s

Answer yes only if %[1]s has something genuinely useful or welcome to add. Staying quiet is the safe default.
Reply with a JSON object: {"respond": true or false, "reason": "<one short sentence>"}`

// JudgeReply is the JSON shape the classifier is asked to return.
type JudgeReply struct {
	Respond *bool  `json:"respond"`
	Reason  string `json:"reason"`
}

// Verdict is the LLMJudge decision. Mode is set only when Respond is true.
type Verdict struct {
	Respond bool         `json:"respond"`
	Mode    ResponseMode `json:"mode"`
	Reason  string       `json:"reason"`
}

// LLMJudge asks a language model about messages the rule judge found ambiguous.
// Every failure resolves to "do not respond".
type LLMJudge struct {
	gen providers.Generator
}

// NewLLMJudge creates a classifier backed by gen.
func NewLLMJudge(gen providers.Generator) *LLMJudge {
	return &LLMJudge{gen: gen}
}

// Evaluate issues one generation call and interprets the reply.
func (j *LLMJudge) Evaluate(ctx context.Context, content, recentContext, botName string) Verdict {
	ctx, span := otel.Tracer("chimein/judge").Start(ctx, "llm_judge.evaluate")
	defer span.End()

	if recentContext == "" {
		recentContext = "(no recent messages)"
	}
	prompt := fmt.Sprintf(llmJudgePrompt, botName, recentContext, content)

	text, err := j.gen.Generate(ctx, prompt, providers.FormatJSON)
	if err != nil {
		slog.Warn("llm judge: generate failed", "error", err)
		span.SetAttributes(attribute.Bool("respond", false))
		return Verdict{Reason: "generation failed"}
	}

	v := interpretReply(text)
	span.SetAttributes(attribute.Bool("respond", v.Respond))
	slog.Debug("llm judge verdict", "respond", v.Respond, "reason", v.Reason)
	return v
}

func interpretReply(text string) Verdict {
	reply, err := ParseJudgeReply(text)
	if err != nil {
		// Salvage a non-JSON answer that still says "true".
		if strings.TrimSpace(text) != "" && strings.Contains(strings.ToLower(text), "true") {
			slog.Warn("llm judge: unparseable reply, salvaged as yes", "error", err)
			return Verdict{Respond: true, Mode: ModeFullResponse, Reason: "salvaged from text"}
		}
		slog.Warn("llm judge: unparseable reply", "error", err)
		return Verdict{Reason: "unparseable reply"}
	}

	if reply.Respond == nil || !*reply.Respond {
		return Verdict{Reason: reply.Reason}
	}
	return Verdict{Respond: true, Mode: ModeFullResponse, Reason: reply.Reason}
}

// ParseJudgeReply decodes the classifier JSON, tolerating code fences and
// surrounding prose.
func ParseJudgeReply(text string) (JudgeReply, error) {
	var reply JudgeReply
	obj, err := providers.ExtractJSONObject(text)
	if err != nil {
		return reply, err
	}
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return reply, fmt.Errorf("decode judge reply: %w", err)
	}
	return reply, nil
}
