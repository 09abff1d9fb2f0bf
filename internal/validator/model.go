package validator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sales-agent/internal/domain"
	"sales-agent/internal/script"
)

const (
	// ModelHistoryTurns bounds the transcript excerpt sent to the model.
	ModelHistoryTurns = 6
	ModelMaxTokens    = 150
	ModelTimeout      = 8 * time.Second
)

// Completer is the non-streaming chat call the model stage depends on.
type Completer interface {
	Complete(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int64) (string, error)
}

// ModelStage asks a language model for the decision. It is always
// confident: model failures resolve to advancing one step.
type ModelStage struct {
	llm     Completer
	catalog *script.Catalog
	model   string
	facts   string
	timeout time.Duration
}

// NewModelStage builds a stage that prompts model with the full script
// outline and the given pricing facts.
func NewModelStage(llm Completer, catalog *script.Catalog, model, facts string, timeout time.Duration) *ModelStage {
	if timeout <= 0 {
		timeout = ModelTimeout
	}
	return &ModelStage{llm: llm, catalog: catalog, model: model, facts: facts, timeout: timeout}
}

func (m *ModelStage) Evaluate(ctx context.Context, in Input) (Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.llm.Complete(ctx, m.model, m.messages(in), ModelMaxTokens)
	if err != nil {
		slog.Warn("validator: model call failed", "step", in.CurrentStep, "err", err)
		return advance(in.CurrentStep, "model validation unavailable; advancing"), true
	}
	res, err := ParseDecision(raw, in.CurrentStep)
	if err != nil {
		slog.Warn("validator: unparseable model decision", "step", in.CurrentStep, "err", err)
		return advance(in.CurrentStep, "model decision unreadable; advancing"), true
	}
	return res, true
}

const modelInstructions = `You judge whether a prospect's reply answers the current question of a scripted sales conversation.
Decide one action:
- NEXT: the reply answers the question well enough to move to the next step.
- STAY: the reply is vague, off-topic or a question back; ask again.
- JUMP: the prospect is ready to buy; go straight to step 13, 14 or 15.
Never move backwards. Never skip steps except with JUMP.

Respond with exactly three lines:
ACTION: NEXT|STAY|JUMP
NEXT_STEP: <step number>
REASONING: <one sentence>`

func (m *ModelStage) messages(in Input) []domain.ChatMessage {
	var sys strings.Builder
	sys.WriteString(modelInstructions)
	sys.WriteString("\n\nScript:\n")
	sys.WriteString(m.catalog.Outline())
	if facts := strings.TrimSpace(m.facts); facts != "" {
		sys.WriteString("\n\nPricing and links:\n")
		sys.WriteString(facts)
	}

	var user strings.Builder
	if recent := lastTurns(in.History, ModelHistoryTurns); len(recent) > 0 {
		user.WriteString("Recent conversation:\n")
		for _, msg := range recent {
			fmt.Fprintf(&user, "%s: %s\n", msg.Role, msg.Content)
		}
		user.WriteString("\n")
	}
	fmt.Fprintf(&user, "Current step: %d\nQuestion: %s\nReply: %s", in.CurrentStep, in.Question, in.Reply)

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: sys.String()},
		{Role: domain.RoleUser, Content: user.String()},
	}
}

func lastTurns(history []domain.ChatMessage, n int) []domain.ChatMessage {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

var (
	actionRe    = regexp.MustCompile(`(?im)^\s*ACTION\s*:\s*(NEXT|STAY|JUMP)\b`)
	nextStepRe  = regexp.MustCompile(`(?im)^\s*NEXT_STEP\s*:\s*(-?\d+)`)
	reasoningRe = regexp.MustCompile(`(?ims)^\s*REASONING\s*:\s*(.+)`)
)

// ParseDecision reads the three-line ACTION/NEXT_STEP/REASONING reply. A
// missing NEXT_STEP defaults from the action; a JUMP must name its target.
func ParseDecision(raw string, current int) (Result, error) {
	m := actionRe.FindStringSubmatch(raw)
	if m == nil {
		return Result{}, fmt.Errorf("no ACTION line in %q", raw)
	}
	res := Result{Action: Action(strings.ToUpper(m[1]))}

	if s := nextStepRe.FindStringSubmatch(raw); s != nil {
		n, err := strconv.Atoi(s[1])
		if err != nil {
			return Result{}, fmt.Errorf("parse NEXT_STEP %q: %w", s[1], err)
		}
		res.NextStep = n
	} else {
		switch res.Action {
		case ActionNext:
			res.NextStep = current + 1
		case ActionStay:
			res.NextStep = current
		default:
			return Result{}, fmt.Errorf("JUMP without NEXT_STEP")
		}
	}

	if r := reasoningRe.FindStringSubmatch(raw); r != nil {
		res.Reasoning = strings.TrimSpace(r[1])
	}
	return res, nil
}
