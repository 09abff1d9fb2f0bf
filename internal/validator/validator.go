// Package validator decides, turn by turn, whether a reply lets the sales
// script move on.
package validator

import (
	"context"
	"fmt"
	"log/slog"

	"sales-agent/internal/domain"
	"sales-agent/internal/script"
)

// Action is the validator's verdict for a turn.
type Action string

const (
	ActionNext Action = "NEXT"
	ActionStay Action = "STAY"
	ActionJump Action = "JUMP"
)

// AtomicCloseStep is the first step of the forced-progression zone.
const AtomicCloseStep = 13

// Result is one turn's decision.
type Result struct {
	Action    Action
	NextStep  int
	Reasoning string
}

// Input is everything a stage may look at.
type Input struct {
	CurrentStep int
	Question    string
	Reply       string
	History     []domain.ChatMessage
}

// Stage produces a candidate decision. The bool reports whether the stage is
// confident; an unconfident result is discarded.
type Stage interface {
	Evaluate(ctx context.Context, in Input) (Result, bool)
}

// Validator runs the fixed pipeline: atomic close, circuit breaker, fast
// stage, optional slow stage, then safety clamps.
type Validator struct {
	fast Stage
	slow Stage
}

type Option func(*Validator)

// WithSlowStage sets the stage consulted when the fast stage is not confident.
func WithSlowStage(s Stage) Option {
	return func(v *Validator) {
		v.slow = s
	}
}

// WithFastStage replaces the heuristic stage.
func WithFastStage(s Stage) Option {
	return func(v *Validator) {
		v.fast = s
	}
}

// New builds a Validator whose fast stage applies the heuristics for catalog.
func New(catalog *script.Catalog, opts ...Option) (*Validator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("validator: catalog must not be nil")
	}
	v := &Validator{fast: NewHeuristicStage(catalog)}
	for _, opt := range opts {
		opt(v)
	}
	if v.fast == nil {
		return nil, fmt.Errorf("validator: fast stage must not be nil")
	}
	return v, nil
}

// Validate never fails: every error path resolves to advancing one step.
func (v *Validator) Validate(ctx context.Context, in Input) (res Result) {
	current := in.CurrentStep
	if current < 0 || current > domain.FinalStep {
		slog.Warn("validator: current step out of range", "step", current)
		current = max(0, min(current, domain.FinalStep))
		in.CurrentStep = current
	}
	if current == domain.FinalStep {
		return Result{Action: ActionNext, NextStep: domain.FinalStep, Reasoning: "terminal step"}
	}
	if current >= AtomicCloseStep {
		return Result{Action: ActionNext, NextStep: current + 1, Reasoning: "atomic close"}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("validator: recovered from panic", "step", current, "panic", r)
			res = advance(current, "validation failed; advancing")
		}
	}()

	if n := Repetitions(in.Question, in.History); n >= RepetitionLimit {
		slog.Warn("validator: circuit breaker tripped", "step", current, "repetitions", n)
		return advance(current, fmt.Sprintf("circuit breaker: question already asked %d times", n))
	}

	candidate, ok := v.fast.Evaluate(ctx, in)
	if !ok && v.slow != nil {
		candidate, ok = v.slow.Evaluate(ctx, in)
	}
	if !ok {
		return advance(current, "no confident decision; advancing")
	}
	return clamp(current, candidate)
}

func advance(current int, reason string) Result {
	return Result{Action: ActionNext, NextStep: min(current+1, domain.FinalStep), Reasoning: reason}
}

// clamp enforces the step invariants on a candidate decision.
func clamp(current int, r Result) Result {
	if r.NextStep < current {
		slog.Warn("validator: backward step clamped", "step", current, "action", r.Action, "next", r.NextStep)
		return advance(current, r.Reasoning)
	}
	switch r.Action {
	case ActionStay:
		if r.NextStep != current {
			slog.Warn("validator: stay with moved step clamped", "step", current, "next", r.NextStep)
			r.NextStep = current
		}
	case ActionJump:
		if r.NextStep < AtomicCloseStep || r.NextStep > domain.FinalStep || r.NextStep <= current {
			slog.Warn("validator: illegal jump downgraded", "step", current, "next", r.NextStep)
			return advance(current, r.Reasoning)
		}
	case ActionNext:
		if r.NextStep != current+1 {
			slog.Warn("validator: next with skipped steps clamped", "step", current, "next", r.NextStep)
			r.NextStep = current + 1
		}
	default:
		slog.Warn("validator: unknown action", "step", current, "action", r.Action)
		return advance(current, r.Reasoning)
	}
	r.NextStep = min(r.NextStep, domain.FinalStep)
	return r
}
