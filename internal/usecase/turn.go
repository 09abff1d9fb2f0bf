package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sales-agent/internal/analysis"
	"sales-agent/internal/domain"
	"sales-agent/internal/script"
	"sales-agent/internal/stream"
	"sales-agent/internal/validator"
)

const (
	defaultMaxContext        = 20
	defaultMaxMessage        = 1000
	defaultGenerationTimeout = 30 * time.Second
	maxReplyTokens           = 400
	statusComplete           = "complete"

	closingReply = "Thanks again for walking through this with me! Everything you need is in the link above, " +
		"and you can reach out any time if a question comes up."
)

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	StreamChat(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int64) (stream.TokenStream, error)
	Complete(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int64) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type StateReadWriter interface {
	GetConversationState(ctx context.Context, sessionID string) (domain.ConversationState, error)
	UpdateConversationState(ctx context.Context, state domain.ConversationState) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	SaveTurn(ctx context.Context, state domain.ConversationState, msg domain.Message) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type tokenCounter interface {
	TotalTokens() int64
}

// Config holds the tunables read from the environment.
type Config struct {
	ParamPrefix       string
	MaxContextItems   int
	MaxMessageLength  int
	GenerationTimeout time.Duration
	ValidationTimeout time.Duration
}

// runtimeConfig is loaded from SSM on first use.
type runtimeConfig struct {
	chatModel      string
	validatorModel string
	salesPrompt    string
	pricingFacts   string
}

// TurnService runs one conversation turn: analyze, generate, validate, persist.
type TurnService struct {
	params  ParamGetter
	llm     LLMClient
	state   StateReadWriter
	catalog *script.Catalog
	cfg     Config
	now     func() time.Time

	cacheMu     sync.RWMutex
	cacheLoaded bool
	runtime     runtimeConfig
	validator   *validator.Validator
}

type TurnInput struct {
	SessionID  string
	Message    string
	History    []domain.ChatMessage
	Activity   []domain.RawEvent
	Sections   []domain.SectionHistoryItem
	Calculator *domain.CalculatorSnapshot
}

type TurnOutput struct {
	SessionID string
	Reply     string
	Metadata  stream.Metadata
	Decision  validator.Result
	Step      int
	Completed bool
}

func NewTurnService(p ParamGetter, llm LLMClient, s StateReadWriter, catalog *script.Catalog, cfg Config) (*TurnService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("usecase: script catalog must not be nil")
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.MaxContextItems <= 0 {
		cfg.MaxContextItems = defaultMaxContext
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessage
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = validator.ModelTimeout
	}
	return &TurnService{
		params:  p,
		llm:     llm,
		state:   s,
		catalog: catalog,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// Turn streams the reply to emit and, once the reply is complete, advances
// and persists the session. A failed turn leaves stored state unchanged; the
// caller reports the returned *Error to the client.
func (s *TurnService) Turn(ctx context.Context, in TurnInput, emit stream.Emitter) (TurnOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.cfg.MaxMessageLength {
		return TurnOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}
	if err := s.ensureConfig(ctx); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	var (
		state    domain.ConversationState
		patterns analysis.PatternInsights
		sections *analysis.SectionInsights
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.state.GetConversationState(gctx, sessionID)
		if err != nil {
			return err
		}
		state = st
		return nil
	})
	g.Go(func() error {
		patterns = analysis.DetectPatterns(in.Activity)
		return nil
	})
	g.Go(func() error {
		sections = analysis.AnalyzeSections(in.Sections)
		return nil
	})
	if err := g.Wait(); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "dynamodb_state_error", err)
	}

	if state.Completed {
		return s.closed(sessionID, emit)
	}

	flagged, err := s.llm.Moderate(ctx, message)
	switch {
	case err != nil:
		slog.Warn("usecase: moderation unavailable; continuing", "session", sessionID, "err", err)
	case flagged:
		return TurnOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
	}

	history := sanitizeHistory(in.History, s.cfg.MaxContextItems)
	if len(history) == 0 {
		stored, err := s.state.GetHistory(ctx, sessionID, max(1, s.cfg.MaxContextItems/2))
		if err != nil {
			slog.Warn("usecase: stored history unavailable", "session", sessionID, "err", err)
		}
		history = transcriptToHistory(stored)
	}

	rt, v := s.loaded()
	current := state.CurrentStep
	pc := promptContext{
		salesPrompt:  rt.salesPrompt,
		pricingFacts: rt.pricingFacts,
		step:         current,
		question:     s.catalog.Question(current),
		rendered:     s.catalog.Render(current, in.Calculator),
		attempts:     state.StepAttempts[current],
		patterns:     patterns,
		sections:     sections,
	}
	if current < domain.FinalStep {
		pc.upcoming = s.catalog.Render(current+1, in.Calculator)
	}

	reply, tokens, err := s.generate(ctx, rt.chatModel, buildPromptMessages(pc, message, history), emit)
	if err != nil {
		slog.Error("usecase: generation failed", "session", sessionID, "step", current, "err", err)
		return TurnOutput{}, err
	}

	decision := v.Validate(ctx, validator.Input{
		CurrentStep: current,
		Question:    pc.rendered,
		Reply:       message,
		History:     history,
	})

	next := advance(state, decision, current, s.now())
	next.LastInsight = snapshot(patterns, sections)
	turn := domain.Message{
		SessionID: sessionID,
		Text:      message,
		Answer:    reply.Visible,
		Step:      current,
		Tokens:    tokens,
	}
	if err := s.state.SaveTurn(ctx, next, turn); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	slog.Info("usecase: turn complete",
		"session", sessionID,
		"step", current,
		"action", decision.Action,
		"next_step", next.CurrentStep,
		"reason", decision.Reasoning,
	)

	if err := emit.Done(stream.Summary{Metadata: reply.Metadata, SessionID: sessionID, Step: next.CurrentStep, Completed: next.Completed}); err != nil {
		slog.Warn("usecase: emit done failed", "session", sessionID, "err", err)
	}
	return TurnOutput{
		SessionID: sessionID,
		Reply:     reply.Visible,
		Metadata:  reply.Metadata,
		Decision:  decision,
		Step:      next.CurrentStep,
		Completed: next.Completed,
	}, nil
}

// generate streams one completion through the relay under the generation timeout.
func (s *TurnService) generate(ctx context.Context, model string, messages []domain.ChatMessage, emit stream.Emitter) (stream.Reply, int, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	src, err := s.llm.StreamChat(genCtx, model, messages, maxReplyTokens)
	if err != nil {
		return stream.Reply{}, 0, upstreamError("openai", err)
	}
	reply, err := stream.Relay(genCtx, src, emit)
	if err != nil {
		if ctx.Err() != nil {
			return stream.Reply{}, 0, newError(ErrorCanceled, "client_canceled", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return stream.Reply{}, 0, newError(ErrorUpstream, "openai_timeout", err)
		}
		return stream.Reply{}, 0, upstreamError("openai", err)
	}
	if strings.TrimSpace(reply.Visible) == "" {
		return stream.Reply{}, 0, newError(ErrorUpstream, "openai_empty_reply", nil)
	}
	tokens := 0
	if tc, ok := src.(tokenCounter); ok {
		tokens = int(tc.TotalTokens())
	}
	return reply, tokens, nil
}

// closed answers a session that already finished the script without touching
// its state.
func (s *TurnService) closed(sessionID string, emit stream.Emitter) (TurnOutput, error) {
	if err := emit.Delta(closingReply); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "emit_error", err)
	}
	md := stream.Metadata{QuickReplies: []string{}}
	if err := emit.Done(stream.Summary{Metadata: md, SessionID: sessionID, Step: domain.FinalStep, Completed: true}); err != nil {
		slog.Warn("usecase: emit done failed", "session", sessionID, "err", err)
	}
	return TurnOutput{
		SessionID: sessionID,
		Reply:     closingReply,
		Metadata:  md,
		Decision:  validator.Result{Action: validator.ActionNext, NextStep: domain.FinalStep, Reasoning: "session completed"},
		Step:      domain.FinalStep,
		Completed: true,
	}, nil
}

// advance applies a validator decision to a copy of state.
func advance(state domain.ConversationState, decision validator.Result, current int, now time.Time) domain.ConversationState {
	next := state
	next.StepAttempts = make(map[int]int, len(state.StepAttempts)+1)
	for step, n := range state.StepAttempts {
		next.StepAttempts[step] = n
	}
	next.StepAttempts[current]++
	next.CurrentStep = decision.NextStep
	next.Completed = current == domain.FinalStep && decision.NextStep == domain.FinalStep
	next.UpdatedAt = now
	return next
}

func snapshot(p analysis.PatternInsights, sections *analysis.SectionInsights) *domain.InsightSnapshot {
	out := &domain.InsightSnapshot{
		JourneyPhase:   string(p.JourneyPhase),
		PurchaseIntent: p.PurchaseIntent,
	}
	if sections != nil {
		out.ReadingPattern = string(sections.ReadingPattern)
		out.TopSection = sections.TopSection.ID
	}
	return out
}

// Reset puts a session back at the first step. It is the only way a
// session's step moves backwards.
func (s *TurnService) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	state := domain.NewConversationState(sessionID)
	state.UpdatedAt = s.now()
	if err := s.state.UpdateConversationState(ctx, state); err != nil {
		return newError(ErrorInternal, "dynamodb_write_error", err)
	}
	slog.Info("usecase: session reset", "session", sessionID)
	return nil
}

// State returns the stored script position of a session.
func (s *TurnService) State(ctx context.Context, sessionID string) (domain.ConversationState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ConversationState{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	state, err := s.state.GetConversationState(ctx, sessionID)
	if err != nil {
		return domain.ConversationState{}, newError(ErrorInternal, "dynamodb_state_error", err)
	}
	return state, nil
}

func (s *TurnService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	rt, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}
	v, err := validator.New(s.catalog, validator.WithSlowStage(
		validator.NewModelStage(s.llm, s.catalog, rt.validatorModel, rt.pricingFacts, s.cfg.ValidationTimeout),
	))
	if err != nil {
		return fmt.Errorf("usecase: build validator: %w", err)
	}

	s.runtime = rt
	s.validator = v
	s.cacheLoaded = true
	return nil
}

func (s *TurnService) loaded() (runtimeConfig, *validator.Validator) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.runtime, s.validator
}

func (s *TurnService) loadSSMParams(ctx context.Context) (runtimeConfig, error) {
	var (
		chatModel      = s.cfg.ParamPrefix + "/config/openai_model"
		validatorModel = s.cfg.ParamPrefix + "/config/validator_model"
		salesPrompt    = s.cfg.ParamPrefix + "/sales_prompt"
		pricingFacts   = s.cfg.ParamPrefix + "/pricing_facts"
	)
	values, err := s.params.GetParameters(ctx, chatModel, validatorModel, salesPrompt, pricingFacts)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("usecase: load runtime config: %w", err)
	}
	rt := runtimeConfig{
		chatModel:      strings.TrimSpace(values[chatModel]),
		validatorModel: strings.TrimSpace(values[validatorModel]),
		salesPrompt:    values[salesPrompt],
		pricingFacts:   values[pricingFacts],
	}
	if rt.chatModel == "" {
		return runtimeConfig{}, errors.New("usecase: openai model is empty")
	}
	if rt.validatorModel == "" {
		rt.validatorModel = rt.chatModel
	}
	return rt, nil
}

func upstreamError(service string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, service+"_rate_limited", err)
	}
	return newError(ErrorUpstream, service+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
