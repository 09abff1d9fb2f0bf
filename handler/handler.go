package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"sales-agent/internal/domain"
	"sales-agent/internal/stream"
	"sales-agent/internal/usecase"
)

const (
	routeChat  = "/chat"
	routeReset = "/reset"
	routeState = "/state"

	correlationHeader = "X-Correlation-Id"
	errorNotFound     = "NOT_FOUND"
)

type UseCase interface {
	Turn(ctx context.Context, in usecase.TurnInput, emit stream.Emitter) (usecase.TurnOutput, error)
	Reset(ctx context.Context, sessionID string) error
	State(ctx context.Context, sessionID string) (domain.ConversationState, error)
}

type Handler struct {
	uc UseCase
}

type chatRequest struct {
	SessionID  string                      `json:"sessionId"`
	Message    string                      `json:"message"`
	History    []domain.ChatMessage        `json:"history"`
	Activity   []domain.RawEvent           `json:"userActivity"`
	Sections   []domain.SectionHistoryItem `json:"sectionHistory"`
	Calculator *domain.CalculatorSnapshot  `json:"calculatorData"`
}

type resetRequest struct {
	SessionID string `json:"sessionId"`
}

type stateResponse struct {
	SessionID    string      `json:"sessionId"`
	CurrentStep  int         `json:"currentStep"`
	StepAttempts map[int]int `json:"stepAttempts"`
	Completed    bool        `json:"completed"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func NewHandler(uc UseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// Handle serves a Lambda Function URL invocation in RESPONSE_STREAM mode.
// Chat turns stream server-sent events; the other routes answer with a
// single JSON document.
func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.With("correlation_id", correlationID)

	method := req.RequestContext.HTTP.Method
	path := strings.TrimRight(req.RawPath, "/")
	switch {
	case method == http.MethodPost && path == routeChat:
		return h.chat(ctx, logger, correlationID, req)
	case method == http.MethodPost && path == routeReset:
		return h.reset(ctx, logger, correlationID, req)
	case method == http.MethodGet && path == routeState:
		return h.state(ctx, logger, correlationID, req)
	default:
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: errorNotFound, Reason: "unknown_route"}), nil
	}
}

func (h *Handler) chat(ctx context.Context, logger *slog.Logger, correlationID string, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	var body chatRequest
	if err := decodeBody(req, &body); err != nil {
		logger.Warn("handler: invalid chat body", "err", err)
		return invalidBody(correlationID), nil
	}
	in := usecase.TurnInput{
		SessionID:  body.SessionID,
		Message:    body.Message,
		History:    body.History,
		Activity:   body.Activity,
		Sections:   body.Sections,
		Calculator: body.Calculator,
	}

	pr, pw := io.Pipe()
	go func() {
		emit := stream.NewSSEEmitter(pw)
		out, err := h.uc.Turn(ctx, in, emit)
		if err != nil {
			code, reason := errorCode(err)
			logger.Error("handler: turn failed", "session", in.SessionID, "code", code, "reason", reason, "err", err)
			if emitErr := emit.Error(code, reason); emitErr != nil {
				logger.Warn("handler: emit error event failed", "err", emitErr)
			}
			_ = pw.Close()
			return
		}
		logger.Info("handler: turn streamed", "session", out.SessionID, "step", out.Step, "completed", out.Completed)
		_ = pw.Close()
	}()

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/event-stream",
			"Cache-Control":   "no-cache",
			"Connection":      "keep-alive",
			correlationHeader: correlationID,
		},
		Body: pr,
	}, nil
}

func (h *Handler) reset(ctx context.Context, logger *slog.Logger, correlationID string, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	var body resetRequest
	if err := decodeBody(req, &body); err != nil {
		logger.Warn("handler: invalid reset body", "err", err)
		return invalidBody(correlationID), nil
	}
	if err := h.uc.Reset(ctx, body.SessionID); err != nil {
		return errorJSON(logger, correlationID, err), nil
	}
	return jsonResponse(http.StatusOK, correlationID, stateResponse{
		SessionID:    strings.TrimSpace(body.SessionID),
		StepAttempts: map[int]int{},
	}), nil
}

func (h *Handler) state(ctx context.Context, logger *slog.Logger, correlationID string, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	st, err := h.uc.State(ctx, req.QueryStringParameters["sessionId"])
	if err != nil {
		return errorJSON(logger, correlationID, err), nil
	}
	attempts := st.StepAttempts
	if attempts == nil {
		attempts = map[int]int{}
	}
	return jsonResponse(http.StatusOK, correlationID, stateResponse{
		SessionID:    st.SessionID,
		CurrentStep:  st.CurrentStep,
		StepAttempts: attempts,
		Completed:    st.Completed,
	}), nil
}

func decodeBody(req events.LambdaFunctionURLRequest, v any) error {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return fmt.Errorf("decode base64 body: %w", err)
		}
		raw = decoded
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode json body: %w", err)
	}
	return nil
}

func invalidBody(correlationID string) *events.LambdaFunctionURLStreamingResponse {
	return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
		Error:  string(usecase.ErrorInvalidInput),
		Reason: "invalid_body",
	})
}

func errorJSON(logger *slog.Logger, correlationID string, err error) *events.LambdaFunctionURLStreamingResponse {
	code, reason := errorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("handler: request failed", "code", code, "reason", reason, "err", err)
	} else {
		logger.Warn("handler: request rejected", "code", code, "reason", reason)
	}
	return jsonResponse(status, correlationID, errorResponse{Error: code, Reason: reason})
}

func errorCode(err error) (string, string) {
	code, reason := usecase.Classify(err)
	return string(code), reason
}

func statusFor(code string) int {
	switch usecase.ErrorCode(code) {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, correlationID string, payload any) *events.LambdaFunctionURLStreamingResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_error"}`)
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: bytes.NewReader(body),
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
