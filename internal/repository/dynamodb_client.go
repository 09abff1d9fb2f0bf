package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sales-agent/internal/domain"
)

const (
	skPrefixMsg    = "MSG#"
	skState        = "STATE#"
	statusComplete = "complete"
	ttlDuration    = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ReadWriter is the session storage consumed by the turn orchestrator.
type ReadWriter interface {
	GetConversationState(ctx context.Context, sessionID string) (domain.ConversationState, error)
	UpdateConversationState(ctx context.Context, state domain.ConversationState) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	SaveTurn(ctx context.Context, state domain.ConversationState, msg domain.Message) error
}

// Client stores script state and transcript for every session in one table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// GetConversationState loads the session's script position. A session with no
// stored state starts at step zero.
func (c *Client) GetConversationState(ctx context.Context, sessionID string) (domain.ConversationState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.ConversationState{}, errors.New("repository: GetConversationState: session id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: GetConversationState get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.NewConversationState(sessionID), nil
	}

	state, err := itemToState(sessionID, out.Item)
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: GetConversationState decode: %w", err)
	}
	return state, nil
}

// UpdateConversationState replaces the stored state.
func (c *Client) UpdateConversationState(ctx context.Context, state domain.ConversationState) error {
	if state.SessionID == "" {
		return errors.New("repository: UpdateConversationState: session id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.stateItem(state),
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateConversationState: %w", err)
	}
	return nil
}

// GetHistory returns the newest limit transcript items in chronological order.
func (c *Client) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SaveTurn writes the new state and the turn's transcript item in one
// transaction, so a failed write leaves the previous state untouched. Key and
// TTL fields left empty on msg are filled in.
func (c *Client) SaveTurn(ctx context.Context, state domain.ConversationState, msg domain.Message) error {
	if state.SessionID == "" {
		return errors.New("repository: SaveTurn: state session id is required")
	}
	if msg.SessionID != "" && msg.SessionID != state.SessionID {
		return fmt.Errorf("repository: SaveTurn: message session %q does not match state session %q", msg.SessionID, state.SessionID)
	}
	msg = c.keyed(state.SessionID, msg)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      c.stateItem(state),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// keyed fills the storage fields of a transcript item.
func (c *Client) keyed(sessionID string, msg domain.Message) domain.Message {
	msg.SessionID = sessionID
	if msg.PK == "" {
		msg.PK = sessionPK(sessionID)
	}
	if msg.SK == "" {
		msg.SK = msgSK(c.now())
	}
	if msg.Status == "" {
		msg.Status = statusComplete
	}
	if msg.TTL == 0 {
		msg.TTL = c.ttlValue()
	}
	return msg
}

func (c *Client) stateItem(state domain.ConversationState) map[string]types.AttributeValue {
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = c.now()
	}
	attempts := make(map[string]types.AttributeValue, len(state.StepAttempts))
	for step, n := range state.StepAttempts {
		attempts[strconv.Itoa(step)] = numAttr(n)
	}
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(state.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"sessionId": &types.AttributeValueMemberS{Value: state.SessionID},
		"step":      numAttr(state.CurrentStep),
		"attempts":  &types.AttributeValueMemberM{Value: attempts},
		"completed": &types.AttributeValueMemberBOOL{Value: state.Completed},
		"updatedAt": &types.AttributeValueMemberS{Value: updated.UTC().Format(time.RFC3339)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
	if in := state.LastInsight; in != nil {
		item["lastInsight"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"journeyPhase":   &types.AttributeValueMemberS{Value: in.JourneyPhase},
			"purchaseIntent": numAttr(in.PurchaseIntent),
			"readingPattern": &types.AttributeValueMemberS{Value: in.ReadingPattern},
			"topSection":     &types.AttributeValueMemberS{Value: in.TopSection},
		}}
	}
	return item
}

func itemToState(sessionID string, item map[string]types.AttributeValue) (domain.ConversationState, error) {
	state := domain.NewConversationState(sessionID)

	step, err := intAttr(item, "step")
	if err != nil {
		return domain.ConversationState{}, err
	}
	if step < 0 || step > domain.FinalStep {
		return domain.ConversationState{}, fmt.Errorf("repository: stored step %d out of range", step)
	}
	state.CurrentStep = step

	if v, ok := item["completed"].(*types.AttributeValueMemberBOOL); ok {
		state.Completed = v.Value
	}
	if v, ok := item["attempts"].(*types.AttributeValueMemberM); ok {
		for k := range v.Value {
			s, err := strconv.Atoi(k)
			if err != nil {
				return domain.ConversationState{}, fmt.Errorf("repository: attempts key %q: %w", k, err)
			}
			n, err := intAttr(v.Value, k)
			if err != nil {
				return domain.ConversationState{}, err
			}
			state.StepAttempts[s] = n
		}
	}
	if v, ok := item["lastInsight"].(*types.AttributeValueMemberM); ok {
		in := &domain.InsightSnapshot{}
		in.JourneyPhase, _ = strAttr(v.Value, "journeyPhase")
		in.ReadingPattern, _ = strAttr(v.Value, "readingPattern")
		in.TopSection, _ = strAttr(v.Value, "topSection")
		in.PurchaseIntent, _ = intAttr(v.Value, "purchaseIntent")
		state.LastInsight = in
	}
	if s, err := strAttr(item, "updatedAt"); err == nil {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			state.UpdatedAt = ts
		}
	}
	return state, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	answer, _ := strAttr(item, "answer") // allow empty
	status, _ := strAttr(item, "status") // allow empty
	sessionID, _ := strAttr(item, "sessionId")
	step, _ := intAttr(item, "step")

	return domain.Message{
		PK:        pk,
		SK:        sk,
		SessionID: sessionID,
		Text:      text,
		Answer:    answer,
		Step:      step,
		Status:    status,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: msg.PK},
		"SK":        &types.AttributeValueMemberS{Value: msg.SK},
		"sessionId": &types.AttributeValueMemberS{Value: msg.SessionID},
		"text":      &types.AttributeValueMemberS{Value: msg.Text},
		"answer":    &types.AttributeValueMemberS{Value: msg.Answer},
		"step":      numAttr(msg.Step),
		"tokens":    numAttr(msg.Tokens),
		"status":    &types.AttributeValueMemberS{Value: msg.Status},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.TTL, 10)},
	}
}

func numAttr(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
