package domain

import "time"

// FinalStep is the terminal script position.
const FinalStep = 15

// ConversationState is the per-session position in the sales script.
type ConversationState struct {
	SessionID    string
	CurrentStep  int
	StepAttempts map[int]int
	Completed    bool
	LastInsight  *InsightSnapshot
	UpdatedAt    time.Time
}

// NewConversationState returns the state of a session that has not answered anything yet.
func NewConversationState(sessionID string) ConversationState {
	return ConversationState{
		SessionID:    sessionID,
		StepAttempts: map[int]int{},
	}
}

// InsightSnapshot is the behavioral summary stored with the state after each turn.
type InsightSnapshot struct {
	JourneyPhase   string
	PurchaseIntent int
	ReadingPattern string
	TopSection     string
}

// Message is a single persisted conversation turn.
type Message struct {
	PK        string
	SK        string
	SessionID string
	Text      string
	Answer    string
	Step      int
	Tokens    int
	Status    string
	TTL       int64
}
