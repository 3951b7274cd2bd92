package conversation

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	QuestionID string    `json:"questionId"`
}

// TurnRequest is the payload posted to the backend turn endpoint.
type TurnRequest struct {
	SessionID           string `json:"sessionId"`
	QuestionID          string `json:"questionId"`
	Answer              string `json:"answer"`
	ConversationHistory []Turn `json:"conversationHistory"`
}

const (
	ResponseFollowUp     = "follow_up"
	ResponseNextQuestion = "next_question"
	ResponseComplete     = "complete"
)

// TurnResponse is the backend's reply. Anything that is not a follow_up
// ends this controller's authority over the conversation; Raw preserves
// the verbatim body for the owning caller.
type TurnResponse struct {
	Type                string `json:"type"`
	ConversationHistory []Turn `json:"conversationHistory,omitempty"`
	Message             string `json:"message,omitempty"`

	Raw json.RawMessage `json:"-"`
}
