package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ConversationSession struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Title     string    `json:"title" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ConversationSession) TableName() string {
	return "conversation_sessions"
}

func NewConversationSession(id, title string) *ConversationSession {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &ConversationSession{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TurnStatus is the terminal state a turn was recorded with.
type TurnStatus string

const (
	TurnStatusAnswered TurnStatus = "answered"
	TurnStatusDirect   TurnStatus = "direct"
)

// ConversationTurn is one completed (query, answer, used documents) exchange.
// Turns are only written after a successful run.
type ConversationTurn struct {
	ID              string         `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID       string         `json:"session_id" gorm:"type:uuid;index;not null"`
	Seq             int            `json:"seq" gorm:"not null"`
	Query           string         `json:"query" gorm:"type:text;not null"`
	Answer          string         `json:"answer" gorm:"type:text;not null"`
	Citations       string         `json:"citations" gorm:"type:text"`
	UsedDocumentIDs pq.StringArray `json:"used_document_ids" gorm:"type:text[]"`
	Status          TurnStatus     `json:"status" gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}

func NewConversationTurn(id, sessionID, query, answer, citations string, used []string, status TurnStatus) *ConversationTurn {
	if id == "" {
		id = uuid.NewString()
	}
	return &ConversationTurn{
		ID:              id,
		SessionID:       sessionID,
		Query:           query,
		Answer:          answer,
		Citations:       citations,
		UsedDocumentIDs: pq.StringArray(append([]string(nil), used...)),
		Status:          status,
		CreatedAt:       time.Now(),
	}
}
