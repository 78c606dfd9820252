package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a chat thread between marketplace users.
type Conversation struct {
	ID             uuid.UUID  `json:"id"`
	ParticipantIDs []string   `json:"participant_ids"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ChatMessage is one message in a conversation.
type ChatMessage struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	Language       string    `json:"language,omitempty"`
	SentAt         time.Time `json:"sent_at"`
	ReadBy         []string  `json:"read_by,omitempty"`
}
