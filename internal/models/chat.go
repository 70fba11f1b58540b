package models

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// ChatSession is an append-only conversation about one document. It is created when
// its first turn is stored.
type ChatSession struct {
	ID         string    `json:"id" bson:"_id"`
	DocumentID string    `json:"documentId" bson:"document_id"`
	UserID     string    `json:"userId,omitempty" bson:"user_id,omitempty"`
	Messages   []Message `json:"messages" bson:"messages"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updated_at"`
}
