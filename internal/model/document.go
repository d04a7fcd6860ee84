// Package model provides data models for docchat.
package model

import (
	"time"
)

// Document is an uploaded document owned by a chat session.
// EmbeddingStore holds the index location once ingestion succeeded.
type Document struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(128)"`
	SessionID      string    `json:"session_id" gorm:"type:varchar(64);index;not null"`
	UserID         string    `json:"user_id" gorm:"type:varchar(64);index"`
	Title          string    `json:"title" gorm:"type:varchar(255);not null"`
	File           string    `json:"file" gorm:"type:varchar(512);not null"`
	Processed      bool      `json:"processed" gorm:"default:false;index"`
	EmbeddingStore string    `json:"embedding_store" gorm:"type:varchar(512)"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "docchat_documents"
}

// ConversationTurn is one prior exchange in a chat session.
// A turn missing either side is ignored when building prompts.
type ConversationTurn struct {
	Message  string `json:"message"`
	Response string `json:"response"`
}

// Complete reports whether both sides of the turn are present.
func (t ConversationTurn) Complete() bool {
	return t.Message != "" && t.Response != ""
}
