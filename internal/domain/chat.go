package domain

import "time"

// ChatEntry is an in-flight chat message. The relay assigns ID and
// Timestamp so every participant renders the same authoritative copy.
// Never persisted.
type ChatEntry struct {
	ID         string    `json:"id"`
	SenderID   UserID    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}
