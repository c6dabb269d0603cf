package session

import "time"

// CreateRequest defines payload for creating a practice session.
type CreateRequest struct {
	UserID         string `json:"user_id"`
	Language       string `json:"language"`
	VoiceCode      string `json:"voice_code"`
	Level          string `json:"level"`
	SelfIntro      string `json:"self_intro"`
	Scenario       string `json:"scenario"`
	ConversationID string `json:"conversation_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Language        string    `json:"language"`
	VoiceCode       string    `json:"voice_code"`
	ConversationID  string    `json:"conversation_id"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
