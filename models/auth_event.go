package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthAction is the operation an AuthEvent records.
type AuthAction string

const (
	AuthActionRegister AuthAction = "register"
	AuthActionLogin    AuthAction = "login"
	AuthActionVerify   AuthAction = "verify"
)

// AuthOutcome is success or failure.
type AuthOutcome string

const (
	AuthOutcomeSuccess AuthOutcome = "success"
	AuthOutcomeFailure AuthOutcome = "failure"
)

// AuthEvent is an append-only record of an authentication attempt.
type AuthEvent struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	UserID    *uuid.UUID  `json:"user_id,omitempty" db:"user_id"`
	Email     string      `json:"email,omitempty" db:"email"`
	Action    AuthAction  `json:"action" db:"action"`
	Strategy  string      `json:"strategy" db:"strategy"`
	Outcome   AuthOutcome `json:"outcome" db:"outcome"`
	Reason    string      `json:"reason,omitempty" db:"reason"`
	ClientIP  string      `json:"client_ip" db:"client_ip"`
	UserAgent string      `json:"user_agent" db:"user_agent"`
	RequestID string      `json:"request_id" db:"request_id"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(action AuthAction, strategy string, outcome AuthOutcome) *AuthEvent {
	return &AuthEvent{
		ID:        uuid.New(),
		Action:    action,
		Strategy:  strategy,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
}

// WithUser sets the user ID
func (e *AuthEvent) WithUser(userID uuid.UUID) *AuthEvent {
	e.UserID = &userID
	return e
}

// WithReason records why an attempt failed.
func (e *AuthEvent) WithReason(reason string) *AuthEvent {
	e.Reason = reason
	return e
}

// WithRequestInfo sets the caller metadata.
func (e *AuthEvent) WithRequestInfo(clientIP, userAgent, requestID string) *AuthEvent {
	e.ClientIP = clientIP
	e.UserAgent = userAgent
	e.RequestID = requestID
	return e
}
