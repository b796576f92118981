// Package audit records session and verification outcomes.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names what happened.
type Action string

const (
	ActionSessionConnected     Action = "session_connected"
	ActionSessionFailed        Action = "session_failed"
	ActionSessionDisconnected  Action = "session_disconnected"
	ActionSessionReinitialized Action = "session_reinitialized"
	ActionCredentialVerified   Action = "credential_verified"
	ActionVerificationFailed   Action = "credential_verification_failed"
	ActionCredentialExported   Action = "credential_exported"
)

// Outcome is the result recorded with an action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores can fan out.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Action    Action
	// Subject is the account address or token id the action concerns.
	Subject string
	Outcome Outcome
	// Reason is the error code for failures or a short qualifier.
	Reason    string
	RequestID string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Emitter accepts events from services. Emit never blocks the caller.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, Event) {}
