package models

import "time"

// MutationKind names a user-initiated action.
type MutationKind string

const (
	MutationSendText  MutationKind = "send_text"
	MutationSendMedia MutationKind = "send_media"
	MutationMarkRead  MutationKind = "mark_read"
	MutationToggleBot MutationKind = "toggle_bot"
	MutationGlobalBot MutationKind = "global_bot"
)

// MutationState is the lifecycle of one optimistic mutation.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationConfirmed  MutationState = "confirmed"
	MutationRolledBack MutationState = "rolled_back"
)

// Mutation tracks one in-flight or resolved action.
type Mutation struct {
	ID             string        `json:"id"`
	Kind           MutationKind  `json:"kind"`
	ConversationID string        `json:"conversation_id,omitempty"`
	State          MutationState `json:"state"`
	Detail         string        `json:"detail,omitempty"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// Resolved reports whether the mutation left the pending state.
func (m *Mutation) Resolved() bool {
	return m.State != MutationPending
}
