package models

import "time"

// ConversationStatusActive is the lifecycle status of an open conversation.
const ConversationStatusActive = "active"

// Conversation is the canonical shape of a customer thread.
type Conversation struct {
	ID            string    `json:"id"`
	CustomerPhone string    `json:"customer_phone"`
	CustomerName  *string   `json:"customer_name,omitempty"`
	Status        string    `json:"status"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
	BotEnabled    bool      `json:"bot_enabled"`
}

// DisplayName returns the customer name, falling back to the phone number.
func (c *Conversation) DisplayName() string {
	if c.CustomerName != nil && *c.CustomerName != "" {
		return *c.CustomerName
	}
	return c.CustomerPhone
}

// IsActive reports whether the conversation is in the active lifecycle state.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive
}

// ConversationPatch is a partial conversation update. Nil fields were absent
// from the source payload and must not overwrite existing values.
type ConversationPatch struct {
	ID            string
	CustomerPhone *string
	CustomerName  *string
	Status        *string
	LastMessageAt *time.Time
	UnreadCount   *int
	BotEnabled    *bool
}

// Apply merges the patch onto base and returns the result.
func (p ConversationPatch) Apply(base Conversation) Conversation {
	base.ID = p.ID
	if p.CustomerPhone != nil {
		base.CustomerPhone = *p.CustomerPhone
	}
	if p.CustomerName != nil {
		name := *p.CustomerName
		base.CustomerName = &name
	}
	if p.Status != nil {
		base.Status = *p.Status
	}
	if p.LastMessageAt != nil {
		base.LastMessageAt = *p.LastMessageAt
	}
	if p.UnreadCount != nil {
		base.UnreadCount = *p.UnreadCount
	}
	if p.BotEnabled != nil {
		base.BotEnabled = *p.BotEnabled
	}
	return base
}

// ConversationPage is one page of the conversation listing.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	NextCursor    string         `json:"next_cursor,omitempty"`
	HasMore       bool           `json:"has_more"`
}
