package models

import (
	"encoding/json"
	"time"
)

// OrderEventKind distinguishes order creation from later updates.
type OrderEventKind string

const (
	OrderCreated OrderEventKind = "order.created"
	OrderUpdated OrderEventKind = "order.updated"
)

// Order is the subset of an order the console shows next to a conversation.
type Order struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	Total          float64         `json:"total,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// OrderEvent is delivered to order subscribers.
type OrderEvent struct {
	Kind  OrderEventKind `json:"kind"`
	Order Order          `json:"order"`
}

// BotStatus is the process-wide bot auto-reply switch.
type BotStatus struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}
