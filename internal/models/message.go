package models

import "time"

// Direction tells who authored a message.
type Direction string

const (
	DirectionCustomer Direction = "customer"
	DirectionBusiness Direction = "business"
)

// Content types seen on the wire. Unknown types are kept verbatim.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeVideo    = "video"
	ContentTypeDocument = "document"
	ContentTypeAudio    = "audio"
	ContentTypeTemplate = "template"
)

// Message is the canonical shape of a single chat message.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Direction      Direction        `json:"direction"`
	Type           string           `json:"type"`
	Body           string           `json:"body"`
	MediaURL       string           `json:"media_url,omitempty"`
	Template       *TemplatePayload `json:"template,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// IsFromCustomer reports whether the customer sent the message.
func (m *Message) IsFromCustomer() bool {
	return m.Direction == DirectionCustomer
}

// HasMedia reports whether the message references a media object.
func (m *Message) HasMedia() bool {
	return m.MediaURL != ""
}

// TemplatePayload carries the rendering data of a template message.
type TemplatePayload struct {
	TemplateID    string   `json:"template_id"`
	LocalizedBody string   `json:"localized_body"`
	Buttons       []string `json:"buttons,omitempty"`
}

// MediaSend describes an outgoing media message after upload.
type MediaSend struct {
	URL      string `json:"media_url"`
	Type     string `json:"type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}
