package botapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"waconsole/internal/models"

	"github.com/tidwall/gjson"
)

// ErrMissingID is returned when a record carries none of the accepted id fields.
var ErrMissingID = errors.New("record has no id")

// nowFunc supplies the fallback timestamp for records without one.
var nowFunc = time.Now

// Accepted source paths per canonical field, in priority order.
var (
	conversationIDPaths     = []string{"id", "conversation_id", "conversationId", "_id"}
	conversationPhonePaths  = []string{"customer_phone", "customerPhone", "phone", "wa_id", "from"}
	conversationNamePaths   = []string{"customer_name", "customerName", "name", "profile_name"}
	conversationStatusPaths = []string{"status", "state"}
	lastMessageAtPaths      = []string{"last_message_at", "lastMessageAt", "last_message_timestamp", "updated_at", "updatedAt", "timestamp"}
	unreadPaths             = []string{"unread_count", "unreadCount", "unread"}
	botEnabledPaths         = []string{"bot_enabled", "botEnabled", "auto_reply", "ai_enabled"}

	messageIDPaths      = []string{"id", "message_id", "messageId", "wamid", "_id"}
	messageConvPaths    = []string{"conversation_id", "conversationId", "chat_id", "chatId"}
	messageTypePaths    = []string{"type", "message_type", "content_type"}
	messageBodyPaths    = []string{"body", "content", "text", "message", "caption", "text.body"}
	messageMediaPaths   = []string{"media_url", "mediaUrl", "url", "media.url", "media.link"}
	messageCreatedPaths = []string{"created_at", "createdAt", "timestamp", "sent_at"}
	senderRolePaths     = []string{"sender", "sender_type", "senderType", "role"}

	templateIDPaths   = []string{"id", "template_id", "name"}
	templateBodyPaths = []string{"body", "localized_body", "text"}

	orderIDPaths      = []string{"id", "order_id", "orderId"}
	orderConvPaths    = []string{"conversation_id", "conversationId"}
	orderTotalPaths   = []string{"total", "amount", "total_amount"}
	orderUpdatedPaths = []string{"updated_at", "updatedAt", "created_at", "createdAt"}

	botStatusPaths = []string{"enabled", "bot_enabled", "active"}

	listItemPaths  = []string{"conversations", "messages", "data", "items", "results", "data.conversations", "data.messages", "data.items"}
	cursorPaths    = []string{"next_cursor", "nextCursor", "cursor", "pagination.next_cursor", "meta.next_cursor"}
	hasMorePaths   = []string{"has_more", "hasMore", "pagination.has_more", "meta.has_more"}
	uploadURLPaths = []string{"url", "media_url", "mediaUrl", "data.url"}
)

// first returns the first present, non-null value among paths.
func first(r gjson.Result, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		v := r.Get(p)
		if v.Exists() && v.Type != gjson.Null {
			return v, true
		}
	}
	return gjson.Result{}, false
}

// firstString is like first but skips values that are not scalar strings or numbers.
func firstString(r gjson.Result, paths ...string) (string, bool) {
	for _, p := range paths {
		v := r.Get(p)
		switch v.Type {
		case gjson.String, gjson.Number:
			return v.String(), true
		}
	}
	return "", false
}

func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		return fromUnix(v.Float()), true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(n), true
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// fromUnix treats values above 1e12 as milliseconds and everything else as seconds.
func fromUnix(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}

func timeOr(r gjson.Result, paths []string) time.Time {
	for _, p := range paths {
		if t, ok := parseTime(r.Get(p)); ok {
			return t
		}
	}
	return nowFunc().UTC()
}

// NormalizeConversation maps any accepted conversation shape to the canonical record.
func NormalizeConversation(r gjson.Result) (models.Conversation, error) {
	id, ok := firstString(r, conversationIDPaths...)
	if !ok || id == "" {
		return models.Conversation{}, ErrMissingID
	}

	conv := models.Conversation{
		ID:            id,
		Status:        models.ConversationStatusActive,
		LastMessageAt: timeOr(r, lastMessageAtPaths),
		BotEnabled:    true,
	}
	if phone, ok := firstString(r, conversationPhonePaths...); ok {
		conv.CustomerPhone = phone
	}
	if name, ok := firstString(r, conversationNamePaths...); ok && name != "" {
		conv.CustomerName = &name
	}
	if status, ok := firstString(r, conversationStatusPaths...); ok && status != "" {
		conv.Status = status
	}
	if unread, ok := first(r, unreadPaths...); ok {
		conv.UnreadCount = int(unread.Int())
	}
	if bot, ok := first(r, botEnabledPaths...); ok {
		conv.BotEnabled = bot.Bool()
	}
	return conv, nil
}

// NormalizeConversationPatch keeps only the fields present in r.
func NormalizeConversationPatch(r gjson.Result) (models.ConversationPatch, error) {
	id, ok := firstString(r, conversationIDPaths...)
	if !ok || id == "" {
		return models.ConversationPatch{}, ErrMissingID
	}

	patch := models.ConversationPatch{ID: id}
	if phone, ok := firstString(r, conversationPhonePaths...); ok {
		patch.CustomerPhone = &phone
	}
	if name, ok := firstString(r, conversationNamePaths...); ok && name != "" {
		patch.CustomerName = &name
	}
	if status, ok := firstString(r, conversationStatusPaths...); ok && status != "" {
		patch.Status = &status
	}
	for _, p := range lastMessageAtPaths {
		if t, ok := parseTime(r.Get(p)); ok {
			patch.LastMessageAt = &t
			break
		}
	}
	if unread, ok := first(r, unreadPaths...); ok {
		n := int(unread.Int())
		patch.UnreadCount = &n
	}
	if bot, ok := first(r, botEnabledPaths...); ok {
		b := bot.Bool()
		patch.BotEnabled = &b
	}
	return patch, nil
}

// NormalizeMessage maps any accepted message shape to the canonical record.
// fallbackConversationID is used when the record does not name its conversation.
func NormalizeMessage(r gjson.Result, fallbackConversationID string) (models.Message, error) {
	return normalizeMessage(r, fallbackConversationID, "")
}

// NormalizeEventMessage maps the payload of a message stream event. When the
// payload is the frame itself its "type" key names the event, not the content.
func NormalizeEventMessage(env Envelope) (models.Message, error) {
	if env.Inline {
		return normalizeMessage(env.Payload, "", env.Type)
	}
	return normalizeMessage(env.Payload, "", "")
}

// normalizeMessage skips a content type equal to eventType.
func normalizeMessage(r gjson.Result, fallbackConversationID, eventType string) (models.Message, error) {
	id, ok := firstString(r, messageIDPaths...)
	if !ok || id == "" {
		return models.Message{}, ErrMissingID
	}

	msg := models.Message{
		ID:             id,
		ConversationID: fallbackConversationID,
		Direction:      normalizeDirection(r),
		Type:           models.ContentTypeText,
		CreatedAt:      timeOr(r, messageCreatedPaths),
	}
	if conv, ok := firstString(r, messageConvPaths...); ok && conv != "" {
		msg.ConversationID = conv
	}
	if msg.ConversationID == "" {
		return models.Message{}, fmt.Errorf("message %s has no conversation id", id)
	}
	if body, ok := firstText(r, messageBodyPaths...); ok {
		msg.Body = body
	}
	if media, ok := firstText(r, messageMediaPaths...); ok {
		msg.MediaURL = media
	}

	tpl := r.Get("template")
	if tpl.IsObject() {
		msg.Template = normalizeTemplate(tpl)
	}

	if t, ok := contentType(r, eventType); ok {
		msg.Type = strings.ToLower(t)
	} else if msg.Template != nil {
		msg.Type = models.ContentTypeTemplate
	}
	return msg, nil
}

func contentType(r gjson.Result, eventType string) (string, bool) {
	for _, p := range messageTypePaths {
		v := r.Get(p)
		if v.Type != gjson.String || v.Str == "" {
			continue
		}
		if eventType != "" && strings.EqualFold(v.Str, eventType) {
			continue
		}
		return v.Str, true
	}
	return "", false
}

// firstText only accepts JSON strings so that {"text": {"body": ...}} falls through to text.body.
func firstText(r gjson.Result, paths ...string) (string, bool) {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String {
			return v.Str, true
		}
	}
	return "", false
}

func normalizeDirection(r gjson.Result) models.Direction {
	if d, ok := firstText(r, "direction"); ok {
		switch strings.ToLower(d) {
		case "inbound", "incoming", "in", "received", "customer":
			return models.DirectionCustomer
		case "outbound", "outgoing", "out", "sent", "business", "bot", "agent":
			return models.DirectionBusiness
		}
	}
	if fromMe, ok := first(r, "from_me", "fromMe"); ok {
		if fromMe.Bool() {
			return models.DirectionBusiness
		}
		return models.DirectionCustomer
	}
	if role, ok := firstText(r, senderRolePaths...); ok {
		switch strings.ToLower(role) {
		case "customer", "user", "contact", "client":
			return models.DirectionCustomer
		default:
			return models.DirectionBusiness
		}
	}
	return models.DirectionCustomer
}

func normalizeTemplate(tpl gjson.Result) *models.TemplatePayload {
	out := &models.TemplatePayload{}
	out.TemplateID, _ = firstString(tpl, templateIDPaths...)
	out.LocalizedBody, _ = firstText(tpl, templateBodyPaths...)
	tpl.Get("buttons").ForEach(func(_, b gjson.Result) bool {
		switch {
		case b.Type == gjson.String:
			out.Buttons = append(out.Buttons, b.Str)
		case b.IsObject():
			if label, ok := firstText(b, "text", "title"); ok {
				out.Buttons = append(out.Buttons, label)
			}
		}
		return true
	})
	return out
}

// NormalizeOrder maps an order payload. Orders without an id are rejected.
func NormalizeOrder(r gjson.Result) (models.Order, error) {
	id, ok := firstString(r, orderIDPaths...)
	if !ok || id == "" {
		return models.Order{}, ErrMissingID
	}
	order := models.Order{
		ID:        id,
		UpdatedAt: timeOr(r, orderUpdatedPaths),
		Raw:       json.RawMessage(r.Raw),
	}
	order.ConversationID, _ = firstString(r, orderConvPaths...)
	order.Status, _ = firstText(r, "status")
	if total, ok := first(r, orderTotalPaths...); ok {
		order.Total = total.Float()
	}
	return order, nil
}

// NormalizeBotStatus reads the global auto-reply flag.
func NormalizeBotStatus(r gjson.Result) (models.BotStatus, error) {
	v, ok := first(r, botStatusPaths...)
	if !ok {
		return models.BotStatus{}, errors.New("bot status payload has no enabled flag")
	}
	return models.BotStatus{Enabled: v.Bool(), UpdatedAt: nowFunc().UTC()}, nil
}

// Envelope is one decoded stream frame.
type Envelope struct {
	Type    string
	Payload gjson.Result
	// Inline is set when the frame had no data/payload wrapper.
	Inline bool
}

// ParseEnvelope reads the event type from "type" or "event" and the payload from
// "data" or "payload", falling back to the frame itself.
func ParseEnvelope(frame []byte) (Envelope, error) {
	if !gjson.ValidBytes(frame) {
		return Envelope{}, errors.New("frame is not valid JSON")
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Envelope{}, errors.New("frame is not a JSON object")
	}

	env := Envelope{Payload: root, Inline: true}
	env.Type, _ = firstText(root, "type", "event")
	if payload, ok := first(root, "data", "payload"); ok {
		env.Payload = payload
		env.Inline = false
	}
	return env, nil
}

// listItems finds the record array in a list response.
func listItems(root gjson.Result) []gjson.Result {
	if root.IsArray() {
		return root.Array()
	}
	for _, p := range listItemPaths {
		if v := root.Get(p); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

// unwrapRecord returns the object nested under one of keys, or root itself.
func unwrapRecord(root gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := root.Get(k); v.IsObject() {
			return v
		}
	}
	return root
}

// ParseConversationPage decodes a conversation listing. Records that fail
// normalization are skipped and counted.
func ParseConversationPage(body []byte) (models.ConversationPage, int) {
	root := gjson.ParseBytes(body)
	page := models.ConversationPage{}
	skipped := 0
	for _, item := range listItems(root) {
		conv, err := NormalizeConversation(item)
		if err != nil {
			skipped++
			continue
		}
		page.Conversations = append(page.Conversations, conv)
	}

	if !root.IsArray() {
		page.NextCursor, _ = firstString(root, cursorPaths...)
		if more, ok := first(root, hasMorePaths...); ok {
			page.HasMore = more.Bool()
		} else {
			page.HasMore = page.NextCursor != ""
		}
	}
	return page, skipped
}

// ParseMessages decodes a message history response.
func ParseMessages(body []byte, conversationID string) ([]models.Message, int) {
	var out []models.Message
	skipped := 0
	for _, item := range listItems(gjson.ParseBytes(body)) {
		msg, err := NormalizeMessage(item, conversationID)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, msg)
	}
	return out, skipped
}

// ParseMessage decodes a single message response, e.g. the reply to a send.
func ParseMessage(body []byte, conversationID string) (models.Message, error) {
	root := gjson.ParseBytes(body)
	return NormalizeMessage(unwrapRecord(root, "message", "data"), conversationID)
}

// ParseUploadURL extracts the durable URL from an upload response.
func ParseUploadURL(body []byte) (string, bool) {
	return firstText(gjson.ParseBytes(body), uploadURLPaths...)
}
