package botapi

import (
	"context"
	"io"
	"time"

	"waconsole/internal/models"
)

// API is the bot service REST surface the console depends on.
type API interface {
	ListConversations(ctx context.Context, cursor string, limit int) (models.ConversationPage, error)
	FetchMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]models.Message, error)
	SendText(ctx context.Context, conversationID, body string) (models.Message, error)
	UploadMedia(ctx context.Context, filename, contentType string, content io.Reader) (string, error)
	SendMedia(ctx context.Context, conversationID string, media models.MediaSend) (models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	SetConversationBot(ctx context.Context, conversationID string, enabled bool) error
	SetGlobalBot(ctx context.Context, enabled bool) error
}
