package media

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"waconsole/internal/constants"
	apperrors "waconsole/internal/errors"
	"waconsole/internal/models"

	"github.com/dustin/go-humanize"
)

// Policy is the client-side pre-check applied to attachments before upload.
type Policy struct {
	maxBytes int64
	allowed  map[string]bool
}

// NewPolicy builds a policy from the media config, falling back to the defaults.
func NewPolicy(cfg models.MediaConfig) *Policy {
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = constants.DefaultMaxUploadSizeMB
	}
	types := cfg.AllowedTypes
	if len(types) == 0 {
		types = constants.DefaultAllowedUploadTypes
	}

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Policy{
		maxBytes: int64(maxMB) * 1024 * 1024,
		allowed:  allowed,
	}
}

// MaxBytes is the size ceiling in bytes.
func (p *Policy) MaxBytes() int64 {
	return p.maxBytes
}

// Check is the result of a successful validation.
type Check struct {
	ContentType string
	MessageType string
}

// Validate rejects empty, oversized or disallowed files. A missing or generic
// content type is inferred from the file extension.
func (p *Policy) Validate(filename, contentType string, size int64) (Check, error) {
	if size <= 0 {
		return Check{}, apperrors.NewMediaRejectedError("file is empty")
	}
	if size > p.maxBytes {
		return Check{}, apperrors.NewMediaRejectedError(
			fmt.Sprintf("file is larger than %s", humanize.IBytes(uint64(p.maxBytes)))).
			WithContext("size", size)
	}

	ct := ResolveContentType(filename, contentType)
	if !p.allowed[ct] {
		return Check{}, apperrors.NewMediaRejectedError(
			fmt.Sprintf("content type %s is not allowed", ct)).
			WithContext("content_type", ct)
	}

	return Check{ContentType: ct, MessageType: MessageTypeFor(ct)}, nil
}

// ResolveContentType normalizes contentType, inferring it from filename when absent or generic.
func ResolveContentType(filename, contentType string) string {
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = strings.ToLower(parsed)
		}
	}
	if contentType == "" || contentType == constants.DefaultMimeType {
		if inferred, ok := constants.MimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
			return inferred
		}
		return constants.DefaultMimeType
	}
	return contentType
}

// MessageTypeFor maps a content type to the outgoing message type.
func MessageTypeFor(contentType string) string {
	family, _, _ := strings.Cut(contentType, "/")
	if t, ok := constants.ContentTypeToMessageType[family]; ok {
		return t
	}
	return models.ContentTypeDocument
}
