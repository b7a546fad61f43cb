package media

import (
	"testing"

	apperrors "waconsole/internal/errors"
	"waconsole/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Defaults(t *testing.T) {
	p := NewPolicy(models.MediaConfig{})
	assert.Equal(t, int64(16*1024*1024), p.MaxBytes())

	check, err := p.Validate("photo.jpg", "image/jpeg", 1024)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", check.ContentType)
	assert.Equal(t, "image", check.MessageType)
}

func TestPolicy_Validate(t *testing.T) {
	p := NewPolicy(models.MediaConfig{MaxSizeMB: 1, AllowedTypes: []string{"image/png", "application/pdf", "audio/ogg"}})

	tests := []struct {
		name        string
		filename    string
		contentType string
		size        int64
		wantType    string
		wantErr     string
	}{
		{"png", "a.png", "image/png", 10, "image", ""},
		{"pdf is a document", "menu.pdf", "application/pdf", 10, "document", ""},
		{"content type params stripped", "v.ogg", "audio/ogg; codecs=opus", 10, "audio", ""},
		{"inferred from extension", "a.PNG", "", 10, "image", ""},
		{"octet stream inferred", "menu.pdf", "application/octet-stream", 10, "document", ""},
		{"empty file", "a.png", "image/png", 0, "", "empty"},
		{"too large", "a.png", "image/png", 1024*1024 + 1, "", "larger than 1.0 MiB"},
		{"exactly at ceiling", "a.png", "image/png", 1024 * 1024, "image", ""},
		{"disallowed type", "a.gif", "image/gif", 10, "", "image/gif is not allowed"},
		{"unknown extension", "a.exe", "", 10, "", "application/octet-stream is not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := p.Validate(tt.filename, tt.contentType, tt.size)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, apperrors.ErrCodeMediaRejected, apperrors.GetCode(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, check.MessageType)
		})
	}
}

func TestMessageTypeFor(t *testing.T) {
	assert.Equal(t, "video", MessageTypeFor("video/mp4"))
	assert.Equal(t, "document", MessageTypeFor("application/zip"))
	assert.Equal(t, "document", MessageTypeFor("weird"))
}
