package constants

// DefaultMaxUploadSizeMB is the client-side upload ceiling.
const DefaultMaxUploadSizeMB = 16

// DefaultAllowedUploadTypes is the content-type allow-list for media sends.
var DefaultAllowedUploadTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"video/mp4",
	"audio/ogg",
	"audio/mpeg",
	"audio/mp4",
	"application/pdf",
}

// ContentTypeToMessageType maps a content-type family to the outgoing message type.
var ContentTypeToMessageType = map[string]string{
	"image":       "image",
	"video":       "video",
	"audio":       "audio",
	"application": "document",
	"text":        "document",
}

// MimeTypes maps file extensions to their corresponding MIME types
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".ogg":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".pdf":  "application/pdf",
}

// DefaultMimeType is the fallback MIME type for unknown file extensions
const DefaultMimeType = "application/octet-stream"
