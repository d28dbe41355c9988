package usecase

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"negotiation-chat/internal/domain"
)

var extensionTypes = map[string]domain.AttachmentType{
	".jpg":  domain.AttachmentImage,
	".jpeg": domain.AttachmentImage,
	".png":  domain.AttachmentImage,
	".gif":  domain.AttachmentImage,
	".webp": domain.AttachmentImage,
	".bmp":  domain.AttachmentImage,
	".svg":  domain.AttachmentImage,
	".heic": domain.AttachmentImage,
	".heif": domain.AttachmentImage,
	".avif": domain.AttachmentImage,
	".mp4":  domain.AttachmentVideo,
	".m4v":  domain.AttachmentVideo,
	".mov":  domain.AttachmentVideo,
	".webm": domain.AttachmentVideo,
	".mkv":  domain.AttachmentVideo,
	".avi":  domain.AttachmentVideo,
	".3gp":  domain.AttachmentVideo,
	".pdf":  domain.AttachmentDocument,
	".doc":  domain.AttachmentDocument,
	".docx": domain.AttachmentDocument,
	".xls":  domain.AttachmentDocument,
	".xlsx": domain.AttachmentDocument,
	".csv":  domain.AttachmentDocument,
	".txt":  domain.AttachmentDocument,
	".zip":  domain.AttachmentDocument,
}

// ClassifyAttachment picks the attachment type from the file extension first
// and the MIME type second. Client-reported MIME types for captured media are
// often missing or wrong, so they only break ties the extension cannot.
func ClassifyAttachment(name, mimeType string) domain.AttachmentType {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return classifyMIME(mimeType)
}

func classifyMIME(raw string) domain.AttachmentType {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(raw))
	if err != nil {
		return domain.AttachmentDocument
	}
	// Resolve aliases such as image/jpg or video/x-m4v to the canonical type.
	if m := mimetype.Lookup(mediaType); m != nil {
		mediaType = m.String()
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return domain.AttachmentImage
	case strings.HasPrefix(mediaType, "video/"):
		return domain.AttachmentVideo
	default:
		return domain.AttachmentDocument
	}
}
