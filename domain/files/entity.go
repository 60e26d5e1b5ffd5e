// Package files tracks uploaded objects and generates their thumbnail
// derivatives.
package files

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Media kinds drive the thumbnail pipeline: images resize directly, PDFs go
// through first-page rasterization first, everything else gets no thumbnails.
const (
	MediaImage = "image"
	MediaPDF   = "pdf"
	MediaOther = "other"
)

// Thumbnail statuses
const (
	ThumbNone      = "none"
	ThumbPending   = "pending"
	ThumbCompleted = "completed"
	ThumbFailed    = "failed"
)

// File is one uploaded object and its derivatives.
type File struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	ID          uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	EntityType  string    `bun:"entity_type,notnull" json:"entity_type"`
	EntityID    string    `bun:"entity_id,notnull" json:"entity_id"`
	FileName    string    `bun:"file_name,notnull" json:"file_name"`
	ContentType string    `bun:"content_type,notnull,default:'application/octet-stream'" json:"content_type"`
	MediaKind   string    `bun:"media_kind,notnull,default:'other'" json:"media_kind"`
	ObjectKey   string    `bun:"object_key,notnull" json:"object_key"`
	SizeBytes   int64     `bun:"size_bytes,notnull,default:0" json:"size_bytes"`

	ThumbnailStatus string  `bun:"thumbnail_status,notnull,default:'none'" json:"thumbnail_status"`
	ThumbnailError  *string `bun:"thumbnail_error" json:"thumbnail_error,omitempty"`
	ThumbSmallKey   *string `bun:"thumb_small_key" json:"thumb_small_key,omitempty"`
	ThumbMediumKey  *string `bun:"thumb_medium_key" json:"thumb_medium_key,omitempty"`
	ThumbLargeKey   *string `bun:"thumb_large_key" json:"thumb_large_key,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// MediaKindFor classifies a content type for the thumbnail pipeline.
func MediaKindFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaImage
	case ct == "application/pdf":
		return MediaPDF
	default:
		return MediaOther
	}
}
