// Package uploads issues presigned upload URLs for client-side file uploads.
// A client asks for an upload slot; the storage worker picks a file id,
// derives the object key and presigns a time-limited PUT URL, and writes all
// three back onto the request row.
package uploads

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Upload request statuses
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// FileUploadRequest is one requested upload slot.
type FileUploadRequest struct {
	bun.BaseModel `bun:"table:file_upload_requests,alias:fur"`

	ID          uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	EntityType  string    `bun:"entity_type,notnull" json:"entity_type"`
	EntityID    string    `bun:"entity_id,notnull" json:"entity_id"`
	FileName    string    `bun:"file_name,notnull" json:"file_name"`
	ContentType string    `bun:"content_type,notnull,default:'application/octet-stream'" json:"content_type"`

	Status       string     `bun:"status,notnull,default:'pending'" json:"status"`
	FileID       *uuid.UUID `bun:"file_id,type:uuid" json:"file_id,omitempty"`
	ObjectKey    *string    `bun:"object_key" json:"object_key,omitempty"`
	UploadURL    *string    `bun:"upload_url" json:"upload_url,omitempty"`
	URLExpiresAt *time.Time `bun:"url_expires_at" json:"url_expires_at,omitempty"`
	Error        *string    `bun:"error" json:"error,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
