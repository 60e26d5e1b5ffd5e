package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when an upload request does not exist.
var ErrNotFound = errors.New("upload request not found")

// Repository persists upload requests.
type Repository struct {
	db *bun.DB
}

// NewRepository creates the uploads repository.
func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Get loads an upload request by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*FileUploadRequest, error) {
	req := &FileUploadRequest{}
	err := r.db.NewSelect().Model(req).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upload request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get upload request %s: %w", id, err)
	}
	return req, nil
}

// CreateTx inserts an upload request using the caller's transaction.
func (r *Repository) CreateTx(ctx context.Context, tx bun.IDB, req *FileUploadRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(req).Exec(ctx); err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	return nil
}

// Complete writes the presign result onto the request row. Final step of the
// presign handler: everything before it is safe to re-run.
func (r *Repository) Complete(ctx context.Context, req *FileUploadRequest) error {
	_, err := r.db.NewUpdate().
		Model(req).
		Column("status", "file_id", "object_key", "upload_url", "url_expires_at", "error").
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete upload request %s: %w", req.ID, err)
	}
	return nil
}
