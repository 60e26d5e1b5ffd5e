package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when a file row does not exist.
var ErrNotFound = errors.New("file not found")

// Repository persists file rows.
type Repository struct {
	db *bun.DB
}

// NewRepository creates the files repository.
func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Get loads a file by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*File, error) {
	f := &File{}
	err := r.db.NewSelect().Model(f).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return f, nil
}

// CreateTx inserts a file row using the caller's transaction.
func (r *Repository) CreateTx(ctx context.Context, tx bun.IDB, f *File) error {
	if _, err := tx.NewInsert().Model(f).Exec(ctx); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

// SaveThumbnails writes the derivative keys and final status. Final step of
// the thumbnail handler.
func (r *Repository) SaveThumbnails(ctx context.Context, f *File) error {
	_, err := r.db.NewUpdate().
		Model(f).
		Column("thumbnail_status", "thumbnail_error",
			"thumb_small_key", "thumb_medium_key", "thumb_large_key").
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save thumbnails for file %s: %w", f.ID, err)
	}
	return nil
}
