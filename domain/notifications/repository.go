package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when a notification or template does not exist.
var ErrNotFound = errors.New("not found")

// Repository persists templates and notifications.
type Repository struct {
	db *bun.DB
}

// NewRepository creates the notifications repository.
func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// GetTemplate loads a template by its unique name.
func (r *Repository) GetTemplate(ctx context.Context, name string) (*NotificationTemplate, error) {
	tpl := &NotificationTemplate{}
	err := r.db.NewSelect().Model(tpl).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %q: %w", name, err)
	}
	return tpl, nil
}

// UpsertTemplate inserts or updates a template by name.
func (r *Repository) UpsertTemplate(ctx context.Context, tpl *NotificationTemplate) error {
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	_, err := r.db.NewInsert().
		Model(tpl).
		On("CONFLICT (name) DO UPDATE").
		Set("entity_type = EXCLUDED.entity_type").
		Set("description = EXCLUDED.description").
		Set("subject = EXCLUDED.subject").
		Set("html_body = EXCLUDED.html_body").
		Set("text_body = EXCLUDED.text_body").
		Set("sms_body = EXCLUDED.sms_body").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert template %q: %w", tpl.Name, err)
	}
	return nil
}

// Get loads a notification by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n := &Notification{}
	err := r.db.NewSelect().Model(n).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

// CreateTx inserts a notification using the caller's transaction, so the row
// commits together with its job row.
func (r *Repository) CreateTx(ctx context.Context, tx bun.IDB, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(n).Exec(ctx); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// SaveResult writes the delivery outcome back to the notification row. This
// is the final step of the send handler; everything before it is safe to
// re-run on retry.
func (r *Repository) SaveResult(ctx context.Context, n *Notification) error {
	_, err := r.db.NewUpdate().
		Model(n).
		Column("status", "channel_status", "error",
			"rendered_subject", "rendered_html", "rendered_text", "rendered_sms",
			"sent_at").
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save notification result %s: %w", n.ID, err)
	}
	return nil
}
