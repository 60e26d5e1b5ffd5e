package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/trellis-app/trellis-core/internal/database"
	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

// SendParams describes a notification to enqueue
type SendParams struct {
	TemplateName string
	EntityType   string
	EntityID     string
	// EntityData is snapshotted as-is; the send job never re-fetches it
	EntityData any
	ToEmail    string
	ToName     string
	Channels   []string
}

// Service is the producer-side API: it creates notification rows and their
// jobs in one transaction, and answers interactive validate/preview calls
// synchronously.
type Service struct {
	db       *bun.DB
	repo     *Repository
	jobs     *jobs.PostgresStore
	renderer *Renderer
	log      *slog.Logger
}

// NewService creates the notifications service.
func NewService(db *bun.DB, repo *Repository, jobStore *jobs.PostgresStore, renderer *Renderer, log *slog.Logger) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		jobs:     jobStore,
		renderer: renderer,
		log:      log.With(logger.Scope("notifications")),
	}
}

// Send snapshots the entity data, inserts the notification row and its send
// job in the same transaction, and returns the pending notification. The
// caller observes the outcome via the row's status and error columns.
func (s *Service) Send(ctx context.Context, params SendParams) (*Notification, error) {
	snapshot, err := json.Marshal(params.EntityData)
	if err != nil {
		return nil, fmt.Errorf("snapshot entity data: %w", err)
	}

	channels := params.Channels
	if len(channels) == 0 {
		channels = []string{ChannelEmail}
	}

	n := &Notification{
		TemplateName: params.TemplateName,
		EntityType:   params.EntityType,
		EntityID:     params.EntityID,
		EntityData:   snapshot,
		ToEmail:      params.ToEmail,
		ToName:       params.ToName,
		Channels:     channels,
		Status:       StatusPending,
	}

	tx, err := database.BeginSafeTx(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.repo.CreateTx(ctx, tx, n); err != nil {
		return nil, err
	}

	job, err := s.jobs.EnqueueTx(ctx, tx, jobs.EnqueueParams{
		Kind:        KindSend,
		Queue:       jobs.QueueNotifications,
		Priority:    sendPriority,
		MaxAttempts: sendMaxAttempts,
		Args:        SendArgs{NotificationID: n.ID},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Info("notification enqueued",
		slog.String("notification_id", n.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("template", params.TemplateName),
	)
	return n, nil
}

// Validate checks template syntax synchronously.
func (s *Service) Validate(source string) error {
	return s.renderer.Validate(source)
}

// Preview renders a single template against sample data synchronously.
func (s *Service) Preview(source string, flavor Flavor, sample map[string]any) (string, error) {
	return s.renderer.Preview(source, flavor, sample)
}

// EnqueueValidate queues a validation job for callers that work through the
// job table instead of calling Validate directly.
func (s *Service) EnqueueValidate(ctx context.Context, source string) (*jobs.Job, error) {
	return s.jobs.Enqueue(ctx, jobs.EnqueueParams{
		Kind:        KindValidate,
		Queue:       jobs.QueueNotifications,
		Priority:    interactivePriority,
		MaxAttempts: interactiveMaxAttempts,
		Args:        ValidateArgs{TemplateString: source},
	})
}

// EnqueuePreview queues a preview job.
func (s *Service) EnqueuePreview(ctx context.Context, source string, flavor Flavor, sample map[string]any) (*jobs.Job, error) {
	return s.jobs.Enqueue(ctx, jobs.EnqueueParams{
		Kind:        KindPreview,
		Queue:       jobs.QueueNotifications,
		Priority:    interactivePriority,
		MaxAttempts: interactiveMaxAttempts,
		Args: PreviewArgs{
			TemplateString: source,
			Flavor:         flavor,
			EntityData:     sample,
		},
	})
}
