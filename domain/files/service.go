package files

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/trellis-app/trellis-core/internal/config"
	"github.com/trellis-app/trellis-core/internal/database"
	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

// RecordParams describes an uploaded original to register
type RecordParams struct {
	FileID      uuid.UUID
	EntityType  string
	EntityID    string
	FileName    string
	ContentType string
	ObjectKey   string
	SizeBytes   int64
}

// Service registers uploaded files and queues thumbnail generation.
type Service struct {
	db     *bun.DB
	repo   *Repository
	jobs   *jobs.PostgresStore
	bucket string
	log    *slog.Logger
}

// NewService creates the files service.
func NewService(db *bun.DB, repo *Repository, jobStore *jobs.PostgresStore, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		jobs:   jobStore,
		bucket: cfg.Storage.Bucket,
		log:    log.With(logger.Scope("files")),
	}
}

// Record inserts the file row and, for thumbnailable media, its thumbnail
// job in one transaction. Non-thumbnailable media keeps status none and gets
// no job.
func (s *Service) Record(ctx context.Context, params RecordParams) (*File, error) {
	mediaKind := MediaKindFor(params.ContentType)

	f := &File{
		ID:              params.FileID,
		EntityType:      params.EntityType,
		EntityID:        params.EntityID,
		FileName:        params.FileName,
		ContentType:     params.ContentType,
		MediaKind:       mediaKind,
		ObjectKey:       params.ObjectKey,
		SizeBytes:       params.SizeBytes,
		ThumbnailStatus: ThumbNone,
	}
	if mediaKind != MediaOther {
		f.ThumbnailStatus = ThumbPending
	}

	tx, err := database.BeginSafeTx(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.repo.CreateTx(ctx, tx, f); err != nil {
		return nil, err
	}

	if mediaKind != MediaOther {
		job, err := s.jobs.EnqueueTx(ctx, tx, jobs.EnqueueParams{
			Kind:        KindThumbnail,
			Queue:       jobs.QueueThumbnails,
			Priority:    thumbnailPriority,
			MaxAttempts: thumbnailMaxAttempts,
			Args: ThumbnailArgs{
				FileID:     f.ID,
				StorageKey: f.ObjectKey,
				MediaKind:  mediaKind,
				Bucket:     s.bucket,
			},
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("thumbnail job enqueued",
			slog.String("file_id", f.ID.String()),
			slog.String("job_id", job.ID.String()),
			slog.String("media_kind", mediaKind),
		)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return f, nil
}
