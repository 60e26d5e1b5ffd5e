package uploads

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/trellis-app/trellis-core/internal/database"
	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

// RequestParams describes an upload slot to create
type RequestParams struct {
	EntityType  string
	EntityID    string
	FileName    string
	ContentType string
}

// Service creates upload requests and their presign jobs transactionally.
type Service struct {
	db   *bun.DB
	repo *Repository
	jobs *jobs.PostgresStore
	log  *slog.Logger
}

// NewService creates the uploads service.
func NewService(db *bun.DB, repo *Repository, jobStore *jobs.PostgresStore, log *slog.Logger) *Service {
	return &Service{
		db:   db,
		repo: repo,
		jobs: jobStore,
		log:  log.With(logger.Scope("uploads")),
	}
}

// Request inserts a pending upload request and its presign job in one
// transaction. The caller polls the row for the presigned URL.
func (s *Service) Request(ctx context.Context, params RequestParams) (*FileUploadRequest, error) {
	contentType := params.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req := &FileUploadRequest{
		EntityType:  params.EntityType,
		EntityID:    params.EntityID,
		FileName:    params.FileName,
		ContentType: contentType,
		Status:      StatusPending,
	}

	tx, err := database.BeginSafeTx(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.repo.CreateTx(ctx, tx, req); err != nil {
		return nil, err
	}

	job, err := s.jobs.EnqueueTx(ctx, tx, jobs.EnqueueParams{
		Kind:        KindPresign,
		Queue:       jobs.QueueStorage,
		Priority:    presignPriority,
		MaxAttempts: presignMaxAttempts,
		Args: PresignArgs{
			RequestID:  req.ID,
			FileName:   params.FileName,
			FileType:   contentType,
			EntityType: params.EntityType,
			EntityID:   params.EntityID,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Info("upload request enqueued",
		slog.String("request_id", req.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("file_name", params.FileName),
	)
	return req, nil
}
