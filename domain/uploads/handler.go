package uploads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/internal/storage"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

// KindPresign is the job kind for presigned URL generation. Presign failures
// are assumed transient (network, storage service), so the retry budget is
// generous.
const (
	KindPresign = "storage.presign"

	presignPriority    = 5
	presignMaxAttempts = 25
)

// PresignArgs is the payload of a storage.presign job
type PresignArgs struct {
	RequestID  uuid.UUID `json:"request_id"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
}

// requestStore is the persistence surface the presign handler needs
type requestStore interface {
	Get(ctx context.Context, id uuid.UUID) (*FileUploadRequest, error)
	Complete(ctx context.Context, req *FileUploadRequest) error
}

// PresignHandler fulfills upload requests with presigned URLs.
type PresignHandler struct {
	store     requestStore
	presigner storage.Presigner
	expiry    time.Duration
	log       *slog.Logger
}

// NewPresignHandler creates the storage.presign handler.
func NewPresignHandler(repo *Repository, presigner storage.Presigner, expiry time.Duration, log *slog.Logger) *PresignHandler {
	return &PresignHandler{
		store:     repo,
		presigner: presigner,
		expiry:    expiry,
		log:       log.With(logger.Scope("uploads.presign")),
	}
}

// Handle generates a file id, derives the object key, presigns an upload URL
// and completes the request row. A request already marked ready is left
// alone, so a retry after a crash between Complete and job completion is a
// no-op.
func (h *PresignHandler) Handle(ctx context.Context, job *jobs.Job) error {
	var args PresignArgs
	if err := job.UnmarshalArgs(&args); err != nil {
		return jobs.Discardf("decode presign args: %v", err)
	}

	req, err := h.store.Get(ctx, args.RequestID)
	if errors.Is(err, ErrNotFound) {
		return jobs.Discard(err)
	}
	if err != nil {
		return err
	}
	if req.Status == StatusReady {
		h.log.Info("upload request already ready, skipping",
			slog.String("request_id", req.ID.String()))
		return nil
	}

	fileID := uuid.New()
	key := storage.UploadKey(args.EntityType, args.EntityID, fileID, args.FileName)

	contentType := args.FileType
	if contentType == "" {
		contentType = req.ContentType
	}

	url, expiresAt, err := h.presigner.PresignUpload(ctx, key, contentType, h.expiry)
	if err != nil {
		return fmt.Errorf("presign upload for request %s: %w", req.ID, err)
	}

	req.Status = StatusReady
	req.FileID = &fileID
	req.ObjectKey = &key
	req.UploadURL = &url
	req.URLExpiresAt = &expiresAt
	req.Error = nil

	if err := h.store.Complete(ctx, req); err != nil {
		return err
	}

	h.log.Info("upload url issued",
		slog.String("request_id", req.ID.String()),
		slog.String("file_id", fileID.String()),
		slog.String("key", key),
	)
	return nil
}
