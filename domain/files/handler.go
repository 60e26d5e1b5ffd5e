package files

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/google/uuid"

	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/internal/storage"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

// KindThumbnail is the job kind for thumbnail generation. Failures are
// assumed transient (storage or converter hiccups), so the budget is high.
const (
	KindThumbnail = "files.thumbnail"

	thumbnailPriority    = 5
	thumbnailMaxAttempts = 20
)

// ThumbnailArgs is the payload of a files.thumbnail job
type ThumbnailArgs struct {
	FileID     uuid.UUID `json:"file_id"`
	StorageKey string    `json:"storage_key"`
	MediaKind  string    `json:"media_kind"`
	Bucket     string    `json:"bucket"`
}

// fileStore is the persistence surface the thumbnail handler needs
type fileStore interface {
	Get(ctx context.Context, id uuid.UUID) (*File, error)
	SaveThumbnails(ctx context.Context, f *File) error
}

// ThumbnailHandler generates the three thumbnail derivatives for a file.
type ThumbnailHandler struct {
	store      fileStore
	objects    storage.ObjectStore
	rasterizer Rasterizer
	log        *slog.Logger
}

// NewThumbnailHandler creates the files.thumbnail handler.
func NewThumbnailHandler(repo *Repository, objects storage.ObjectStore, rasterizer Rasterizer, log *slog.Logger) *ThumbnailHandler {
	return &ThumbnailHandler{
		store:      repo,
		objects:    objects,
		rasterizer: rasterizer,
		log:        log.With(logger.Scope("files.thumbnail")),
	}
}

// Handle downloads the original, produces small/medium/large derivatives,
// uploads them next to the original and writes the keys back in one final
// update. On failure the row is marked failed (never silently left pending)
// and the error bubbles up for the standard retry policy.
func (h *ThumbnailHandler) Handle(ctx context.Context, job *jobs.Job) error {
	var args ThumbnailArgs
	if err := job.UnmarshalArgs(&args); err != nil {
		return jobs.Discardf("decode thumbnail args: %v", err)
	}

	f, err := h.store.Get(ctx, args.FileID)
	if errors.Is(err, ErrNotFound) {
		return jobs.Discard(err)
	}
	if err != nil {
		return err
	}
	if f.ThumbnailStatus == ThumbCompleted {
		h.log.Info("thumbnails already generated, skipping",
			slog.String("file_id", f.ID.String()))
		return nil
	}

	if err := h.generate(ctx, f, args); err != nil {
		h.markFailed(ctx, f, err)
		return err
	}

	f.ThumbnailStatus = ThumbCompleted
	f.ThumbnailError = nil
	if err := h.store.SaveThumbnails(ctx, f); err != nil {
		return err
	}

	h.log.Info("thumbnails generated",
		slog.String("file_id", f.ID.String()),
		slog.String("key", args.StorageKey),
	)
	return nil
}

func (h *ThumbnailHandler) generate(ctx context.Context, f *File, args ThumbnailArgs) error {
	original, err := h.objects.Download(ctx, args.StorageKey)
	if err != nil {
		return err
	}

	var src image.Image
	switch args.MediaKind {
	case MediaImage:
		src, err = DecodeImage(original)
	case MediaPDF:
		src, err = h.rasterizer.FirstPage(ctx, original)
	default:
		return jobs.Discardf("media kind %q is not thumbnailable", args.MediaKind)
	}
	if err != nil {
		return err
	}

	keys := make(map[string]string, len(ThumbSizes))
	for _, size := range ThumbSizes {
		data, err := RenderThumbnail(src, size)
		if err != nil {
			return err
		}
		key := storage.ThumbKey(args.StorageKey, size.Name)
		if err := h.objects.Upload(ctx, key, data, "image/jpeg"); err != nil {
			return err
		}
		keys[size.Name] = key
	}

	small, medium, large := keys["small"], keys["medium"], keys["large"]
	f.ThumbSmallKey = &small
	f.ThumbMediumKey = &medium
	f.ThumbLargeKey = &large
	return nil
}

// markFailed records the failure on the row so operators can see it; the
// retry policy may still turn the row green on a later attempt.
func (h *ThumbnailHandler) markFailed(ctx context.Context, f *File, cause error) {
	msg := cause.Error()
	f.ThumbnailStatus = ThumbFailed
	f.ThumbnailError = &msg
	if err := h.store.SaveThumbnails(ctx, f); err != nil {
		h.log.Error("failed to record thumbnail error",
			slog.String("file_id", f.ID.String()),
			logger.Error(err),
		)
	}
}
