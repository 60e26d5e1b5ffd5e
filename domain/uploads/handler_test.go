package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-app/trellis-core/internal/jobs"
)

type fakeRequestStore struct {
	requests  map[uuid.UUID]*FileUploadRequest
	completed []*FileUploadRequest
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: map[uuid.UUID]*FileUploadRequest{}}
}

func (s *fakeRequestStore) Get(ctx context.Context, id uuid.UUID) (*FileUploadRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("upload request %s: %w", id, ErrNotFound)
	}
	return req, nil
}

func (s *fakeRequestStore) Complete(ctx context.Context, req *FileUploadRequest) error {
	s.completed = append(s.completed, req)
	return nil
}

type fakePresigner struct {
	err  error
	keys []string
}

func (p *fakePresigner) PresignUpload(ctx context.Context, key, contentType string, expiry time.Duration) (string, time.Time, error) {
	if p.err != nil {
		return "", time.Time{}, p.err
	}
	p.keys = append(p.keys, key)
	return "https://storage.example.com/" + key + "?sig=abc", time.Now().Add(expiry), nil
}

func presignJob(t *testing.T, args PresignArgs) *jobs.Job {
	t.Helper()
	payload, err := json.Marshal(args)
	require.NoError(t, err)
	return &jobs.Job{ID: uuid.New(), Kind: KindPresign, Args: payload, Attempt: 1, MaxAttempts: 25}
}

func TestPresignHandler_CompletesRequest(t *testing.T) {
	store := newFakeRequestStore()
	presigner := &fakePresigner{}
	h := &PresignHandler{
		store:     store,
		presigner: presigner,
		expiry:    15 * time.Minute,
		log:       slog.Default(),
	}

	req := &FileUploadRequest{
		ID:          uuid.New(),
		EntityType:  "Issue",
		EntityID:    "42",
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
		Status:      StatusPending,
	}
	store.requests[req.ID] = req

	err := h.Handle(context.Background(), presignJob(t, PresignArgs{
		RequestID:  req.ID,
		FileName:   "photo.jpg",
		FileType:   "image/jpeg",
		EntityType: "Issue",
		EntityID:   "42",
	}))
	require.NoError(t, err)

	require.Len(t, store.completed, 1)
	done := store.completed[0]
	assert.Equal(t, StatusReady, done.Status)
	require.NotNil(t, done.FileID)
	require.NotNil(t, done.UploadURL)
	assert.NotEmpty(t, *done.UploadURL)
	require.NotNil(t, done.URLExpiresAt)
	assert.True(t, done.URLExpiresAt.After(time.Now()))

	// Key layout: {entity_type}/{entity_id}/{file_id}/original.{ext}
	require.NotNil(t, done.ObjectKey)
	pattern := regexp.MustCompile(`^Issue/42/[0-9a-f-]{36}/original\.jpg$`)
	assert.Regexp(t, pattern, *done.ObjectKey)
	assert.Contains(t, *done.ObjectKey, done.FileID.String())
}

func TestPresignHandler_AlreadyReadyIsIdempotent(t *testing.T) {
	store := newFakeRequestStore()
	presigner := &fakePresigner{}
	h := &PresignHandler{store: store, presigner: presigner, expiry: 15 * time.Minute, log: slog.Default()}

	req := &FileUploadRequest{ID: uuid.New(), Status: StatusReady}
	store.requests[req.ID] = req

	err := h.Handle(context.Background(), presignJob(t, PresignArgs{RequestID: req.ID}))
	require.NoError(t, err)
	assert.Empty(t, presigner.keys, "no second presign for a ready request")
	assert.Empty(t, store.completed)
}

func TestPresignHandler_MissingRequestDiscards(t *testing.T) {
	h := &PresignHandler{
		store:     newFakeRequestStore(),
		presigner: &fakePresigner{},
		expiry:    15 * time.Minute,
		log:       slog.Default(),
	}

	err := h.Handle(context.Background(), presignJob(t, PresignArgs{RequestID: uuid.New()}))
	require.Error(t, err)
	assert.True(t, jobs.IsDiscard(err))
}

func TestPresignHandler_TransientPresignErrorRetries(t *testing.T) {
	store := newFakeRequestStore()
	h := &PresignHandler{
		store:     store,
		presigner: &fakePresigner{err: errors.New("connection refused")},
		expiry:    15 * time.Minute,
		log:       slog.Default(),
	}

	req := &FileUploadRequest{ID: uuid.New(), Status: StatusPending}
	store.requests[req.ID] = req

	err := h.Handle(context.Background(), presignJob(t, PresignArgs{
		RequestID: req.ID,
		FileName:  "a.png",
	}))
	require.Error(t, err)
	assert.False(t, jobs.IsDiscard(err), "presign failures are transient")
	assert.Empty(t, store.completed, "request row untouched until presign succeeds")
}
