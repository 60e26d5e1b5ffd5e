package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	h := HandlerFunc(func(ctx context.Context, job *Job) error { return nil })
	require.NoError(t, r.Register("notification.send", h))

	got, ok := r.Lookup("notification.send")
	assert.True(t, ok)
	assert.NotNil(t, got)

	_, ok = r.Lookup("unknown.kind")
	assert.False(t, ok)
}

func TestRegistry_DuplicateKind(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, job *Job) error { return nil })

	require.NoError(t, r.Register("k", h))
	err := r.Register("k", h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, job *Job) error { return nil })

	assert.Error(t, r.Register("", h))
	assert.Error(t, r.Register("k", nil))
}

func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, job *Job) error { return nil })

	require.NoError(t, r.Register("b", h))
	require.NoError(t, r.Register("a", h))

	assert.Equal(t, []string{"a", "b"}, r.Kinds())
}

func TestDiscard(t *testing.T) {
	assert.Nil(t, Discard(nil))

	err := Discard(assert.AnError)
	assert.True(t, IsDiscard(err))
	assert.ErrorIs(t, err, assert.AnError)

	assert.False(t, IsDiscard(assert.AnError))

	wrapped := Discardf("bad payload: %w", assert.AnError)
	assert.True(t, IsDiscard(wrapped))
	assert.ErrorIs(t, wrapped, assert.AnError)
}
