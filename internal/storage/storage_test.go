package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUploadKey(t *testing.T) {
	fileID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name     string
		fileName string
		want     string
	}{
		{"jpeg", "photo.JPG", "Issue/42/6ba7b810-9dad-11d1-80b4-00c04fd430c8/original.jpg"},
		{"pdf", "report.pdf", "Issue/42/6ba7b810-9dad-11d1-80b4-00c04fd430c8/original.pdf"},
		{"no extension", "README", "Issue/42/6ba7b810-9dad-11d1-80b4-00c04fd430c8/original"},
		{"path traversal stripped", "../../etc/passwd.png", "Issue/42/6ba7b810-9dad-11d1-80b4-00c04fd430c8/original.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UploadKey("Issue", "42", fileID, tt.fileName))
		})
	}
}

func TestThumbKey(t *testing.T) {
	original := "Issue/42/6ba7b810-9dad-11d1-80b4-00c04fd430c8/original.png"

	assert.Equal(t,
		"Issue/42/6ba7b810-9dad-11d1-80b4-00c04fd430c8/thumb-small.jpg",
		ThumbKey(original, "small"))
	assert.Equal(t,
		"Issue/42/6ba7b810-9dad-11d1-80b4-00c04fd430c8/thumb-large.jpg",
		ThumbKey(original, "large"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "photo.jpg", "photo.jpg"},
		{"spaces kept", "my photo.jpg", "my photo.jpg"},
		{"forward slashes stripped", "a/b/c.txt", "c.txt"},
		{"backslashes stripped", `a\b\c.txt`, "c.txt"},
		{"dotdot", "..", "file"},
		{"empty", "", "file"},
		{"control chars dropped", "bad\x00name\x1f.png", "badname.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input))
		})
	}
}
