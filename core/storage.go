package core

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const MaxUploadSize = 5 << 20 // 5MB

var (
	// ProfilePictureTypes is the MIME allowlist for profile picture uploads.
	ProfilePictureTypes = map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/webp": true,
	}

	// PaymentProofTypes is the MIME allowlist for payment proof uploads.
	PaymentProofTypes = map[string]bool{
		"image/jpeg":      true,
		"image/png":       true,
		"image/gif":       true,
		"application/pdf": true,
	}

	// AssignmentFileTypes also allows common document and audio formats.
	AssignmentFileTypes = map[string]bool{
		"image/jpeg":      true,
		"image/png":       true,
		"application/pdf": true,
		"audio/mpeg":      true,
		"audio/mp4":       true,
		"audio/ogg":       true,
		"audio/wav":       true,
	}

	errFileTooLarge       = errors.New("file exceeds the 5MB size limit")
	errFileTypeNotAllowed = errors.New("file type not allowed")
)

type (
	// Upload is an inbound file, validated before it ever reaches the object store.
	Upload struct {
		Filename    string
		ContentType string
		Size        int64
		Content     io.Reader
	}

	// FileStorage is any service that can persist uploaded files and serve them back by URL.
	FileStorage interface {
		// Save stores the upload under the given key and returns its public URL.
		Save(ctx context.Context, key string, upload Upload) (string, error)
		Delete(ctx context.Context, key string) error
	}
)

// Validate checks the upload against a MIME allowlist and the global size
// ceiling. Some browsers send a generic content type for .jpg files, so
// jpeg detection falls back to the file extension.
func (u Upload) Validate(allowed map[string]bool) error {
	if u.Size > MaxUploadSize {
		return NewValidationError(errFileTooLarge, FieldError{Field: "file", Error: errFileTooLarge.Error()})
	}

	ct := CleanString(u.ContentType, true /* lower */)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if allowed[ct] {
		return nil
	}
	if allowed["image/jpeg"] {
		switch strings.ToLower(filepath.Ext(u.Filename)) {
		case ".jpg", ".jpeg":
			return nil
		}
	}
	return NewValidationError(errFileTypeNotAllowed, FieldError{Field: "file", Error: errFileTypeNotAllowed.Error()})
}
