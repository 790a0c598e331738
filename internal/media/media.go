// Package media validates campaign images and pins them to a
// content-addressed store.
package media

import (
	"context"
	"errors"
	"net/http"
	"time"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
)

// AllowedTypes are the image types accepted for upload, keyed by sniffed MIME
// type.
var AllowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var ErrNoPins = errors.New("nothing pinned yet")

// Pin describes one pinned file.
type Pin struct {
	CID         string    `json:"ipfs_pin_hash"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	PinnedAt    time.Time `json:"date_pinned"`
}

// Pinner stores file bytes and returns their content identifier.
type Pinner interface {
	Pin(ctx context.Context, name, contentType string, data []byte) (*Pin, error)
	Latest(ctx context.Context) (*Pin, error)
}

// DetectImageType sniffs data and returns its MIME type when it is an allowed
// image. The file name and declared content type are ignored.
func DetectImageType(data []byte) (string, error) {
	if len(data) == 0 {
		return "", appErrors.Validation("file is empty")
	}
	mime := http.DetectContentType(data)
	if !AllowedTypes[mime] {
		return "", appErrors.Validation("Invalid file type. Only JPG, PNG, and WEBP images are allowed.")
	}
	return mime, nil
}
