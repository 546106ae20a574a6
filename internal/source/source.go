// Package source describes where imported photos come from.
package source

import (
	"context"
	"path/filepath"
	"strings"
)

// Item is one importable image. Which fields are set depends on the source:
// local items carry Path, upload items carry Data, drive items carry ID and
// ThumbnailURL.
type Item struct {
	ID           string
	Name         string
	Path         string
	ThumbnailURL string
	Data         []byte
}

// Drive lists and downloads images from a remote folder.
//
// Errors are classified with the domain sentinels: ErrUnauthorized and
// ErrForbidden for credential problems, ErrInvalidInput for a missing
// folder or file, ErrUpstream for everything else.
type Drive interface {
	ListImages(ctx context.Context, folderID string) ([]Item, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// DriveFactory builds a Drive client for one caller-supplied access token.
type DriveFactory func(ctx context.Context, accessToken string) (Drive, error)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsImageName reports whether name has an importable image extension.
func IsImageName(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}
