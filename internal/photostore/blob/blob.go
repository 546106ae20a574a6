// Package blob stores photo payloads in any gocloud.dev bucket: file://,
// mem://, gs:// or s3://.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/vbonduro/vowselect/internal/domain"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

type BlobPhotoStore struct {
	bucket *blob.Bucket
	logger *slog.Logger
}

// Open opens the bucket at url, for example "file:///data/photos?create_dir=true"
// or "mem://".
func Open(ctx context.Context, url string, logger *slog.Logger) (*BlobPhotoStore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", url, err)
	}
	return &BlobPhotoStore{bucket: bucket, logger: logger}, nil
}

func (s *BlobPhotoStore) Save(ctx context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	key := path.Join(prefix, uuid.NewString()+mimeTypeToExt(mimeType))

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: mimeType})
	if err != nil {
		return "", fmt.Errorf("failed to create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		if cerr := w.Close(); cerr != nil {
			s.logger.Error("failed to close writer after write error", "key", key, "error", cerr)
		}
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer for %s: %w", key, err)
	}
	return key, nil
}

func (s *BlobPhotoStore) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	if err := validKey(storageKey); err != nil {
		return nil, "", err
	}

	rd, err := s.bucket.NewReader(ctx, storageKey, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", fmt.Errorf("photo %s: %w", storageKey, domain.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to open %s: %w", storageKey, err)
	}

	mimeType := rd.ContentType()
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = extToMimeType(storageKey)
	}
	return rd, mimeType, nil
}

func (s *BlobPhotoStore) Delete(ctx context.Context, storageKey string) error {
	if err := validKey(storageKey); err != nil {
		return err
	}

	if err := s.bucket.Delete(ctx, storageKey); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("photo %s: %w", storageKey, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s: %w", storageKey, err)
	}
	return nil
}

func (s *BlobPhotoStore) Close() error {
	return s.bucket.Close()
}

// validKey rejects keys that try to climb out of the bucket prefix.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: invalid storage key", domain.ErrInvalidInput)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("%w: path traversal attempt", domain.ErrInvalidInput)
		}
	}
	return nil
}

func mimeTypeToExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func extToMimeType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
