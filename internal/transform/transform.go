// Package transform turns raw image bytes into the size-bounded JPEG payload
// that is stored and served for every photo.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/vbonduro/vowselect/internal/domain"
	_ "golang.org/x/image/webp" // registers the webp decoder
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxEdge = 1440
	DefaultQuality = 88
	MimeType       = "image/jpeg"
)

// Compressor decodes, downsizes and re-encodes images. At most a fixed
// number of transforms run at once; callers wait for a slot.
type Compressor struct {
	maxEdge int
	quality int
	sem     *semaphore.Weighted
}

// NewCompressor returns a Compressor. Zero values select the defaults and a
// concurrency of GOMAXPROCS.
func NewCompressor(maxEdge, quality, concurrency int) *Compressor {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Compressor{
		maxEdge: maxEdge,
		quality: quality,
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}
}

// Compress returns the encoded JPEG and its size in whole kilobytes, rounded up.
// Any decode or encode problem is reported as domain.ErrTransform.
func (c *Compressor) Compress(ctx context.Context, data []byte) ([]byte, int, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, fmt.Errorf("failed to wait for transform slot: %w", err)
	}
	defer c.sem.Release(1)

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode: %v", domain.ErrTransform, err)
	}

	b := img.Bounds()
	if b.Dx() > c.maxEdge || b.Dy() > c.maxEdge {
		img = imaging.Fit(img, c.maxEdge, c.maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, 0, fmt.Errorf("%w: encode: %v", domain.ErrTransform, err)
	}

	sizeKB := (buf.Len() + 1023) / 1024
	return buf.Bytes(), sizeKB, nil
}
