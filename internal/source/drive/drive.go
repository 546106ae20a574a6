// Package drive lists and downloads images from a Google Drive folder using
// a caller-supplied OAuth access token.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/source"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType  = "application/vnd.google-apps.folder"
	listFields      = "nextPageToken, files(id, name, mimeType, thumbnailLink)"
	maxDownloadSize = 50 * 1024 * 1024 // 50 MB
)

type Client struct {
	svc *drive.Service
}

// New builds a client authenticated with accessToken. Extra options are
// applied after the token source, so tests can point it at a fake server.
func New(ctx context.Context, accessToken string, opts ...option.ClientOption) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: drive access token is required", domain.ErrUnauthorized)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)

	svc, err := drive.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Factory adapts New to source.DriveFactory.
func Factory(opts ...option.ClientOption) source.DriveFactory {
	return func(ctx context.Context, accessToken string) (source.Drive, error) {
		return New(ctx, accessToken, opts...)
	}
}

// ListImages returns every image below folderID, descending into sub-folders
// breadth first. Items keep the order Drive returns them in.
func (c *Client) ListImages(ctx context.Context, folderID string) ([]source.Item, error) {
	if strings.TrimSpace(folderID) == "" {
		return nil, fmt.Errorf("%w: drive folder id is required", domain.ErrInvalidInput)
	}

	var items []source.Item
	pending := []string{folderID}
	for len(pending) > 0 {
		current := pending[0]
		pending = pending[1:]

		pageToken := ""
		for {
			call := c.svc.Files.List().
				Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(current))).
				Fields(googleapi.Field(listFields)).
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true).
				PageSize(1000).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			resp, err := call.Do()
			if err != nil {
				return nil, classify(ctx, err, "list folder "+current)
			}

			for _, f := range resp.Files {
				switch {
				case f.MimeType == folderMimeType:
					pending = append(pending, f.Id)
				case strings.HasPrefix(f.MimeType, "image/"):
					items = append(items, source.Item{ID: f.Id, Name: f.Name, ThumbnailURL: f.ThumbnailLink})
				}
			}

			if resp.NextPageToken == "" {
				break
			}
			pageToken = resp.NextPageToken
		}
	}
	return items, nil
}

// Download fetches the raw bytes of one file.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, classify(ctx, err, "download "+fileID)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrUpstream, fileID, err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("%w: file %s exceeds %d bytes", domain.ErrInvalidInput, fileID, maxDownloadSize)
	}
	return data, nil
}

func classify(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("drive %s: %w", op, ctx.Err())
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: drive %s: %s", domain.ErrUnauthorized, op, gerr.Message)
		case http.StatusForbidden:
			if transientReason(gerr) {
				return fmt.Errorf("%w: drive %s: %s", domain.ErrUpstream, op, gerr.Message)
			}
			return fmt.Errorf("%w: drive %s: %s", domain.ErrForbidden, op, gerr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: drive %s: not found", domain.ErrInvalidInput, op)
		}
	}
	return fmt.Errorf("%w: drive %s: %v", domain.ErrUpstream, op, err)
}

// Drive answers 403 for quota and per-file download limits as well as for
// missing permissions. These reasons only affect the current call.
var transientReasons = map[string]bool{
	"userRateLimitExceeded": true,
	"rateLimitExceeded":     true,
	"cannotDownloadFile":    true,
}

func transientReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if transientReasons[item.Reason] {
			return true
		}
	}
	return false
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
