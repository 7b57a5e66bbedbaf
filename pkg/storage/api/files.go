package api

import (
	"context"
	"strings"
	"time"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

type listRequest struct {
	TeamID            int64   `json:"teamId"`
	Path              string  `json:"path"`
	Recursive         bool    `json:"recursive"`
	WithMetadata      bool    `json:"withMetadata"`
	Files             bool    `json:"files"`
	Folders           bool    `json:"folders"`
	Limit             *int    `json:"limit,omitempty"`
	ContinuationToken *string `json:"continuationToken,omitempty"`
}

type listResponse struct {
	Entities          []fileEntity `json:"entities"`
	ContinuationToken *string      `json:"continuationToken"`
}

type fileEntity struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	UpdatedAt string `json:"updatedAt"`
	CreatedAt string `json:"createdAt"`
}

type removeRequest struct {
	TeamID int64    `json:"teamId"`
	Paths  []string `json:"paths"`
}

// ListPage issues one file-storage.v2.list call.
func (c *Client) ListPage(ctx context.Context, tenantID int64, req storage.ListRequest) (storage.ListPage, error) {
	body := listRequest{
		TeamID:       tenantID,
		Path:         req.Path,
		Recursive:    req.Recursive,
		WithMetadata: req.WithMetadata,
		Files:        req.IncludeFiles,
		Folders:      req.IncludeFolders,
	}
	if req.Limit > 0 {
		limit := req.Limit
		body.Limit = &limit
	}
	if req.Cursor != "" {
		token := req.Cursor
		body.ContinuationToken = &token
	}

	var resp listResponse
	if err := c.post(ctx, "file-storage.v2.list", req.Path, body, &resp); err != nil {
		return storage.ListPage{}, err
	}

	page := storage.ListPage{Entries: make([]storage.FileEntry, 0, len(resp.Entities))}
	for _, e := range resp.Entities {
		page.Entries = append(page.Entries, storage.FileEntry{
			Path:         e.Path,
			Name:         e.Name,
			Size:         e.Size,
			IsDir:        e.Type == "folder",
			LastModified: parseTimestamp(e.UpdatedAt, e.CreatedAt),
		})
	}
	if resp.ContinuationToken != nil {
		page.NextCursor = *resp.ContinuationToken
	}
	return page, nil
}

// IsOnAgent reports paths that live on an agent-mounted storage.
func (c *Client) IsOnAgent(path string) bool {
	return strings.HasPrefix(path, agentPrefix)
}

// RemoveBatch removes paths with one file-storage.bulk.remove call.
func (c *Client) RemoveBatch(ctx context.Context, tenantID int64, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return c.post(ctx, "file-storage.bulk.remove", paths[0], removeRequest{TeamID: tenantID, Paths: paths}, nil)
}

func parseTimestamp(values ...string) time.Time {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts
		}
		if date, _, ok := strings.Cut(v, "T"); ok {
			v = date
		}
		if ts, err := time.Parse(time.DateOnly, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}
