package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

type filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type pagedRequest struct {
	Filter      []filter `json:"filter"`
	Sort        string   `json:"sort,omitempty"`
	SortOrder   string   `json:"sort_order,omitempty"`
	Page        int      `json:"page"`
	PerPage     int      `json:"per_page,omitempty"`
	TeamID      int64    `json:"teamId,omitempty"`
	WorkspaceID int64    `json:"workspaceId,omitempty"`
}

type teamEntity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type teamsResponse struct {
	Entities   []teamEntity `json:"entities"`
	PagesCount int          `json:"pagesCount"`
}

type workspacesResponse struct {
	Entities []struct {
		ID int64 `json:"id"`
	} `json:"entities"`
	PagesCount int `json:"pagesCount"`
}

type taskEntity struct {
	ID   int64 `json:"id"`
	Meta struct {
		App struct {
			Name string `json:"name"`
		} `json:"app"`
	} `json:"meta"`
}

type tasksResponse struct {
	Entities   []taskEntity `json:"entities"`
	PagesCount int          `json:"pagesCount"`
}

// ListTenants returns one page of teams ordered by id.
func (c *Client) ListTenants(ctx context.Context, page int) (storage.TenantPage, error) {
	if page < 1 {
		page = 1
	}
	req := pagedRequest{
		Filter:    []filter{},
		Sort:      "id",
		SortOrder: "asc",
		Page:      page,
	}

	var resp teamsResponse
	if err := c.post(ctx, "teams.list", "", req, &resp); err != nil {
		return storage.TenantPage{}, err
	}

	out := storage.TenantPage{PagesCount: resp.PagesCount, Tenants: make([]storage.Tenant, 0, len(resp.Entities))}
	for _, t := range resp.Entities {
		out.Tenants = append(out.Tenants, storage.Tenant{ID: t.ID, Name: t.Name})
	}
	return out, nil
}

// GetTenant returns a single team.
func (c *Client) GetTenant(ctx context.Context, id int64) (storage.Tenant, error) {
	var resp teamEntity
	err := c.post(ctx, "teams.info", "", map[string]int64{"id": id}, &resp)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Tenant{}, fmt.Errorf("team %d: %w", id, storage.ErrTenantNotFound)
	}
	if err != nil {
		return storage.Tenant{}, err
	}
	if resp.ID == 0 {
		return storage.Tenant{}, fmt.Errorf("team %d: %w", id, storage.ErrTenantNotFound)
	}
	return storage.Tenant{ID: resp.ID, Name: resp.Name}, nil
}

// ListWorkspaces returns the ids of every workspace in a team.
func (c *Client) ListWorkspaces(ctx context.Context, tenantID int64) ([]int64, error) {
	var ids []int64
	for page := 1; ; page++ {
		req := pagedRequest{Filter: []filter{}, TeamID: tenantID, Page: page, PerPage: perPage}

		var resp workspacesResponse
		if err := c.post(ctx, "workspaces.list", "", req, &resp); err != nil {
			return nil, err
		}
		for _, w := range resp.Entities {
			ids = append(ids, w.ID)
		}
		if page >= resp.PagesCount || len(resp.Entities) == 0 {
			return ids, nil
		}
	}
}

// GetTasksByIDs returns the tasks of a workspace whose id is in ids.
func (c *Client) GetTasksByIDs(ctx context.Context, workspaceID int64, ids []int64) ([]storage.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var tasks []storage.Task
	for page := 1; ; page++ {
		req := pagedRequest{
			Filter:      []filter{{Field: "id", Operator: "in", Value: ids}},
			WorkspaceID: workspaceID,
			Page:        page,
			PerPage:     perPage,
		}

		var resp tasksResponse
		if err := c.post(ctx, "tasks.list", "", req, &resp); err != nil {
			return nil, err
		}
		for _, t := range resp.Entities {
			tasks = append(tasks, storage.Task{ID: t.ID, AppName: t.Meta.App.Name})
		}
		if page >= resp.PagesCount || len(resp.Entities) == 0 {
			return tasks, nil
		}
	}
}
