// Package catalog reads tenants, workspaces and tasks straight from the
// platform's Postgres database. It serves as storage.Directory and
// storage.TaskService when the HTTP API is not used for metadata.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

const (
	defaultPageSize = 500

	countTeamsQuery     = `SELECT count(*) FROM teams`
	listTeamsQuery      = `SELECT id, name FROM teams ORDER BY id ASC LIMIT $1 OFFSET $2`
	getTeamQuery        = `SELECT id, name FROM teams WHERE id = $1`
	listWorkspacesQuery = `SELECT id FROM workspaces WHERE team_id = $1 ORDER BY id ASC`
	tasksByIDsQuery     = `SELECT id, COALESCE(meta->'app'->>'name', '') FROM tasks WHERE workspace_id = $1 AND id = ANY($2) ORDER BY id ASC`
)

// Querier is the part of *pgxpool.Pool the catalog uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Catalog struct {
	db       Querier
	pageSize int
}

func New(db Querier) *Catalog {
	return &Catalog{db: db, pageSize: defaultPageSize}
}

// ListTenants returns one page of teams ordered by id.
func (c *Catalog) ListTenants(ctx context.Context, page int) (storage.TenantPage, error) {
	if page < 1 {
		page = 1
	}

	var total int
	if err := c.db.QueryRow(ctx, countTeamsQuery).Scan(&total); err != nil {
		return storage.TenantPage{}, fmt.Errorf("count teams: %w", err)
	}

	rows, err := c.db.Query(ctx, listTeamsQuery, c.pageSize, (page-1)*c.pageSize)
	if err != nil {
		return storage.TenantPage{}, fmt.Errorf("list teams: %w", err)
	}
	tenants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Tenant, error) {
		var t storage.Tenant
		err := row.Scan(&t.ID, &t.Name)
		return t, err
	})
	if err != nil {
		return storage.TenantPage{}, fmt.Errorf("scan teams: %w", err)
	}

	return storage.TenantPage{Tenants: tenants, PagesCount: pagesCount(total, c.pageSize)}, nil
}

func pagesCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func (c *Catalog) GetTenant(ctx context.Context, id int64) (storage.Tenant, error) {
	var t storage.Tenant
	err := c.db.QueryRow(ctx, getTeamQuery, id).Scan(&t.ID, &t.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Tenant{}, fmt.Errorf("team %d: %w", id, storage.ErrTenantNotFound)
	}
	if err != nil {
		return storage.Tenant{}, fmt.Errorf("get team %d: %w", id, err)
	}
	return t, nil
}

func (c *Catalog) ListWorkspaces(ctx context.Context, tenantID int64) ([]int64, error) {
	rows, err := c.db.Query(ctx, listWorkspacesQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces of team %d: %w", tenantID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan workspaces of team %d: %w", tenantID, err)
	}
	return ids, nil
}

func (c *Catalog) GetTasksByIDs(ctx context.Context, workspaceID int64, ids []int64) ([]storage.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := c.db.Query(ctx, tasksByIDsQuery, workspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("list tasks of workspace %d: %w", workspaceID, err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Task, error) {
		var t storage.Task
		err := row.Scan(&t.ID, &t.AppName)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tasks of workspace %d: %w", workspaceID, err)
	}
	return tasks, nil
}
