package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

// EnumerateTenants lists every tenant. The first page reports the page
// count; the remaining pages are fetched concurrently. The result keeps page
// order.
func EnumerateTenants(ctx context.Context, dir storage.Directory, concurrency int) ([]storage.Tenant, error) {
	first, err := dir.ListTenants(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("list tenants page 1: %w", err)
	}
	if first.PagesCount <= 1 {
		return first.Tenants, nil
	}

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	pages := make([][]storage.Tenant, first.PagesCount)
	pages[0] = first.Tenants

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for page := 2; page <= first.PagesCount; page++ {
		g.Go(func() error {
			res, err := dir.ListTenants(gctx, page)
			if err != nil {
				return fmt.Errorf("list tenants page %d: %w", page, err)
			}
			pages[page-1] = res.Tenants
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tenants []storage.Tenant
	for _, p := range pages {
		tenants = append(tenants, p...)
	}
	return tenants, nil
}
