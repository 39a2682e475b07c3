package datasource

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// SchemaOptions bounds schema discovery.
type SchemaOptions struct {
	MaxTables   int
	TableFilter string // case-insensitive substring on schema-qualified name
	Concurrency int
}

// DiscoverSchema lists tables, keeps the first MaxTables after filtering and
// reads their columns with up to Concurrency parallel catalog queries.
// Table order is preserved regardless of completion order.
func DiscoverSchema(ctx context.Context, reader SchemaReader, dsType string, opts SchemaOptions) (*models.DatabaseSchema, error) {
	tables, err := reader.DiscoverTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	if filter := strings.ToLower(strings.TrimSpace(opts.TableFilter)); filter != "" {
		kept := tables[:0:0]
		for _, t := range tables {
			if strings.Contains(strings.ToLower(t.Schema+"."+t.Name), filter) {
				kept = append(kept, t)
			}
		}
		tables = kept
	}

	result := &models.DatabaseSchema{
		DatabaseType: dsType,
		TotalTables:  len(tables),
	}
	if opts.MaxTables > 0 && len(tables) > opts.MaxTables {
		tables = tables[:opts.MaxTables]
		result.Truncated = true
	}

	result.Tables = make([]models.SchemaTable, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, t := range tables {
		g.Go(func() error {
			cols, err := reader.DiscoverColumns(gctx, t.Schema, t.Name)
			if err != nil {
				return fmt.Errorf("columns of %s.%s: %w", t.Schema, t.Name, err)
			}
			if cols == nil {
				cols = []models.SchemaColumn{}
			}
			result.Tables[i] = models.SchemaTable{Schema: t.Schema, Name: t.Name, Columns: cols}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}
