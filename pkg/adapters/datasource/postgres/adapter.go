// Package postgres implements the datasource dialect for PostgreSQL.
package postgres

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// Adapter reads the schema of and executes statements on a PostgreSQL database.
type Adapter struct {
	pool      *pgxpool.Pool
	ownedPool bool
}

// NewAdapter opens a pool through connMgr. With a nil connMgr the adapter owns
// an unmanaged pool that Close releases (tests, one-off commands).
func NewAdapter(ctx context.Context, cfg datasource.ConnectionConfig, connMgr *datasource.ConnectionManager, projectID uuid.UUID) (*Adapter, error) {
	connStr, err := buildConnectionString(cfg.URL, cfg.Password)
	if err != nil {
		return nil, err
	}

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return &Adapter{pool: pool, ownedPool: true}, nil
	}

	connector, err := connMgr.GetOrCreate(ctx, projectID, "postgres", datasource.Fingerprint(cfg),
		func(ctx context.Context) (datasource.PoolConnector, error) {
			poolConfig, err := pgxpool.ParseConfig(connStr)
			if err != nil {
				return nil, fmt.Errorf("parse connection string: %w", err)
			}
			poolConfig.MaxConns, poolConfig.MinConns, poolConfig.MaxConnIdleTime = connMgr.PoolLimits()
			pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
			if err != nil {
				return nil, fmt.Errorf("connect to postgres: %w", err)
			}
			return &datasource.PostgresPool{Pool: pool}, nil
		})
	if err != nil {
		return nil, err
	}

	pg, ok := connector.(*datasource.PostgresPool)
	if !ok {
		return nil, fmt.Errorf("pooled connection is %s, not postgres", connector.GetType())
	}
	return &Adapter{pool: pg.Pool}, nil
}

// Ping verifies the database is reachable with valid credentials.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close releases the adapter; managed pools stay open until their TTL expires.
func (a *Adapter) Close() error {
	if a.ownedPool && a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// DiscoverTables returns all base tables outside the system schemas.
func (a *Adapter) DiscoverTables(ctx context.Context) ([]datasource.TableRef, error) {
	const query = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND table_schema NOT LIKE 'pg_toast%'
		ORDER BY table_schema, table_name`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableRef
	for rows.Next() {
		var t datasource.TableRef
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// DiscoverColumns returns name, type, nullability and default of each column.
func (a *Adapter) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]models.SchemaColumn, error) {
	const query = `
		SELECT column_name, data_type, is_nullable = 'YES', column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := a.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.SchemaColumn
	for rows.Next() {
		var c models.SchemaColumn
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// Execute runs the statement once. Rows from SELECT or RETURNING are collected
// up to datasource.MaxResultRows; the remainder is drained so the command tag
// reports the full count.
func (a *Adapter) Execute(ctx context.Context, statement string) (*models.StatementResult, error) {
	rows, err := a.pool.Query(ctx, statement, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}
	defer rows.Close()

	result := &models.StatementResult{}
	fields := rows.FieldDescriptions()
	if len(fields) > 0 {
		result.Columns = make([]string, len(fields))
		for i, fd := range fields {
			result.Columns[i] = fd.Name
		}
	}

	for rows.Next() {
		if len(fields) == 0 || len(result.Rows) >= datasource.MaxResultRows {
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(map[string]any, len(values))
		for i, col := range result.Columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}

	result.RowsAffected = rows.CommandTag().RowsAffected()
	return result, nil
}

// normalizeValue converts driver values into JSON-friendly forms.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return hex.EncodeToString(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case netip.Prefix:
		return val.String()
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}

var _ datasource.Connection = (*Adapter)(nil)
