// Package mssql implements the datasource dialect for Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// Adapter reads the schema of and executes statements on a SQL Server database.
type Adapter struct {
	db     *sql.DB
	ownsDB bool
}

// NewAdapter opens a database handle through connMgr, or an unmanaged handle
// owned by the adapter when connMgr is nil.
func NewAdapter(ctx context.Context, cfg datasource.ConnectionConfig, connMgr *datasource.ConnectionManager, projectID uuid.UUID) (*Adapter, error) {
	target, err := buildConnectionTarget(cfg.URL, cfg.Password)
	if err != nil {
		return nil, err
	}

	if connMgr == nil {
		db, err := openDB(ctx, target, 0, 0, 0)
		if err != nil {
			return nil, err
		}
		return &Adapter{db: db, ownsDB: true}, nil
	}

	connector, err := connMgr.GetOrCreate(ctx, projectID, models.DatabaseTypeSQLServer, datasource.Fingerprint(cfg),
		func(ctx context.Context) (datasource.PoolConnector, error) {
			maxConns, minConns, idle := connMgr.PoolLimits()
			db, err := openDB(ctx, target, int(maxConns), int(minConns), idle)
			if err != nil {
				return nil, err
			}
			return &datasource.SQLPool{DB: db, Driver: models.DatabaseTypeSQLServer}, nil
		})
	if err != nil {
		return nil, err
	}

	pool, ok := connector.(*datasource.SQLPool)
	if !ok {
		return nil, fmt.Errorf("pooled connection is %s, not mssql", connector.GetType())
	}
	return &Adapter{db: pool.DB}, nil
}

func openDB(ctx context.Context, target connectionTarget, maxOpen, maxIdle int, idle time.Duration) (*sql.DB, error) {
	db, err := sql.Open(target.driver, target.connStr)
	if err != nil {
		return nil, fmt.Errorf("open sql server connection: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if idle > 0 {
		db.SetConnMaxIdleTime(idle)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to sql server: %w", err)
	}
	return db, nil
}

// Ping verifies the database is reachable with valid credentials.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close releases an owned handle. Managed handles are closed by the manager.
func (a *Adapter) Close() error {
	if a.ownsDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}

// DiscoverTables returns all user tables ordered by schema and name.
func (a *Adapter) DiscoverTables(ctx context.Context) ([]datasource.TableRef, error) {
	const query = `
		SELECT s.name, t.name
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE t.is_ms_shipped = 0
		ORDER BY s.name, t.name`

	rows, err := a.db.QueryContext(ctx, query)
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

// DiscoverColumns returns a table's columns in ordinal order.
func (a *Adapter) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]models.SchemaColumn, error) {
	const query = `
		SELECT c.name, ty.name, c.max_length, c.is_nullable, dc.definition
		FROM sys.columns c
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		LEFT JOIN sys.default_constraints dc ON dc.object_id = c.default_object_id
		WHERE s.name = @p1 AND t.name = @p2
		ORDER BY c.column_id`

	rows, err := a.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.SchemaColumn
	for rows.Next() {
		var (
			name, typeName string
			maxLength      int16
			nullable       bool
			def            sql.NullString
		)
		if err := rows.Scan(&name, &typeName, &maxLength, &nullable, &def); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col := models.SchemaColumn{
			Name:     name,
			Type:     formatType(typeName, maxLength),
			Nullable: nullable,
		}
		if def.Valid {
			d := trimDefault(def.String)
			col.Default = &d
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// formatType adds the length to string types, e.g. VARCHAR(255) or VARCHAR(MAX).
// NVARCHAR and NCHAR lengths are reported in bytes by sys.columns.
func formatType(typeName string, maxLength int16) string {
	mapped := mapSQLServerType(typeName)
	if !isStringType(typeName) || mapped == "TEXT" {
		return mapped
	}
	if maxLength == -1 {
		return mapped + "(MAX)"
	}
	length := int(maxLength)
	if strings.HasPrefix(strings.ToUpper(typeName), "N") {
		length /= 2
	}
	return fmt.Sprintf("%s(%d)", mapped, length)
}

// trimDefault strips the parentheses SQL Server wraps defaults in: ((0)) -> 0.
func trimDefault(def string) string {
	for len(def) >= 2 && def[0] == '(' && def[len(def)-1] == ')' {
		def = def[1 : len(def)-1]
	}
	return def
}

// Execute runs the statement once, through QueryContext when it produces a
// result set and ExecContext otherwise.
func (a *Adapter) Execute(ctx context.Context, statement string) (*models.StatementResult, error) {
	if !returnsRows(statement) {
		res, err := a.db.ExecContext(ctx, statement)
		if err != nil {
			return nil, fmt.Errorf("execute statement: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &models.StatementResult{RowsAffected: affected}, nil
	}

	rows, err := a.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &models.StatementResult{Columns: columns}
	var total int64
	for rows.Next() {
		total++
		if len(result.Rows) >= datasource.MaxResultRows {
			continue
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}

	result.RowsAffected = total
	return result, nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		if len(val) == 16 {
			if id, err := uuid.FromBytes(mssqlGUIDOrder(val)); err == nil {
				return id.String()
			}
		}
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// mssqlGUIDOrder converts SQL Server's mixed-endian GUID bytes to RFC 4122 order.
func mssqlGUIDOrder(b []byte) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}

var _ datasource.Connection = (*Adapter)(nil)
