package datasource

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConnector abstracts the pooled handle of one dialect.
type PoolConnector interface {
	Ping(ctx context.Context) error
	Close() error
	GetType() string
}

// PostgresPool wraps *pgxpool.Pool.
type PostgresPool struct {
	Pool *pgxpool.Pool
}

func (p *PostgresPool) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }
func (p *PostgresPool) GetType() string                { return "postgres" }
func (p *PostgresPool) Close() error {
	p.Pool.Close()
	return nil
}

// SQLPool wraps a database/sql handle (SQL Server).
type SQLPool struct {
	DB     *sql.DB
	Driver string
}

func (p *SQLPool) Ping(ctx context.Context) error { return p.DB.PingContext(ctx) }
func (p *SQLPool) Close() error                   { return p.DB.Close() }
func (p *SQLPool) GetType() string                { return p.Driver }
