package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        models.DatabaseTypePostgres,
			DisplayName: "PostgreSQL",
		},
		Open: func(ctx context.Context, cfg datasource.ConnectionConfig, connMgr *datasource.ConnectionManager, projectID uuid.UUID) (datasource.Connection, error) {
			return NewAdapter(ctx, cfg, connMgr, projectID)
		},
	})
}
