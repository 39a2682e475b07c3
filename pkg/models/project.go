// Package models contains domain types for ekaya-agent.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Database types supported by the datasource adapters.
const (
	DatabaseTypePostgres  = "postgres"
	DatabaseTypeSQLServer = "mssql"
)

// Project is a workspace linking one repository and one target database to an owner.
// Encrypted fields are never serialized.
type Project struct {
	ID                   uuid.UUID `json:"id"`
	OwnerID              string    `json:"owner_id"`
	Name                 string    `json:"name"`
	RepoOwner            string    `json:"repo_owner,omitempty"`
	RepoName             string    `json:"repo_name,omitempty"`
	RepoBranch           string    `json:"repo_branch,omitempty"`
	DatabaseType         string    `json:"database_type,omitempty"`
	DatabaseURL          string    `json:"database_url,omitempty"`
	EncryptedRepoToken   string    `json:"-"`
	EncryptedDatabaseKey string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// HasRepository reports whether a repository is linked.
func (p *Project) HasRepository() bool {
	return p.RepoOwner != "" && p.RepoName != ""
}

// HasDatabase reports whether a target database is linked.
func (p *Project) HasDatabase() bool {
	return p.DatabaseType != "" && p.DatabaseURL != ""
}

// RepositoryFullName returns "owner/name".
func (p *Project) RepositoryFullName() string {
	return fmt.Sprintf("%s/%s", p.RepoOwner, p.RepoName)
}

// Branch returns the configured branch or the given fallback.
func (p *Project) Branch(fallback string) string {
	if p.RepoBranch != "" {
		return p.RepoBranch
	}
	return fallback
}

// ProjectIntegrations is the non-secret view of a project's integration settings.
type ProjectIntegrations struct {
	RepoOwner      string `json:"repo_owner"`
	RepoName       string `json:"repo_name"`
	RepoBranch     string `json:"repo_branch"`
	DatabaseType   string `json:"database_type"`
	DatabaseURL    string `json:"database_url"`
	HasRepoToken   bool   `json:"has_repo_token"`
	HasDatabaseKey bool   `json:"has_database_key"`
}

// Integrations returns the non-secret view of p.
func (p *Project) Integrations() ProjectIntegrations {
	return ProjectIntegrations{
		RepoOwner:      p.RepoOwner,
		RepoName:       p.RepoName,
		RepoBranch:     p.RepoBranch,
		DatabaseType:   p.DatabaseType,
		DatabaseURL:    p.DatabaseURL,
		HasRepoToken:   p.EncryptedRepoToken != "",
		HasDatabaseKey: p.EncryptedDatabaseKey != "",
	}
}

// ProjectCredentials holds decrypted per-project secrets for the duration of one adapter call.
type ProjectCredentials struct {
	Project     *Project
	RepoToken   string
	DatabaseKey string
}
