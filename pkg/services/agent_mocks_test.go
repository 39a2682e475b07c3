package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/repository"
	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

const testOwner = "owner-1"

func userCtx(userID string) context.Context {
	claims := &auth.Claims{}
	claims.Subject = userID
	return auth.WithClaims(context.Background(), claims, "token")
}

func testAgentConfig() *config.AgentConfig {
	return &config.AgentConfig{
		RouterTimeout:     time.Second,
		AdapterTimeout:    time.Second,
		ProposalTimeout:   time.Second,
		RewriteTimeout:    time.Second,
		ExecutionTimeout:  5 * time.Second,
		SynthesisTimeout:  time.Second,
		MaxFiles:          200,
		MaxSchemaTables:   50,
		MaxFileBytes:      1024,
		MaxMemoryEntries:  10,
		SchemaConcurrency: 2,
	}
}

func linkedProject() *models.Project {
	return &models.Project{
		ID:           uuid.New(),
		OwnerID:      testOwner,
		Name:         "shop",
		RepoOwner:    "acme",
		RepoName:     "shop",
		DatabaseType: models.DatabaseTypePostgres,
		DatabaseURL:  "postgres://app@db.internal/shop",
	}
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

type memProjectRepo struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
	updated  []*models.Project
}

func newMemProjectRepo(projects ...*models.Project) *memProjectRepo {
	r := &memProjectRepo{projects: map[uuid.UUID]*models.Project{}}
	for _, p := range projects {
		r.projects[p.ID] = p
	}
	return r
}

func (r *memProjectRepo) Create(_ context.Context, p *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	r.projects[p.ID] = &cp
	return nil
}

func (r *memProjectRepo) Get(_ context.Context, id uuid.UUID) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memProjectRepo) ListByOwner(_ context.Context, ownerID string) ([]*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Project
	for _, p := range r.projects {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memProjectRepo) UpdateIntegrations(_ context.Context, p *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.projects[p.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	stored.RepoOwner, stored.RepoName, stored.RepoBranch = p.RepoOwner, p.RepoName, p.RepoBranch
	stored.DatabaseType, stored.DatabaseURL = p.DatabaseType, p.DatabaseURL
	if p.EncryptedRepoToken != "" {
		stored.EncryptedRepoToken = p.EncryptedRepoToken
	}
	if p.EncryptedDatabaseKey != "" {
		stored.EncryptedDatabaseKey = p.EncryptedDatabaseKey
	}
	p.EncryptedRepoToken, p.EncryptedDatabaseKey = stored.EncryptedRepoToken, stored.EncryptedDatabaseKey
	cp := *p
	r.updated = append(r.updated, &cp)
	return nil
}

type memChatRepo struct {
	mu        sync.Mutex
	turns     []*models.ChatTurn
	nextID    int64
	appendErr error
	// ctxErrs records ctx.Err() at each Append, to check detached persistence.
	ctxErrs []error
}

func (r *memChatRepo) Append(ctx context.Context, turn *models.ChatTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if r.appendErr != nil {
		return r.appendErr
	}
	r.nextID++
	turn.ID = r.nextID
	turn.CreatedAt = time.Now()
	r.turns = append(r.turns, turn)
	return nil
}

func (r *memChatRepo) ListRecent(_ context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChatTurn
	for _, t := range r.turns {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memChatRepo) all() []*models.ChatTurn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ChatTurn(nil), r.turns...)
}

type memPendingRepo struct {
	mu      sync.Mutex
	actions map[uuid.UUID]*models.PendingAction
	created int
}

func newMemPendingRepo() *memPendingRepo {
	return &memPendingRepo{actions: map[uuid.UUID]*models.PendingAction{}}
}

func (r *memPendingRepo) Create(_ context.Context, a *models.PendingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.CreatedAt = time.Now()
	cp := *a
	r.actions[a.ID] = &cp
	r.created++
	return nil
}

func (r *memPendingRepo) Get(_ context.Context, projectID, id uuid.UUID) (*models.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok || a.ProjectID != projectID {
		return nil, apperrors.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memPendingRepo) List(_ context.Context, projectID uuid.UUID, status models.ActionStatus, limit int) ([]*models.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PendingAction
	for _, a := range r.actions {
		if a.ProjectID == projectID && (status == "" || a.Status == status) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPendingRepo) BeginExecution(_ context.Context, projectID, id uuid.UUID) (*models.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok || a.ProjectID != projectID {
		return nil, apperrors.ErrNotFound
	}
	if !a.Status.CanTransitionTo(models.ActionStatusExecuting) {
		return nil, apperrors.ErrActionNotPending
	}
	now := time.Now()
	a.Status = models.ActionStatusExecuting
	a.ExecutingAt = &now
	cp := *a
	return &cp, nil
}

func (r *memPendingRepo) Finish(_ context.Context, id uuid.UUID, status models.ActionStatus, result map[string]any, errText *string) (*models.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if !a.Status.CanTransitionTo(status) {
		return nil, apperrors.ErrConflict
	}
	now := time.Now()
	a.Status, a.Result, a.Error, a.ExecutedAt = status, result, errText, &now
	cp := *a
	return &cp, nil
}

func (r *memPendingRepo) FailInterrupted(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.actions {
		if a.Status == models.ActionStatusExecuting && a.ExecutingAt != nil && a.ExecutingAt.Before(cutoff) {
			now := time.Now()
			msg := reason
			a.Status, a.Error, a.ExecutedAt = models.ActionStatusFailed, &msg, &now
			n++
		}
	}
	return n, nil
}

func (r *memPendingRepo) get(id uuid.UUID) *models.PendingAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.actions[id]
	return &cp
}

type memMemoryRepo struct {
	mu      sync.Mutex
	entries []*models.MemoryEntry
}

func (r *memMemoryRepo) Add(_ context.Context, e *models.MemoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.CreatedAt = time.Now()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memMemoryRepo) ListRecent(_ context.Context, projectID uuid.UUID, limit int) ([]*models.MemoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MemoryEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].ProjectID == projectID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

type memInvocationRepo struct {
	mu      sync.Mutex
	records []*models.ToolInvocationRecord
}

func (r *memInvocationRepo) Record(_ context.Context, rec *models.ToolInvocationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memInvocationRepo) ListRecent(_ context.Context, _ uuid.UUID, _ int) ([]*models.ToolInvocationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ToolInvocationRecord(nil), r.records...), nil
}

func (r *memInvocationRepo) all() []*models.ToolInvocationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ToolInvocationRecord(nil), r.records...)
}

type memSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]*models.UserSettings
}

func (r *memSettingsRepo) Get(_ context.Context, userID string) (*models.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSettingsRepo) Upsert(_ context.Context, s *models.UserSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		r.settings = map[string]*models.UserSettings{}
	}
	cp := *s
	if prev, ok := r.settings[s.UserID]; ok && cp.EncryptedAPIKey == "" {
		cp.EncryptedAPIKey = prev.EncryptedAPIKey
	}
	r.settings[s.UserID] = &cp
	return nil
}

// ---------------------------------------------------------------------------
// Vault and adapters
// ---------------------------------------------------------------------------

type fakeVault struct {
	creds *models.ProjectCredentials
	err   error
}

func (v *fakeVault) ProjectCredentials(_ context.Context, ownerID string, _ uuid.UUID) (*models.ProjectCredentials, error) {
	if v.err != nil {
		return nil, v.err
	}
	if ownerID != v.creds.Project.OwnerID {
		return nil, apperrors.ErrForbidden
	}
	return v.creds, nil
}

func (v *fakeVault) UserAIConfig(context.Context, string) (*llm.UserAIConfig, error) { return nil, nil }

func (v *fakeVault) SealProjectSecret(projectID uuid.UUID, plaintext string) (string, error) {
	return "sealed:" + projectID.String() + ":" + plaintext, nil
}

func (v *fakeVault) SealUserSecret(userID, plaintext string) (string, error) {
	return "sealed:" + userID + ":" + plaintext, nil
}

type fakeHost struct {
	listFn   func(repo repository.Repo, prefix string, limit int) (*models.RepositoryFileList, error)
	readFn   func(repo repository.Repo, path string) (*models.RepositoryFileContent, error)
	updateFn func(repo repository.Repo, path string, content []byte, sha, message string) (*models.FileEditResult, error)

	lists   atomic.Int32
	reads   atomic.Int32
	updates atomic.Int32
}

func (h *fakeHost) ListFiles(_ context.Context, repo repository.Repo, prefix string, limit int) (*models.RepositoryFileList, error) {
	h.lists.Add(1)
	return h.listFn(repo, prefix, limit)
}

func (h *fakeHost) ReadFile(_ context.Context, repo repository.Repo, path string) (*models.RepositoryFileContent, error) {
	h.reads.Add(1)
	return h.readFn(repo, path)
}

func (h *fakeHost) UpdateFile(_ context.Context, repo repository.Repo, path string, content []byte, sha, message string) (*models.FileEditResult, error) {
	h.updates.Add(1)
	return h.updateFn(repo, path, content, sha, message)
}

type fakeConn struct {
	tables    []datasource.TableRef
	columns   map[string][]models.SchemaColumn
	executeFn func(ctx context.Context, stmt string) (*models.StatementResult, error)
	executed  *atomic.Int32
}

func (c *fakeConn) DiscoverTables(context.Context) ([]datasource.TableRef, error) { return c.tables, nil }

func (c *fakeConn) DiscoverColumns(_ context.Context, schemaName, tableName string) ([]models.SchemaColumn, error) {
	return c.columns[schemaName+"."+tableName], nil
}

func (c *fakeConn) Execute(ctx context.Context, stmt string) (*models.StatementResult, error) {
	c.executed.Add(1)
	return c.executeFn(ctx, stmt)
}

func (c *fakeConn) Ping(context.Context) error { return nil }
func (c *fakeConn) Close() error               { return nil }

type fakeOpener struct {
	conn    *fakeConn
	err     error
	opens   atomic.Int32
	lastCfg datasource.ConnectionConfig
	mu      sync.Mutex
}

func (o *fakeOpener) Open(_ context.Context, _ string, _ uuid.UUID, cfg datasource.ConnectionConfig) (datasource.Connection, error) {
	o.opens.Add(1)
	o.mu.Lock()
	o.lastCfg = cfg
	o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.conn, nil
}

type fakeSearcher struct {
	result *models.WebSearchResult
	err    error
}

func (s *fakeSearcher) Search(_ context.Context, query string) (*models.WebSearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.Query = query
	return &r, nil
}

// mapCache is a ReadCache that round-trips through JSON like the Redis cache.
type mapCache struct {
	mu          sync.Mutex
	values      map[string][]byte
	invalidated []uuid.UUID
}

func newMapCache() *mapCache { return &mapCache{values: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, projectID uuid.UUID, kind, variant string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.values[projectID.String()+"|"+kind+"|"+variant]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, projectID uuid.UUID, kind, variant string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[projectID.String()+"|"+kind+"|"+variant] = raw
	return nil
}

func (c *mapCache) InvalidateProject(_ context.Context, projectID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, projectID)
	for k := range c.values {
		if len(k) > 36 && k[:36] == projectID.String() {
			delete(c.values, k)
		}
	}
	return nil
}

// drain collects every event sent on a buffered channel after the producer returned.
func drain(events chan models.ChatEvent) []models.ChatEvent {
	close(events)
	var out []models.ChatEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []models.ChatEvent) []models.ChatEventType {
	out := make([]models.ChatEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
