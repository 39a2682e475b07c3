package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

const testUser = "user-1"

// newRequest builds a request carrying testUser's claims and the given path values.
func newRequest(method, target, body string, pathValues map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	claims := &auth.Claims{}
	claims.Subject = testUser
	return req.WithContext(auth.WithClaims(req.Context(), claims, "token"))
}

type mockChatService struct {
	sendFn    func(ctx context.Context, projectID uuid.UUID, message string, events chan<- models.ChatEvent) error
	historyFn func(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error)
}

func (m *mockChatService) SendMessage(ctx context.Context, projectID uuid.UUID, message string, events chan<- models.ChatEvent) error {
	return m.sendFn(ctx, projectID, message, events)
}

func (m *mockChatService) History(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error) {
	return m.historyFn(ctx, projectID, limit)
}

type mockActionService struct {
	actions []*models.PendingAction
	err     error
	status  string
}

func (m *mockActionService) List(_ context.Context, _ uuid.UUID, status string, _ int) ([]*models.PendingAction, error) {
	m.status = status
	return m.actions, m.err
}

func (m *mockActionService) Get(_ context.Context, _ uuid.UUID, actionID uuid.UUID) (*models.PendingAction, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, a := range m.actions {
		if a.ID == actionID {
			return a, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

type mockEngine struct {
	executeFn func(ctx context.Context, projectID, actionID uuid.UUID, events chan<- models.ChatEvent) error
	syncFn    func(ctx context.Context, projectID, actionID uuid.UUID) (*models.PendingAction, error)
}

func (m *mockEngine) Execute(ctx context.Context, projectID, actionID uuid.UUID, events chan<- models.ChatEvent) error {
	return m.executeFn(ctx, projectID, actionID, events)
}

func (m *mockEngine) ExecuteSync(ctx context.Context, projectID, actionID uuid.UUID) (*models.PendingAction, error) {
	return m.syncFn(ctx, projectID, actionID)
}

func (m *mockEngine) SweepInterrupted(context.Context) (int64, error) { return 0, nil }

type mockProjectService struct {
	projects map[uuid.UUID]*models.Project
	lastReq  *services.UpdateIntegrationsRequest
	err      error
}

func (m *mockProjectService) Create(_ context.Context, ownerID, name string) (*models.Project, error) {
	if m.err != nil {
		return nil, m.err
	}
	p := &models.Project{ID: uuid.New(), OwnerID: ownerID, Name: name}
	m.projects[p.ID] = p
	return p, nil
}

func (m *mockProjectService) List(_ context.Context, ownerID string) ([]*models.Project, error) {
	var out []*models.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, m.err
}

func (m *mockProjectService) GetByID(_ context.Context, id uuid.UUID) (*models.Project, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

func (m *mockProjectService) UpdateIntegrations(_ context.Context, id uuid.UUID, req *services.UpdateIntegrationsRequest) (*models.Project, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	p := m.projects[id]
	p.RepoOwner, p.RepoName = req.RepoOwner, req.RepoName
	if req.RepoToken != nil && *req.RepoToken != "" {
		p.EncryptedRepoToken = "sealed"
	}
	return p, nil
}

type mockSettingsService struct {
	view    models.UserSettingsView
	lastReq *services.UpdateAISettingsRequest
	err     error
}

func (m *mockSettingsService) Get(context.Context, string) (models.UserSettingsView, error) {
	return m.view, m.err
}

func (m *mockSettingsService) Update(_ context.Context, _ string, req *services.UpdateAISettingsRequest) (models.UserSettingsView, error) {
	m.lastReq = req
	if m.err != nil {
		return models.UserSettingsView{}, m.err
	}
	m.view.AIProvider = req.AIProvider
	m.view.HasAPIKey = m.view.HasAPIKey || (req.APIKey != nil && *req.APIKey != "")
	return m.view, nil
}

type mockMemoryService struct {
	entries []*models.MemoryEntry
	err     error
}

func (m *mockMemoryService) Add(_ context.Context, projectID uuid.UUID, userID, content string) (*models.MemoryEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	e := &models.MemoryEntry{ID: uuid.New(), ProjectID: projectID, UserID: userID, Content: content}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *mockMemoryService) List(context.Context, uuid.UUID, int) ([]*models.MemoryEntry, error) {
	return m.entries, m.err
}
