package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

func TestSettingsHandler_UpdateThenGet(t *testing.T) {
	svc := &mockSettingsService{}
	handler := NewSettingsHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	body := `{"ai_provider":"anthropic","api_key":"sk-ant-secret","temperature":0.2}`
	handler.UpdateAI(rec, newRequest(http.MethodPut, "/api/settings/ai", body, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastReq.Temperature)
	assert.InDelta(t, 0.2, *svc.lastReq.Temperature, 1e-6)
	assert.NotContains(t, rec.Body.String(), "sk-ant-secret")

	rec = httptest.NewRecorder()
	handler.GetAI(rec, newRequest(http.MethodGet, "/api/settings/ai", "", nil))

	var resp struct {
		Data models.UserSettingsView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.AIProvider("anthropic"), resp.Data.AIProvider)
	assert.True(t, resp.Data.HasAPIKey)
}

func TestSettingsHandler_UpdateRejectsInvalid(t *testing.T) {
	svc := &mockSettingsService{err: fmt.Errorf("%w: temperature must be between 0 and 2", apperrors.ErrInvalidPayload)}
	handler := NewSettingsHandler(svc, zap.NewNop())
	rec := httptest.NewRecorder()

	handler.UpdateAI(rec, newRequest(http.MethodPut, "/api/settings/ai", `{"temperature":9}`, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
