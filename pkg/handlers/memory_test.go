package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

func TestMemoryHandler_AddAndList(t *testing.T) {
	svc := &mockMemoryService{}
	handler := NewMemoryHandler(svc, zap.NewNop())
	path := map[string]string{"pid": uuid.New().String()}

	rec := httptest.NewRecorder()
	handler.Add(rec, newRequest(http.MethodPost, "/memory", `{"content":"Orders are soft deleted"}`, path))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.entries, 1)
	assert.Equal(t, testUser, svc.entries[0].UserID)

	rec = httptest.NewRecorder()
	handler.List(rec, newRequest(http.MethodGet, "/memory", "", path))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []models.MemoryEntry `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Orders are soft deleted", resp.Data[0].Content)
}
