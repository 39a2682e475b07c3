package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
)

func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	return zap.New(core), recorded
}

func userContext(subject string) context.Context {
	claims := &auth.Claims{}
	claims.Subject = subject
	return auth.WithClaims(context.Background(), claims, "token")
}

func decodeEvent(t *testing.T, entry observer.LoggedEntry) SecurityEvent {
	t.Helper()
	raw, ok := entry.ContextMap()["event_json"].(string)
	require.True(t, ok, "event_json field missing")

	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	return event
}

func TestNewSecurityAuditor_UsesNamedLogger(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogActionExecuted(context.Background(), uuid.New(), uuid.New(), "statement", "completed")

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "security_audit", recorded.All()[0].LoggerName)
}

func TestLogInjectionSuspected(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		wantUser string
	}{
		{"with user context", userContext("user-123"), "user-123"},
		{"without user context", context.Background(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, recorded := setupTestLogger(t)
			auditor := NewSecurityAuditor(logger)
			fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			auditor.now = func() time.Time { return fixed }
			projectID := uuid.New()

			auditor.LogInjectionSuspected(tt.ctx, projectID, SQLInjectionDetails{
				Literal:     "' OR '1'='1",
				Fingerprint: "s&sos",
				Statement:   "SELECT * FROM users WHERE name = ''' OR ''1''=''1'",
			})

			require.Equal(t, 1, recorded.Len())
			entry := recorded.All()[0]
			assert.Equal(t, zapcore.ErrorLevel, entry.Level)
			assert.Equal(t, "s&sos", entry.ContextMap()["fingerprint"])

			event := decodeEvent(t, entry)
			assert.Equal(t, EventSQLInjectionSuspected, event.EventType)
			assert.Equal(t, SeverityCritical, event.Severity)
			assert.Equal(t, projectID, event.ProjectID)
			assert.Equal(t, tt.wantUser, event.UserID)
			assert.True(t, fixed.Equal(event.Timestamp))
			assert.Nil(t, event.ActionID)
		})
	}
}

func TestLogDestructiveProposal(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)
	actionID := uuid.New()

	auditor.LogDestructiveProposal(userContext("owner"), uuid.New(), actionID, []string{"DELETE", "DROP"})

	require.Equal(t, 1, recorded.Len())
	entry := recorded.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, actionID.String(), entry.ContextMap()["action_id"])

	event := decodeEvent(t, entry)
	assert.Equal(t, EventDestructiveProposal, event.EventType)
	require.NotNil(t, event.ActionID)
	assert.Equal(t, actionID, *event.ActionID)
	assert.Equal(t, map[string]any{"keywords": []any{"DELETE", "DROP"}}, event.Details)
}

func TestLogStaleConfirmation(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogStaleConfirmation(userContext("owner"), uuid.New(), uuid.New(), "completed")

	require.Equal(t, 1, recorded.Len())
	event := decodeEvent(t, recorded.All()[0])
	assert.Equal(t, EventStaleConfirmation, event.EventType)
	assert.Equal(t, SeverityWarning, event.Severity)
	assert.Equal(t, map[string]any{"status": "completed"}, event.Details)
}

func TestLogCredentialAccessDenied_KeepsExplicitUser(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogCredentialAccessDenied(userContext("someone-else"), uuid.New(), "intruder")

	require.Equal(t, 1, recorded.Len())
	entry := recorded.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "intruder", decodeEvent(t, entry).UserID)
}

func TestAuditor_RespectsLogLevel(t *testing.T) {
	core, recorded := observer.New(zapcore.WarnLevel)
	auditor := NewSecurityAuditor(zap.New(core))

	auditor.LogActionExecuted(context.Background(), uuid.New(), uuid.New(), "file_edit", "completed")
	auditor.LogStaleConfirmation(context.Background(), uuid.New(), uuid.New(), "failed")

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "Confirmation of processed action rejected", recorded.All()[0].Message)
}
