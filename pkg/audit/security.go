// Package audit provides security audit logging for SIEM consumption.
// Events are written as structured JSON on a dedicated "security_audit" logger.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionSuspected is logged when a generated statement literal matches an injection pattern.
	EventSQLInjectionSuspected SecurityEventType = "sql_injection_suspected"
	// EventDestructiveProposal is logged when a proposal contains destructive keywords.
	EventDestructiveProposal SecurityEventType = "destructive_proposal"
	// EventStaleConfirmation is logged when a non-pending action is confirmed again.
	EventStaleConfirmation SecurityEventType = "stale_confirmation"
	// EventActionExecuted is logged once per terminal action transition.
	EventActionExecuted SecurityEventType = "action_executed"
	// EventCredentialAccessDenied is logged when a caller asks for another owner's credentials.
	EventCredentialAccessDenied SecurityEventType = "credential_access_denied"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent is an auditable event with the context SIEM analysis needs.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	ProjectID uuid.UUID         `json:"project_id"`
	ActionID  *uuid.UUID        `json:"action_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"`
}

// SQLInjectionDetails describes one suspicious literal.
type SQLInjectionDetails struct {
	Literal     string `json:"literal"`
	Fingerprint string `json:"fingerprint"`
	Statement   string `json:"statement"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor creates an auditor on the "security_audit" logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit"), now: time.Now}
}

func (a *SecurityAuditor) write(ctx context.Context, level zapcore.Level, msg string, event SecurityEvent, fields ...zap.Field) {
	event.Timestamp = a.now().UTC()
	if event.UserID == "" {
		event.UserID = auth.GetUserIDFromContext(ctx)
	}

	eventJSON, _ := json.Marshal(event)

	all := append([]zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(event.EventType)),
		zap.String("project_id", event.ProjectID.String()),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	}, fields...)
	if event.ActionID != nil {
		all = append(all, zap.String("action_id", event.ActionID.String()))
	}

	if ce := a.logger.Check(level, msg); ce != nil {
		ce.Write(all...)
	}
}

// LogInjectionSuspected records a generated statement whose literal matched an
// injection pattern. Logged at ERROR with critical severity.
func (a *SecurityAuditor) LogInjectionSuspected(ctx context.Context, projectID uuid.UUID, details SQLInjectionDetails) {
	a.write(ctx, zapcore.ErrorLevel, "Possible SQL injection in generated statement", SecurityEvent{
		EventType: EventSQLInjectionSuspected,
		ProjectID: projectID,
		Details:   details,
		Severity:  SeverityCritical,
	}, zap.String("fingerprint", details.Fingerprint))
}

// LogDestructiveProposal records a pending action that will need extra scrutiny.
func (a *SecurityAuditor) LogDestructiveProposal(ctx context.Context, projectID, actionID uuid.UUID, keywords []string) {
	a.write(ctx, zapcore.WarnLevel, "Destructive action proposed", SecurityEvent{
		EventType: EventDestructiveProposal,
		ProjectID: projectID,
		ActionID:  &actionID,
		Details:   map[string]any{"keywords": keywords},
		Severity:  SeverityWarning,
	}, zap.Strings("keywords", keywords))
}

// LogStaleConfirmation records an attempt to execute an already processed action.
func (a *SecurityAuditor) LogStaleConfirmation(ctx context.Context, projectID, actionID uuid.UUID, status string) {
	a.write(ctx, zapcore.WarnLevel, "Confirmation of processed action rejected", SecurityEvent{
		EventType: EventStaleConfirmation,
		ProjectID: projectID,
		ActionID:  &actionID,
		Details:   map[string]string{"status": status},
		Severity:  SeverityWarning,
	})
}

// LogActionExecuted records the terminal outcome of a confirmed action.
func (a *SecurityAuditor) LogActionExecuted(ctx context.Context, projectID, actionID uuid.UUID, actionType, status string) {
	a.write(ctx, zapcore.InfoLevel, "Action executed", SecurityEvent{
		EventType: EventActionExecuted,
		ProjectID: projectID,
		ActionID:  &actionID,
		Details:   map[string]string{"action_type": actionType, "status": status},
		Severity:  SeverityInfo,
	}, zap.String("status", status))
}

// LogCredentialAccessDenied records a credential request by a non-owner.
func (a *SecurityAuditor) LogCredentialAccessDenied(ctx context.Context, projectID uuid.UUID, userID string) {
	a.write(ctx, zapcore.ErrorLevel, "Credential access denied", SecurityEvent{
		EventType: EventCredentialAccessDenied,
		ProjectID: projectID,
		UserID:    userID,
		Details:   map[string]string{"reason": "not owner"},
		Severity:  SeverityCritical,
	})
}
