package service

import (
	"context"
	"encoding/json"
	"fmt"

	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AuditEntry is one human-readable description of a state change.
type AuditEntry struct {
	TenantID    uuid.UUID              `json:"tenant_id"`
	UserID      *uuid.UUID             `json:"user_id,omitempty"`
	Action      string                 `json:"action"`
	EntityType  string                 `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	EntityName  string                 `json:"entity_name,omitempty"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// ToLog converts the entry into its persisted row.
func (e AuditEntry) ToLog() *model.AuditLog {
	details := "{}"
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			details = string(raw)
		}
	}
	return &model.AuditLog{
		TenantID:    e.TenantID,
		UserID:      e.UserID,
		Action:      e.Action,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		EntityName:  e.EntityName,
		Description: e.Description,
		Details:     details,
	}
}

// AuditRecorder is fire-and-forget: implementations log failures and never
// return them to the caller.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type dbAuditRecorder struct {
	repo repository.AuditRepository
}

// NewDBAuditRecorder writes audit rows synchronously.
func NewDBAuditRecorder(repo repository.AuditRepository) AuditRecorder {
	return &dbAuditRecorder{repo: repo}
}

func (r *dbAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	if err := r.repo.Log(context.WithoutCancel(ctx), entry.ToLog()); err != nil {
		log.Error().Err(err).
			Str("action", entry.Action).
			Str("entity_id", entry.EntityID).
			Msg("audit: failed to write log")
	}
}

type AuditLogResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Action      string `json:"action"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	EntityName  string `json:"entity_name"`
	Description string `json:"description"`
	Details     string `json:"details"`
	CreatedAt   string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

func (s *auditService) GetAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]AuditLogResponse, int64, error) {
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := "System"
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		res = append(res, AuditLogResponse{
			ID:          l.ID.String(),
			UserID:      userID,
			Username:    username,
			Action:      l.Action,
			EntityType:  l.EntityType,
			EntityID:    l.EntityID,
			EntityName:  l.EntityName,
			Description: l.Description,
			Details:     l.Details,
			CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return res, total, nil
}
