package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/auth"
	"stockledger/internal/repository"
	"stockledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Collaborators are the external sinks and feeds shared by the document services.
// Nil fields fall back to no-op implementations.
type Collaborators struct {
	Audit       AuditRecorder
	Commitments CommitmentFeed
	Settlement  SettlementRequester
}

func (c Collaborators) withDefaults() Collaborators {
	if c.Audit == nil {
		c.Audit = discardAudit{}
	}
	if c.Commitments == nil {
		c.Commitments = NoCommitments{}
	}
	if c.Settlement == nil {
		c.Settlement = noSettlement{}
	}
	return c
}

type discardAudit struct{}

func (discardAudit) Record(_ context.Context, _ AuditEntry) {}

func requireEdit(actor auth.Actor, module string) error {
	if actor == nil || !actor.CanEdit(module) {
		return fmt.Errorf("%w: %s.write required", ErrForbidden, module)
	}
	return nil
}

// requireLevel gates approve/reject/cancel style actions.
func requireLevel(actor auth.Actor, module string, threshold int) error {
	if actor == nil || !elevated(actor, module, threshold) {
		return fmt.Errorf("%w: approval level %d on %s required", ErrForbidden, threshold, module)
	}
	return nil
}

func elevated(actor auth.Actor, module string, threshold int) bool {
	return threshold > 0 && actor.ApprovalLevel(module) >= threshold
}

func actorRef(actor auth.Actor) *uuid.UUID {
	id := actor.UserID()
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalid(field, "must be a valid id")
	}
	return id, nil
}

// notFound maps gorm's missing-row error onto ErrNotFound.
func notFound(entity string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}

// staleTransition maps a failed status compare-and-swap onto a ConcurrentTransitionError.
func staleTransition(entity string, id uuid.UUID, expected string, err error) error {
	if errors.Is(err, repository.ErrStaleState) {
		return &ConcurrentTransitionError{Entity: entity, ID: id, Expected: expected}
	}
	return err
}

func documentCode(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

func normalizePage(page, limit int) (int, int) {
	return pagination.Normalize(page, limit)
}
