package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/auth"
	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Unset-count policies applied on completion.
const (
	UnsetSkip          = "skip"
	UnsetTreatAsSystem = "treat_as_system"
)

// DTOs
type CreateStocktakeRequest struct {
	WarehouseID     string   `json:"warehouse_id" binding:"required"`
	ProductIDs      []string `json:"product_ids"`
	Category        string   `json:"category"`
	IncludeVariants bool     `json:"include_variants"`
	Note            string   `json:"note"`
}

type SetCountRequest struct {
	ActualQty *int    `json:"actual_qty"`
	Note      *string `json:"note"`
}

type ScanRequest struct {
	Code string `json:"code" binding:"required"`
}

type CountBatchRequest struct {
	Events []CountEvent `json:"events" binding:"required,min=1"`
}

type CompleteStocktakeRequest struct {
	UnsetPolicy string `json:"unset_policy" binding:"omitempty,oneof=skip treat_as_system"`
}

// StocktakeSummary is returned by Complete.
type StocktakeSummary struct {
	Session  *model.StocktakeSession `json:"session"`
	Counted  int                     `json:"counted"`
	Skipped  int                     `json:"skipped"`
	Posted   int                     `json:"posted"`
	Failed   int                     `json:"failed"`
	Failures []LineFailure           `json:"failures,omitempty"`
}

// StocktakeService reconciles physical counts against recorded stock.
type StocktakeService interface {
	Create(ctx context.Context, actor auth.Actor, req CreateStocktakeRequest) (*model.StocktakeSession, error)
	Start(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StocktakeSession, error)
	SetItem(ctx context.Context, actor auth.Actor, id, itemID uuid.UUID, req SetCountRequest) (model.StocktakeItem, error)
	Scan(ctx context.Context, actor auth.Actor, id uuid.UUID, code string) (ScanResult, error)
	FillUnset(ctx context.Context, actor auth.Actor, id uuid.UUID) (int, error)
	SaveCounts(ctx context.Context, actor auth.Actor, id uuid.UUID) (int, error)
	ApplyCountBatch(ctx context.Context, actor auth.Actor, id uuid.UUID, events []CountEvent) (int, error)
	// Complete returns a *PartialAdjustmentError alongside the summary when
	// some lines could not be posted; the session is completed regardless.
	Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, req CompleteStocktakeRequest) (*StocktakeSummary, error)
	Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StocktakeSession, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StocktakeSession, error)
	List(ctx context.Context, actor auth.Actor, filter repository.DocumentFilter) ([]model.StocktakeSession, int64, error)
}

type stocktakeService struct {
	sessions   repository.StocktakeRepository
	products   repository.ProductRepository
	warehouses repository.WarehouseRepository
	txManager  repository.TransactionManager
	ledger     LedgerService
	buffers    *CountBuffers
	collab     Collaborators
	threshold  int
}

func NewStocktakeService(
	sessions repository.StocktakeRepository,
	products repository.ProductRepository,
	warehouses repository.WarehouseRepository,
	txManager repository.TransactionManager,
	ledger LedgerService,
	buffers *CountBuffers,
	collab Collaborators,
	approvalThreshold int,
) StocktakeService {
	return &stocktakeService{
		sessions:   sessions,
		products:   products,
		warehouses: warehouses,
		txManager:  txManager,
		ledger:     ledger,
		buffers:    buffers,
		collab:     collab.withDefaults(),
		threshold:  approvalThreshold,
	}
}

func (s *stocktakeService) Create(ctx context.Context, actor auth.Actor, req CreateStocktakeRequest) (*model.StocktakeSession, error) {
	if err := requireEdit(actor, auth.ModuleStocktake); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID()

	warehouseID, err := parseID("warehouse_id", req.WarehouseID)
	if err != nil {
		return nil, err
	}
	w, err := s.warehouses.FindByID(ctx, tenantID, warehouseID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invalid("warehouse_id", "unknown warehouse")
	}
	if err != nil {
		return nil, fmt.Errorf("load warehouse: %w", err)
	}
	if !w.IsActive {
		return nil, invalid("warehouse_id", "warehouse %s is inactive", w.Code)
	}

	scope := repository.ProductScope{Category: strings.TrimSpace(req.Category), IncludeVariants: req.IncludeVariants}
	for i, raw := range req.ProductIDs {
		id, err := parseID(fmt.Sprintf("product_ids[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		scope.ProductIDs = append(scope.ProductIDs, id)
	}

	products, err := s.products.FindForScope(ctx, tenantID, scope)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	if len(products) == 0 {
		return nil, invalid("scope", "no stock-tracked products match")
	}

	ids := make([]uuid.UUID, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	onHand, err := s.ledger.Quantities(ctx, warehouseID, ids)
	if err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}

	session := &model.StocktakeSession{
		TenantID:    tenantID,
		Code:        documentCode("STK"),
		WarehouseID: w.ID,
		Status:      model.StocktakeDraft,
		Scope:       describeScope(scope),
		Note:        req.Note,
		CreatedBy:   actorRef(actor),
	}
	for _, p := range products {
		session.Items = append(session.Items, model.StocktakeItem{
			ProductID:   p.ID,
			SKU:         p.SKU,
			ProductName: p.Name,
			SystemQty:   onHand[p.ID],
		})
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create stocktake: %w", err)
	}
	s.record(ctx, actor, session, model.ActionCreateStocktake,
		fmt.Sprintf("Created stocktake %s for %s (%d item(s))", session.Code, w.Code, len(session.Items)))
	return session, nil
}

func (s *stocktakeService) Start(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StocktakeSession, error) {
	if err := requireEdit(actor, auth.ModuleStocktake); err != nil {
		return nil, err
	}
	session, err := s.load(ctx, actor, id, model.StocktakeInProgress)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.sessions.Transition(ctx, session.ID, model.StocktakeDraft, model.StocktakeInProgress, map[string]interface{}{
		"started_at": now,
	})
	if err != nil {
		return nil, staleTransition("stocktake", session.ID, string(model.StocktakeDraft), err)
	}

	session.Status = model.StocktakeInProgress
	session.StartedAt = &now
	s.buffers.Open(session)
	s.record(ctx, actor, session, model.ActionStartStocktake, fmt.Sprintf("Started counting %s", session.Code))
	return session, nil
}

func (s *stocktakeService) SetItem(ctx context.Context, actor auth.Actor, id, itemID uuid.UUID, req SetCountRequest) (model.StocktakeItem, error) {
	if req.ActualQty == nil && req.Note == nil {
		return model.StocktakeItem{}, invalid("actual_qty", "actual_qty or note is required")
	}
	buf, err := s.buffer(ctx, actor, id)
	if err != nil {
		return model.StocktakeItem{}, err
	}

	var item model.StocktakeItem
	if req.ActualQty != nil {
		if item, err = buf.SetCount(itemID, *req.ActualQty); err != nil {
			return model.StocktakeItem{}, err
		}
	}
	if req.Note != nil {
		if item, err = buf.SetNote(itemID, *req.Note); err != nil {
			return model.StocktakeItem{}, err
		}
	}
	return item, nil
}

func (s *stocktakeService) Scan(ctx context.Context, actor auth.Actor, id uuid.UUID, code string) (ScanResult, error) {
	buf, err := s.buffer(ctx, actor, id)
	if err != nil {
		return ScanResult{Code: code}, err
	}
	return buf.Scan(code)
}

func (s *stocktakeService) FillUnset(ctx context.Context, actor auth.Actor, id uuid.UUID) (int, error) {
	buf, err := s.buffer(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	return buf.FillUnset()
}

func (s *stocktakeService) SaveCounts(ctx context.Context, actor auth.Actor, id uuid.UUID) (int, error) {
	buf, err := s.buffer(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	return buf.Flush(ctx)
}

func (s *stocktakeService) ApplyCountBatch(ctx context.Context, actor auth.Actor, id uuid.UUID, events []CountEvent) (int, error) {
	buf, err := s.buffer(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	return buf.ApplyEvents(events)
}

func (s *stocktakeService) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, req CompleteStocktakeRequest) (*StocktakeSummary, error) {
	if err := requireLevel(actor, auth.ModuleStocktake, s.threshold); err != nil {
		return nil, err
	}
	policy := req.UnsetPolicy
	if policy == "" {
		policy = UnsetSkip
	}
	if policy != UnsetSkip && policy != UnsetTreatAsSystem {
		return nil, invalid("unset_policy", "must be %s or %s", UnsetSkip, UnsetTreatAsSystem)
	}

	session, err := s.load(ctx, actor, id, model.StocktakeCompleted)
	if err != nil {
		return nil, err
	}
	// Sealing before the last flush means every accepted edit is either in
	// the store when the CAS runs or was rejected to its caller.
	buf := s.buffers.Open(session)
	buf.Seal()
	if _, err := buf.Flush(ctx); err != nil {
		buf.Unseal()
		return nil, err
	}
	if session, err = s.load(ctx, actor, id, model.StocktakeCompleted); err != nil {
		var terr *TransitionError
		if !errors.As(err, &terr) {
			buf.Unseal()
		}
		return nil, err
	}

	now := time.Now()
	err = s.sessions.Transition(ctx, session.ID, model.StocktakeInProgress, model.StocktakeCompleted, map[string]interface{}{
		"completed_by": actorRef(actor),
		"completed_at": now,
	})
	if err != nil {
		// Only a status change makes the CAS miss, so the session is no
		// longer countable and the buffer stays sealed.
		return nil, staleTransition("stocktake", session.ID, string(model.StocktakeInProgress), err)
	}
	s.buffers.Close(session.ID)
	session.Status = model.StocktakeCompleted
	session.CompletedBy = actorRef(actor)
	session.CompletedAt = &now

	summary := &StocktakeSummary{Session: session}
	var totals repository.StocktakeTotals
	for i := range session.Items {
		item := &session.Items[i]
		actual := item.ActualQty
		if actual == nil && policy == UnsetTreatAsSystem {
			qty := item.SystemQty
			actual = &qty
		}
		if actual == nil {
			summary.Skipped++
			continue
		}
		summary.Counted++

		diff := *actual - item.SystemQty
		if diff > 0 {
			totals.OverTotal += diff
		} else {
			totals.UnderTotal += diff
		}
		if diff == 0 || item.Posted {
			continue
		}

		if err := s.post(ctx, actor, session, item, diff); err != nil {
			reason := err.Error()
			log.Error().Err(err).
				Str("stocktake", session.Code).
				Str("sku", item.SKU).
				Int("diff", diff).
				Msg("stocktake line not posted")
			if markErr := s.sessions.MarkItemFailed(ctx, item.ID, reason); markErr != nil {
				log.Error().Err(markErr).Str("item_id", item.ID.String()).Msg("stocktake: record line failure")
			}
			item.PostError = reason
			summary.Failures = append(summary.Failures, LineFailure{
				ItemID:    item.ID,
				ProductID: item.ProductID,
				SKU:       item.SKU,
				Diff:      diff,
				Reason:    reason,
			})
			continue
		}
		item.Posted = true
		totals.PostedLines++
	}
	totals.FailedLines = len(summary.Failures)
	summary.Posted = totals.PostedLines
	summary.Failed = totals.FailedLines

	if err := s.sessions.SaveTotals(ctx, session.ID, totals); err != nil {
		log.Error().Err(err).Str("stocktake", session.Code).Msg("stocktake: save totals")
	}
	session.OverTotal = totals.OverTotal
	session.UnderTotal = totals.UnderTotal
	session.PostedLines = totals.PostedLines
	session.FailedLines = totals.FailedLines

	s.record(ctx, actor, session, model.ActionCompleteStocktake,
		fmt.Sprintf("Completed stocktake %s: over %d, under %d, %d posted, %d failed",
			session.Code, totals.OverTotal, totals.UnderTotal, totals.PostedLines, totals.FailedLines))

	if len(summary.Failures) > 0 {
		return summary, &PartialAdjustmentError{SessionID: session.ID, Failures: summary.Failures}
	}
	return summary, nil
}

// post applies one line's variance and marks it posted in a single transaction.
func (s *stocktakeService) post(ctx context.Context, actor auth.Actor, session *model.StocktakeSession, item *model.StocktakeItem, diff int) error {
	ref := session.ID
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.sessions.MarkItemPosted(txCtx, item.ID); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return fmt.Errorf("line %s already posted", item.SKU)
			}
			return err
		}
		_, err := s.ledger.Adjust(txCtx, AdjustRequest{
			TenantID:    session.TenantID,
			WarehouseID: session.WarehouseID,
			ProductID:   item.ProductID,
			Delta:       diff,
			Source:      model.SourceStocktake,
			ReferenceID: &ref,
			ActorID:     actorRef(actor),
			Note:        session.Code,
		})
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			insufficient.DocumentID = session.ID
		}
		return err
	})
}

func (s *stocktakeService) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StocktakeSession, error) {
	if err := requireLevel(actor, auth.ModuleStocktake, s.threshold); err != nil {
		return nil, err
	}
	session, err := s.load(ctx, actor, id, model.StocktakeCancelled)
	if err != nil {
		return nil, err
	}
	buf, open := s.buffers.Get(session.TenantID, session.ID)
	if open {
		buf.Seal()
		if _, err := buf.Flush(ctx); err != nil {
			log.Warn().Err(err).Str("stocktake", session.Code).Msg("stocktake: flush before cancel failed")
		}
	}

	from := session.Status
	if err := s.sessions.Transition(ctx, session.ID, from, model.StocktakeCancelled, nil); err != nil {
		// Buffers exist only for in_progress sessions; a missed CAS means the
		// session was completed or cancelled meanwhile.
		return nil, staleTransition("stocktake", session.ID, string(from), err)
	}
	s.buffers.Close(session.ID)
	session.Status = model.StocktakeCancelled
	s.record(ctx, actor, session, model.ActionCancelStocktake, fmt.Sprintf("Cancelled stocktake %s (was %s)", session.Code, from))
	return session, nil
}

// Get overlays unsaved edits from the open buffer, if any.
func (s *stocktakeService) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StocktakeSession, error) {
	session, err := s.sessions.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("stocktake", err)
	}
	if buf, ok := s.buffers.Get(session.TenantID, session.ID); ok {
		session.Items = buf.Items()
	}
	return session, nil
}

func (s *stocktakeService) List(ctx context.Context, actor auth.Actor, filter repository.DocumentFilter) ([]model.StocktakeSession, int64, error) {
	filter.TenantID = actor.TenantID()
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.sessions.List(ctx, filter)
}

func (s *stocktakeService) load(ctx context.Context, actor auth.Actor, id uuid.UUID, to model.StocktakeStatus) (*model.StocktakeSession, error) {
	session, err := s.sessions.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("stocktake", err)
	}
	if !model.StocktakeFlow.Allows(session.Status, to) {
		return nil, &TransitionError{Entity: "stocktake", From: string(session.Status), To: string(to)}
	}
	return session, nil
}

// buffer returns the count buffer of an in-progress session, reopening it
// from the database after a restart.
func (s *stocktakeService) buffer(ctx context.Context, actor auth.Actor, id uuid.UUID) (*CountBuffer, error) {
	if err := requireEdit(actor, auth.ModuleStocktake); err != nil {
		return nil, err
	}
	if buf, ok := s.buffers.Get(actor.TenantID(), id); ok {
		return buf, nil
	}
	session, err := s.sessions.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("stocktake", err)
	}
	if session.Status != model.StocktakeInProgress {
		return nil, &TransitionError{Entity: "stocktake", From: string(session.Status), To: "counting"}
	}
	return s.buffers.Open(session), nil
}

func (s *stocktakeService) record(ctx context.Context, actor auth.Actor, session *model.StocktakeSession, action, description string) {
	s.collab.Audit.Record(ctx, AuditEntry{
		TenantID:    session.TenantID,
		UserID:      actorRef(actor),
		Action:      action,
		EntityType:  model.EntityStocktake,
		EntityID:    session.ID.String(),
		EntityName:  session.Code,
		Description: description,
		Details: map[string]interface{}{
			"warehouse_id": session.WarehouseID,
			"status":       session.Status,
			"over_total":   session.OverTotal,
			"under_total":  session.UnderTotal,
		},
	})
}

func describeScope(scope repository.ProductScope) string {
	var parts []string
	if len(scope.ProductIDs) > 0 {
		parts = append(parts, fmt.Sprintf("%d selected product(s)", len(scope.ProductIDs)))
	}
	if scope.Category != "" {
		parts = append(parts, "category "+scope.Category)
	}
	if len(parts) == 0 {
		return "all products"
	}
	desc := strings.Join(parts, ", ")
	if scope.IncludeVariants {
		desc += " with variants"
	}
	return desc
}
