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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type StockTransactionItemRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"min=0"`
	Serials   []string        `json:"serials"`
}

type CreateStockTransactionRequest struct {
	Type        string                        `json:"type" binding:"required,oneof=import export"`
	WarehouseID string                        `json:"warehouse_id" binding:"required"`
	Note        string                        `json:"note"`
	Items       []StockTransactionItemRequest `json:"items" binding:"required,min=1,dive" validate:"dive"`
}

// ApproveStockTransactionRequest may supply serials per item id, replacing
// whatever was attached at creation.
type ApproveStockTransactionRequest struct {
	Serials map[string][]string `json:"serials"`
}

type RejectStockTransactionRequest struct {
	Reason string `json:"reason"`
}

// TransactionService runs the import/export approval workflow.
type TransactionService interface {
	Create(ctx context.Context, actor auth.Actor, req CreateStockTransactionRequest) (*model.StockTransaction, error)
	Approve(ctx context.Context, actor auth.Actor, id uuid.UUID, req ApproveStockTransactionRequest) (*model.StockTransaction, error)
	Reject(ctx context.Context, actor auth.Actor, id uuid.UUID, req RejectStockTransactionRequest) (*model.StockTransaction, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StockTransaction, error)
	List(ctx context.Context, actor auth.Actor, filter repository.DocumentFilter) ([]model.StockTransaction, int64, error)
}

type transactionService struct {
	docs       repository.StockTransactionRepository
	products   repository.ProductRepository
	warehouses repository.WarehouseRepository
	serials    repository.SerialRepository
	txManager  repository.TransactionManager
	ledger     LedgerService
	combos     ComboService
	collab     Collaborators
	threshold  int
}

func NewTransactionService(
	docs repository.StockTransactionRepository,
	products repository.ProductRepository,
	warehouses repository.WarehouseRepository,
	serials repository.SerialRepository,
	txManager repository.TransactionManager,
	ledger LedgerService,
	combos ComboService,
	collab Collaborators,
	approvalThreshold int,
) TransactionService {
	return &transactionService{
		docs:       docs,
		products:   products,
		warehouses: warehouses,
		serials:    serials,
		txManager:  txManager,
		ledger:     ledger,
		combos:     combos,
		collab:     collab.withDefaults(),
		threshold:  approvalThreshold,
	}
}

func (s *transactionService) Create(ctx context.Context, actor auth.Actor, req CreateStockTransactionRequest) (*model.StockTransaction, error) {
	if err := requireEdit(actor, auth.ModuleStock); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID()

	if req.Type != model.StockTxImport && req.Type != model.StockTxExport {
		return nil, invalid("type", "must be import or export")
	}
	warehouseID, err := parseID("warehouse_id", req.WarehouseID)
	if err != nil {
		return nil, err
	}
	if err := s.requireWarehouse(ctx, tenantID, warehouseID); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, invalid("items", "at least one line is required")
	}

	doc := &model.StockTransaction{
		TenantID:    tenantID,
		Code:        documentCode(strings.ToUpper(req.Type[:3])),
		Type:        req.Type,
		WarehouseID: warehouseID,
		Status:      model.ApprovalPending,
		Note:        req.Note,
		CreatedBy:   actorRef(actor),
	}
	for i, it := range req.Items {
		productID, err := parseID(fmt.Sprintf("items[%d].product_id", i), it.ProductID)
		if err != nil {
			return nil, err
		}
		if it.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if it.UnitPrice.IsNegative() {
			return nil, invalid(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
		}
		doc.Items = append(doc.Items, model.StockTransactionItem{
			ProductID: productID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Serials:   cleanSerials(it.Serials),
		})
	}

	products, err := s.loadProducts(ctx, tenantID, doc.Items)
	if err != nil {
		return nil, err
	}
	for i := range doc.Items {
		item := &doc.Items[i]
		if item.UnitPrice.IsZero() {
			item.UnitPrice = products[item.ProductID].UnitPrice
		}
		doc.Total = doc.Total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	autoApprove := elevated(actor, auth.ModuleStock, s.threshold)
	if err := checkSerialShape(doc, products, autoApprove); err != nil {
		return nil, err
	}

	lines, err := s.expand(ctx, doc, products)
	if err != nil {
		return nil, err
	}
	if doc.Type == model.StockTxExport {
		if err := s.checkAvailability(ctx, doc, lines); err != nil {
			return nil, err
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if autoApprove {
			now := time.Now()
			doc.Status = model.ApprovalApproved
			doc.ApprovedBy = actorRef(actor)
			doc.ApprovedAt = &now
		}
		if err := s.docs.Create(txCtx, doc); err != nil {
			return fmt.Errorf("create stock transaction: %w", err)
		}
		if autoApprove {
			return s.apply(txCtx, actor, doc, products, lines)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	action := model.ActionCreateImport
	if doc.Type == model.StockTxExport {
		action = model.ActionCreateExport
	}
	s.record(ctx, actor, doc, action, fmt.Sprintf("Created %s %s with %d line(s), status %s", doc.Type, doc.Code, len(doc.Items), doc.Status))
	if doc.Status == model.ApprovalApproved {
		s.requestSettlement(ctx, actor, doc)
	}
	return doc, nil
}

func (s *transactionService) Approve(ctx context.Context, actor auth.Actor, id uuid.UUID, req ApproveStockTransactionRequest) (*model.StockTransaction, error) {
	if err := requireLevel(actor, auth.ModuleStock, s.threshold); err != nil {
		return nil, err
	}
	doc, err := s.docs.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("stock transaction", err)
	}
	if !model.ApprovalFlow.Allows(doc.Status, model.ApprovalApproved) {
		return nil, &TransitionError{Entity: "stock transaction", From: string(doc.Status), To: string(model.ApprovalApproved)}
	}

	overridden := make(map[uuid.UUID]bool)
	for rawID, serials := range req.Serials {
		itemID, err := parseID("serials", rawID)
		if err != nil {
			return nil, err
		}
		found := false
		for i := range doc.Items {
			if doc.Items[i].ID == itemID {
				doc.Items[i].Serials = cleanSerials(serials)
				overridden[itemID] = true
				found = true
			}
		}
		if !found {
			return nil, invalid("serials", "item %s does not belong to this document", itemID)
		}
	}

	products, err := s.loadProducts(ctx, doc.TenantID, doc.Items)
	if err != nil {
		return nil, err
	}
	if err := checkSerialShape(doc, products, true); err != nil {
		return nil, err
	}
	lines, err := s.expand(ctx, doc, products)
	if err != nil {
		return nil, err
	}
	if doc.Type == model.StockTxExport {
		if err := s.checkAvailability(ctx, doc, lines); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		err := s.docs.Transition(txCtx, doc.ID, model.ApprovalPending, model.ApprovalApproved, map[string]interface{}{
			"approved_by": actorRef(actor),
			"approved_at": now,
		})
		if err != nil {
			return staleTransition("stock transaction", doc.ID, string(model.ApprovalPending), err)
		}
		for _, item := range doc.Items {
			if overridden[item.ID] {
				if err := s.docs.UpdateItemSerials(txCtx, item.ID, item.Serials); err != nil {
					return fmt.Errorf("store serials: %w", err)
				}
			}
		}
		return s.apply(txCtx, actor, doc, products, lines)
	})
	if err != nil {
		return nil, err
	}

	doc.Status = model.ApprovalApproved
	doc.ApprovedBy = actorRef(actor)
	doc.ApprovedAt = &now
	s.record(ctx, actor, doc, model.ActionApproveStock, fmt.Sprintf("Approved %s %s", doc.Type, doc.Code))
	s.requestSettlement(ctx, actor, doc)
	return doc, nil
}

func (s *transactionService) Reject(ctx context.Context, actor auth.Actor, id uuid.UUID, req RejectStockTransactionRequest) (*model.StockTransaction, error) {
	if err := requireLevel(actor, auth.ModuleStock, s.threshold); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invalid("reason", "is required")
	}
	doc, err := s.docs.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("stock transaction", err)
	}
	if !model.ApprovalFlow.Allows(doc.Status, model.ApprovalRejected) {
		return nil, &TransitionError{Entity: "stock transaction", From: string(doc.Status), To: string(model.ApprovalRejected)}
	}

	err = s.docs.Transition(ctx, doc.ID, model.ApprovalPending, model.ApprovalRejected, map[string]interface{}{
		"reject_reason": reason,
		"approved_by":   actorRef(actor),
	})
	if err != nil {
		return nil, staleTransition("stock transaction", doc.ID, string(model.ApprovalPending), err)
	}

	doc.Status = model.ApprovalRejected
	doc.RejectReason = reason
	s.record(ctx, actor, doc, model.ActionRejectStock, fmt.Sprintf("Rejected %s %s: %s", doc.Type, doc.Code, reason))
	return doc, nil
}

func (s *transactionService) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.StockTransaction, error) {
	doc, err := s.docs.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("stock transaction", err)
	}
	return doc, nil
}

func (s *transactionService) List(ctx context.Context, actor auth.Actor, filter repository.DocumentFilter) ([]model.StockTransaction, int64, error) {
	filter.TenantID = actor.TenantID()
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.docs.List(ctx, filter)
}

// apply runs inside the caller's transaction. Any error rolls back the status
// change together with every delta already applied.
func (s *transactionService) apply(ctx context.Context, actor auth.Actor, doc *model.StockTransaction, products map[uuid.UUID]*model.Product, lines []StockLine) error {
	if doc.Type == model.StockTxImport {
		if err := s.checkSerialUniqueness(ctx, doc, products); err != nil {
			return err
		}
	}

	sign := 1
	if doc.Type == model.StockTxExport {
		sign = -1
	}
	ref := doc.ID
	for _, l := range lines {
		_, err := s.ledger.Adjust(ctx, AdjustRequest{
			TenantID:    doc.TenantID,
			WarehouseID: doc.WarehouseID,
			ProductID:   l.ProductID,
			Delta:       sign * l.Quantity,
			Source:      model.SourceTransaction,
			ReferenceID: &ref,
			ActorID:     actorRef(actor),
			Note:        doc.Code,
		})
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			insufficient.DocumentID = doc.ID
			insufficient.Line = l.Line
			return insufficient
		}
		if err != nil {
			return err
		}
	}

	for _, item := range doc.Items {
		p := products[item.ProductID]
		if !p.HasSerial || len(item.Serials) == 0 {
			continue
		}
		if doc.Type == model.StockTxExport {
			n, err := s.serials.MarkSold(ctx, doc.TenantID, doc.WarehouseID, item.ProductID, item.Serials)
			if err != nil {
				return fmt.Errorf("mark serials sold: %w", err)
			}
			if int(n) != len(item.Serials) {
				return invalid("serials", "some serials of %s are not in stock at this warehouse", p.SKU)
			}
			continue
		}
		rows := make([]model.ProductSerial, 0, len(item.Serials))
		for _, serial := range item.Serials {
			rows = append(rows, model.ProductSerial{
				TenantID:      doc.TenantID,
				Serial:        serial,
				ProductID:     item.ProductID,
				WarehouseID:   doc.WarehouseID,
				TransactionID: doc.ID,
				Status:        model.SerialInStock,
			})
		}
		if err := s.serials.CreateBatch(ctx, rows); err != nil {
			if errors.Is(err, repository.ErrDuplicateSerial) {
				return &DuplicateSerialError{ProductID: item.ProductID, Serials: item.Serials}
			}
			return fmt.Errorf("create serials: %w", err)
		}
	}
	return nil
}

func (s *transactionService) requireWarehouse(ctx context.Context, tenantID, warehouseID uuid.UUID) error {
	w, err := s.warehouses.FindByID(ctx, tenantID, warehouseID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return invalid("warehouse_id", "unknown warehouse")
	}
	if err != nil {
		return fmt.Errorf("load warehouse: %w", err)
	}
	if !w.IsActive {
		return invalid("warehouse_id", "warehouse %s is inactive", w.Code)
	}
	return nil
}

func (s *transactionService) loadProducts(ctx context.Context, tenantID uuid.UUID, items []model.StockTransactionItem) (map[uuid.UUID]*model.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	found, err := s.products.FindByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	products := make(map[uuid.UUID]*model.Product, len(found))
	for i := range found {
		products[found[i].ID] = &found[i]
	}
	for i, it := range items {
		if products[it.ProductID] == nil {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "unknown product %s", it.ProductID)
		}
	}
	return products, nil
}

func (s *transactionService) expand(ctx context.Context, doc *model.StockTransaction, products map[uuid.UUID]*model.Product) ([]StockLine, error) {
	lines := make([]StockLine, 0, len(doc.Items))
	for i, it := range doc.Items {
		lines = append(lines, StockLine{Line: i + 1, ProductID: it.ProductID, Quantity: it.Quantity})
	}
	expanded, err := s.combos.Expand(ctx, products, lines)
	if err != nil {
		return nil, err
	}
	for _, l := range expanded {
		parent := products[doc.Items[l.Line-1].ProductID]
		if parent.IsCombo && products[l.ProductID].HasSerial {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", l.Line-1),
				"combo %s contains serialized product %s; post it as its own line", parent.SKU, products[l.ProductID].SKU)
		}
	}
	return expanded, nil
}

// checkAvailability compares the requested export against on-hand minus
// committed quantity. The ledger still has the final word at apply time.
func (s *transactionService) checkAvailability(ctx context.Context, doc *model.StockTransaction, lines []StockLine) error {
	order, totals := totalsByProduct(lines)
	onHand, err := s.ledger.Quantities(ctx, doc.WarehouseID, order)
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	committed, err := s.collab.Commitments.CommittedQty(ctx, doc.TenantID, order)
	if err != nil {
		return fmt.Errorf("read committed quantity: %w", err)
	}
	for _, productID := range order {
		want := totals[productID]
		available := onHand[productID] - committed[productID]
		if available < 0 {
			available = 0
		}
		if want.Quantity > available {
			return &InsufficientStockError{
				DocumentID:  doc.ID,
				Line:        want.Line,
				WarehouseID: doc.WarehouseID,
				ProductID:   productID,
				Available:   available,
				Requested:   want.Quantity,
			}
		}
	}
	return nil
}

// checkSerialShape validates serial counts per line. When strict, serialized
// import lines must carry exactly one serial per unit.
func checkSerialShape(doc *model.StockTransaction, products map[uuid.UUID]*model.Product, strict bool) error {
	for i, item := range doc.Items {
		p := products[item.ProductID]
		field := fmt.Sprintf("items[%d].serials", i)
		if len(item.Serials) > 0 && !p.HasSerial {
			return invalid(field, "product %s is not serialized", p.SKU)
		}
		if !p.HasSerial {
			continue
		}
		required := doc.Type == model.StockTxImport && strict
		if len(item.Serials) == 0 && !required {
			continue
		}
		if len(item.Serials) != item.Quantity {
			return invalid(field, "expected %d serial(s) for %s, got %d", item.Quantity, p.SKU, len(item.Serials))
		}
	}
	return nil
}

// checkSerialUniqueness rejects serials repeated in the batch or already known
// to the tenant, before any ledger increment.
func (s *transactionService) checkSerialUniqueness(ctx context.Context, doc *model.StockTransaction, products map[uuid.UUID]*model.Product) error {
	seen := make(map[string]bool)
	for _, item := range doc.Items {
		if !products[item.ProductID].HasSerial {
			continue
		}
		var dups []string
		for _, serial := range item.Serials {
			if seen[serial] {
				dups = append(dups, serial)
			}
			seen[serial] = true
		}
		if len(dups) > 0 {
			return &DuplicateSerialError{ProductID: item.ProductID, Serials: dups}
		}
		existing, err := s.serials.FindExisting(ctx, doc.TenantID, item.Serials)
		if err != nil {
			return fmt.Errorf("check serials: %w", err)
		}
		if len(existing) > 0 {
			return &DuplicateSerialError{ProductID: item.ProductID, Serials: existing}
		}
	}
	return nil
}

func (s *transactionService) record(ctx context.Context, actor auth.Actor, doc *model.StockTransaction, action, description string) {
	s.collab.Audit.Record(ctx, AuditEntry{
		TenantID:    doc.TenantID,
		UserID:      actorRef(actor),
		Action:      action,
		EntityType:  model.EntityStockTransaction,
		EntityID:    doc.ID.String(),
		EntityName:  doc.Code,
		Description: description,
		Details: map[string]interface{}{
			"type":         doc.Type,
			"warehouse_id": doc.WarehouseID,
			"status":       doc.Status,
			"total":        doc.Total.String(),
			"lines":        len(doc.Items),
		},
	})
}

func (s *transactionService) requestSettlement(ctx context.Context, actor auth.Actor, doc *model.StockTransaction) {
	if doc.Total.IsZero() {
		return
	}
	kind := SettlementPayable
	if doc.Type == model.StockTxExport {
		kind = SettlementReceivable
	}
	err := s.collab.Settlement.RequestSettlement(ctx, SettlementRequest{
		TenantID:     doc.TenantID,
		DocumentID:   doc.ID,
		DocumentCode: doc.Code,
		Kind:         kind,
		Amount:       doc.Total,
		WarehouseID:  doc.WarehouseID,
		RequestedBy:  actor.UserID(),
		RequestedAt:  time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("document", doc.Code).Msg("settlement request not enqueued")
	}
}

func cleanSerials(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
