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
	"gorm.io/gorm"
)

// DTOs
// TransferItemRequest is one line. Serialized products list exactly Quantity
// serials currently in stock at the source.
type TransferItemRequest struct {
	ProductID string   `json:"product_id" binding:"required"`
	Quantity  int      `json:"quantity"`
	Serials   []string `json:"serials"`
}

type CreateTransferRequest struct {
	FromWarehouseID string                `json:"from_warehouse_id" binding:"required"`
	ToWarehouseID   string                `json:"to_warehouse_id" binding:"required"`
	Note            string                `json:"note"`
	Items           []TransferItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ReceiptLine overrides what arrived for one item. Items left out are received
// in full. An omitted ReceivedQty defaults to the number of Serials listed, or
// to the sent quantity when no serials are listed. A short serialized line
// must list the serials that arrived.
type ReceiptLine struct {
	ItemID      string   `json:"item_id" binding:"required"`
	ReceivedQty *int     `json:"received_qty"`
	Serials     []string `json:"serials"`
}

type ReceiveTransferRequest struct {
	Items []ReceiptLine `json:"items" binding:"omitempty,dive"`
}

type CancelTransferRequest struct {
	Reason string `json:"reason"`
}

// TransferService moves stock between two warehouses of a tenant: the source
// is decremented on dispatch and the destination incremented on receipt.
type TransferService interface {
	Create(ctx context.Context, actor auth.Actor, req CreateTransferRequest) (*model.TransferOrder, error)
	Dispatch(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.TransferOrder, error)
	Receive(ctx context.Context, actor auth.Actor, id uuid.UUID, req ReceiveTransferRequest) (*model.TransferOrder, error)
	Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, req CancelTransferRequest) (*model.TransferOrder, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.TransferOrder, error)
	List(ctx context.Context, actor auth.Actor, filter repository.DocumentFilter) ([]model.TransferOrder, int64, error)
}

type transferService struct {
	transfers  repository.TransferRepository
	products   repository.ProductRepository
	warehouses repository.WarehouseRepository
	serials    repository.SerialRepository
	txManager  repository.TransactionManager
	ledger     LedgerService
	collab     Collaborators
	threshold  int
}

func NewTransferService(
	transfers repository.TransferRepository,
	products repository.ProductRepository,
	warehouses repository.WarehouseRepository,
	serials repository.SerialRepository,
	txManager repository.TransactionManager,
	ledger LedgerService,
	collab Collaborators,
	approvalThreshold int,
) TransferService {
	return &transferService{
		transfers:  transfers,
		products:   products,
		warehouses: warehouses,
		serials:    serials,
		txManager:  txManager,
		ledger:     ledger,
		collab:     collab.withDefaults(),
		threshold:  approvalThreshold,
	}
}

func (s *transferService) Create(ctx context.Context, actor auth.Actor, req CreateTransferRequest) (*model.TransferOrder, error) {
	if err := requireEdit(actor, auth.ModuleTransfer); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID()

	fromID, err := parseID("from_warehouse_id", req.FromWarehouseID)
	if err != nil {
		return nil, err
	}
	toID, err := parseID("to_warehouse_id", req.ToWarehouseID)
	if err != nil {
		return nil, err
	}
	if fromID == toID {
		return nil, invalid("to_warehouse_id", "must differ from the source warehouse")
	}
	for field, id := range map[string]uuid.UUID{"from_warehouse_id": fromID, "to_warehouse_id": toID} {
		w, err := s.warehouses.FindByID(ctx, tenantID, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid(field, "unknown warehouse")
		}
		if err != nil {
			return nil, fmt.Errorf("load warehouse: %w", err)
		}
		if !w.IsActive {
			return nil, invalid(field, "warehouse %s is inactive", w.Code)
		}
	}
	if len(req.Items) == 0 {
		return nil, invalid("items", "at least one line is required")
	}

	order := &model.TransferOrder{
		TenantID:        tenantID,
		Code:            documentCode("TRF"),
		FromWarehouseID: fromID,
		ToWarehouseID:   toID,
		Status:          model.TransferPending,
		Note:            req.Note,
		CreatedBy:       actorRef(actor),
	}
	ids := make([]uuid.UUID, 0, len(req.Items))
	for i, it := range req.Items {
		productID, err := parseID(fmt.Sprintf("items[%d].product_id", i), it.ProductID)
		if err != nil {
			return nil, err
		}
		if it.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		ids = append(ids, productID)
		order.Items = append(order.Items, model.TransferItem{ProductID: productID, SentQty: it.Quantity, Serials: it.Serials})
	}

	found, err := s.products.FindByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	products := make(map[uuid.UUID]model.Product, len(found))
	for _, p := range found {
		products[p.ID] = p
	}
	lines := make([]StockLine, 0, len(order.Items))
	for i, item := range order.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "unknown product %s", item.ProductID)
		}
		if p.IsCombo {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "combo %s has no stock of its own; transfer its components", p.SKU)
		}
		lines = append(lines, StockLine{Line: i + 1, ProductID: item.ProductID, Quantity: item.SentQty})
	}
	if err := s.checkSerials(ctx, order, products); err != nil {
		return nil, err
	}

	productOrder, totals := totalsByProduct(lines)
	onHand, err := s.ledger.Quantities(ctx, fromID, productOrder)
	if err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}
	for _, productID := range productOrder {
		want := totals[productID]
		if want.Quantity > onHand[productID] {
			return nil, &InsufficientStockError{
				Line:        want.Line,
				WarehouseID: fromID,
				ProductID:   productID,
				Available:   onHand[productID],
				Requested:   want.Quantity,
			}
		}
	}

	if err := s.transfers.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	s.record(ctx, actor, order, model.ActionCreateTransfer, fmt.Sprintf("Created transfer %s with %d line(s)", order.Code, len(order.Items)))
	return order, nil
}

func (s *transferService) Dispatch(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.TransferOrder, error) {
	if err := requireEdit(actor, auth.ModuleTransfer); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, actor, id, model.TransferInTransit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		err := s.transfers.Transition(txCtx, order.ID, model.TransferPending, model.TransferInTransit, map[string]interface{}{
			"dispatched_by": actorRef(actor),
			"dispatched_at": now,
		})
		if err != nil {
			return staleTransition("transfer", order.ID, string(model.TransferPending), err)
		}
		for i, item := range order.Items {
			if err := s.move(txCtx, actor, order, i, order.FromWarehouseID, -item.SentQty, "dispatch"); err != nil {
				return err
			}
			m := serialMove(order, item, item.Serials)
			m.FromWarehouseID, m.FromStatus = order.FromWarehouseID, model.SerialInStock
			m.ToWarehouseID, m.ToStatus = order.FromWarehouseID, model.SerialInTransit
			if err := s.relocate(txCtx, i, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Status = model.TransferInTransit
	order.DispatchedBy = actorRef(actor)
	order.DispatchedAt = &now
	s.record(ctx, actor, order, model.ActionDispatchTransfer, fmt.Sprintf("Dispatched transfer %s", order.Code))
	return order, nil
}

func (s *transferService) Receive(ctx context.Context, actor auth.Actor, id uuid.UUID, req ReceiveTransferRequest) (*model.TransferOrder, error) {
	if err := requireEdit(actor, auth.ModuleTransfer); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, actor, id, model.TransferReceived)
	if err != nil {
		return nil, err
	}

	received, err := parseReceipt(order, req)
	if err != nil {
		return nil, err
	}
	variance := 0
	for i := range order.Items {
		item := &order.Items[i]
		r := received[item.ID]
		item.ReceivedQty = &r.qty
		item.VarianceQty = r.qty - item.SentQty
		item.ReceivedSerials = r.serials
		variance += item.VarianceQty
	}

	now := time.Now()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		err := s.transfers.Transition(txCtx, order.ID, model.TransferInTransit, model.TransferReceived, map[string]interface{}{
			"received_by":  actorRef(actor),
			"received_at":  now,
			"variance_qty": variance,
		})
		if err != nil {
			return staleTransition("transfer", order.ID, string(model.TransferInTransit), err)
		}
		for i, item := range order.Items {
			if err := s.transfers.RecordReceipt(txCtx, item); err != nil {
				return fmt.Errorf("record receipt: %w", err)
			}
			if *item.ReceivedQty > 0 {
				if err := s.move(txCtx, actor, order, i, order.ToWarehouseID, *item.ReceivedQty, "receipt"); err != nil {
					return err
				}
			}
			if len(item.Serials) == 0 {
				continue
			}
			arrived := serialMove(order, item, item.ReceivedSerials)
			arrived.FromWarehouseID, arrived.FromStatus = order.FromWarehouseID, model.SerialInTransit
			arrived.ToWarehouseID, arrived.ToStatus = order.ToWarehouseID, model.SerialInStock
			if err := s.relocate(txCtx, i, arrived); err != nil {
				return err
			}
			lost := serialMove(order, item, missingSerials(item))
			lost.FromWarehouseID, lost.FromStatus = order.FromWarehouseID, model.SerialInTransit
			lost.ToWarehouseID, lost.ToStatus = order.FromWarehouseID, model.SerialMissing
			if err := s.relocate(txCtx, i, lost); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Status = model.TransferReceived
	order.ReceivedBy = actorRef(actor)
	order.ReceivedAt = &now
	order.VarianceQty = variance
	desc := fmt.Sprintf("Received transfer %s", order.Code)
	if variance != 0 {
		desc = fmt.Sprintf("%s with variance %d", desc, variance)
	}
	s.record(ctx, actor, order, model.ActionReceiveTransfer, desc)
	return order, nil
}

// Cancel from pending has no ledger effect; from in_transit it returns the
// dispatched quantity to the source in the same transaction as the status change.
func (s *transferService) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, req CancelTransferRequest) (*model.TransferOrder, error) {
	if err := requireLevel(actor, auth.ModuleTransfer, s.threshold); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, actor, id, model.TransferCancelled)
	if err != nil {
		return nil, err
	}

	from := order.Status
	reason := strings.TrimSpace(req.Reason)
	now := time.Now()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		err := s.transfers.Transition(txCtx, order.ID, from, model.TransferCancelled, map[string]interface{}{
			"cancelled_by":  actorRef(actor),
			"cancelled_at":  now,
			"cancel_reason": reason,
		})
		if err != nil {
			return staleTransition("transfer", order.ID, string(from), err)
		}
		if from != model.TransferInTransit {
			return nil
		}
		for i, item := range order.Items {
			if err := s.move(txCtx, actor, order, i, order.FromWarehouseID, item.SentQty, "cancel"); err != nil {
				return err
			}
			m := serialMove(order, item, item.Serials)
			m.FromWarehouseID, m.FromStatus = order.FromWarehouseID, model.SerialInTransit
			m.ToWarehouseID, m.ToStatus = order.FromWarehouseID, model.SerialInStock
			if err := s.relocate(txCtx, i, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Status = model.TransferCancelled
	order.CancelledBy = actorRef(actor)
	order.CancelledAt = &now
	order.CancelReason = reason
	s.record(ctx, actor, order, model.ActionCancelTransfer, fmt.Sprintf("Cancelled transfer %s (was %s)", order.Code, from))
	return order, nil
}

func (s *transferService) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.TransferOrder, error) {
	order, err := s.transfers.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("transfer", err)
	}
	return order, nil
}

func (s *transferService) List(ctx context.Context, actor auth.Actor, filter repository.DocumentFilter) ([]model.TransferOrder, int64, error) {
	filter.TenantID = actor.TenantID()
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.transfers.List(ctx, filter)
}

// load fetches the order and checks the transition table for `to`.
func (s *transferService) load(ctx context.Context, actor auth.Actor, id uuid.UUID, to model.TransferStatus) (*model.TransferOrder, error) {
	order, err := s.transfers.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("transfer", err)
	}
	if !model.TransferFlow.Allows(order.Status, to) {
		return nil, &TransitionError{Entity: "transfer", From: string(order.Status), To: string(to)}
	}
	return order, nil
}

func (s *transferService) move(ctx context.Context, actor auth.Actor, order *model.TransferOrder, idx int, warehouseID uuid.UUID, delta int, step string) error {
	ref := order.ID
	_, err := s.ledger.Adjust(ctx, AdjustRequest{
		TenantID:    order.TenantID,
		WarehouseID: warehouseID,
		ProductID:   order.Items[idx].ProductID,
		Delta:       delta,
		Source:      model.SourceTransfer,
		ReferenceID: &ref,
		ActorID:     actorRef(actor),
		Note:        fmt.Sprintf("%s %s", order.Code, step),
	})
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) {
		insufficient.DocumentID = order.ID
		insufficient.Line = idx + 1
		return insufficient
	}
	return err
}

// checkSerials requires every serialized line to carry exactly SentQty
// distinct serials that are in stock at the source.
func (s *transferService) checkSerials(ctx context.Context, order *model.TransferOrder, products map[uuid.UUID]model.Product) error {
	seen := make(map[string]bool)
	for i, item := range order.Items {
		p := products[item.ProductID]
		field := fmt.Sprintf("items[%d].serials", i)
		if !p.HasSerial {
			if len(item.Serials) > 0 {
				return invalid(field, "product %s is not serialized", p.SKU)
			}
			continue
		}
		if len(item.Serials) != item.SentQty {
			return invalid(field, "expected %d serial(s) for %s, got %d", item.SentQty, p.SKU, len(item.Serials))
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
		found, err := s.serials.FindInStock(ctx, order.TenantID, order.FromWarehouseID, item.ProductID, item.Serials)
		if err != nil {
			return fmt.Errorf("load serials: %w", err)
		}
		if len(found) != len(item.Serials) {
			in := make(map[string]bool, len(found))
			for _, serial := range found {
				in[serial] = true
			}
			var absent []string
			for _, serial := range item.Serials {
				if !in[serial] {
					absent = append(absent, serial)
				}
			}
			return invalid(field, "serials %s of %s are not in stock at the source", strings.Join(absent, ", "), p.SKU)
		}
	}
	return nil
}

type receipt struct {
	qty     int
	serials []string
}

// parseReceipt resolves the receipt lines against the order. Every item gets
// an entry; items without a line are received in full.
func parseReceipt(order *model.TransferOrder, req ReceiveTransferRequest) (map[uuid.UUID]receipt, error) {
	items := make(map[uuid.UUID]model.TransferItem, len(order.Items))
	out := make(map[uuid.UUID]receipt, len(order.Items))
	for _, item := range order.Items {
		items[item.ID] = item
		out[item.ID] = receipt{qty: item.SentQty, serials: item.Serials}
	}
	for i, line := range req.Items {
		itemID, err := parseID(fmt.Sprintf("items[%d].item_id", i), line.ItemID)
		if err != nil {
			return nil, err
		}
		item, ok := items[itemID]
		if !ok {
			return nil, invalid(fmt.Sprintf("items[%d].item_id", i), "item does not belong to this transfer")
		}
		qty := item.SentQty
		switch {
		case line.ReceivedQty != nil:
			qty = *line.ReceivedQty
		case len(line.Serials) > 0:
			qty = len(line.Serials)
		}
		if qty < 0 || qty > item.SentQty {
			return nil, invalid(fmt.Sprintf("items[%d].received_qty", i), "must be between 0 and %d", item.SentQty)
		}

		field := fmt.Sprintf("items[%d].serials", i)
		if len(item.Serials) == 0 {
			if len(line.Serials) > 0 {
				return nil, invalid(field, "item has no serials")
			}
			out[itemID] = receipt{qty: qty}
			continue
		}
		serials := item.Serials
		if len(line.Serials) > 0 || qty == 0 {
			serials = line.Serials
		}
		if len(serials) != qty {
			return nil, invalid(field, "list the %d serial(s) received", qty)
		}
		sent := make(map[string]bool, len(item.Serials))
		for _, serial := range item.Serials {
			sent[serial] = true
		}
		for _, serial := range serials {
			if !sent[serial] {
				return nil, invalid(field, "serial %s was not sent on this item", serial)
			}
			delete(sent, serial)
		}
		out[itemID] = receipt{qty: qty, serials: serials}
	}
	return out, nil
}

func missingSerials(item model.TransferItem) []string {
	arrived := make(map[string]bool, len(item.ReceivedSerials))
	for _, serial := range item.ReceivedSerials {
		arrived[serial] = true
	}
	var out []string
	for _, serial := range item.Serials {
		if !arrived[serial] {
			out = append(out, serial)
		}
	}
	return out
}

func serialMove(order *model.TransferOrder, item model.TransferItem, serials []string) repository.SerialMove {
	return repository.SerialMove{TenantID: order.TenantID, ProductID: item.ProductID, Serials: serials}
}

// relocate applies a serial move and fails when any serial was not in the
// expected warehouse and status, rolling back the surrounding transaction.
func (s *transferService) relocate(ctx context.Context, idx int, m repository.SerialMove) error {
	if len(m.Serials) == 0 {
		return nil
	}
	n, err := s.serials.Move(ctx, m)
	if err != nil {
		return fmt.Errorf("move serials: %w", err)
	}
	if int(n) != len(m.Serials) {
		return invalid(fmt.Sprintf("items[%d].serials", idx), "%d of %d serial(s) are no longer %s at the source", len(m.Serials)-int(n), len(m.Serials), m.FromStatus)
	}
	return nil
}

func (s *transferService) record(ctx context.Context, actor auth.Actor, order *model.TransferOrder, action, description string) {
	s.collab.Audit.Record(ctx, AuditEntry{
		TenantID:    order.TenantID,
		UserID:      actorRef(actor),
		Action:      action,
		EntityType:  model.EntityTransfer,
		EntityID:    order.ID.String(),
		EntityName:  order.Code,
		Description: description,
		Details: map[string]interface{}{
			"from_warehouse_id": order.FromWarehouseID,
			"to_warehouse_id":   order.ToWarehouseID,
			"status":            order.Status,
			"variance_qty":      order.VarianceQty,
		},
	})
}
