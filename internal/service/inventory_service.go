package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stockledger/internal/auth"
	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DTOs
type ManualAdjustRequest struct {
	WarehouseID string `json:"warehouse_id" binding:"required"`
	ProductID   string `json:"product_id" binding:"required"`
	Quantity    int    `json:"quantity" binding:"min=0"`
	Note        string `json:"note" binding:"max=500"`
}

// InventoryRow is one product's position in a warehouse. For combos OnHand
// is derived from the components and Committed is always 0.
type InventoryRow struct {
	ProductID uuid.UUID `json:"product_id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	Category  string    `json:"category"`
	IsCombo   bool      `json:"is_combo"`
	HasSerial bool      `json:"has_serial"`
	OnHand    int       `json:"on_hand"`
	Committed int       `json:"committed"`
	Sellable  int       `json:"sellable"`
	MinStock  int       `json:"min_stock"`
	LowStock  bool      `json:"low_stock"`
}

type ManualAdjustResult struct {
	WarehouseID uuid.UUID `json:"warehouse_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Previous    int       `json:"previous"`
	Quantity    int       `json:"quantity"`
}

// InventoryService is the read side of the ledger plus manual corrections.
type InventoryService interface {
	View(ctx context.Context, actor auth.Actor, warehouseID uuid.UUID, filter repository.ProductFilter) ([]InventoryRow, int64, error)
	Movements(ctx context.Context, actor auth.Actor, filter repository.MovementFilter) ([]model.InventoryTransaction, int64, error)
	Serials(ctx context.Context, actor auth.Actor, filter repository.SerialFilter) ([]model.ProductSerial, int64, error)
	Adjust(ctx context.Context, actor auth.Actor, req ManualAdjustRequest) (*ManualAdjustResult, error)
}

type inventoryService struct {
	products   repository.ProductRepository
	warehouses repository.WarehouseRepository
	movements  repository.InventoryTxRepository
	serials    repository.SerialRepository
	ledger     LedgerService
	combos     ComboService
	collab     Collaborators
}

func NewInventoryService(
	products repository.ProductRepository,
	warehouses repository.WarehouseRepository,
	movements repository.InventoryTxRepository,
	serials repository.SerialRepository,
	ledger LedgerService,
	combos ComboService,
	collab Collaborators,
) InventoryService {
	return &inventoryService{
		products:   products,
		warehouses: warehouses,
		movements:  movements,
		serials:    serials,
		ledger:     ledger,
		combos:     combos,
		collab:     collab.withDefaults(),
	}
}

func (s *inventoryService) View(ctx context.Context, actor auth.Actor, warehouseID uuid.UUID, filter repository.ProductFilter) ([]InventoryRow, int64, error) {
	tenantID := actor.TenantID()
	if _, err := s.warehouses.FindByID(ctx, tenantID, warehouseID); err != nil {
		return nil, 0, notFound("warehouse", err)
	}

	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	filter.Search = strings.TrimSpace(filter.Search)
	products, total, err := s.products.List(ctx, tenantID, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}

	var simpleIDs, comboIDs []uuid.UUID
	for _, p := range products {
		if p.IsCombo {
			comboIDs = append(comboIDs, p.ID)
		} else {
			simpleIDs = append(simpleIDs, p.ID)
		}
	}

	onHand, err := s.ledger.Quantities(ctx, warehouseID, simpleIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("read stock: %w", err)
	}
	comboStock := map[uuid.UUID]int{}
	if len(comboIDs) > 0 {
		if comboStock, err = s.combos.ComboStocks(ctx, warehouseID, comboIDs); err != nil {
			return nil, 0, err
		}
	}
	committed, err := s.collab.Commitments.CommittedQty(ctx, tenantID, simpleIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("read committed quantities: %w", err)
	}

	rows := make([]InventoryRow, 0, len(products))
	for _, p := range products {
		row := InventoryRow{
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			Unit:      p.Unit,
			Category:  p.Category,
			IsCombo:   p.IsCombo,
			HasSerial: p.HasSerial,
			MinStock:  p.MinStock,
		}
		if p.IsCombo {
			row.OnHand = comboStock[p.ID]
		} else {
			row.OnHand = onHand[p.ID]
			row.Committed = committed[p.ID]
		}
		row.Sellable = max(row.OnHand-row.Committed, 0)
		row.LowStock = p.MinStock > 0 && row.OnHand < p.MinStock
		rows = append(rows, row)
	}
	return rows, total, nil
}

func (s *inventoryService) Movements(ctx context.Context, actor auth.Actor, filter repository.MovementFilter) ([]model.InventoryTransaction, int64, error) {
	filter.TenantID = actor.TenantID()
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.movements.List(ctx, filter)
}

func (s *inventoryService) Serials(ctx context.Context, actor auth.Actor, filter repository.SerialFilter) ([]model.ProductSerial, int64, error) {
	filter.TenantID = actor.TenantID()
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	filter.Search = strings.TrimSpace(filter.Search)
	return s.serials.List(ctx, filter)
}

// Adjust sets the on-hand quantity of a simple, non-serialized product to an
// absolute value. Serialized stock moves only through documents so that
// serial rows stay in step with quantities.
func (s *inventoryService) Adjust(ctx context.Context, actor auth.Actor, req ManualAdjustRequest) (*ManualAdjustResult, error) {
	if err := requireEdit(actor, auth.ModuleStock); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID()

	warehouseID, err := parseID("warehouse_id", req.WarehouseID)
	if err != nil {
		return nil, err
	}
	productID, err := parseID("product_id", req.ProductID)
	if err != nil {
		return nil, err
	}
	if req.Quantity < 0 {
		return nil, invalid("quantity", "must not be negative")
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
	p, err := s.products.FindByID(ctx, tenantID, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invalid("product_id", "unknown product")
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if p.IsCombo {
		return nil, invalid("product_id", "%s is a combo; adjust its components", p.SKU)
	}
	if p.HasSerial {
		return nil, invalid("product_id", "%s is serialized; use an import or export document", p.SKU)
	}

	previous, err := s.ledger.Quantity(ctx, w.ID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}
	qty, err := s.ledger.SetQuantity(ctx, SetQuantityRequest{
		TenantID:    tenantID,
		WarehouseID: w.ID,
		ProductID:   p.ID,
		Target:      req.Quantity,
		Source:      model.SourceManual,
		ActorID:     actorRef(actor),
		Note:        req.Note,
	})
	if err != nil {
		return nil, err
	}

	s.collab.Audit.Record(ctx, AuditEntry{
		TenantID:    tenantID,
		UserID:      actorRef(actor),
		Action:      model.ActionManualAdjust,
		EntityType:  model.EntityStock,
		EntityID:    p.ID.String(),
		EntityName:  p.SKU,
		Description: fmt.Sprintf("Set %s in %s from %d to %d", p.SKU, w.Code, previous, qty),
		Details: map[string]interface{}{
			"warehouse_id": w.ID,
			"previous":     previous,
			"quantity":     qty,
			"note":         req.Note,
		},
	})
	return &ManualAdjustResult{WarehouseID: w.ID, ProductID: p.ID, Previous: previous, Quantity: qty}, nil
}
