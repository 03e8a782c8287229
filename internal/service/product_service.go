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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type CreateProductRequest struct {
	SKU       string          `json:"sku" binding:"required,max=100"`
	Name      string          `json:"name" binding:"required,max=255"`
	Unit      string          `json:"unit" binding:"omitempty,max=20"`
	Category  string          `json:"category" binding:"omitempty,max=100"`
	ParentID  string          `json:"parent_id"`
	HasSerial bool            `json:"has_serial"`
	IsCombo   bool            `json:"is_combo"`
	MinStock  int             `json:"min_stock" binding:"min=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"min=0"`
}

type UpdateProductRequest struct {
	Name      string          `json:"name" binding:"required,max=255"`
	Unit      string          `json:"unit" binding:"omitempty,max=20"`
	Category  string          `json:"category" binding:"omitempty,max=100"`
	HasSerial bool            `json:"has_serial"`
	MinStock  int             `json:"min_stock" binding:"min=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"min=0"`
}

type ComboItemRequest struct {
	ProductID   string `json:"product_id" binding:"required"`
	QtyPerCombo int    `json:"qty_per_combo" binding:"required,gt=0"`
}

type SetComboItemsRequest struct {
	Items []ComboItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ProductService maintains the catalog: simple products, variants and combos.
type ProductService interface {
	List(ctx context.Context, actor auth.Actor, filter repository.ProductFilter) ([]model.Product, int64, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Product, error)
	Create(ctx context.Context, actor auth.Actor, req CreateProductRequest) (*model.Product, error)
	Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req UpdateProductRequest) (*model.Product, error)
	Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	SetComboItems(ctx context.Context, actor auth.Actor, id uuid.UUID, req SetComboItemsRequest) ([]model.ComboItem, error)
	ComboItems(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]model.ComboItem, error)
}

type productService struct {
	products  repository.ProductRepository
	txManager repository.TransactionManager
	audit     AuditRecorder
}

func NewProductService(products repository.ProductRepository, txManager repository.TransactionManager, audit AuditRecorder) ProductService {
	if audit == nil {
		audit = discardAudit{}
	}
	return &productService{products: products, txManager: txManager, audit: audit}
}

func (s *productService) List(ctx context.Context, actor auth.Actor, filter repository.ProductFilter) ([]model.Product, int64, error) {
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	filter.Search = strings.TrimSpace(filter.Search)
	return s.products.List(ctx, actor.TenantID(), filter)
}

func (s *productService) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Product, error) {
	p, err := s.products.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("product", err)
	}
	return p, nil
}

func (s *productService) Create(ctx context.Context, actor auth.Actor, req CreateProductRequest) (*model.Product, error) {
	if err := requireEdit(actor, auth.ModuleCatalog); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID()

	sku := strings.TrimSpace(req.SKU)
	name := strings.TrimSpace(req.Name)
	if sku == "" {
		return nil, invalid("sku", "is required")
	}
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if req.UnitPrice.IsNegative() {
		return nil, invalid("unit_price", "must not be negative")
	}
	if req.IsCombo && req.HasSerial {
		return nil, invalid("has_serial", "a combo cannot be serialized")
	}

	p := &model.Product{
		TenantID:  tenantID,
		SKU:       sku,
		Name:      name,
		Unit:      defaultUnit(req.Unit),
		Category:  strings.TrimSpace(req.Category),
		HasSerial: req.HasSerial,
		IsCombo:   req.IsCombo,
		MinStock:  req.MinStock,
		UnitPrice: req.UnitPrice,
	}

	if strings.TrimSpace(req.ParentID) != "" {
		parentID, err := parseID("parent_id", req.ParentID)
		if err != nil {
			return nil, err
		}
		parent, err := s.products.FindByID(ctx, tenantID, parentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid("parent_id", "unknown product")
		}
		if err != nil {
			return nil, fmt.Errorf("load parent product: %w", err)
		}
		if parent.IsCombo || parent.ParentID != nil {
			return nil, invalid("parent_id", "%s cannot have variants", parent.SKU)
		}
		if req.IsCombo {
			return nil, invalid("is_combo", "a variant cannot be a combo")
		}
		p.ParentID = &parent.ID
		if p.Category == "" {
			p.Category = parent.Category
		}
	}

	if err := s.products.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, invalid("sku", "sku %s already exists", sku)
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.record(ctx, actor, p, model.ActionCreateProduct, fmt.Sprintf("Created product %s (%s)", p.SKU, p.Name))
	return p, nil
}

// Update never changes SKU or the combo flag: both are referenced by
// historical documents and bills of materials.
func (s *productService) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req UpdateProductRequest) (*model.Product, error) {
	if err := requireEdit(actor, auth.ModuleCatalog); err != nil {
		return nil, err
	}
	p, err := s.products.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("product", err)
	}
	if req.UnitPrice.IsNegative() {
		return nil, invalid("unit_price", "must not be negative")
	}
	if p.IsCombo && req.HasSerial {
		return nil, invalid("has_serial", "a combo cannot be serialized")
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		p.Name = name
	}
	p.Unit = defaultUnit(req.Unit)
	p.Category = strings.TrimSpace(req.Category)
	p.HasSerial = req.HasSerial
	p.MinStock = req.MinStock
	p.UnitPrice = req.UnitPrice

	if err := s.products.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	s.record(ctx, actor, p, model.ActionUpdateProduct, fmt.Sprintf("Updated product %s", p.SKU))
	return p, nil
}

// Delete is a soft delete. Combos that reference the product report 0 stock
// until their bill of materials is fixed.
func (s *productService) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := requireEdit(actor, auth.ModuleCatalog); err != nil {
		return err
	}
	p, err := s.products.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return notFound("product", err)
	}
	if err := s.products.Delete(ctx, p.TenantID, p.ID); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	s.record(ctx, actor, p, model.ActionDeleteProduct, fmt.Sprintf("Deleted product %s", p.SKU))
	return nil
}

func (s *productService) ComboItems(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]model.ComboItem, error) {
	p, err := s.products.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("product", err)
	}
	boms, err := s.products.ComboItems(ctx, []uuid.UUID{p.ID})
	if err != nil {
		return nil, fmt.Errorf("load combo items: %w", err)
	}
	return boms[p.ID], nil
}

// SetComboItems replaces the whole bill of materials. Components must be
// simple products; nesting combos is not supported.
func (s *productService) SetComboItems(ctx context.Context, actor auth.Actor, id uuid.UUID, req SetComboItemsRequest) ([]model.ComboItem, error) {
	if err := requireEdit(actor, auth.ModuleCatalog); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID()
	combo, err := s.products.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, notFound("product", err)
	}
	if !combo.IsCombo {
		return nil, invalid("id", "%s is not a combo", combo.SKU)
	}
	if len(req.Items) == 0 {
		return nil, invalid("items", "at least one component is required")
	}

	items := make([]model.ComboItem, 0, len(req.Items))
	childIDs := make([]uuid.UUID, 0, len(req.Items))
	seen := make(map[uuid.UUID]bool, len(req.Items))
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d].product_id", i)
		childID, err := parseID(field, it.ProductID)
		if err != nil {
			return nil, err
		}
		if childID == combo.ID {
			return nil, invalid(field, "a combo cannot contain itself")
		}
		if seen[childID] {
			return nil, invalid(field, "duplicate component")
		}
		if it.QtyPerCombo <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].qty_per_combo", i), "must be positive")
		}
		seen[childID] = true
		childIDs = append(childIDs, childID)
		items = append(items, model.ComboItem{ComboProductID: combo.ID, ChildProductID: childID, QtyPerCombo: it.QtyPerCombo})
	}

	children, err := s.products.FindByIDs(ctx, tenantID, childIDs)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	byID := make(map[uuid.UUID]*model.Product, len(children))
	for i := range children {
		byID[children[i].ID] = &children[i]
	}
	for i := range items {
		child := byID[items[i].ChildProductID]
		field := fmt.Sprintf("items[%d].product_id", i)
		if child == nil {
			return nil, invalid(field, "unknown product")
		}
		if child.IsCombo {
			return nil, invalid(field, "%s is a combo; nested combos are not supported", child.SKU)
		}
		if child.HasSerial {
			return nil, invalid(field, "%s is serialized and cannot be a combo component", child.SKU)
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return s.products.ReplaceComboItems(txCtx, combo.ID, items)
	})
	if err != nil {
		return nil, fmt.Errorf("save combo items: %w", err)
	}
	for i := range items {
		items[i].Child = byID[items[i].ChildProductID]
	}

	s.record(ctx, actor, combo, model.ActionSetComboItems, fmt.Sprintf("Set %d component(s) on combo %s", len(items), combo.SKU))
	return items, nil
}

func (s *productService) record(ctx context.Context, actor auth.Actor, p *model.Product, action, description string) {
	s.audit.Record(ctx, AuditEntry{
		TenantID:    p.TenantID,
		UserID:      actorRef(actor),
		Action:      action,
		EntityType:  model.EntityProduct,
		EntityID:    p.ID.String(),
		EntityName:  p.SKU,
		Description: description,
	})
}

func defaultUnit(unit string) string {
	if u := strings.TrimSpace(unit); u != "" {
		return u
	}
	return "pcs"
}
