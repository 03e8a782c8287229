package service

import (
	"context"
	"fmt"

	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
)

// StockLine is a ledger-facing quantity of one simple product. Line is the
// 1-based document line it came from.
type StockLine struct {
	Line      int
	ProductID uuid.UUID
	Quantity  int
}

// ComboService derives combo stock from its children on every call. Nothing
// is cached: results always reflect the current ledger.
type ComboService interface {
	ComboStock(ctx context.Context, warehouseID, comboID uuid.UUID) (int, error)
	ComboStocks(ctx context.Context, warehouseID uuid.UUID, comboIDs []uuid.UUID) (map[uuid.UUID]int, error)
	// Expand replaces combo lines by their children multiplied by qtyPerCombo.
	// products must contain every product referenced by lines.
	Expand(ctx context.Context, products map[uuid.UUID]*model.Product, lines []StockLine) ([]StockLine, error)
}

type comboService struct {
	productRepo repository.ProductRepository
	stockRepo   repository.StockRepository
}

func NewComboService(productRepo repository.ProductRepository, stockRepo repository.StockRepository) ComboService {
	return &comboService{productRepo: productRepo, stockRepo: stockRepo}
}

func (s *comboService) ComboStock(ctx context.Context, warehouseID, comboID uuid.UUID) (int, error) {
	out, err := s.ComboStocks(ctx, warehouseID, []uuid.UUID{comboID})
	if err != nil {
		return 0, err
	}
	return out[comboID], nil
}

func (s *comboService) ComboStocks(ctx context.Context, warehouseID uuid.UUID, comboIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	boms, err := s.productRepo.ComboItems(ctx, comboIDs)
	if err != nil {
		return nil, fmt.Errorf("load combo items: %w", err)
	}

	var childIDs []uuid.UUID
	for _, items := range boms {
		for _, it := range items {
			childIDs = append(childIDs, it.ChildProductID)
		}
	}
	stock, err := s.stockRepo.GetMany(ctx, warehouseID, childIDs)
	if err != nil {
		return nil, fmt.Errorf("load child stock: %w", err)
	}

	out := make(map[uuid.UUID]int, len(comboIDs))
	for _, id := range comboIDs {
		out[id] = comboQuantity(boms[id], stock)
	}
	return out, nil
}

// comboQuantity is min over children of floor(stock / qtyPerCombo). Any
// missing, nested or non-positive component yields 0.
func comboQuantity(items []model.ComboItem, stock map[uuid.UUID]int) int {
	if len(items) == 0 {
		return 0
	}
	result := -1
	for _, it := range items {
		if it.QtyPerCombo <= 0 || it.Child == nil || it.Child.IsCombo {
			return 0
		}
		n := stock[it.ChildProductID] / it.QtyPerCombo
		if result < 0 || n < result {
			result = n
		}
	}
	if result < 0 {
		return 0
	}
	return result
}

func (s *comboService) Expand(ctx context.Context, products map[uuid.UUID]*model.Product, lines []StockLine) ([]StockLine, error) {
	var comboIDs []uuid.UUID
	for _, l := range lines {
		if p := products[l.ProductID]; p != nil && p.IsCombo {
			comboIDs = append(comboIDs, l.ProductID)
		}
	}
	if len(comboIDs) == 0 {
		return lines, nil
	}

	boms, err := s.productRepo.ComboItems(ctx, comboIDs)
	if err != nil {
		return nil, fmt.Errorf("load combo items: %w", err)
	}

	out := make([]StockLine, 0, len(lines))
	for _, l := range lines {
		p := products[l.ProductID]
		if p == nil || !p.IsCombo {
			out = append(out, l)
			continue
		}
		items := boms[l.ProductID]
		if len(items) == 0 {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", l.Line-1), "combo %s has no components", p.SKU)
		}
		for _, it := range items {
			if it.QtyPerCombo <= 0 || it.Child == nil || it.Child.IsCombo {
				return nil, invalid(fmt.Sprintf("items[%d].product_id", l.Line-1), "combo %s has an invalid component", p.SKU)
			}
			products[it.ChildProductID] = it.Child
			out = append(out, StockLine{Line: l.Line, ProductID: it.ChildProductID, Quantity: l.Quantity * it.QtyPerCombo})
		}
	}
	return out, nil
}

// totalsByProduct sums quantities per product, keeping first-seen line numbers.
func totalsByProduct(lines []StockLine) ([]uuid.UUID, map[uuid.UUID]StockLine) {
	order := make([]uuid.UUID, 0, len(lines))
	totals := make(map[uuid.UUID]StockLine, len(lines))
	for _, l := range lines {
		t, ok := totals[l.ProductID]
		if !ok {
			order = append(order, l.ProductID)
			t = StockLine{Line: l.Line, ProductID: l.ProductID}
		}
		t.Quantity += l.Quantity
		totals[l.ProductID] = t
	}
	return order, totals
}
