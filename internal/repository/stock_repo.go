package repository

import (
	"context"
	"time"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockRepository owns warehouse_stocks. Quantities only change through
// Adjust, which is a single atomic statement per call.
type StockRepository interface {
	Adjust(ctx context.Context, warehouseID, productID uuid.UUID, delta int) (int, error)
	Get(ctx context.Context, warehouseID, productID uuid.UUID) (int, error)
	GetMany(ctx context.Context, warehouseID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error)
	ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]model.WarehouseStock, error)
	TotalByWarehouse(ctx context.Context, warehouseID uuid.UUID) (int64, error)
}

type stockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) StockRepository {
	return &stockRepository{db: db}
}

// Adjust applies delta and returns the resulting quantity. Increments upsert
// the cell; decrements are guarded in the WHERE clause so the row is left
// untouched when the result would be negative.
func (r *stockRepository) Adjust(ctx context.Context, warehouseID, productID uuid.UUID, delta int) (int, error) {
	db := GetDB(ctx, r.db)
	now := time.Now()

	if delta >= 0 {
		row := model.WarehouseStock{WarehouseID: warehouseID, ProductID: productID, Quantity: delta, UpdatedAt: now}
		err := db.Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "warehouse_id"}, {Name: "product_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"quantity":   gorm.Expr("warehouse_stocks.quantity + ?", delta),
					"updated_at": now,
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "quantity"}}},
		).Create(&row).Error
		if err != nil {
			return 0, err
		}
		return row.Quantity, nil
	}

	var rows []model.WarehouseStock
	res := db.Model(&rows).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "quantity"}}}).
		Where("warehouse_id = ? AND product_id = ? AND quantity + ? >= 0", warehouseID, productID, delta).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity + ?", delta),
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return 0, ErrInsufficientStock
	}
	return rows[0].Quantity, nil
}

func (r *stockRepository) Get(ctx context.Context, warehouseID, productID uuid.UUID) (int, error) {
	var qty int
	err := GetDB(ctx, r.db).Model(&model.WarehouseStock{}).
		Select("COALESCE(MAX(quantity), 0)").
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		Scan(&qty).Error
	return qty, err
}

// GetMany returns a quantity for every requested product; absent cells are 0.
func (r *stockRepository) GetMany(ctx context.Context, warehouseID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = 0
	}
	if len(productIDs) == 0 {
		return out, nil
	}

	var rows []model.WarehouseStock
	if err := GetDB(ctx, r.db).
		Where("warehouse_id = ? AND product_id IN ?", warehouseID, productIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ProductID] = row.Quantity
	}
	return out, nil
}

func (r *stockRepository) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]model.WarehouseStock, error) {
	var rows []model.WarehouseStock
	err := GetDB(ctx, r.db).Where("warehouse_id = ?", warehouseID).Find(&rows).Error
	return rows, err
}

func (r *stockRepository) TotalByWarehouse(ctx context.Context, warehouseID uuid.UUID) (int64, error) {
	var total int64
	err := GetDB(ctx, r.db).Model(&model.WarehouseStock{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("warehouse_id = ?", warehouseID).
		Scan(&total).Error
	return total, err
}
