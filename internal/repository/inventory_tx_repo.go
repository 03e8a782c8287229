package repository

import (
	"context"

	"stockledger/internal/model"
	"stockledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MovementFilter narrows the ledger history listing. Zero values are ignored.
type MovementFilter struct {
	TenantID    uuid.UUID
	WarehouseID uuid.UUID
	ProductID   uuid.UUID
	Source      string
	ReferenceID uuid.UUID
	Page        int
	Limit       int
}

type InventoryTxRepository interface {
	Create(ctx context.Context, tx *model.InventoryTransaction) error
	List(ctx context.Context, filter MovementFilter) ([]model.InventoryTransaction, int64, error)
}

type inventoryTxRepository struct {
	db *gorm.DB
}

func NewInventoryTxRepository(db *gorm.DB) InventoryTxRepository {
	return &inventoryTxRepository{db: db}
}

func (r *inventoryTxRepository) Create(ctx context.Context, tx *model.InventoryTransaction) error {
	return GetDB(ctx, r.db).Create(tx).Error
}

func (r *inventoryTxRepository) List(ctx context.Context, f MovementFilter) ([]model.InventoryTransaction, int64, error) {
	var rows []model.InventoryTransaction
	var total int64

	db := GetDB(ctx, r.db).Model(&model.InventoryTransaction{}).
		Joins("JOIN warehouses ON warehouses.id = inventory_transactions.warehouse_id").
		Where("warehouses.tenant_id = ?", f.TenantID)
	if f.WarehouseID != uuid.Nil {
		db = db.Where("inventory_transactions.warehouse_id = ?", f.WarehouseID)
	}
	if f.ProductID != uuid.Nil {
		db = db.Where("inventory_transactions.product_id = ?", f.ProductID)
	}
	if f.Source != "" {
		db = db.Where("inventory_transactions.source = ?", f.Source)
	}
	if f.ReferenceID != uuid.Nil {
		db = db.Where("inventory_transactions.reference_id = ?", f.ReferenceID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Offset(f.Page, f.Limit)
	if err := db.Select("inventory_transactions.*").
		Order("inventory_transactions.created_at desc").
		Offset(offset).Limit(f.Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
