package repository

import (
	"context"

	"stockledger/internal/model"
	"stockledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransferRepository interface {
	Create(ctx context.Context, order *model.TransferOrder) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.TransferOrder, error)
	List(ctx context.Context, filter DocumentFilter) ([]model.TransferOrder, int64, error)
	Transition(ctx context.Context, id uuid.UUID, from, to model.TransferStatus, fields map[string]interface{}) error
	// RecordReceipt stores the received quantity, variance and serials of one item.
	RecordReceipt(ctx context.Context, item model.TransferItem) error
}

type transferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

func (r *transferRepository) Create(ctx context.Context, order *model.TransferOrder) error {
	return GetDB(ctx, r.db).Create(order).Error
}

func (r *transferRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.TransferOrder, error) {
	var order model.TransferOrder
	if err := GetDB(ctx, r.db).Preload("Items").
		First(&order, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// List matches WarehouseID against either end of the transfer.
func (r *transferRepository) List(ctx context.Context, f DocumentFilter) ([]model.TransferOrder, int64, error) {
	var orders []model.TransferOrder
	var total int64

	query := GetDB(ctx, r.db).Model(&model.TransferOrder{}).Where("tenant_id = ?", f.TenantID)
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.WarehouseID != uuid.Nil {
		query = query.Where("from_warehouse_id = ? OR to_warehouse_id = ?", f.WarehouseID, f.WarehouseID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Offset(f.Page, f.Limit)
	if err := query.Preload("Items").Order("created_at DESC").Offset(offset).Limit(f.Limit).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *transferRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.TransferStatus, fields map[string]interface{}) error {
	return compareAndSwapStatus(GetDB(ctx, r.db), &model.TransferOrder{}, id, string(from), string(to), fields)
}

func (r *transferRepository) RecordReceipt(ctx context.Context, item model.TransferItem) error {
	return GetDB(ctx, r.db).Model(&model.TransferItem{ID: item.ID}).
		Select("received_qty", "variance_qty", "received_serials").
		Updates(&item).Error
}
