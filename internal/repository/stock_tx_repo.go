package repository

import (
	"context"

	"stockledger/internal/model"
	"stockledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StockTransactionRepository interface {
	Create(ctx context.Context, doc *model.StockTransaction) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.StockTransaction, error)
	List(ctx context.Context, filter DocumentFilter) ([]model.StockTransaction, int64, error)
	Transition(ctx context.Context, id uuid.UUID, from, to model.ApprovalStatus, fields map[string]interface{}) error
	UpdateItemSerials(ctx context.Context, itemID uuid.UUID, serials []string) error
}

type stockTransactionRepository struct {
	db *gorm.DB
}

func NewStockTransactionRepository(db *gorm.DB) StockTransactionRepository {
	return &stockTransactionRepository{db: db}
}

// Create inserts the document together with its items.
func (r *stockTransactionRepository) Create(ctx context.Context, doc *model.StockTransaction) error {
	return GetDB(ctx, r.db).Create(doc).Error
}

func (r *stockTransactionRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.StockTransaction, error) {
	var doc model.StockTransaction
	if err := GetDB(ctx, r.db).Preload("Items").
		First(&doc, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *stockTransactionRepository) List(ctx context.Context, f DocumentFilter) ([]model.StockTransaction, int64, error) {
	var docs []model.StockTransaction
	var total int64

	query := GetDB(ctx, r.db).Model(&model.StockTransaction{}).Where("tenant_id = ?", f.TenantID)
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.WarehouseID != uuid.Nil {
		query = query.Where("warehouse_id = ?", f.WarehouseID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Offset(f.Page, f.Limit)
	if err := query.Preload("Items").Order("created_at DESC").Offset(offset).Limit(f.Limit).Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *stockTransactionRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.ApprovalStatus, fields map[string]interface{}) error {
	return compareAndSwapStatus(GetDB(ctx, r.db), &model.StockTransaction{}, id, string(from), string(to), fields)
}

func (r *stockTransactionRepository) UpdateItemSerials(ctx context.Context, itemID uuid.UUID, serials []string) error {
	item := model.StockTransactionItem{ID: itemID, Serials: serials}
	return GetDB(ctx, r.db).Model(&item).Select("serials").Updates(&item).Error
}
