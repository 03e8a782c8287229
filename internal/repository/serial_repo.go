package repository

import (
	"context"

	"stockledger/internal/model"
	"stockledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SerialFilter narrows the serial listing.
type SerialFilter struct {
	TenantID    uuid.UUID
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Status      string
	Search      string
	Page        int
	Limit       int
}

type SerialRepository interface {
	CreateBatch(ctx context.Context, serials []model.ProductSerial) error
	FindExisting(ctx context.Context, tenantID uuid.UUID, serials []string) ([]string, error)
	// MarkSold moves in-stock serials of one product in one warehouse to sold
	// and returns how many rows changed.
	MarkSold(ctx context.Context, tenantID, warehouseID, productID uuid.UUID, serials []string) (int64, error)
	List(ctx context.Context, filter SerialFilter) ([]model.ProductSerial, int64, error)
	// FindInStock returns the subset of serials of one product that are in
	// stock at the warehouse.
	FindInStock(ctx context.Context, tenantID, warehouseID, productID uuid.UUID, serials []string) ([]string, error)
	// Move rewrites warehouse and status of serials matching the From side and
	// returns how many rows changed.
	Move(ctx context.Context, m SerialMove) (int64, error)
}

// SerialMove relocates serials of one product, e.g. between the two ends of
// a transfer.
type SerialMove struct {
	TenantID        uuid.UUID
	ProductID       uuid.UUID
	Serials         []string
	FromWarehouseID uuid.UUID
	FromStatus      string
	ToWarehouseID   uuid.UUID
	ToStatus        string
}

type serialRepository struct {
	db *gorm.DB
}

func NewSerialRepository(db *gorm.DB) SerialRepository {
	return &serialRepository{db: db}
}

func (r *serialRepository) CreateBatch(ctx context.Context, serials []model.ProductSerial) error {
	if len(serials) == 0 {
		return nil
	}
	if err := GetDB(ctx, r.db).Create(&serials).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSerial
		}
		return err
	}
	return nil
}

func (r *serialRepository) FindExisting(ctx context.Context, tenantID uuid.UUID, serials []string) ([]string, error) {
	var found []string
	if len(serials) == 0 {
		return found, nil
	}
	err := GetDB(ctx, r.db).Model(&model.ProductSerial{}).
		Where("tenant_id = ? AND serial IN ?", tenantID, serials).
		Pluck("serial", &found).Error
	return found, err
}

func (r *serialRepository) MarkSold(ctx context.Context, tenantID, warehouseID, productID uuid.UUID, serials []string) (int64, error) {
	res := GetDB(ctx, r.db).Model(&model.ProductSerial{}).
		Where("tenant_id = ? AND warehouse_id = ? AND product_id = ? AND status = ? AND serial IN ?",
			tenantID, warehouseID, productID, model.SerialInStock, serials).
		Update("status", model.SerialSold)
	return res.RowsAffected, res.Error
}

func (r *serialRepository) FindInStock(ctx context.Context, tenantID, warehouseID, productID uuid.UUID, serials []string) ([]string, error) {
	var found []string
	if len(serials) == 0 {
		return found, nil
	}
	err := GetDB(ctx, r.db).Model(&model.ProductSerial{}).
		Where("tenant_id = ? AND warehouse_id = ? AND product_id = ? AND status = ? AND serial IN ?",
			tenantID, warehouseID, productID, model.SerialInStock, serials).
		Pluck("serial", &found).Error
	return found, err
}

func (r *serialRepository) Move(ctx context.Context, m SerialMove) (int64, error) {
	if len(m.Serials) == 0 {
		return 0, nil
	}
	res := GetDB(ctx, r.db).Model(&model.ProductSerial{}).
		Where("tenant_id = ? AND warehouse_id = ? AND product_id = ? AND status = ? AND serial IN ?",
			m.TenantID, m.FromWarehouseID, m.ProductID, m.FromStatus, m.Serials).
		Updates(map[string]interface{}{"warehouse_id": m.ToWarehouseID, "status": m.ToStatus})
	return res.RowsAffected, res.Error
}

func (r *serialRepository) List(ctx context.Context, f SerialFilter) ([]model.ProductSerial, int64, error) {
	var rows []model.ProductSerial
	var total int64

	db := GetDB(ctx, r.db).Model(&model.ProductSerial{}).Where("tenant_id = ?", f.TenantID)
	if f.ProductID != uuid.Nil {
		db = db.Where("product_id = ?", f.ProductID)
	}
	if f.WarehouseID != uuid.Nil {
		db = db.Where("warehouse_id = ?", f.WarehouseID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		db = db.Where("serial ILIKE ?", "%"+f.Search+"%")
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := pagination.Offset(f.Page, f.Limit)
	if err := db.Order("created_at desc").Offset(offset).Limit(f.Limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
