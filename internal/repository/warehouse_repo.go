package repository

import (
	"context"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WarehouseRepository interface {
	Create(ctx context.Context, w *model.Warehouse) error
	// Update writes name and is_active only; is_default is owned by
	// SetDefault. Deactivation matches only a non-default row and returns
	// ErrStaleState otherwise.
	Update(ctx context.Context, w *model.Warehouse) error
	// Delete removes a non-default warehouse holding no stock in a single
	// guarded statement and returns ErrStaleState when the guard fails.
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Warehouse, error)
	FindDefault(ctx context.Context, tenantID uuid.UUID) (*model.Warehouse, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Warehouse, error)
	// SetDefault clears the previous default and marks id. Call it inside a
	// transaction; the partial unique index rejects two defaults at commit.
	SetDefault(ctx context.Context, tenantID, id uuid.UUID) error
}

type warehouseRepository struct {
	db *gorm.DB
}

func NewWarehouseRepository(db *gorm.DB) WarehouseRepository {
	return &warehouseRepository{db: db}
}

func (r *warehouseRepository) Create(ctx context.Context, w *model.Warehouse) error {
	return mapUnique(GetDB(ctx, r.db).Create(w).Error)
}

func (r *warehouseRepository) Update(ctx context.Context, w *model.Warehouse) error {
	db := GetDB(ctx, r.db).Model(&model.Warehouse{}).Where("tenant_id = ? AND id = ?", w.TenantID, w.ID)
	if !w.IsActive {
		db = db.Where("is_default = ?", false)
	}
	res := db.Updates(map[string]interface{}{"name": w.Name, "is_active": w.IsActive})
	if res.Error != nil {
		return mapUnique(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *warehouseRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	res := GetDB(ctx, r.db).
		Where("tenant_id = ? AND id = ? AND is_default = ?", tenantID, id, false).
		Where("NOT EXISTS (SELECT 1 FROM warehouse_stocks ws WHERE ws.warehouse_id = warehouses.id AND ws.quantity <> 0)").
		Delete(&model.Warehouse{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *warehouseRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Warehouse, error) {
	var w model.Warehouse
	if err := GetDB(ctx, r.db).First(&w, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *warehouseRepository) FindDefault(ctx context.Context, tenantID uuid.UUID) (*model.Warehouse, error) {
	var w model.Warehouse
	if err := GetDB(ctx, r.db).First(&w, "tenant_id = ? AND is_default = ?", tenantID, true).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *warehouseRepository) List(ctx context.Context, tenantID uuid.UUID) ([]model.Warehouse, error) {
	var out []model.Warehouse
	err := GetDB(ctx, r.db).Where("tenant_id = ?", tenantID).Order("is_default desc, code asc").Find(&out).Error
	return out, err
}

func (r *warehouseRepository) SetDefault(ctx context.Context, tenantID, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Warehouse{}).
		Where("tenant_id = ? AND is_default = ? AND id <> ?", tenantID, true, id).
		Update("is_default", false).Error; err != nil {
		return err
	}
	res := db.Model(&model.Warehouse{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("is_default", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
