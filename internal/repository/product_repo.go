package repository

import (
	"context"

	"stockledger/internal/model"
	"stockledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductFilter narrows the catalog listing.
type ProductFilter struct {
	Search   string
	Category string
	Page     int
	Limit    int
}

// ProductScope selects the products a stocktake covers. An empty scope means
// every stock-tracked product of the tenant.
type ProductScope struct {
	ProductIDs      []uuid.UUID
	Category        string
	IncludeVariants bool
}

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	Update(ctx context.Context, product *model.Product) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Product, error)
	FindByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]model.Product, error)
	FindBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*model.Product, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ProductFilter) ([]model.Product, int64, error)
	FindForScope(ctx context.Context, tenantID uuid.UUID, scope ProductScope) ([]model.Product, error)
	ComboItems(ctx context.Context, comboIDs []uuid.UUID) (map[uuid.UUID][]model.ComboItem, error)
	ReplaceComboItems(ctx context.Context, comboID uuid.UUID, items []model.ComboItem) error
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	return mapUnique(GetDB(ctx, r.db).Create(product).Error)
}

func (r *productRepository) Update(ctx context.Context, product *model.Product) error {
	return mapUnique(GetDB(ctx, r.db).Save(product).Error)
}

func (r *productRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.Product{}).Error
}

func (r *productRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Product, error) {
	var product model.Product
	if err := GetDB(ctx, r.db).First(&product, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) FindByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := GetDB(ctx, r.db).Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&products).Error
	return products, err
}

func (r *productRepository) FindBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*model.Product, error) {
	var product model.Product
	if err := GetDB(ctx, r.db).Where("tenant_id = ? AND sku = ?", tenantID, sku).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) List(ctx context.Context, tenantID uuid.UUID, f ProductFilter) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Product{}).Where("tenant_id = ?", tenantID)
	if f.Search != "" {
		db = db.Where("name ILIKE ? OR sku ILIKE ?", "%"+f.Search+"%", "%"+f.Search+"%")
	}
	if f.Category != "" {
		db = db.Where("category = ?", f.Category)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Offset(f.Page, f.Limit)
	if err := db.Order("sku asc").Offset(offset).Limit(f.Limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

// FindForScope never returns combos: they hold no stored quantity to count.
func (r *productRepository) FindForScope(ctx context.Context, tenantID uuid.UUID, scope ProductScope) ([]model.Product, error) {
	db := GetDB(ctx, r.db).Where("tenant_id = ? AND is_combo = ?", tenantID, false)
	if len(scope.ProductIDs) > 0 {
		if scope.IncludeVariants {
			db = db.Where("id IN ? OR parent_id IN ?", scope.ProductIDs, scope.ProductIDs)
		} else {
			db = db.Where("id IN ?", scope.ProductIDs)
		}
	}
	if scope.Category != "" {
		db = db.Where("category = ?", scope.Category)
	}

	var products []model.Product
	err := db.Order("sku asc").Find(&products).Error
	return products, err
}

// ComboItems loads the bill of materials for each combo with its child product.
// A child that was deleted comes back with a nil Child.
func (r *productRepository) ComboItems(ctx context.Context, comboIDs []uuid.UUID) (map[uuid.UUID][]model.ComboItem, error) {
	out := make(map[uuid.UUID][]model.ComboItem, len(comboIDs))
	if len(comboIDs) == 0 {
		return out, nil
	}

	var items []model.ComboItem
	if err := GetDB(ctx, r.db).Preload("Child").
		Where("combo_product_id IN ?", comboIDs).
		Find(&items).Error; err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.ComboProductID] = append(out[it.ComboProductID], it)
	}
	return out, nil
}

func (r *productRepository) ReplaceComboItems(ctx context.Context, comboID uuid.UUID, items []model.ComboItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("combo_product_id = ?", comboID).Delete(&model.ComboItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.Create(&items).Error
}
