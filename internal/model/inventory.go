package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is either a simple product with trackable quantity (optionally
// serialized) or a combo whose stock is derived from its ComboItems.
type Product struct {
	ID        uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_product_tenant_sku" json:"tenant_id"`
	SKU       string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_product_tenant_sku" json:"sku"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Unit      string          `gorm:"type:varchar(20);not null;default:'pcs'" json:"unit"`
	Category  string          `gorm:"type:varchar(100);index" json:"category"`
	ParentID  *uuid.UUID      `gorm:"type:uuid;index" json:"parent_id"` // set on variants
	HasSerial bool            `gorm:"not null;default:false" json:"has_serial"`
	IsCombo   bool            `gorm:"not null;default:false" json:"is_combo"`
	MinStock  int             `gorm:"type:int;not null;default:0" json:"min_stock"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"-"`
}

// ComboItem is one line of a combo's bill of materials.
type ComboItem struct {
	ComboProductID uuid.UUID `gorm:"type:uuid;primaryKey" json:"combo_product_id"`
	ChildProductID uuid.UUID `gorm:"type:uuid;primaryKey" json:"child_product_id"`
	QtyPerCombo    int       `gorm:"type:int;not null" json:"qty_per_combo"`
	Child          *Product  `gorm:"foreignKey:ChildProductID" json:"child,omitempty"`
}

// WarehouseStock is the only place physical on-hand quantity is stored.
// A missing row means quantity 0.
type WarehouseStock struct {
	WarehouseID uuid.UUID `gorm:"type:uuid;primaryKey" json:"warehouse_id"`
	ProductID   uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"product_id"`
	Quantity    int       `gorm:"type:int;not null;default:0" json:"quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ledger record types, tagged by the sign of the applied delta.
const (
	TxTypeImport = "import"
	TxTypeExport = "export"
)

// Ledger record sources.
const (
	SourceTransaction = "transaction"
	SourceTransfer    = "transfer"
	SourceStocktake   = "stocktake"
	SourceManual      = "manual"
)

// InventoryTransaction is the immutable record paired with every ledger adjustment.
type InventoryTransaction struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WarehouseID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_invtx_wh_product" json:"warehouse_id"`
	ProductID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_invtx_wh_product" json:"product_id"`
	TransactionType string     `gorm:"type:varchar(10);not null" json:"transaction_type"`
	Source          string     `gorm:"type:varchar(20);not null;index" json:"source"`
	ReferenceID     *uuid.UUID `gorm:"type:uuid;index" json:"reference_id"`
	QuantityChanged int        `gorm:"type:int;not null" json:"quantity_changed"`
	StockAfter      int        `gorm:"type:int;not null" json:"stock_after"`
	CreatedBy       *uuid.UUID `gorm:"type:uuid" json:"created_by"`
	Note            string     `gorm:"type:text" json:"note"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
}

// Serial statuses.
const (
	SerialInStock   = "in_stock"
	SerialSold      = "sold"
	SerialInTransit = "in_transit"
	// SerialMissing marks a unit dispatched on a transfer that never arrived.
	SerialMissing   = "missing"
)

// ProductSerial tracks one unit of a serialized product.
type ProductSerial struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_serial_tenant_serial" json:"tenant_id"`
	Serial        string    `gorm:"type:varchar(120);not null;uniqueIndex:idx_serial_tenant_serial" json:"serial"`
	ProductID     uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	WarehouseID   uuid.UUID `gorm:"type:uuid;not null;index" json:"warehouse_id"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null;index" json:"transaction_id"`
	Status        string    `gorm:"type:varchar(20);not null;default:'in_stock'" json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
