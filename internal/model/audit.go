package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateProduct   = "CREATE_PRODUCT"
	ActionUpdateProduct   = "UPDATE_PRODUCT"
	ActionDeleteProduct   = "DELETE_PRODUCT"
	ActionSetComboItems   = "SET_COMBO_ITEMS"
	ActionCreateWarehouse = "CREATE_WAREHOUSE"
	ActionUpdateWarehouse = "UPDATE_WAREHOUSE"
	ActionDeleteWarehouse = "DELETE_WAREHOUSE"
	ActionSetDefault      = "SET_DEFAULT_WAREHOUSE"
	ActionManualAdjust    = "MANUAL_ADJUST"

	// Stock transaction workflow
	ActionCreateImport = "CREATE_IMPORT"
	ActionCreateExport = "CREATE_EXPORT"
	ActionApproveStock = "APPROVE_STOCK_TRANSACTION"
	ActionRejectStock  = "REJECT_STOCK_TRANSACTION"

	// Transfers
	ActionCreateTransfer   = "CREATE_TRANSFER"
	ActionDispatchTransfer = "DISPATCH_TRANSFER"
	ActionReceiveTransfer  = "RECEIVE_TRANSFER"
	ActionCancelTransfer   = "CANCEL_TRANSFER"

	// Stocktakes
	ActionCreateStocktake   = "CREATE_STOCKTAKE"
	ActionStartStocktake    = "START_STOCKTAKE"
	ActionCompleteStocktake = "COMPLETE_STOCKTAKE"
	ActionCancelStocktake   = "CANCEL_STOCKTAKE"
)

// Audited entity types.
const (
	EntityProduct          = "product"
	EntityWarehouse        = "warehouse"
	EntityStockTransaction = "stock_transaction"
	EntityTransfer         = "transfer"
	EntityStocktake        = "stocktake"
	EntityStock            = "stock"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID      *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for background jobs
	User        *User      `gorm:"foreignKey:UserID" json:"user"`
	Action      string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType  string     `gorm:"type:varchar(30);not null;index" json:"entity_type"`
	EntityID    string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName  string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Description string     `gorm:"type:text" json:"description"`
	Details     string     `gorm:"type:jsonb" json:"details"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}
