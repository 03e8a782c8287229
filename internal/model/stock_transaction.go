package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stock transaction document types.
const (
	StockTxImport = "import"
	StockTxExport = "export"
)

// ApprovalStatus is the state of an import/export document.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalFlow: approved and rejected are terminal.
var ApprovalFlow = Machine[ApprovalStatus]{
	ApprovalPending: {ApprovalApproved, ApprovalRejected},
}

// StockTransaction is an import or export document. Its ledger delta is applied
// once, on the transition into approved.
type StockTransaction struct {
	ID           uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID     uuid.UUID              `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Code         string                 `gorm:"type:varchar(100);not null;uniqueIndex" json:"code"`
	Type         string                 `gorm:"type:varchar(10);not null" json:"type"`
	WarehouseID  uuid.UUID              `gorm:"type:uuid;not null;index" json:"warehouse_id"`
	Status       ApprovalStatus         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Note         string                 `gorm:"type:text" json:"note"`
	Total        decimal.Decimal        `gorm:"type:decimal(18,4);not null;default:0" json:"total"`
	CreatedBy    *uuid.UUID             `gorm:"type:uuid" json:"created_by"`
	ApprovedBy   *uuid.UUID             `gorm:"type:uuid" json:"approved_by"`
	ApprovedAt   *time.Time             `json:"approved_at"`
	RejectReason string                 `gorm:"type:text" json:"reject_reason"`
	Items        []StockTransactionItem `gorm:"foreignKey:TransactionID" json:"items"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// StockTransactionItem is one line of a StockTransaction. Serials are the
// operator-supplied serial numbers for serialized imports.
type StockTransactionItem struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TransactionID uuid.UUID       `gorm:"type:uuid;not null;index" json:"transaction_id"`
	ProductID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	Quantity      int             `gorm:"type:int;not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"unit_price"`
	Serials       []string        `gorm:"type:jsonb;serializer:json" json:"serials,omitempty"`
}
