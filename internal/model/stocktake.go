package model

import (
	"time"

	"github.com/google/uuid"
)

// StocktakeStatus is the state of a physical-count session.
type StocktakeStatus string

const (
	StocktakeDraft      StocktakeStatus = "draft"
	StocktakeInProgress StocktakeStatus = "in_progress"
	StocktakeCompleted  StocktakeStatus = "completed"
	StocktakeCancelled  StocktakeStatus = "cancelled"
)

// StocktakeFlow lists every legal stocktake transition.
var StocktakeFlow = Machine[StocktakeStatus]{
	StocktakeDraft:      {StocktakeInProgress, StocktakeCancelled},
	StocktakeInProgress: {StocktakeCompleted, StocktakeCancelled},
}

// StocktakeSession compares recorded quantity against counted quantity for one
// warehouse. OverTotal and UnderTotal aggregate positive and negative variances.
type StocktakeSession struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Code        string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"code"`
	WarehouseID uuid.UUID       `gorm:"type:uuid;not null;index" json:"warehouse_id"`
	Status      StocktakeStatus `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	Scope       string          `gorm:"type:varchar(255)" json:"scope"`
	Note        string          `gorm:"type:text" json:"note"`
	OverTotal   int             `gorm:"type:int;not null;default:0" json:"over_total"`
	UnderTotal  int             `gorm:"type:int;not null;default:0" json:"under_total"`
	PostedLines int             `gorm:"type:int;not null;default:0" json:"posted_lines"`
	FailedLines int             `gorm:"type:int;not null;default:0" json:"failed_lines"`
	CreatedBy   *uuid.UUID      `gorm:"type:uuid" json:"created_by"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedBy *uuid.UUID      `gorm:"type:uuid" json:"completed_by"`
	CompletedAt *time.Time      `json:"completed_at"`
	Items       []StocktakeItem `gorm:"foreignKey:SessionID" json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StocktakeItem holds the system quantity snapshot taken at session creation
// and the counted quantity. EditSeq orders count edits; a write carrying a
// lower or equal sequence is ignored.
type StocktakeItem struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SessionID   uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	ProductID   uuid.UUID `gorm:"type:uuid;not null" json:"product_id"`
	SKU         string    `gorm:"type:varchar(100);not null" json:"sku"`
	ProductName string    `gorm:"type:varchar(255);not null" json:"product_name"`
	SystemQty   int       `gorm:"type:int;not null" json:"system_qty"`
	ActualQty   *int      `gorm:"type:int" json:"actual_qty"`
	Note        string    `gorm:"type:text" json:"note"`
	EditSeq     int64     `gorm:"not null;default:0" json:"edit_seq"`
	Posted      bool      `gorm:"not null;default:false" json:"posted"`
	PostError   string    `gorm:"type:text" json:"post_error,omitempty"`
}

// Diff is actualQty - systemQty; ok is false while the item is uncounted.
func (i StocktakeItem) Diff() (diff int, ok bool) {
	if i.ActualQty == nil {
		return 0, false
	}
	return *i.ActualQty - i.SystemQty, true
}
