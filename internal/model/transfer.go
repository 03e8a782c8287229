package model

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus is the state of an inter-warehouse transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferInTransit TransferStatus = "in_transit"
	TransferReceived  TransferStatus = "received"
	TransferCancelled TransferStatus = "cancelled"
)

// TransferFlow lists every legal transfer transition.
var TransferFlow = Machine[TransferStatus]{
	TransferPending:   {TransferInTransit, TransferCancelled},
	TransferInTransit: {TransferReceived, TransferCancelled},
}

// TransferOrder moves stock from one warehouse to another. The source is
// decremented on dispatch, the destination incremented on receipt.
type TransferOrder struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Code            string         `gorm:"type:varchar(100);not null;uniqueIndex" json:"code"`
	FromWarehouseID uuid.UUID      `gorm:"type:uuid;not null;index" json:"from_warehouse_id"`
	ToWarehouseID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"to_warehouse_id"`
	Status          TransferStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Note            string         `gorm:"type:text" json:"note"`
	VarianceQty     int            `gorm:"type:int;not null;default:0" json:"variance_qty"`
	CreatedBy       *uuid.UUID     `gorm:"type:uuid" json:"created_by"`
	DispatchedBy    *uuid.UUID     `gorm:"type:uuid" json:"dispatched_by"`
	DispatchedAt    *time.Time     `json:"dispatched_at"`
	ReceivedBy      *uuid.UUID     `gorm:"type:uuid" json:"received_by"`
	ReceivedAt      *time.Time     `json:"received_at"`
	CancelledBy     *uuid.UUID     `gorm:"type:uuid" json:"cancelled_by"`
	CancelledAt     *time.Time     `json:"cancelled_at"`
	CancelReason    string         `gorm:"type:text" json:"cancel_reason"`
	Items           []TransferItem `gorm:"foreignKey:TransferID" json:"items"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TransferItem is one line of a transfer. ReceivedQty stays nil until receipt;
// VarianceQty = ReceivedQty - SentQty (zero or negative). Serialized products
// list exactly SentQty serials; ReceivedSerials is the subset that arrived.
type TransferItem struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TransferID      uuid.UUID `gorm:"type:uuid;not null;index" json:"transfer_id"`
	ProductID       uuid.UUID `gorm:"type:uuid;not null" json:"product_id"`
	SentQty         int       `gorm:"type:int;not null" json:"sent_qty"`
	ReceivedQty     *int      `gorm:"type:int" json:"received_qty"`
	VarianceQty     int       `gorm:"type:int;not null;default:0" json:"variance_qty"`
	Serials         []string  `gorm:"type:jsonb;serializer:json" json:"serials,omitempty"`
	ReceivedSerials []string  `gorm:"type:jsonb;serializer:json" json:"received_serials,omitempty"`
}
