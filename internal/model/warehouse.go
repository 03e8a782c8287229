package model

import (
	"time"

	"github.com/google/uuid"
)

// Warehouse is a stock location. Exactly one warehouse per tenant is the default;
// the database enforces it with a partial unique index (see database.applySchemaPatches).
type Warehouse struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_warehouse_tenant_code" json:"tenant_id"`
	Code      string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_warehouse_tenant_code" json:"code"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	IsDefault bool      `gorm:"not null;default:false" json:"is_default"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
