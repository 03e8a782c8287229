package model

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a user role with associated permissions. System roles are
// shared by every tenant and carry uuid.Nil as TenantID.
type Role struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID    uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_role_tenant_name" json:"tenant_id"`
	Name        string       `gorm:"type:varchar(50);not null;uniqueIndex:idx_role_tenant_name" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	IsSystem    bool         `gorm:"default:false" json:"is_system"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions"`
	// ApprovalLevels maps a module (see auth.Module*) to the level this role
	// holds for it. Missing modules are level 0.
	ApprovalLevels map[string]int `gorm:"type:jsonb;serializer:json" json:"approval_levels"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Permission represents a single permission that can be assigned to roles
type Permission struct {
	ID    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"` // e.g. "stock.write"
	Name  string    `gorm:"type:varchar(255);not null" json:"name"`
	Group string    `gorm:"type:varchar(50);not null;index" json:"group"`
}
