package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentFilter narrows document listings. Zero values are ignored.
type DocumentFilter struct {
	TenantID    uuid.UUID
	Status      string
	Type        string
	WarehouseID uuid.UUID
	Page        int
	Limit       int
}

// compareAndSwapStatus moves the row identified by id from `from` to `to`,
// setting extra columns in the same statement. It returns ErrStaleState when
// the row is no longer in `from`.
func compareAndSwapStatus(db *gorm.DB, table interface{}, id uuid.UUID, from, to string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}

	res := db.Model(table).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
