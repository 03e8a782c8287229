package database

import (
	"fmt"
	"time"

	"stockledger/internal/model"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewConnection opens the pool. Callers run Migrate separately.
func NewConnection(dsn string, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate creates or updates all tables and constraints. Safe to re-run.
func Migrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
		return fmt.Errorf("enable pgcrypto: %w", err)
	}
	err := db.AutoMigrate(
		&model.User{},
		&model.Role{},
		&model.Permission{},
		&model.Warehouse{},
		&model.Product{},
		&model.ComboItem{},
		&model.WarehouseStock{},
		&model.InventoryTransaction{},
		&model.ProductSerial{},
		&model.StockTransaction{},
		&model.StockTransactionItem{},
		&model.TransferOrder{},
		&model.TransferItem{},
		&model.StocktakeSession{},
		&model.StocktakeItem{},
		&model.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return applySchemaPatches(db)
}

// applySchemaPatches runs idempotent DDL that GORM tags cannot express.
func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		{"one default warehouse per tenant", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_warehouse_one_default
    ON warehouses (tenant_id) WHERE is_default`},
		{"non-negative warehouse stock", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_warehouse_stock_non_negative') THEN
    ALTER TABLE warehouse_stocks
      ADD CONSTRAINT chk_warehouse_stock_non_negative CHECK (quantity >= 0);
  END IF;
END $$`},
		{"positive combo component quantity", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_combo_item_qty_positive') THEN
    ALTER TABLE combo_items
      ADD CONSTRAINT chk_combo_item_qty_positive CHECK (qty_per_combo > 0);
  END IF;
END $$`},
		{"distinct transfer endpoints", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_transfer_distinct_warehouses') THEN
    ALTER TABLE transfer_orders
      ADD CONSTRAINT chk_transfer_distinct_warehouses CHECK (from_warehouse_id <> to_warehouse_id);
  END IF;
END $$`},
		{"pending stocktake lines", `
CREATE INDEX IF NOT EXISTS idx_stocktake_items_unposted
    ON stocktake_items (session_id) WHERE posted = false`},
	}
	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}

// gormWriter routes gorm's logger into zerolog.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}
