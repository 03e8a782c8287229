package repository

import (
	"context"

	"stockledger/internal/model"
	"stockledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CountWrite is the persisted state of one stocktake item after edit EditSeq.
type CountWrite struct {
	ItemID    uuid.UUID
	ActualQty *int
	Note      string
	EditSeq   int64
}

// StocktakeTotals are the aggregates written when a session completes.
type StocktakeTotals struct {
	OverTotal   int
	UnderTotal  int
	PostedLines int
	FailedLines int
}

type StocktakeRepository interface {
	Create(ctx context.Context, session *model.StocktakeSession) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.StocktakeSession, error)
	List(ctx context.Context, filter DocumentFilter) ([]model.StocktakeSession, int64, error)
	Transition(ctx context.Context, id uuid.UUID, from, to model.StocktakeStatus, fields map[string]interface{}) error
	// ApplyCounts writes each CountWrite unless the stored row already carries
	// an equal or newer EditSeq. It returns how many rows changed.
	ApplyCounts(ctx context.Context, sessionID uuid.UUID, writes []CountWrite) (int, error)
	MarkItemPosted(ctx context.Context, itemID uuid.UUID) error
	MarkItemFailed(ctx context.Context, itemID uuid.UUID, reason string) error
	SaveTotals(ctx context.Context, id uuid.UUID, totals StocktakeTotals) error
}

type stocktakeRepository struct {
	db *gorm.DB
}

func NewStocktakeRepository(db *gorm.DB) StocktakeRepository {
	return &stocktakeRepository{db: db}
}

func (r *stocktakeRepository) Create(ctx context.Context, session *model.StocktakeSession) error {
	return GetDB(ctx, r.db).Create(session).Error
}

func (r *stocktakeRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.StocktakeSession, error) {
	var session model.StocktakeSession
	if err := GetDB(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sku asc") }).
		First(&session, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *stocktakeRepository) List(ctx context.Context, f DocumentFilter) ([]model.StocktakeSession, int64, error) {
	var sessions []model.StocktakeSession
	var total int64

	query := GetDB(ctx, r.db).Model(&model.StocktakeSession{}).Where("tenant_id = ?", f.TenantID)
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.WarehouseID != uuid.Nil {
		query = query.Where("warehouse_id = ?", f.WarehouseID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Offset(f.Page, f.Limit)
	if err := query.Order("created_at DESC").Offset(offset).Limit(f.Limit).Find(&sessions).Error; err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *stocktakeRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.StocktakeStatus, fields map[string]interface{}) error {
	return compareAndSwapStatus(GetDB(ctx, r.db), &model.StocktakeSession{}, id, string(from), string(to), fields)
}

func (r *stocktakeRepository) ApplyCounts(ctx context.Context, sessionID uuid.UUID, writes []CountWrite) (int, error) {
	db := GetDB(ctx, r.db)
	applied := 0
	for _, w := range writes {
		res := db.Model(&model.StocktakeItem{}).
			Where("id = ? AND session_id = ? AND edit_seq < ?", w.ItemID, sessionID, w.EditSeq).
			Updates(map[string]interface{}{
				"actual_qty": w.ActualQty,
				"note":       w.Note,
				"edit_seq":   w.EditSeq,
			})
		if res.Error != nil {
			return applied, res.Error
		}
		applied += int(res.RowsAffected)
	}
	return applied, nil
}

func (r *stocktakeRepository) MarkItemPosted(ctx context.Context, itemID uuid.UUID) error {
	res := GetDB(ctx, r.db).Model(&model.StocktakeItem{}).
		Where("id = ? AND posted = ?", itemID, false).
		Updates(map[string]interface{}{"posted": true, "post_error": ""})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *stocktakeRepository) MarkItemFailed(ctx context.Context, itemID uuid.UUID, reason string) error {
	return GetDB(ctx, r.db).Model(&model.StocktakeItem{}).
		Where("id = ?", itemID).
		Update("post_error", reason).Error
}

func (r *stocktakeRepository) SaveTotals(ctx context.Context, id uuid.UUID, t StocktakeTotals) error {
	return GetDB(ctx, r.db).Model(&model.StocktakeSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"over_total":   t.OverTotal,
			"under_total":  t.UnderTotal,
			"posted_lines": t.PostedLines,
			"failed_lines": t.FailedLines,
		}).Error
}
