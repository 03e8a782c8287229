package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stockledger/internal/auth"
	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DTOs
type CreateWarehouseRequest struct {
	Code      string `json:"code" binding:"required,max=50"`
	Name      string `json:"name" binding:"required,max=255"`
	IsDefault bool   `json:"is_default"`
}

type UpdateWarehouseRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	IsActive *bool  `json:"is_active"`
}

// WarehouseService manages stock locations. Each tenant has exactly one
// default warehouse once it has any.
type WarehouseService interface {
	List(ctx context.Context, actor auth.Actor) ([]model.Warehouse, error)
	Create(ctx context.Context, actor auth.Actor, req CreateWarehouseRequest) (*model.Warehouse, error)
	Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req UpdateWarehouseRequest) (*model.Warehouse, error)
	Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	SetDefault(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Warehouse, error)
}

type warehouseService struct {
	warehouses repository.WarehouseRepository
	stock      repository.StockRepository
	txManager  repository.TransactionManager
	audit      AuditRecorder
}

func NewWarehouseService(
	warehouses repository.WarehouseRepository,
	stock repository.StockRepository,
	txManager repository.TransactionManager,
	audit AuditRecorder,
) WarehouseService {
	if audit == nil {
		audit = discardAudit{}
	}
	return &warehouseService{warehouses: warehouses, stock: stock, txManager: txManager, audit: audit}
}

func (s *warehouseService) List(ctx context.Context, actor auth.Actor) ([]model.Warehouse, error) {
	return s.warehouses.List(ctx, actor.TenantID())
}

func (s *warehouseService) Create(ctx context.Context, actor auth.Actor, req CreateWarehouseRequest) (*model.Warehouse, error) {
	if err := requireEdit(actor, auth.ModuleWarehouse); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	name := strings.TrimSpace(req.Name)
	if code == "" {
		return nil, invalid("code", "is required")
	}
	if name == "" {
		return nil, invalid("name", "is required")
	}

	w := &model.Warehouse{
		TenantID: actor.TenantID(),
		Code:     code,
		Name:     name,
		IsActive: true,
	}
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.warehouses.Create(txCtx, w); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return invalid("code", "warehouse %s already exists", code)
			}
			return fmt.Errorf("create warehouse: %w", err)
		}

		makeDefault := req.IsDefault
		if !makeDefault {
			_, err := s.warehouses.FindDefault(txCtx, w.TenantID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				makeDefault = true
			} else if err != nil {
				return fmt.Errorf("load default warehouse: %w", err)
			}
		}
		if makeDefault {
			if err := s.warehouses.SetDefault(txCtx, w.TenantID, w.ID); err != nil {
				return fmt.Errorf("set default warehouse: %w", err)
			}
			w.IsDefault = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, w, model.ActionCreateWarehouse, fmt.Sprintf("Created warehouse %s (%s)", w.Code, w.Name))
	return w, nil
}

func (s *warehouseService) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req UpdateWarehouseRequest) (*model.Warehouse, error) {
	if err := requireEdit(actor, auth.ModuleWarehouse); err != nil {
		return nil, err
	}
	w, err := s.warehouses.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("warehouse", err)
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		w.Name = name
	}
	if req.IsActive != nil {
		if !*req.IsActive && w.IsDefault {
			return nil, invalid("is_active", "the default warehouse cannot be deactivated")
		}
		w.IsActive = *req.IsActive
	}
	if err := s.warehouses.Update(ctx, w); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, invalid("is_active", "the default warehouse cannot be deactivated")
		}
		return nil, fmt.Errorf("update warehouse: %w", err)
	}

	s.record(ctx, actor, w, model.ActionUpdateWarehouse, fmt.Sprintf("Updated warehouse %s", w.Code))
	return w, nil
}

// Delete refuses the default warehouse and any warehouse still holding stock.
func (s *warehouseService) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := requireEdit(actor, auth.ModuleWarehouse); err != nil {
		return err
	}
	w, err := s.warehouses.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return notFound("warehouse", err)
	}
	if w.IsDefault {
		return invalid("id", "the default warehouse cannot be deleted; set another default first")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		total, err := s.stock.TotalByWarehouse(txCtx, w.ID)
		if err != nil {
			return fmt.Errorf("read warehouse stock: %w", err)
		}
		if total > 0 {
			return invalid("id", "warehouse %s still holds %d unit(s)", w.Code, total)
		}
		// The delete re-checks both guards in one statement.
		err = s.warehouses.Delete(txCtx, w.TenantID, w.ID)
		if errors.Is(err, repository.ErrStaleState) {
			return invalid("id", "warehouse %s received stock or became the default; retry", w.Code)
		}
		if err != nil {
			return fmt.Errorf("delete warehouse: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, w, model.ActionDeleteWarehouse, fmt.Sprintf("Deleted warehouse %s", w.Code))
	return nil
}

func (s *warehouseService) SetDefault(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Warehouse, error) {
	if err := requireEdit(actor, auth.ModuleWarehouse); err != nil {
		return nil, err
	}
	w, err := s.warehouses.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("warehouse", err)
	}
	if !w.IsActive {
		return nil, invalid("id", "warehouse %s is inactive", w.Code)
	}
	if w.IsDefault {
		return w, nil
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return s.warehouses.SetDefault(txCtx, w.TenantID, w.ID)
	})
	if err != nil {
		return nil, notFound("warehouse", err)
	}
	w.IsDefault = true

	s.record(ctx, actor, w, model.ActionSetDefault, fmt.Sprintf("Set %s as default warehouse", w.Code))
	return w, nil
}

func (s *warehouseService) record(ctx context.Context, actor auth.Actor, w *model.Warehouse, action, description string) {
	s.audit.Record(ctx, AuditEntry{
		TenantID:    w.TenantID,
		UserID:      actorRef(actor),
		Action:      action,
		EntityType:  model.EntityWarehouse,
		EntityID:    w.ID.String(),
		EntityName:  w.Code,
		Description: description,
	})
}
