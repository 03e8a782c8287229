package service

import (
	"context"
	"errors"
	"fmt"

	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AdjustRequest is one signed change to a (warehouse, product) cell.
type AdjustRequest struct {
	TenantID    uuid.UUID
	WarehouseID uuid.UUID
	ProductID   uuid.UUID
	Delta       int
	Source      string
	ReferenceID *uuid.UUID
	ActorID     *uuid.UUID
	Note        string
}

// SetQuantityRequest asks the ledger to bring a cell to Target.
type SetQuantityRequest struct {
	TenantID    uuid.UUID
	WarehouseID uuid.UUID
	ProductID   uuid.UUID
	Target      int
	Source      string
	ReferenceID *uuid.UUID
	ActorID     *uuid.UUID
	Note        string
}

// StockEvent is broadcast after a committed ledger adjustment.
type StockEvent struct {
	Event       string     `json:"event"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	WarehouseID uuid.UUID  `json:"warehouse_id"`
	ProductID   uuid.UUID  `json:"product_id"`
	Quantity    int        `json:"quantity"`
	Delta       int        `json:"delta"`
	Source      string     `json:"source"`
	ReferenceID *uuid.UUID `json:"reference_id,omitempty"`
}

const EventStockAdjusted = "stock.adjusted"

// StockPublisher must not block; slow subscribers lose events.
type StockPublisher interface {
	PublishStock(event StockEvent)
}

type noopPublisher struct{}

func (noopPublisher) PublishStock(StockEvent) {}

// LedgerService is the only writer of warehouse quantities. Every successful
// adjustment is paired with one InventoryTransaction in the same transaction.
type LedgerService interface {
	Adjust(ctx context.Context, req AdjustRequest) (int, error)
	AdjustAll(ctx context.Context, reqs []AdjustRequest) ([]int, error)
	SetQuantity(ctx context.Context, req SetQuantityRequest) (int, error)
	Quantity(ctx context.Context, warehouseID, productID uuid.UUID) (int, error)
	Quantities(ctx context.Context, warehouseID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type ledgerService struct {
	stockRepo repository.StockRepository
	txRepo    repository.InventoryTxRepository
	txManager repository.TransactionManager
	publisher StockPublisher
}

func NewLedgerService(
	stockRepo repository.StockRepository,
	txRepo repository.InventoryTxRepository,
	txManager repository.TransactionManager,
	publisher StockPublisher,
) LedgerService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ledgerService{
		stockRepo: stockRepo,
		txRepo:    txRepo,
		txManager: txManager,
		publisher: publisher,
	}
}

func (s *ledgerService) Adjust(ctx context.Context, req AdjustRequest) (int, error) {
	var qty int
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		qty, err = s.adjust(txCtx, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// AdjustAll applies every request or none of them.
func (s *ledgerService) AdjustAll(ctx context.Context, reqs []AdjustRequest) ([]int, error) {
	out := make([]int, len(reqs))
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		for i, req := range reqs {
			qty, err := s.adjust(txCtx, req)
			if err != nil {
				return err
			}
			out[i] = qty
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetQuantity converts an absolute target into a delta against a fresh read.
// If another writer lowers the cell in between, the decrement fails with
// InsufficientStockError instead of going negative; callers re-read and retry.
func (s *ledgerService) SetQuantity(ctx context.Context, req SetQuantityRequest) (int, error) {
	if req.Target < 0 {
		return 0, invalid("target", "must not be negative")
	}
	current, err := s.stockRepo.Get(ctx, req.WarehouseID, req.ProductID)
	if err != nil {
		return 0, fmt.Errorf("read stock: %w", err)
	}
	if current == req.Target {
		return current, nil
	}
	return s.Adjust(ctx, AdjustRequest{
		TenantID:    req.TenantID,
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		Delta:       req.Target - current,
		Source:      req.Source,
		ReferenceID: req.ReferenceID,
		ActorID:     req.ActorID,
		Note:        req.Note,
	})
}

func (s *ledgerService) Quantity(ctx context.Context, warehouseID, productID uuid.UUID) (int, error) {
	return s.stockRepo.Get(ctx, warehouseID, productID)
}

func (s *ledgerService) Quantities(ctx context.Context, warehouseID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	return s.stockRepo.GetMany(ctx, warehouseID, productIDs)
}

func (s *ledgerService) adjust(ctx context.Context, req AdjustRequest) (int, error) {
	if req.Delta == 0 {
		return 0, invalid("delta", "must not be zero")
	}
	if req.Source == "" {
		req.Source = model.SourceManual
	}

	qty, err := s.stockRepo.Adjust(ctx, req.WarehouseID, req.ProductID, req.Delta)
	if errors.Is(err, repository.ErrInsufficientStock) {
		available, readErr := s.stockRepo.Get(ctx, req.WarehouseID, req.ProductID)
		if readErr != nil {
			log.Warn().Err(readErr).Msg("ledger: read after failed decrement")
		}
		return 0, &InsufficientStockError{
			WarehouseID: req.WarehouseID,
			ProductID:   req.ProductID,
			Available:   available,
			Requested:   -req.Delta,
		}
	}
	if err != nil {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	txType := model.TxTypeImport
	if req.Delta < 0 {
		txType = model.TxTypeExport
	}
	record := &model.InventoryTransaction{
		WarehouseID:     req.WarehouseID,
		ProductID:       req.ProductID,
		TransactionType: txType,
		Source:          req.Source,
		ReferenceID:     req.ReferenceID,
		QuantityChanged: req.Delta,
		StockAfter:      qty,
		CreatedBy:       req.ActorID,
		Note:            req.Note,
	}
	if err := s.txRepo.Create(ctx, record); err != nil {
		return 0, fmt.Errorf("record ledger transaction: %w", err)
	}

	event := StockEvent{
		Event:       EventStockAdjusted,
		TenantID:    req.TenantID,
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		Quantity:    qty,
		Delta:       req.Delta,
		Source:      req.Source,
		ReferenceID: req.ReferenceID,
	}
	s.txManager.AfterCommit(ctx, func() { s.publisher.PublishStock(event) })
	return qty, nil
}
