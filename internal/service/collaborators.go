package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommitmentFeed reports quantity reserved by unfulfilled orders. The ledger
// never computes it; it is an input to availability checks and views.
type CommitmentFeed interface {
	CommittedQty(ctx context.Context, tenantID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// NoCommitments is the feed used when no order module is connected.
type NoCommitments struct{}

func (NoCommitments) CommittedQty(_ context.Context, _ uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = 0
	}
	return out, nil
}

// Settlement kinds.
const (
	SettlementReceivable = "receivable"
	SettlementPayable    = "payable"
)

// SettlementRequest asks the accounting collaborator to open a receivable or
// payable for an approved document.
type SettlementRequest struct {
	TenantID     uuid.UUID       `json:"tenant_id"`
	DocumentID   uuid.UUID       `json:"document_id"`
	DocumentCode string          `json:"document_code"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	WarehouseID  uuid.UUID       `json:"warehouse_id"`
	RequestedBy  uuid.UUID       `json:"requested_by"`
	RequestedAt  time.Time       `json:"requested_at"`
}

type SettlementRequester interface {
	RequestSettlement(ctx context.Context, req SettlementRequest) error
}

type noSettlement struct{}

func (noSettlement) RequestSettlement(context.Context, SettlementRequest) error { return nil }
