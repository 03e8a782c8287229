package worker

import (
	"context"
	"fmt"
	"strconv"

	"stockledger/internal/service"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// AuditRecorder queues audit entries. When Redis is unreachable it falls
// back to writing the row synchronously.
type AuditRecorder struct {
	dispatcher *Dispatcher
	fallback   service.AuditRecorder
}

func NewAuditRecorder(dispatcher *Dispatcher, fallback service.AuditRecorder) *AuditRecorder {
	return &AuditRecorder{dispatcher: dispatcher, fallback: fallback}
}

func (r *AuditRecorder) Record(ctx context.Context, entry service.AuditEntry) {
	err := r.dispatcher.Enqueue(context.WithoutCancel(ctx), QueueAudit, JobAudit, entry)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("action", entry.Action).Msg("audit: enqueue failed, writing directly")
	if r.fallback != nil {
		r.fallback.Record(ctx, entry)
	}
}

// SettlementRequester hands approved documents to the accounting module.
type SettlementRequester struct {
	dispatcher *Dispatcher
}

func NewSettlementRequester(dispatcher *Dispatcher) *SettlementRequester {
	return &SettlementRequester{dispatcher: dispatcher}
}

func (r *SettlementRequester) RequestSettlement(ctx context.Context, req service.SettlementRequest) error {
	return r.dispatcher.Enqueue(ctx, QueueSettlement, JobSettlement, req)
}

// CommitmentFeed reads quantities reserved by the order module from the hash
// stock:committed:{tenant}, one field per product id.
type CommitmentFeed struct {
	rdb redis.Cmdable
}

func NewCommitmentFeed(rdb redis.Cmdable) *CommitmentFeed {
	return &CommitmentFeed{rdb: rdb}
}

func CommittedKey(tenantID uuid.UUID) string {
	return "stock:committed:" + tenantID.String()
}

func (f *CommitmentFeed) CommittedQty(ctx context.Context, tenantID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	fields := make([]string, len(productIDs))
	for i, id := range productIDs {
		fields[i] = id.String()
		out[id] = 0
	}

	values, err := f.rdb.HMGet(ctx, CommittedKey(tenantID), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("read committed quantities: %w", err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			log.Warn().Str("product_id", fields[i]).Str("value", s).Msg("ignoring malformed committed quantity")
			continue
		}
		out[productIDs[i]] = n
	}
	return out, nil
}

var (
	_ service.AuditRecorder       = (*AuditRecorder)(nil)
	_ service.SettlementRequester = (*SettlementRequester)(nil)
	_ service.CommitmentFeed      = (*CommitmentFeed)(nil)
)
