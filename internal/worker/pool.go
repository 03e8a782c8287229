package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stockledger/internal/repository"
	"stockledger/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const maxAttempts = 3

// Pool consumes the audit queue and writes rows through the repository.
// Settlement jobs are left for the accounting service that owns that queue.
type Pool struct {
	rdb    *redis.Client
	audits repository.AuditRepository
	size   int
	wg     sync.WaitGroup
}

func NewPool(rdb *redis.Client, audits repository.AuditRepository, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{rdb: rdb, audits: audits, size: size}
}

// Start launches the workers. Each blocks on BRPOP, so idle workers cost nothing.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	log.Info().Msgf("worker pool started with %d workers", p.size)
}

// Wait blocks until every worker has observed ctx cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
		}
		result, err := p.rdb.BRPop(ctx, 5*time.Second, QueueAudit).Result()
		if err != nil || len(result) < 2 {
			continue // timeout or cancellation
		}
		p.process(ctx, result[0], result[1])
	}
}

func (p *Pool) process(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		return
	}

	err := p.handle(context.WithoutCancel(ctx), job)
	if err == nil {
		return
	}
	job.Attempts++
	if job.Attempts >= maxAttempts {
		SendToDLQ(context.WithoutCancel(ctx), p.rdb, queue, job, err.Error())
		return
	}
	log.Warn().Err(err).Str("type", job.Type).Int("attempt", job.Attempts).Msg("job failed, requeueing")
	if err := NewDispatcher(p.rdb).push(context.WithoutCancel(ctx), queue, job); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("requeue failed")
	}
}

func (p *Pool) handle(ctx context.Context, job Job) error {
	switch job.Type {
	case JobAudit:
		var entry service.AuditEntry
		if err := json.Unmarshal(job.Payload, &entry); err != nil {
			return fmt.Errorf("decode audit entry: %w", err)
		}
		return p.audits.Log(ctx, entry.ToLog())
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
