package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"stockledger/internal/model"
	"stockledger/internal/repository"
	"stockledger/internal/service"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements only the commands the worker package issues.
type fakeRedis struct {
	redis.Cmdable
	pushErr error
	pushed  map[string][]string
	hash    map[string]map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{pushed: map[string][]string{}, hash: map[string]map[string]string{}}
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	for _, v := range values {
		switch b := v.(type) {
		case []byte:
			f.pushed[key] = append(f.pushed[key], string(b))
		case string:
			f.pushed[key] = append(f.pushed[key], b)
		}
	}
	return redis.NewIntResult(int64(len(f.pushed[key])), nil)
}

func (f *fakeRedis) LLen(_ context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(f.pushed[key])), nil)
}

func (f *fakeRedis) HMGet(_ context.Context, key string, fields ...string) *redis.SliceCmd {
	out := make([]interface{}, len(fields))
	for i, field := range fields {
		if v, ok := f.hash[key][field]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

type stubAuditRepo struct {
	logged []*model.AuditLog
	err    error
}

func (r *stubAuditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	if r.err != nil {
		return r.err
	}
	r.logged = append(r.logged, entry)
	return nil
}

func (r *stubAuditRepo) List(context.Context, repository.AuditFilter) ([]model.AuditLog, int64, error) {
	return nil, 0, nil
}

type recordingFallback struct{ entries []service.AuditEntry }

func (r *recordingFallback) Record(_ context.Context, e service.AuditEntry) {
	r.entries = append(r.entries, e)
}

func TestAuditRecorder_EnqueuesJob(t *testing.T) {
	rdb := newFakeRedis()
	fallback := &recordingFallback{}
	rec := NewAuditRecorder(NewDispatcher(rdb), fallback)

	entry := service.AuditEntry{TenantID: uuid.New(), Action: model.ActionManualAdjust, EntityType: model.EntityStock, EntityID: "p1"}
	rec.Record(context.Background(), entry)

	require.Len(t, rdb.pushed[QueueAudit], 1)
	assert.Empty(t, fallback.entries)

	var job Job
	require.NoError(t, json.Unmarshal([]byte(rdb.pushed[QueueAudit][0]), &job))
	assert.Equal(t, JobAudit, job.Type)
	assert.Zero(t, job.Attempts)
}

func TestAuditRecorder_FallsBackWhenQueueUnavailable(t *testing.T) {
	rdb := newFakeRedis()
	rdb.pushErr = errors.New("connection refused")
	fallback := &recordingFallback{}

	NewAuditRecorder(NewDispatcher(rdb), fallback).Record(context.Background(), service.AuditEntry{Action: model.ActionManualAdjust})

	require.Len(t, fallback.entries, 1)
	assert.Equal(t, model.ActionManualAdjust, fallback.entries[0].Action)
}

func TestPoolHandle_WritesAuditRow(t *testing.T) {
	repo := &stubAuditRepo{}
	pool := NewPool(nil, repo, 0)
	assert.Equal(t, 1, pool.size)

	entry := service.AuditEntry{TenantID: uuid.New(), Action: model.ActionManualAdjust, EntityID: "p1", Details: map[string]interface{}{"delta": 3}}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	require.NoError(t, pool.handle(context.Background(), Job{Type: JobAudit, Payload: payload}))
	require.Len(t, repo.logged, 1)
	assert.Equal(t, entry.TenantID, repo.logged[0].TenantID)
	assert.JSONEq(t, `{"delta":3}`, repo.logged[0].Details)
}

func TestPoolHandle_Errors(t *testing.T) {
	repo := &stubAuditRepo{err: errors.New("db down")}
	pool := NewPool(nil, repo, 2)

	assert.Error(t, pool.handle(context.Background(), Job{Type: "mystery"}))
	assert.Error(t, pool.handle(context.Background(), Job{Type: JobAudit, Payload: json.RawMessage(`not json`)}))
	assert.ErrorContains(t, pool.handle(context.Background(), Job{Type: JobAudit, Payload: json.RawMessage(`{}`)}), "db down")
}

func TestSendToDLQ(t *testing.T) {
	rdb := newFakeRedis()
	SendToDLQ(context.Background(), rdb, QueueAudit, Job{Type: JobAudit, Payload: json.RawMessage(`{}`), Attempts: maxAttempts}, "db down")

	n, err := DLQLength(context.Background(), rdb, QueueAudit)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var entry DLQEntry
	require.NoError(t, json.Unmarshal([]byte(rdb.pushed[DLQPrefix+QueueAudit][0]), &entry))
	assert.Equal(t, "db down", entry.Reason)
	assert.Equal(t, maxAttempts, entry.Attempts)
}

func TestCommitmentFeed_ReadsHashAndIgnoresMalformed(t *testing.T) {
	tenant := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	rdb := newFakeRedis()
	rdb.hash[CommittedKey(tenant)] = map[string]string{a.String(): "4", b.String(): "-2"}

	got, err := NewCommitmentFeed(rdb).CommittedQty(context.Background(), tenant, []uuid.UUID{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{a: 4, b: 0, c: 0}, got)

	empty, err := NewCommitmentFeed(rdb).CommittedQty(context.Background(), tenant, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
