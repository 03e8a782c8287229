package service

import (
	"context"
	"testing"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T) (*CountBuffer, *stubStocktakeRepo, []model.StocktakeItem) {
	buf, _, repo, items := newTestBuffers(t)
	return buf, repo, items
}

func newTestBuffers(t *testing.T) (*CountBuffer, *CountBuffers, *stubStocktakeRepo, []model.StocktakeItem) {
	t.Helper()
	db := newMemDB()
	repo := &stubStocktakeRepo{db: db}
	session := &model.StocktakeSession{
		TenantID: uuid.New(),
		Status:   model.StocktakeInProgress,
		Items: []model.StocktakeItem{
			{SKU: "A", ProductName: "Apple", SystemQty: 5},
			{SKU: "B", ProductName: "Banana", SystemQty: 2},
		},
	}
	require.NoError(t, repo.Create(context.Background(), session))
	buffers := NewCountBuffers(repo, 0)
	return buffers.Open(session), buffers, repo, session.Items
}

func TestCountBuffer_FlushWritesOnlyDirtyItems(t *testing.T) {
	buf, repo, items := newTestBuffer(t)
	ctx := context.Background()

	_, err := buf.SetCount(items[0].ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Dirty())

	n, err := buf.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, buf.Dirty())

	n, err = buf.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing dirty, nothing written")

	stored := repo.stored(items[0].SessionID)
	assert.Equal(t, 4, *stored.Items[0].ActualQty)
	assert.Nil(t, stored.Items[1].ActualQty)
}

func TestCountBuffer_FailedFlushKeepsEdits(t *testing.T) {
	buf, repo, items := newTestBuffer(t)
	ctx := context.Background()

	_, err := buf.SetCount(items[0].ID, 4)
	require.NoError(t, err)

	repo.failApply = errBoom
	_, err = buf.Flush(ctx)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, buf.Dirty())

	n, err := buf.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountBuffer_NegativeCountRejected(t *testing.T) {
	buf, _, items := newTestBuffer(t)
	_, err := buf.SetCount(items[0].ID, -1)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = buf.SetCount(uuid.New(), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCountBuffer_ApplyEventsIgnoresStaleSeq(t *testing.T) {
	buf, _, items := newTestBuffer(t)

	n, err := buf.ApplyEvents([]CountEvent{
		{ItemID: items[0].ID, ActualQty: intPtr(9), Seq: 5},
		{ItemID: items[0].ID, ActualQty: intPtr(7), Seq: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "events apply in seq order")
	assert.Equal(t, 9, *buf.Items()[0].ActualQty)

	n, err = buf.ApplyEvents([]CountEvent{{ItemID: items[0].ID, ActualQty: intPtr(1), Seq: 5}})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "replayed event is skipped")
	assert.Equal(t, 9, *buf.Items()[0].ActualQty)

	_, err = buf.ApplyEvents([]CountEvent{{ItemID: uuid.New(), ActualQty: intPtr(1), Seq: 6}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCountBuffer_LocalEditsFollowClientSeq(t *testing.T) {
	buf, _, items := newTestBuffer(t)

	_, err := buf.ApplyEvents([]CountEvent{{ItemID: items[0].ID, ActualQty: intPtr(3), Seq: 10}})
	require.NoError(t, err)

	item, err := buf.SetCount(items[1].ID, 1)
	require.NoError(t, err)
	assert.Greater(t, item.EditSeq, int64(10))
}

func TestCountBuffers_TenantScoped(t *testing.T) {
	db := newMemDB()
	repo := &stubStocktakeRepo{db: db}
	buffers := NewCountBuffers(repo, 0)
	session := &model.StocktakeSession{ID: uuid.New(), TenantID: uuid.New()}
	buffers.Open(session)

	_, ok := buffers.Get(session.TenantID, session.ID)
	assert.True(t, ok)
	_, ok = buffers.Get(uuid.New(), session.ID)
	assert.False(t, ok)
}

func TestCountBuffers_StopFlushes(t *testing.T) {
	buf, buffers, repo, items := newTestBuffers(t)
	_, err := buf.SetCount(items[1].ID, 2)
	require.NoError(t, err)

	buffers.Start(context.Background())
	buffers.Stop()

	stored := repo.stored(items[0].SessionID)
	require.NotNil(t, stored.Items[1].ActualQty)
	assert.Equal(t, 2, *stored.Items[1].ActualQty)
}

func TestCountBuffer_SealRejectsEditsButKeepsPending(t *testing.T) {
	buf, _, repo, items := newTestBuffers(t)
	_, err := buf.SetCount(items[0].ID, 4)
	require.NoError(t, err)

	buf.Seal()
	var terr *TransitionError
	_, err = buf.SetCount(items[0].ID, 5)
	require.ErrorAs(t, err, &terr)
	_, err = buf.SetNote(items[0].ID, "x")
	require.ErrorAs(t, err, &terr)
	_, err = buf.Scan(items[0].SKU)
	require.ErrorAs(t, err, &terr)
	_, err = buf.FillUnset()
	require.ErrorAs(t, err, &terr)
	_, err = buf.ApplyEvents([]CountEvent{{ItemID: items[0].ID, ActualQty: intPtr(9), Seq: 100}})
	require.ErrorAs(t, err, &terr)

	n, err := buf.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, *repo.stored(buf.sessionID).Items[0].ActualQty)

	buf.Unseal()
	_, err = buf.SetCount(items[0].ID, 5)
	assert.NoError(t, err)
}

func TestCountBuffers_ClosedSessionCannotReopen(t *testing.T) {
	_, buffers, _, items := newTestBuffers(t)
	session := &model.StocktakeSession{ID: uuid.New(), TenantID: uuid.New(), Items: items}
	buffers.Open(session)
	buffers.Close(session.ID)

	stale := buffers.Open(session)
	_, err := stale.SetCount(items[0].ID, 1)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	_, ok := buffers.Get(session.TenantID, session.ID)
	assert.False(t, ok)
}
