package service

import (
	"context"
	"testing"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func itemFor(t *testing.T, s *model.StocktakeSession, productID uuid.UUID) model.StocktakeItem {
	t.Helper()
	for _, it := range s.Items {
		if it.ProductID == productID {
			return it
		}
	}
	t.Fatalf("no item for product %s", productID)
	return model.StocktakeItem{}
}

func startedSession(t *testing.T, f *fixture, wh model.Warehouse) *model.StocktakeSession {
	t.Helper()
	ctx := context.Background()
	session, err := f.stocktakes.Create(ctx, f.staff(), CreateStocktakeRequest{WarehouseID: wh.ID.String()})
	require.NoError(t, err)
	session, err = f.stocktakes.Start(ctx, f.staff(), session.ID)
	require.NoError(t, err)
	return session
}

func TestStocktake_CreateSnapshotsSystemQuantity(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	b := f.product("B")
	f.combo("SET", map[uuid.UUID]int{a.ID: 1})
	f.db.setQty(wh.ID, a.ID, 8)

	session, err := f.stocktakes.Create(context.Background(), f.staff(), CreateStocktakeRequest{WarehouseID: wh.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, model.StocktakeDraft, session.Status)
	require.Len(t, session.Items, 2, "combos are never counted")
	assert.Equal(t, 8, itemFor(t, session, a.ID).SystemQty)
	assert.Equal(t, 0, itemFor(t, session, b.ID).SystemQty)
	assert.Equal(t, "all products", session.Scope)
}

func TestStocktake_ScopeByProductWithVariants(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	parent := f.product("SHIRT")
	variant := f.db.addProduct(model.Product{TenantID: f.tenant, SKU: "SHIRT-XL", ParentID: &parent.ID})
	f.product("OTHER")

	session, err := f.stocktakes.Create(context.Background(), f.staff(), CreateStocktakeRequest{
		WarehouseID:     wh.ID.String(),
		ProductIDs:      []string{parent.ID.String()},
		IncludeVariants: true,
	})
	require.NoError(t, err)
	require.Len(t, session.Items, 2)
	itemFor(t, session, variant.ID)
}

func TestStocktake_EmptyScopeRejected(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	f.product("A")

	_, err := f.stocktakes.Create(context.Background(), f.staff(), CreateStocktakeRequest{WarehouseID: wh.ID.String(), Category: "none"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "scope", verr.Field)
}

func TestStocktake_CountingRequiresInProgress(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	f.product("A")
	ctx := context.Background()

	session, err := f.stocktakes.Create(ctx, f.staff(), CreateStocktakeRequest{WarehouseID: wh.ID.String()})
	require.NoError(t, err)

	_, err = f.stocktakes.SetItem(ctx, f.staff(), session.ID, session.Items[0].ID, SetCountRequest{ActualQty: intPtr(1)})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
}

func TestStocktake_CompletePostsVariance(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	b := f.product("B")
	f.db.setQty(wh.ID, a.ID, 8)
	f.db.setQty(wh.ID, b.ID, 3)
	ctx := context.Background()

	session := startedSession(t, f, wh)
	_, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{ActualQty: intPtr(6)})
	require.NoError(t, err)
	_, err = f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, b.ID).ID, SetCountRequest{ActualQty: intPtr(5)})
	require.NoError(t, err)

	summary, err := f.stocktakes.Complete(ctx, f.manager(), session.ID, CompleteStocktakeRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.StocktakeCompleted, summary.Session.Status)
	assert.Equal(t, 2, summary.Counted)
	assert.Equal(t, 2, summary.Posted)
	assert.Equal(t, -2, summary.Session.UnderTotal)
	assert.Equal(t, 2, summary.Session.OverTotal)

	assert.Equal(t, 6, f.db.qty(wh.ID, a.ID))
	assert.Equal(t, 5, f.db.qty(wh.ID, b.ID))

	stored := f.sessions.stored(session.ID)
	assert.Equal(t, -2, stored.UnderTotal)
	assert.Equal(t, 2, stored.PostedLines)
	assert.True(t, itemFor(t, &stored, a.ID).Posted)

	moves, _, err := f.movements.List(ctx, movementFilter(wh.ID, a.ID))
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, model.SourceStocktake, moves[0].Source)
	assert.Equal(t, session.ID, *moves[0].ReferenceID)
}

func TestStocktake_UnsetPolicy(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	b := f.product("B")
	f.db.setQty(wh.ID, a.ID, 8)
	f.db.setQty(wh.ID, b.ID, 3)
	ctx := context.Background()

	session := startedSession(t, f, wh)
	_, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{ActualQty: intPtr(7)})
	require.NoError(t, err)

	summary, err := f.stocktakes.Complete(ctx, f.manager(), session.ID, CompleteStocktakeRequest{UnsetPolicy: UnsetTreatAsSystem})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counted)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 1, summary.Posted)
	assert.Equal(t, 3, f.db.qty(wh.ID, b.ID), "an uncounted item is never zeroed")
}

func TestStocktake_PartialFailureStillCompletes(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	b := f.product("B")
	f.db.setQty(wh.ID, a.ID, 8)
	f.db.setQty(wh.ID, b.ID, 8)
	ctx := context.Background()

	session := startedSession(t, f, wh)
	itemA := itemFor(t, session, a.ID)
	itemB := itemFor(t, session, b.ID)
	_, err := f.stocktakes.ApplyCountBatch(ctx, f.staff(), session.ID, []CountEvent{
		{ItemID: itemA.ID, ActualQty: intPtr(2), Seq: 1},
		{ItemID: itemB.ID, ActualQty: intPtr(10), Seq: 2},
	})
	require.NoError(t, err)

	// Stock sold while counting: A can no longer absorb -6.
	f.db.setQty(wh.ID, a.ID, 1)

	summary, err := f.stocktakes.Complete(ctx, f.manager(), session.ID, CompleteStocktakeRequest{})
	var partial *PartialAdjustmentError
	require.ErrorAs(t, err, &partial)
	require.NotNil(t, summary)
	assert.Equal(t, model.StocktakeCompleted, summary.Session.Status)
	assert.Equal(t, 1, summary.Posted)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, itemA.ID, partial.Failures[0].ItemID)
	assert.Equal(t, -6, partial.Failures[0].Diff)

	assert.Equal(t, 1, f.db.qty(wh.ID, a.ID))
	assert.Equal(t, 10, f.db.qty(wh.ID, b.ID))

	stored := f.sessions.stored(session.ID)
	assert.Equal(t, model.StocktakeCompleted, stored.Status)
	failed := itemFor(t, &stored, a.ID)
	assert.False(t, failed.Posted)
	assert.NotEmpty(t, failed.PostError)
	assert.Equal(t, 1, stored.FailedLines)
}

func TestStocktake_StaffCannotComplete(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	f.product("A")

	session := startedSession(t, f, wh)
	_, err := f.stocktakes.Complete(context.Background(), f.staff(), session.ID, CompleteStocktakeRequest{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestStocktake_ScanAndGetOverlay(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.db.addProduct(model.Product{TenantID: f.tenant, SKU: "ABC-1", Name: "Blue Mug"})
	ctx := context.Background()

	session := startedSession(t, f, wh)
	res, err := f.stocktakes.Scan(ctx, f.staff(), session.ID, "abc-1")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 1, res.ActualQty)

	res, err = f.stocktakes.Scan(ctx, f.staff(), session.ID, "blue mug")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ActualQty)

	res, err = f.stocktakes.Scan(ctx, f.staff(), session.ID, "nope")
	require.ErrorIs(t, err, ErrScanUnmatched)
	assert.False(t, res.Matched)

	got, err := f.stocktakes.Get(ctx, f.staff(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *itemFor(t, got, a.ID).ActualQty, "unsaved counts are visible")
	assert.Nil(t, itemFor(t, ptrSession(f.sessions.stored(session.ID)), a.ID).ActualQty)

	saved, err := f.stocktakes.SaveCounts(ctx, f.staff(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, 2, *itemFor(t, ptrSession(f.sessions.stored(session.ID)), a.ID).ActualQty)
}

func TestStocktake_FillUnset(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	b := f.product("B")
	f.db.setQty(wh.ID, a.ID, 4)
	f.db.setQty(wh.ID, b.ID, 9)
	ctx := context.Background()

	session := startedSession(t, f, wh)
	_, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{ActualQty: intPtr(1)})
	require.NoError(t, err)

	n, err := f.stocktakes.FillUnset(ctx, f.staff(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.stocktakes.Get(ctx, f.staff(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, *itemFor(t, got, a.ID).ActualQty)
	assert.Equal(t, 9, *itemFor(t, got, b.ID).ActualQty)
}

func TestStocktake_CancelLeavesLedgerAlone(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	f.db.setQty(wh.ID, a.ID, 8)
	ctx := context.Background()

	session := startedSession(t, f, wh)
	_, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{ActualQty: intPtr(1)})
	require.NoError(t, err)

	cancelled, err := f.stocktakes.Cancel(ctx, f.manager(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StocktakeCancelled, cancelled.Status)
	assert.Equal(t, 8, f.db.qty(wh.ID, a.ID))

	_, err = f.stocktakes.Complete(ctx, f.manager(), session.ID, CompleteStocktakeRequest{})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)

	_, err = f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{ActualQty: intPtr(2)})
	require.ErrorAs(t, err, &terr)
}

func TestStocktake_BufferReopensAfterRestart(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	ctx := context.Background()

	session := startedSession(t, f, wh)
	_, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{ActualQty: intPtr(3)})
	require.NoError(t, err)
	_, err = f.stocktakes.SaveCounts(ctx, f.staff(), session.ID)
	require.NoError(t, err)

	f.buffers.Drop(session.ID)

	item, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{Note: strPtr("shelf 4")})
	require.NoError(t, err)
	assert.Equal(t, 3, *item.ActualQty, "reopened buffer starts from saved counts")
	assert.Equal(t, "shelf 4", item.Note)
}

func ptrSession(s model.StocktakeSession) *model.StocktakeSession { return &s }

func strPtr(s string) *string { return &s }

func TestStocktake_EditsDuringCompletionAreRejected(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	f.db.setQty(wh.ID, a.ID, 8)
	ctx := context.Background()

	session := startedSession(t, f, wh)
	itemID := itemFor(t, session, a.ID).ID

	var lateErr error
	f.sessions.beforeTransition = func(uuid.UUID) {
		f.sessions.beforeTransition = nil
		_, lateErr = f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemID, SetCountRequest{ActualQty: intPtr(6)})
	}

	summary, err := f.stocktakes.Complete(ctx, f.manager(), session.ID, CompleteStocktakeRequest{})
	require.NoError(t, err)

	var terr *TransitionError
	require.ErrorAs(t, lateErr, &terr, "a count arriving after the final flush must not be accepted")
	assert.Equal(t, 0, summary.Counted)
	assert.Equal(t, 8, f.db.qty(wh.ID, a.ID))

	_, err = f.stocktakes.Scan(ctx, f.staff(), session.ID, "A")
	require.ErrorAs(t, err, &terr)
}

func TestStocktake_CountsBeforeCompletionArePosted(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	f.db.setQty(wh.ID, a.ID, 8)
	ctx := context.Background()

	session := startedSession(t, f, wh)
	// Unsaved edit; completion must flush it before posting.
	_, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemFor(t, session, a.ID).ID, SetCountRequest{ActualQty: intPtr(6)})
	require.NoError(t, err)

	summary, err := f.stocktakes.Complete(ctx, f.manager(), session.ID, CompleteStocktakeRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counted)
	assert.Equal(t, 6, f.db.qty(wh.ID, a.ID))
}

func TestStocktake_FailedCompletionReopensCounting(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.product("A")
	ctx := context.Background()

	session := startedSession(t, f, wh)
	itemID := itemFor(t, session, a.ID).ID
	_, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemID, SetCountRequest{ActualQty: intPtr(1)})
	require.NoError(t, err)

	f.sessions.failApply = errBoom
	_, err = f.stocktakes.Complete(ctx, f.manager(), session.ID, CompleteStocktakeRequest{})
	require.ErrorIs(t, err, errBoom)

	item, err := f.stocktakes.SetItem(ctx, f.staff(), session.ID, itemID, SetCountRequest{ActualQty: intPtr(2)})
	require.NoError(t, err, "session is still in progress")
	assert.Equal(t, 2, *item.ActualQty)
}
