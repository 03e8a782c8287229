package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// countStore is the persistence a CountBuffer flushes into.
type countStore interface {
	ApplyCounts(ctx context.Context, sessionID uuid.UUID, writes []repository.CountWrite) (int, error)
}

// CountEvent is a client-side edit replayed through ApplyEvents. Nil fields
// are left unchanged.
type CountEvent struct {
	ItemID    uuid.UUID `json:"item_id"`
	ActualQty *int      `json:"actual_qty"`
	Note      *string   `json:"note"`
	Seq       int64     `json:"seq"`
}

// ScanResult reports the item a scanned code resolved to.
type ScanResult struct {
	Matched     bool      `json:"matched"`
	Code        string    `json:"code"`
	ItemID      uuid.UUID `json:"item_id,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	ActualQty   int       `json:"actual_qty"`
}

// CountBuffer is the in-memory command queue of one in-progress stocktake.
// Edits land in the local view immediately and are persisted by Flush; the
// buffer lock is never held across a database call.
type CountBuffer struct {
	sessionID uuid.UUID
	tenantID  uuid.UUID
	store     countStore

	mu      sync.Mutex
	items   map[uuid.UUID]*model.StocktakeItem
	order   []uuid.UUID
	pending map[uuid.UUID]repository.CountWrite
	seq     int64
	sealed  bool

	flushMu sync.Mutex
}

func newCountBuffer(sessionID, tenantID uuid.UUID, items []model.StocktakeItem, store countStore) *CountBuffer {
	b := &CountBuffer{
		sessionID: sessionID,
		tenantID:  tenantID,
		store:     store,
		items:     make(map[uuid.UUID]*model.StocktakeItem, len(items)),
		pending:   make(map[uuid.UUID]repository.CountWrite),
	}
	for i := range items {
		it := items[i]
		if it.ActualQty != nil {
			qty := *it.ActualQty
			it.ActualQty = &qty
		}
		b.items[it.ID] = &it
		b.order = append(b.order, it.ID)
		if it.EditSeq > b.seq {
			b.seq = it.EditSeq
		}
	}
	return b
}

// SetCount records the counted quantity of one item.
func (b *CountBuffer) SetCount(itemID uuid.UUID, qty int) (model.StocktakeItem, error) {
	if qty < 0 {
		return model.StocktakeItem{}, invalid("actual_qty", "must not be negative")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return model.StocktakeItem{}, errSealed()
	}

	item, ok := b.items[itemID]
	if !ok {
		return model.StocktakeItem{}, fmt.Errorf("stocktake item %s: %w", itemID, ErrNotFound)
	}
	item.ActualQty = &qty
	b.touch(item)
	return *item, nil
}

func (b *CountBuffer) SetNote(itemID uuid.UUID, note string) (model.StocktakeItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return model.StocktakeItem{}, errSealed()
	}

	item, ok := b.items[itemID]
	if !ok {
		return model.StocktakeItem{}, fmt.Errorf("stocktake item %s: %w", itemID, ErrNotFound)
	}
	item.Note = note
	b.touch(item)
	return *item, nil
}

// Scan increments the item whose SKU, or failing that product name, equals
// code case-insensitively. An unset count starts from zero. An unmatched code
// returns ErrScanUnmatched together with the unmatched result.
func (b *CountBuffer) Scan(code string) (ScanResult, error) {
	code = strings.TrimSpace(code)
	res := ScanResult{Code: code}
	if code == "" {
		return res, invalid("code", "is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return res, errSealed()
	}

	item := b.match(code)
	if item == nil {
		return res, ErrScanUnmatched
	}
	qty := 1
	if item.ActualQty != nil {
		qty = *item.ActualQty + 1
	}
	item.ActualQty = &qty
	b.touch(item)

	res.Matched = true
	res.ItemID = item.ID
	res.SKU = item.SKU
	res.ProductName = item.ProductName
	res.ActualQty = qty
	return res, nil
}

func (b *CountBuffer) match(code string) *model.StocktakeItem {
	for _, id := range b.order {
		if strings.EqualFold(b.items[id].SKU, code) {
			return b.items[id]
		}
	}
	for _, id := range b.order {
		if strings.EqualFold(b.items[id].ProductName, code) {
			return b.items[id]
		}
	}
	return nil
}

// FillUnset sets every uncounted item to its system quantity and returns how
// many items changed.
func (b *CountBuffer) FillUnset() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return 0, errSealed()
	}

	n := 0
	for _, id := range b.order {
		item := b.items[id]
		if item.ActualQty != nil {
			continue
		}
		qty := item.SystemQty
		item.ActualQty = &qty
		b.touch(item)
		n++
	}
	return n, nil
}

// ApplyEvents replays client edits. An event whose Seq is not newer than the
// item's last applied edit is skipped, so replays are harmless.
func (b *CountBuffer) ApplyEvents(events []CountEvent) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return 0, errSealed()
	}

	for i, ev := range events {
		if _, ok := b.items[ev.ItemID]; !ok {
			return 0, invalid(fmt.Sprintf("events[%d].item_id", i), "item does not belong to this session")
		}
		if ev.ActualQty != nil && *ev.ActualQty < 0 {
			return 0, invalid(fmt.Sprintf("events[%d].actual_qty", i), "must not be negative")
		}
		if ev.Seq <= 0 {
			return 0, invalid(fmt.Sprintf("events[%d].seq", i), "must be positive")
		}
	}

	sorted := append([]CountEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	applied := 0
	for _, ev := range sorted {
		item := b.items[ev.ItemID]
		if ev.Seq <= item.EditSeq {
			continue
		}
		if ev.ActualQty != nil {
			qty := *ev.ActualQty
			item.ActualQty = &qty
		}
		if ev.Note != nil {
			item.Note = *ev.Note
		}
		if ev.Seq > b.seq {
			b.seq = ev.Seq
		}
		item.EditSeq = ev.Seq
		b.pending[item.ID] = writeOf(item)
		applied++
	}
	return applied, nil
}

// Seal rejects further edits. Edits accepted before Seal returns are in the
// pending set and reach the store with the next Flush.
func (b *CountBuffer) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Unseal reopens a buffer whose session stayed in progress.
func (b *CountBuffer) Unseal() {
	b.mu.Lock()
	b.sealed = false
	b.mu.Unlock()
}

func errSealed() error {
	return &TransitionError{Entity: "stocktake", From: "closing", To: "counting"}
}

// touch assigns the next sequence number and marks the item dirty.
func (b *CountBuffer) touch(item *model.StocktakeItem) {
	b.seq++
	item.EditSeq = b.seq
	b.pending[item.ID] = writeOf(item)
}

func writeOf(item *model.StocktakeItem) repository.CountWrite {
	w := repository.CountWrite{ItemID: item.ID, Note: item.Note, EditSeq: item.EditSeq}
	if item.ActualQty != nil {
		qty := *item.ActualQty
		w.ActualQty = &qty
	}
	return w
}

// Dirty is the number of items with unsaved edits.
func (b *CountBuffer) Dirty() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Items returns a copy of the local view in session order.
func (b *CountBuffer) Items() []model.StocktakeItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.StocktakeItem, 0, len(b.order))
	for _, id := range b.order {
		it := *b.items[id]
		if it.ActualQty != nil {
			qty := *it.ActualQty
			it.ActualQty = &qty
		}
		out = append(out, it)
	}
	return out
}

// Flush persists dirty items only. On failure the batch is merged back,
// except for items edited again while the write was in flight.
func (b *CountBuffer) Flush(ctx context.Context) (int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return 0, nil
	}
	batch := b.pending
	b.pending = make(map[uuid.UUID]repository.CountWrite)
	b.mu.Unlock()

	writes := make([]repository.CountWrite, 0, len(batch))
	for _, w := range batch {
		writes = append(writes, w)
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].EditSeq < writes[j].EditSeq })

	applied, err := b.store.ApplyCounts(ctx, b.sessionID, writes)
	if err != nil {
		b.mu.Lock()
		for id, w := range batch {
			if newer, ok := b.pending[id]; ok && newer.EditSeq > w.EditSeq {
				continue
			}
			b.pending[id] = w
		}
		b.mu.Unlock()
		return applied, fmt.Errorf("flush stocktake counts: %w", err)
	}
	return applied, nil
}

// CountBuffers holds one CountBuffer per in-progress session and autosaves
// them in the background.
type CountBuffers struct {
	store    countStore
	interval time.Duration

	mu      sync.Mutex
	buffers map[uuid.UUID]*CountBuffer
	closed  map[uuid.UUID]bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewCountBuffers(store countStore, interval time.Duration) *CountBuffers {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &CountBuffers{
		store:    store,
		interval: interval,
		buffers:  make(map[uuid.UUID]*CountBuffer),
		closed:   make(map[uuid.UUID]bool),
		stopChan: make(chan struct{}),
	}
}

// Open returns the session's buffer, creating it from the session's items on
// first use. A closed session gets a sealed, unregistered buffer so that a
// caller holding a stale in-progress snapshot cannot resurrect it.
func (r *CountBuffers) Open(session *model.StocktakeSession) *CountBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buffers[session.ID]; ok {
		return b
	}
	b := newCountBuffer(session.ID, session.TenantID, session.Items, r.store)
	if r.closed[session.ID] {
		b.sealed = true
		return b
	}
	r.buffers[session.ID] = b
	return b
}

// Get returns the open buffer of a session that belongs to tenantID.
func (r *CountBuffers) Get(tenantID, sessionID uuid.UUID) (*CountBuffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[sessionID]
	if !ok || b.tenantID != tenantID {
		return nil, false
	}
	return b, true
}

// Drop forgets the buffer; the next Open rebuilds it from stored counts.
func (r *CountBuffers) Drop(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, sessionID)
}

// Close drops the buffer of a session that left in_progress for good.
func (r *CountBuffers) Close(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, sessionID)
	r.closed[sessionID] = true
}

// FlushAll flushes every buffer and joins the errors.
func (r *CountBuffers) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	buffers := make([]*CountBuffer, 0, len(r.buffers))
	for _, b := range r.buffers {
		buffers = append(buffers, b)
	}
	r.mu.Unlock()

	var errs []error
	for _, b := range buffers {
		if _, err := b.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start launches the autosave worker.
func (r *CountBuffers) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.autosaveWorker(ctx)
	log.Info().Dur("interval", r.interval).Msg("stocktake autosave started")
}

// Stop ends the worker after a final flush.
func (r *CountBuffers) Stop() {
	close(r.stopChan)
	r.wg.Wait()
}

func (r *CountBuffers) autosaveWorker(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := r.FlushAll(flushCtx); err != nil {
				log.Error().Err(err).Msg("stocktake autosave: final flush failed")
			}
			cancel()
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.FlushAll(ctx); err != nil {
				log.Warn().Err(err).Msg("stocktake autosave: flush failed, will retry")
			}
		}
	}
}
