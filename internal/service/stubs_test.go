package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"stockledger/internal/auth"
	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ── In-memory database shared by the stub repositories ──────────────────────

type stockKey struct {
	warehouse uuid.UUID
	product   uuid.UUID
}

type memDB struct {
	mu         sync.Mutex
	stock      map[stockKey]int
	movements  []model.InventoryTransaction
	serials    []model.ProductSerial
	docs       map[uuid.UUID]model.StockTransaction
	transfers  map[uuid.UUID]model.TransferOrder
	sessions   map[uuid.UUID]model.StocktakeSession
	warehouses map[uuid.UUID]model.Warehouse
	products   map[uuid.UUID]model.Product
	combos     map[uuid.UUID][]model.ComboItem

	// failAdjust forces Adjust to fail for a product.
	failAdjust map[uuid.UUID]error
}

func newMemDB() *memDB {
	return &memDB{
		stock:      make(map[stockKey]int),
		docs:       make(map[uuid.UUID]model.StockTransaction),
		transfers:  make(map[uuid.UUID]model.TransferOrder),
		sessions:   make(map[uuid.UUID]model.StocktakeSession),
		warehouses: make(map[uuid.UUID]model.Warehouse),
		products:   make(map[uuid.UUID]model.Product),
		combos:     make(map[uuid.UUID][]model.ComboItem),
		failAdjust: make(map[uuid.UUID]error),
	}
}

// snapshot deep-copies every table a transaction may touch.
func (m *memDB) snapshot() *memDB {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newMemDB()
	for k, v := range m.stock {
		s.stock[k] = v
	}
	s.movements = append(s.movements, m.movements...)
	s.serials = append(s.serials, m.serials...)
	for k, v := range m.docs {
		v.Items = append([]model.StockTransactionItem(nil), v.Items...)
		s.docs[k] = v
	}
	for k, v := range m.transfers {
		v.Items = append([]model.TransferItem(nil), v.Items...)
		s.transfers[k] = v
	}
	for k, v := range m.sessions {
		v.Items = append([]model.StocktakeItem(nil), v.Items...)
		s.sessions[k] = v
	}
	for k, v := range m.warehouses {
		s.warehouses[k] = v
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.combos {
		s.combos[k] = append([]model.ComboItem(nil), v...)
	}
	return s
}

func (m *memDB) restore(s *memDB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock = s.stock
	m.movements = s.movements
	m.serials = s.serials
	m.docs = s.docs
	m.transfers = s.transfers
	m.sessions = s.sessions
	m.warehouses = s.warehouses
	m.products = s.products
	m.combos = s.combos
}

func (m *memDB) qty(warehouseID, productID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[stockKey{warehouseID, productID}]
}

func (m *memDB) setQty(warehouseID, productID uuid.UUID, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[stockKey{warehouseID, productID}] = qty
}

func (m *memDB) movementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.movements)
}

func (m *memDB) addWarehouse(tenantID uuid.UUID, code string) model.Warehouse {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := model.Warehouse{ID: uuid.New(), TenantID: tenantID, Code: code, Name: code, IsActive: true}
	m.warehouses[w.ID] = w
	return w
}

func (m *memDB) addProduct(p model.Product) model.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Name == "" {
		p.Name = p.SKU
	}
	m.products[p.ID] = p
	return p
}

func (m *memDB) addCombo(comboID uuid.UUID, children map[uuid.UUID]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for childID, per := range children {
		m.combos[comboID] = append(m.combos[comboID], model.ComboItem{
			ComboProductID: comboID,
			ChildProductID: childID,
			QtyPerCombo:    per,
		})
	}
}

// ── TransactionManager ───────────────────────────────────────────────────────

type stubTxKey struct{}

type stubTxState struct {
	hooks []func()
}

type stubTxManager struct {
	db *memDB
}

func (t *stubTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(stubTxKey{}).(*stubTxState); ok {
		return fn(ctx)
	}
	state := &stubTxState{}
	snap := t.db.snapshot()
	if err := fn(context.WithValue(ctx, stubTxKey{}, state)); err != nil {
		t.db.restore(snap)
		return err
	}
	for _, h := range state.hooks {
		h()
	}
	return nil
}

func (t *stubTxManager) AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(stubTxKey{}).(*stubTxState); ok {
		state.hooks = append(state.hooks, fn)
		return
	}
	fn()
}

// ── StockRepository ──────────────────────────────────────────────────────────

type stubStockRepo struct{ db *memDB }

func (r *stubStockRepo) Adjust(_ context.Context, warehouseID, productID uuid.UUID, delta int) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.failAdjust[productID]; err != nil {
		return 0, err
	}
	key := stockKey{warehouseID, productID}
	next := r.db.stock[key] + delta
	if next < 0 {
		return 0, repository.ErrInsufficientStock
	}
	r.db.stock[key] = next
	return next, nil
}

func (r *stubStockRepo) Get(_ context.Context, warehouseID, productID uuid.UUID) (int, error) {
	return r.db.qty(warehouseID, productID), nil
}

func (r *stubStockRepo) GetMany(_ context.Context, warehouseID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[uuid.UUID]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = r.db.stock[stockKey{warehouseID, id}]
	}
	return out, nil
}

func (r *stubStockRepo) ListByWarehouse(_ context.Context, warehouseID uuid.UUID) ([]model.WarehouseStock, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.WarehouseStock
	for k, v := range r.db.stock {
		if k.warehouse == warehouseID {
			out = append(out, model.WarehouseStock{WarehouseID: k.warehouse, ProductID: k.product, Quantity: v})
		}
	}
	return out, nil
}

func (r *stubStockRepo) TotalByWarehouse(_ context.Context, warehouseID uuid.UUID) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var total int64
	for k, v := range r.db.stock {
		if k.warehouse == warehouseID {
			total += int64(v)
		}
	}
	return total, nil
}

// ── InventoryTxRepository ────────────────────────────────────────────────────

type stubMovementRepo struct{ db *memDB }

func (r *stubMovementRepo) Create(_ context.Context, tx *model.InventoryTransaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	r.db.movements = append(r.db.movements, *tx)
	return nil
}

func (r *stubMovementRepo) List(_ context.Context, f repository.MovementFilter) ([]model.InventoryTransaction, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.InventoryTransaction
	for _, m := range r.db.movements {
		if f.WarehouseID != uuid.Nil && m.WarehouseID != f.WarehouseID {
			continue
		}
		if f.ProductID != uuid.Nil && m.ProductID != f.ProductID {
			continue
		}
		if f.Source != "" && m.Source != f.Source {
			continue
		}
		if f.ReferenceID != uuid.Nil && (m.ReferenceID == nil || *m.ReferenceID != f.ReferenceID) {
			continue
		}
		out = append(out, m)
	}
	return out, int64(len(out)), nil
}

// ── ProductRepository ────────────────────────────────────────────────────────

type stubProductRepo struct{ db *memDB }

func (r *stubProductRepo) Create(_ context.Context, p *model.Product) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.products {
		if existing.TenantID == p.TenantID && existing.SKU == p.SKU {
			return repository.ErrDuplicateKey
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.db.products[p.ID] = *p
	return nil
}

func (r *stubProductRepo) Update(_ context.Context, p *model.Product) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.products[p.ID] = *p
	return nil
}

func (r *stubProductRepo) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p, ok := r.db.products[id]; ok && p.TenantID == tenantID {
		delete(r.db.products, id)
	}
	return nil
}

func (r *stubProductRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*model.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *stubProductRepo) FindByIDs(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]model.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.Product
	seen := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if p, ok := r.db.products[id]; ok && p.TenantID == tenantID && !seen[id] {
			out = append(out, p)
			seen[id] = true
		}
	}
	return out, nil
}

func (r *stubProductRepo) FindBySKU(_ context.Context, tenantID uuid.UUID, sku string) (*model.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.products {
		if p.TenantID == tenantID && p.SKU == sku {
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubProductRepo) List(_ context.Context, tenantID uuid.UUID, f repository.ProductFilter) ([]model.Product, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.Product
	for _, p := range r.db.products {
		if p.TenantID != tenantID {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.SKU), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, int64(len(out)), nil
}

func (r *stubProductRepo) FindForScope(_ context.Context, tenantID uuid.UUID, scope repository.ProductScope) ([]model.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(scope.ProductIDs))
	for _, id := range scope.ProductIDs {
		wanted[id] = true
	}
	var out []model.Product
	for _, p := range r.db.products {
		if p.TenantID != tenantID || p.IsCombo {
			continue
		}
		if len(wanted) > 0 {
			inScope := wanted[p.ID] || (scope.IncludeVariants && p.ParentID != nil && wanted[*p.ParentID])
			if !inScope {
				continue
			}
		}
		if scope.Category != "" && p.Category != scope.Category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *stubProductRepo) ComboItems(_ context.Context, comboIDs []uuid.UUID) (map[uuid.UUID][]model.ComboItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[uuid.UUID][]model.ComboItem, len(comboIDs))
	for _, id := range comboIDs {
		for _, it := range r.db.combos[id] {
			if child, ok := r.db.products[it.ChildProductID]; ok {
				c := child
				it.Child = &c
			}
			out[id] = append(out[id], it)
		}
	}
	return out, nil
}

func (r *stubProductRepo) ReplaceComboItems(_ context.Context, comboID uuid.UUID, items []model.ComboItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.combos[comboID] = append([]model.ComboItem(nil), items...)
	return nil
}

// ── WarehouseRepository ──────────────────────────────────────────────────────

type stubWarehouseRepo struct {
	db *memDB
	// beforeWrite runs at the start of Update and Delete, between the
	// service's read and its write.
	beforeWrite func(id uuid.UUID)
}

func (r *stubWarehouseRepo) Create(_ context.Context, w *model.Warehouse) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.warehouses {
		if existing.TenantID == w.TenantID && existing.Code == w.Code {
			return repository.ErrDuplicateKey
		}
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	r.db.warehouses[w.ID] = *w
	return nil
}

func (r *stubWarehouseRepo) Update(_ context.Context, w *model.Warehouse) error {
	if r.beforeWrite != nil {
		r.beforeWrite(w.ID)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.warehouses[w.ID]
	if !ok || stored.TenantID != w.TenantID || (!w.IsActive && stored.IsDefault) {
		return repository.ErrStaleState
	}
	stored.Name, stored.IsActive = w.Name, w.IsActive
	r.db.warehouses[w.ID] = stored
	return nil
}

func (r *stubWarehouseRepo) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	if r.beforeWrite != nil {
		r.beforeWrite(id)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.warehouses[id]
	if !ok || w.TenantID != tenantID || w.IsDefault {
		return repository.ErrStaleState
	}
	for k, qty := range r.db.stock {
		if k.warehouse == id && qty != 0 {
			return repository.ErrStaleState
		}
	}
	delete(r.db.warehouses, id)
	return nil
}

func (r *stubWarehouseRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*model.Warehouse, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.warehouses[id]
	if !ok || w.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	return &w, nil
}

func (r *stubWarehouseRepo) FindDefault(_ context.Context, tenantID uuid.UUID) (*model.Warehouse, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, w := range r.db.warehouses {
		if w.TenantID == tenantID && w.IsDefault {
			return &w, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubWarehouseRepo) List(_ context.Context, tenantID uuid.UUID) ([]model.Warehouse, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.Warehouse
	for _, w := range r.db.warehouses {
		if w.TenantID == tenantID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *stubWarehouseRepo) SetDefault(_ context.Context, tenantID, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if w, ok := r.db.warehouses[id]; !ok || w.TenantID != tenantID {
		return gorm.ErrRecordNotFound
	}
	for k, w := range r.db.warehouses {
		if w.TenantID == tenantID {
			w.IsDefault = k == id
			r.db.warehouses[k] = w
		}
	}
	return nil
}

// ── SerialRepository ─────────────────────────────────────────────────────────

type stubSerialRepo struct{ db *memDB }

func (r *stubSerialRepo) CreateBatch(_ context.Context, serials []model.ProductSerial) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range serials {
		for _, existing := range r.db.serials {
			if existing.TenantID == s.TenantID && existing.Serial == s.Serial {
				return repository.ErrDuplicateSerial
			}
		}
	}
	for _, s := range serials {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		r.db.serials = append(r.db.serials, s)
	}
	return nil
}

func (r *stubSerialRepo) FindExisting(_ context.Context, tenantID uuid.UUID, serials []string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []string
	for _, want := range serials {
		for _, s := range r.db.serials {
			if s.TenantID == tenantID && s.Serial == want {
				out = append(out, want)
				break
			}
		}
	}
	return out, nil
}

func (r *stubSerialRepo) MarkSold(_ context.Context, tenantID, warehouseID, productID uuid.UUID, serials []string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for i := range r.db.serials {
		s := &r.db.serials[i]
		if s.TenantID != tenantID || s.WarehouseID != warehouseID || s.ProductID != productID || s.Status != model.SerialInStock {
			continue
		}
		for _, want := range serials {
			if s.Serial == want {
				s.Status = model.SerialSold
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *stubSerialRepo) FindInStock(_ context.Context, tenantID, warehouseID, productID uuid.UUID, serials []string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []string
	for _, s := range r.db.serials {
		if s.TenantID != tenantID || s.WarehouseID != warehouseID || s.ProductID != productID || s.Status != model.SerialInStock {
			continue
		}
		if slices.Contains(serials, s.Serial) {
			out = append(out, s.Serial)
		}
	}
	return out, nil
}

func (r *stubSerialRepo) Move(_ context.Context, m repository.SerialMove) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for i := range r.db.serials {
		s := &r.db.serials[i]
		if s.TenantID != m.TenantID || s.WarehouseID != m.FromWarehouseID || s.ProductID != m.ProductID || s.Status != m.FromStatus {
			continue
		}
		if slices.Contains(m.Serials, s.Serial) {
			s.WarehouseID, s.Status = m.ToWarehouseID, m.ToStatus
			n++
		}
	}
	return n, nil
}

// serial returns the stored row for a serial number.
func (r *stubSerialRepo) serial(number string) model.ProductSerial {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.serials {
		if s.Serial == number {
			return s
		}
	}
	return model.ProductSerial{}
}

func (r *stubSerialRepo) List(_ context.Context, f repository.SerialFilter) ([]model.ProductSerial, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.ProductSerial
	for _, s := range r.db.serials {
		if s.TenantID != f.TenantID {
			continue
		}
		if f.ProductID != uuid.Nil && s.ProductID != f.ProductID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

// ── StockTransactionRepository ───────────────────────────────────────────────

type stubStockTxRepo struct {
	db *memDB
	// beforeTransition runs before the compare-and-swap, simulating a
	// concurrent writer.
	beforeTransition func(id uuid.UUID)
}

func (r *stubStockTxRepo) Create(_ context.Context, doc *model.StockTransaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	for i := range doc.Items {
		if doc.Items[i].ID == uuid.Nil {
			doc.Items[i].ID = uuid.New()
		}
		doc.Items[i].TransactionID = doc.ID
	}
	stored := *doc
	stored.Items = append([]model.StockTransactionItem(nil), doc.Items...)
	r.db.docs[doc.ID] = stored
	return nil
}

func (r *stubStockTxRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*model.StockTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	doc, ok := r.db.docs[id]
	if !ok || doc.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	doc.Items = append([]model.StockTransactionItem(nil), doc.Items...)
	return &doc, nil
}

func (r *stubStockTxRepo) List(_ context.Context, f repository.DocumentFilter) ([]model.StockTransaction, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.StockTransaction
	for _, doc := range r.db.docs {
		if doc.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && string(doc.Status) != f.Status {
			continue
		}
		if f.Type != "" && doc.Type != f.Type {
			continue
		}
		out = append(out, doc)
	}
	return out, int64(len(out)), nil
}

func (r *stubStockTxRepo) Transition(_ context.Context, id uuid.UUID, from, to model.ApprovalStatus, _ map[string]interface{}) error {
	if r.beforeTransition != nil {
		r.beforeTransition(id)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	doc, ok := r.db.docs[id]
	if !ok || doc.Status != from {
		return repository.ErrStaleState
	}
	doc.Status = to
	r.db.docs[id] = doc
	return nil
}

func (r *stubStockTxRepo) UpdateItemSerials(_ context.Context, itemID uuid.UUID, serials []string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, doc := range r.db.docs {
		for i := range doc.Items {
			if doc.Items[i].ID == itemID {
				doc.Items[i].Serials = serials
				r.db.docs[id] = doc
				return nil
			}
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubStockTxRepo) status(id uuid.UUID) model.ApprovalStatus {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.docs[id].Status
}

// ── TransferRepository ───────────────────────────────────────────────────────

type stubTransferRepo struct {
	db               *memDB
	beforeTransition func(id uuid.UUID)
}

func (r *stubTransferRepo) Create(_ context.Context, order *model.TransferOrder) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].TransferID = order.ID
	}
	stored := *order
	stored.Items = append([]model.TransferItem(nil), order.Items...)
	r.db.transfers[order.ID] = stored
	return nil
}

func (r *stubTransferRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*model.TransferOrder, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	order, ok := r.db.transfers[id]
	if !ok || order.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	order.Items = append([]model.TransferItem(nil), order.Items...)
	return &order, nil
}

func (r *stubTransferRepo) List(_ context.Context, f repository.DocumentFilter) ([]model.TransferOrder, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.TransferOrder
	for _, order := range r.db.transfers {
		if order.TenantID == f.TenantID && (f.Status == "" || string(order.Status) == f.Status) {
			out = append(out, order)
		}
	}
	return out, int64(len(out)), nil
}

func (r *stubTransferRepo) Transition(_ context.Context, id uuid.UUID, from, to model.TransferStatus, fields map[string]interface{}) error {
	if r.beforeTransition != nil {
		r.beforeTransition(id)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	order, ok := r.db.transfers[id]
	if !ok || order.Status != from {
		return repository.ErrStaleState
	}
	order.Status = to
	if v, ok := fields["variance_qty"].(int); ok {
		order.VarianceQty = v
	}
	r.db.transfers[id] = order
	return nil
}

func (r *stubTransferRepo) RecordReceipt(_ context.Context, item model.TransferItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, order := range r.db.transfers {
		for i := range order.Items {
			if order.Items[i].ID == item.ID {
				qty := *item.ReceivedQty
				order.Items[i].ReceivedQty = &qty
				order.Items[i].VarianceQty = item.VarianceQty
				order.Items[i].ReceivedSerials = item.ReceivedSerials
				r.db.transfers[id] = order
				return nil
			}
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubTransferRepo) status(id uuid.UUID) model.TransferStatus {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.transfers[id].Status
}

// ── StocktakeRepository ──────────────────────────────────────────────────────

type stubStocktakeRepo struct {
	db *memDB
	// failApply makes ApplyCounts fail once per set error.
	failApply error
	// beforeTransition runs before the compare-and-swap.
	beforeTransition func(id uuid.UUID)
}

func (r *stubStocktakeRepo) Create(_ context.Context, session *model.StocktakeSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	for i := range session.Items {
		if session.Items[i].ID == uuid.Nil {
			session.Items[i].ID = uuid.New()
		}
		session.Items[i].SessionID = session.ID
	}
	stored := *session
	stored.Items = cloneItems(session.Items)
	r.db.sessions[session.ID] = stored
	return nil
}

func (r *stubStocktakeRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*model.StocktakeSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	session, ok := r.db.sessions[id]
	if !ok || session.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	session.Items = cloneItems(session.Items)
	return &session, nil
}

func (r *stubStocktakeRepo) List(_ context.Context, f repository.DocumentFilter) ([]model.StocktakeSession, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.StocktakeSession
	for _, s := range r.db.sessions {
		if s.TenantID == f.TenantID && (f.Status == "" || string(s.Status) == f.Status) {
			out = append(out, s)
		}
	}
	return out, int64(len(out)), nil
}

func (r *stubStocktakeRepo) Transition(_ context.Context, id uuid.UUID, from, to model.StocktakeStatus, _ map[string]interface{}) error {
	if r.beforeTransition != nil {
		r.beforeTransition(id)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	session, ok := r.db.sessions[id]
	if !ok || session.Status != from {
		return repository.ErrStaleState
	}
	session.Status = to
	r.db.sessions[id] = session
	return nil
}

func (r *stubStocktakeRepo) ApplyCounts(_ context.Context, sessionID uuid.UUID, writes []repository.CountWrite) (int, error) {
	if err := r.failApply; err != nil {
		r.failApply = nil
		return 0, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	session, ok := r.db.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	applied := 0
	for _, w := range writes {
		for i := range session.Items {
			it := &session.Items[i]
			if it.ID != w.ItemID || it.EditSeq >= w.EditSeq {
				continue
			}
			if w.ActualQty != nil {
				qty := *w.ActualQty
				it.ActualQty = &qty
			} else {
				it.ActualQty = nil
			}
			it.Note = w.Note
			it.EditSeq = w.EditSeq
			applied++
		}
	}
	r.db.sessions[sessionID] = session
	return applied, nil
}

func (r *stubStocktakeRepo) updateItem(itemID uuid.UUID, fn func(*model.StocktakeItem) error) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, session := range r.db.sessions {
		for i := range session.Items {
			if session.Items[i].ID == itemID {
				if err := fn(&session.Items[i]); err != nil {
					return err
				}
				r.db.sessions[id] = session
				return nil
			}
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubStocktakeRepo) MarkItemPosted(_ context.Context, itemID uuid.UUID) error {
	return r.updateItem(itemID, func(it *model.StocktakeItem) error {
		if it.Posted {
			return repository.ErrStaleState
		}
		it.Posted = true
		it.PostError = ""
		return nil
	})
}

func (r *stubStocktakeRepo) MarkItemFailed(_ context.Context, itemID uuid.UUID, reason string) error {
	return r.updateItem(itemID, func(it *model.StocktakeItem) error {
		it.PostError = reason
		return nil
	})
}

func (r *stubStocktakeRepo) SaveTotals(_ context.Context, id uuid.UUID, t repository.StocktakeTotals) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	session := r.db.sessions[id]
	session.OverTotal = t.OverTotal
	session.UnderTotal = t.UnderTotal
	session.PostedLines = t.PostedLines
	session.FailedLines = t.FailedLines
	r.db.sessions[id] = session
	return nil
}

func (r *stubStocktakeRepo) stored(id uuid.UUID) model.StocktakeSession {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s := r.db.sessions[id]
	s.Items = cloneItems(s.Items)
	return s
}

func cloneItems(items []model.StocktakeItem) []model.StocktakeItem {
	out := make([]model.StocktakeItem, len(items))
	for i, it := range items {
		if it.ActualQty != nil {
			qty := *it.ActualQty
			it.ActualQty = &qty
		}
		out[i] = it
	}
	return out
}

// ── Collaborators ────────────────────────────────────────────────────────────

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixedCommitments map[uuid.UUID]int

func (f fixedCommitments) CommittedQty(_ context.Context, _ uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = f[id]
	}
	return out, nil
}

type recordingSettlement struct {
	requests []SettlementRequest
}

func (s *recordingSettlement) RequestSettlement(_ context.Context, req SettlementRequest) error {
	s.requests = append(s.requests, req)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []StockEvent
}

func (p *recordingPublisher) PublishStock(e StockEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// ── Fixture ──────────────────────────────────────────────────────────────────

// fixture wires every service over one memDB.
type fixture struct {
	tenant     uuid.UUID
	db         *memDB
	tx         *stubTxManager
	stock      *stubStockRepo
	movements  *stubMovementRepo
	products   *stubProductRepo
	warehouses *stubWarehouseRepo
	serials    *stubSerialRepo
	docs       *stubStockTxRepo
	transfers  *stubTransferRepo
	sessions   *stubStocktakeRepo

	audit       *recordingAudit
	settlement  *recordingSettlement
	publisher   *recordingPublisher
	commitments fixedCommitments
	buffers     *CountBuffers

	ledger       LedgerService
	combos       ComboService
	transactions TransactionService
	transferSvc  TransferService
	stocktakes   StocktakeService
	inventory    InventoryService
	warehouseSvc WarehouseService
	productSvc   ProductService
}

const testThreshold = 2

func newFixture() *fixture {
	db := newMemDB()
	f := &fixture{
		tenant:      uuid.New(),
		db:          db,
		tx:          &stubTxManager{db: db},
		stock:       &stubStockRepo{db: db},
		movements:   &stubMovementRepo{db: db},
		products:    &stubProductRepo{db: db},
		warehouses:  &stubWarehouseRepo{db: db},
		serials:     &stubSerialRepo{db: db},
		docs:        &stubStockTxRepo{db: db},
		transfers:   &stubTransferRepo{db: db},
		sessions:    &stubStocktakeRepo{db: db},
		audit:       &recordingAudit{},
		settlement:  &recordingSettlement{},
		publisher:   &recordingPublisher{},
		commitments: fixedCommitments{},
	}
	collab := Collaborators{Audit: f.audit, Commitments: f.commitments, Settlement: f.settlement}
	f.buffers = NewCountBuffers(f.sessions, 0)

	f.ledger = NewLedgerService(f.stock, f.movements, f.tx, f.publisher)
	f.combos = NewComboService(f.products, f.stock)
	f.transactions = NewTransactionService(f.docs, f.products, f.warehouses, f.serials, f.tx, f.ledger, f.combos, collab, testThreshold)
	f.transferSvc = NewTransferService(f.transfers, f.products, f.warehouses, f.serials, f.tx, f.ledger, collab, testThreshold)
	f.stocktakes = NewStocktakeService(f.sessions, f.products, f.warehouses, f.tx, f.ledger, f.buffers, collab, testThreshold)
	f.inventory = NewInventoryService(f.products, f.warehouses, f.movements, f.serials, f.ledger, f.combos, collab)
	f.warehouseSvc = NewWarehouseService(f.warehouses, f.stock, f.tx, f.audit)
	f.productSvc = NewProductService(f.products, f.tx, f.audit)
	return f
}

// staff can edit everything but approve nothing.
func (f *fixture) staff() *auth.Principal {
	return &auth.Principal{
		User:        uuid.New(),
		Tenant:      f.tenant,
		Username:    "staff",
		Role:        "staff",
		Permissions: []string{"stock.write", "transfer.write", "stocktake.write", "catalog.write", "warehouse.write"},
		Levels:      map[string]int{},
	}
}

func (f *fixture) manager() *auth.Principal {
	p := f.staff()
	p.Username = "manager"
	p.Role = "manager"
	p.Levels = map[string]int{auth.ModuleStock: 2, auth.ModuleTransfer: 2, auth.ModuleStocktake: 2}
	return p
}

func (f *fixture) viewer() *auth.Principal {
	p := f.staff()
	p.Permissions = nil
	return p
}

func (f *fixture) warehouse(code string) model.Warehouse {
	return f.db.addWarehouse(f.tenant, code)
}

func (f *fixture) product(sku string) model.Product {
	return f.db.addProduct(model.Product{TenantID: f.tenant, SKU: sku, Unit: "pcs", UnitPrice: decimal.NewFromInt(10)})
}

func (f *fixture) serialized(sku string) model.Product {
	return f.db.addProduct(model.Product{TenantID: f.tenant, SKU: sku, Unit: "pcs", HasSerial: true})
}

func (f *fixture) combo(sku string, children map[uuid.UUID]int) model.Product {
	p := f.db.addProduct(model.Product{TenantID: f.tenant, SKU: sku, Unit: "set", IsCombo: true})
	f.db.addCombo(p.ID, children)
	return p
}

var errBoom = errors.New("boom")

func movementFilter(warehouseID, productID uuid.UUID) repository.MovementFilter {
	return repository.MovementFilter{WarehouseID: warehouseID, ProductID: productID, Page: 1, Limit: 100}
}

func serialFilter(f *fixture, productID uuid.UUID, status ...string) repository.SerialFilter {
	filter := repository.SerialFilter{TenantID: f.tenant, ProductID: productID, Page: 1, Limit: 100}
	if len(status) > 0 {
		filter.Status = status[0]
	}
	return filter
}

func repositoryProductFilter() repository.ProductFilter {
	return repository.ProductFilter{Page: 1, Limit: 50}
}
