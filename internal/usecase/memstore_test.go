package usecase_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ecorder/internal/domain/model"
	repo "ecorder/internal/repository"
)

// =====================
// in-memory TransactionManager
// =====================

// memStore はインメモリDB。
// ロックは操作ごとに取るのでTx同士は並行に進む（read committed相当）。
// 書き込みはTxごとのundoログに積み、fnがerrorを返すかcommit失敗を注入したときに巻き戻す。
type memStore struct {
	mu sync.Mutex

	products    map[int64]model.Product
	orders      map[int64]model.Order
	items       map[int64][]model.OrderItem
	adjustments []memRow[model.InventoryAdjustment]
	auditLogs   []memRow[model.AuditLog]
	events      map[string]model.PaymentEvent
	nextOrderID int64

	txSeq atomic.Int64

	// 次のcommitをn回失敗させる
	failCommits int
	// CompareAndSetStatusの前に他Txの更新を割り込ませる（ロック中に呼ぶ）
	beforeCAS func(s *memStore)
	// 在庫減算の直前に呼ぶ（ロック中）。他Txに在庫を取られた状態を作る
	beforeDecrease func(s *memStore, productID int64)
	// 商品を読んだ直後に呼ぶ（ロック外）。並行Txの足並みを揃える
	afterProductRead func(productID int64)
}

// 追記型のテーブル行。rollbackでTx単位に消す
type memRow[T any] struct {
	txID int64
	row  T
}

func newMemStore(products ...model.Product) *memStore {
	s := &memStore{
		products: make(map[int64]model.Product),
		orders:   make(map[int64]model.Order),
		items:    make(map[int64][]model.OrderItem),
		events:   make(map[string]model.PaymentEvent),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

type memTx struct {
	s    *memStore
	id   int64
	undo []func()
}

// ロック中に呼ぶ
func (tx *memTx) onRollback(f func()) {
	tx.undo = append(tx.undo, f)
}

func (tx *memTx) rollback() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (s *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	tx := &memTx{s: s, id: s.txSeq.Add(1)}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(memRepos{tx: tx}); err != nil {
		tx.rollback()
		return err
	}

	s.mu.Lock()
	fail := s.failCommits > 0
	if fail {
		s.failCommits--
	}
	s.mu.Unlock()
	if fail {
		tx.rollback()
		return errors.New("commit: connection reset")
	}
	return nil
}

// 以下はテストから状態を覗くためのヘルパ（ロックを取る）

func (s *memStore) stock(productID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) order(id int64) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *memStore) itemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, its := range s.items {
		n += len(its)
	}
	return n
}

func (s *memStore) ledger() []model.InventoryAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.InventoryAdjustment, 0, len(s.adjustments))
	for _, r := range s.adjustments {
		out = append(out, r.row)
	}
	return out
}

func (s *memStore) audits() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditLog, 0, len(s.auditLogs))
	for _, r := range s.auditLogs {
		out = append(out, r.row)
	}
	return out
}

func (s *memStore) setStatus(id int64, status model.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.Status = status
	o.Version++
	s.orders[id] = o
}

func dropTx[T any](rows []memRow[T], txID int64) []memRow[T] {
	kept := rows[:0]
	for _, r := range rows {
		if r.txID != txID {
			kept = append(kept, r)
		}
	}
	return kept
}

// =====================
// TxRepos
// =====================

type memRepos struct{ tx *memTx }

func (r memRepos) Orders() repo.OrderRepository               { return memOrders(r) }
func (r memRepos) OrderItems() repo.OrderItemRepository       { return memOrderItems(r) }
func (r memRepos) Products() repo.ProductRepository           { return memProducts(r) }
func (r memRepos) Inventory() repo.InventoryRepository        { return memInventory(r) }
func (r memRepos) AuditLogs() repo.AuditLogRepository         { return memAuditLogs(r) }
func (r memRepos) PaymentEvents() repo.PaymentEventRepository { return memPaymentEvents(r) }

type memProducts struct{ tx *memTx }

func (r memProducts) FindByID(ctx context.Context, id int64) (model.Product, error) {
	s := r.tx.s
	s.mu.Lock()
	p, ok := s.products[id]
	hook := s.afterProductRead
	s.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

type memInventory struct{ tx *memTx }

// UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ? と同じ判定
func (r memInventory) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beforeDecrease != nil {
		s.beforeDecrease(s, productID)
	}
	p, ok := s.products[productID]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	s.products[productID] = p
	r.tx.onRollback(func() {
		p := s.products[productID]
		p.Stock += qty
		s.products[productID] = p
	})
	return true, nil
}

func (r memInventory) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock += qty
	s.products[productID] = p
	r.tx.onRollback(func() {
		p := s.products[productID]
		p.Stock -= qty
		s.products[productID] = p
	})
	return nil
}

func (r memInventory) CreateAdjustments(ctx context.Context, adjustments []model.InventoryAdjustment) error {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range adjustments {
		s.adjustments = append(s.adjustments, memRow[model.InventoryAdjustment]{txID: r.tx.id, row: a})
	}
	txID := r.tx.id
	r.tx.onRollback(func() { s.adjustments = dropTx(s.adjustments, txID) })
	return nil
}

type memOrders struct{ tx *memTx }

// ロック中に呼ぶ
func (r memOrders) withItems(o model.Order, include bool) model.Order {
	if include {
		o.Items = append([]model.OrderItem(nil), r.tx.s.items[o.ID]...)
	}
	return o
}

func (r memOrders) FindByID(ctx context.Context, orderID int64, includeItems bool) (model.Order, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return r.withItems(o, includeItems), nil
}

func (r memOrders) FindByPaymentIntentID(ctx context.Context, intentID string) (model.Order, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.PaymentIntentID == intentID {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (r memOrders) List(ctx context.Context, q repo.OrderQuery) ([]model.Order, int64, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.Order
	for _, o := range s.orders {
		f := q.Filter
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, r.withItems(o, q.IncludeItems))
	}

	sort.Slice(matched, func(i, j int) bool {
		switch q.Sort {
		case repo.OrderSortOldest:
			return matched[i].ID < matched[j].ID
		case repo.OrderSortTotalDesc:
			return matched[i].Total > matched[j].Total
		case repo.OrderSortTotalAsc:
			return matched[i].Total < matched[j].Total
		default:
			return matched[i].ID > matched[j].ID
		}
	})

	total := int64(len(matched))
	start := q.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// IDは採番したら戻さない（DBのシーケンスと同じ）
func (r memOrders) Create(ctx context.Context, order model.Order) (int64, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.OrderNumber == order.OrderNumber {
			return 0, errors.New("duplicate key value violates unique constraint \"idx_orders_order_number\"")
		}
	}
	s.nextOrderID++
	order.ID = s.nextOrderID
	order.Items = nil
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	s.orders[order.ID] = order

	id := order.ID
	r.tx.onRollback(func() { delete(s.orders, id) })
	return id, nil
}

// ロック中に呼ぶ
func (r memOrders) put(o model.Order) {
	s := r.tx.s
	prev := s.orders[o.ID]
	s.orders[o.ID] = o
	r.tx.onRollback(func() { s.orders[prev.ID] = prev })
}

func (r memOrders) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	o.Status = status
	o.Version++
	r.put(o)
	return nil
}

func (r memOrders) CompareAndSetStatus(ctx context.Context, orderID int64, expectedVersion int64, status model.OrderStatus) (bool, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beforeCAS != nil {
		hook := s.beforeCAS
		s.beforeCAS = nil
		hook(s)
	}
	o, ok := s.orders[orderID]
	if !ok || o.Version != expectedVersion {
		return false, nil
	}
	o.Status = status
	o.Version++
	r.put(o)
	return true, nil
}

func (r memOrders) Delete(ctx context.Context, orderID int64) error {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	delete(s.orders, orderID)
	r.tx.onRollback(func() { s.orders[orderID] = prev })
	return nil
}

type memOrderItems struct{ tx *memTx }

// ロック中に呼ぶ
func (r memOrderItems) replace(orderID int64, items []model.OrderItem) {
	s := r.tx.s
	prev, had := s.items[orderID]
	if items == nil {
		delete(s.items, orderID)
	} else {
		s.items[orderID] = items
	}
	r.tx.onRollback(func() {
		if had {
			s.items[orderID] = prev
		} else {
			delete(s.items, orderID)
		}
	})
}

func (r memOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append([]model.OrderItem(nil), s.items[orderID]...)
	for _, it := range items {
		it.OrderID = orderID
		next = append(next, it)
	}
	r.replace(orderID, next)
	return nil
}

func (r memOrderItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OrderItem(nil), s.items[orderID]...), nil
}

func (r memOrderItems) DeleteByOrderID(ctx context.Context, orderID int64) error {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	r.replace(orderID, nil)
	return nil
}

type memAuditLogs struct{ tx *memTx }

func (r memAuditLogs) Create(ctx context.Context, log model.AuditLog) error {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, memRow[model.AuditLog]{txID: r.tx.id, row: log})
	txID := r.tx.id
	r.tx.onRollback(func() { s.auditLogs = dropTx(s.auditLogs, txID) })
	return nil
}

func (r memAuditLogs) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.AuditLog, 0, len(s.auditLogs))
	for _, row := range s.auditLogs {
		out = append(out, row.row)
	}
	return out, nil
}

type memPaymentEvents struct{ tx *memTx }

// INSERT ... ON CONFLICT DO NOTHING と同じ
func (r memPaymentEvents) MarkProcessed(ctx context.Context, ev model.PaymentEvent) (bool, error) {
	s := r.tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.EventID]; ok {
		return false, nil
	}
	s.events[ev.EventID] = ev
	r.tx.onRollback(func() { delete(s.events, ev.EventID) })
	return true, nil
}

var (
	_ repo.TransactionManager = (*memStore)(nil)
	_ repo.TxRepos            = memRepos{}
)
