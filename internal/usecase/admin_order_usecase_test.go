package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ecorder/internal/domain/model"
	"ecorder/internal/messaging/kafka"
	repo "ecorder/internal/repository"
	"ecorder/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// =====================
// TxManager / TxRepos mocks
// =====================

// AdminTxManagerMock は WithinTx の中で渡す repos を固定して unit テストを回す
type AdminTxManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *AdminTxManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	// 呼ばれた事実だけ記録（ctxの具体値は問わない）
	m.Called(ctx)
	return fn(m.Repos)
}

type AdminTxReposMock struct {
	orders    repo.OrderRepository
	auditLogs repo.AuditLogRepository

	// AdminOrderUsecase では使わないが TxRepos interface を満たすために保持
	orderItems    repo.OrderItemRepository
	products      repo.ProductRepository
	inventory     repo.InventoryRepository
	paymentEvents repo.PaymentEventRepository
}

func (r *AdminTxReposMock) Orders() repo.OrderRepository               { return r.orders }
func (r *AdminTxReposMock) AuditLogs() repo.AuditLogRepository         { return r.auditLogs }
func (r *AdminTxReposMock) OrderItems() repo.OrderItemRepository       { return r.orderItems }
func (r *AdminTxReposMock) Products() repo.ProductRepository           { return r.products }
func (r *AdminTxReposMock) Inventory() repo.InventoryRepository        { return r.inventory }
func (r *AdminTxReposMock) PaymentEvents() repo.PaymentEventRepository { return r.paymentEvents }

// =====================
// Repository mocks
// =====================

type AdminOrderRepoMock struct{ mock.Mock }

func (m *AdminOrderRepoMock) FindByID(ctx context.Context, orderID int64, includeItems bool) (model.Order, error) {
	args := m.Called(ctx, orderID, includeItems)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *AdminOrderRepoMock) FindByPaymentIntentID(ctx context.Context, intentID string) (model.Order, error) {
	panic("not used in AdminOrderUsecase tests")
}

func (m *AdminOrderRepoMock) List(ctx context.Context, q repo.OrderQuery) ([]model.Order, int64, error) {
	args := m.Called(ctx, q)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *AdminOrderRepoMock) Create(ctx context.Context, order model.Order) (int64, error) {
	panic("not used in AdminOrderUsecase tests")
}

func (m *AdminOrderRepoMock) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

func (m *AdminOrderRepoMock) CompareAndSetStatus(ctx context.Context, orderID int64, expectedVersion int64, status model.OrderStatus) (bool, error) {
	panic("not used in AdminOrderUsecase tests")
}

func (m *AdminOrderRepoMock) Delete(ctx context.Context, orderID int64) error {
	panic("not used in AdminOrderUsecase tests")
}

type AdminAuditRepoMock struct{ mock.Mock }

func (m *AdminAuditRepoMock) Create(ctx context.Context, log model.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *AdminAuditRepoMock) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	panic("not used in AdminOrderUsecase tests")
}

// =====================
// Helper: error contains（HTTPErrorの実装詳細に依存しない）
// =====================

func assertErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), wantSubstr), "err=%q want contains %q", err.Error(), wantSubstr)
	}
}

func newAdminUsecase() (*usecase.AdminOrderUsecase, *AdminTxManagerMock, *AdminOrderRepoMock, *AdminAuditRepoMock, *eventRecorder) {
	tx := new(AdminTxManagerMock)
	orders := new(AdminOrderRepoMock)
	audit := new(AdminAuditRepoMock)
	events := &eventRecorder{}

	tx.Repos = &AdminTxReposMock{orders: orders, auditLogs: audit}
	tx.On("WithinTx", mock.Anything).Return(nil)

	return usecase.NewAdminOrderUsecase(tx, events, nil, nil), tx, orders, audit, events
}

// =====================
// List tests
// =====================

func TestAdminOrderUsecase_List_InvalidPage(t *testing.T) {
	uc, _, _, _, _ := newAdminUsecase()

	out, err := uc.List(context.Background(), repo.OrderQuery{Page: -1, Limit: 20})
	assert.Equal(t, 0, len(out.Items))
	assertErrContains(t, err, "invalid page")
}

func TestAdminOrderUsecase_List_InvalidLimit(t *testing.T) {
	uc, _, _, _, _ := newAdminUsecase()

	out, err := uc.List(context.Background(), repo.OrderQuery{Page: 1, Limit: 101})
	assert.Equal(t, 0, len(out.Items))
	assertErrContains(t, err, "invalid limit")
}

func TestAdminOrderUsecase_List_Success_NormalizesQuery(t *testing.T) {
	ctx := context.Background()
	uc, tx, ordersRepo, _, _ := newAdminUsecase()

	status := model.OrderStatusConfirmed
	want := repo.OrderQuery{
		Filter:       repo.OrderFilter{Status: status},
		IncludeItems: true,
		Sort:         repo.OrderSortNewest,
		Page:         1,
		Limit:        50,
	}

	orders := []model.Order{
		{ID: 11, Status: status, Items: []model.OrderItem{{ProductID: 1, Quantity: 2, UnitPriceSnapshot: 100}}},
		{ID: 10, Status: status},
	}
	ordersRepo.On("List", mock.Anything, want).Return(orders, int64(7), nil)

	out, err := uc.List(ctx, repo.OrderQuery{Filter: repo.OrderFilter{Status: status}, IncludeItems: true})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(out.Items))
	assert.Equal(t, int64(7), out.Total)
	assert.Equal(t, int64(200), out.Items[0].Items[0].LineTotal)

	tx.AssertExpectations(t)
	ordersRepo.AssertExpectations(t)
}

func TestAdminOrderUsecase_List_DBError(t *testing.T) {
	uc, _, ordersRepo, _, _ := newAdminUsecase()
	ordersRepo.On("List", mock.Anything, mock.Anything).Return(nil, int64(0), errors.New("boom"))

	_, err := uc.List(context.Background(), repo.OrderQuery{})
	assert.ErrorIs(t, err, usecase.ErrTransactionFailed)
}

// =====================
// UpdateStatus tests
// =====================

func TestAdminOrderUsecase_UpdateStatus_UnauthorizedActor(t *testing.T) {
	uc, _, _, _, _ := newAdminUsecase()

	err := uc.UpdateStatus(context.Background(), 0, 1, usecase.AdminUpdateOrderStatusInput{Status: "SHIPPED"})
	assertErrContains(t, err, "unauthorized")
}

func TestAdminOrderUsecase_UpdateStatus_InvalidOrderID(t *testing.T) {
	uc, _, _, _, _ := newAdminUsecase()

	err := uc.UpdateStatus(context.Background(), 1, 0, usecase.AdminUpdateOrderStatusInput{Status: "SHIPPED"})
	assertErrContains(t, err, "invalid id")
}

func TestAdminOrderUsecase_UpdateStatus_InvalidStatus(t *testing.T) {
	uc, _, _, _, _ := newAdminUsecase()

	err := uc.UpdateStatus(context.Background(), 1, 1, usecase.AdminUpdateOrderStatusInput{Status: "XXX"})
	assertErrContains(t, err, "invalid status")
	assert.ErrorIs(t, err, usecase.ErrInvalidInput)
}

func TestAdminOrderUsecase_UpdateStatus_NotFound(t *testing.T) {
	ctx := context.Background()
	uc, _, ordersRepo, _, _ := newAdminUsecase()

	orderID := int64(99)
	ordersRepo.On("FindByID", mock.Anything, orderID, false).Return(model.Order{}, repo.ErrNotFound)

	err := uc.UpdateStatus(ctx, 1, orderID, usecase.AdminUpdateOrderStatusInput{Status: "SHIPPED"})
	assertErrContains(t, err, "not found")
	assert.ErrorIs(t, err, usecase.ErrNotFound)

	ordersRepo.AssertExpectations(t)
}

func TestAdminOrderUsecase_UpdateStatus_SameStatus_NoOp(t *testing.T) {
	ctx := context.Background()
	uc, _, ordersRepo, audit, events := newAdminUsecase()

	orderID := int64(1)
	ordersRepo.On("FindByID", mock.Anything, orderID, false).Return(model.Order{
		ID:     orderID,
		Status: model.OrderStatusShipped,
	}, nil)

	err := uc.UpdateStatus(ctx, 1, orderID, usecase.AdminUpdateOrderStatusInput{Status: "shipped"})
	assert.NoError(t, err)

	ordersRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	audit.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Empty(t, events.types())
}

// 遷移は制限しない: COMPLETED -> PENDING でも通る
func TestAdminOrderUsecase_UpdateStatus_AnyTransition_Audits_AndPublishes(t *testing.T) {
	ctx := context.Background()
	uc, _, ordersRepo, audit, events := newAdminUsecase()

	adminID := int64(999)
	orderID := int64(50)

	ordersRepo.On("FindByID", mock.Anything, orderID, false).Return(model.Order{
		ID:          orderID,
		OrderNumber: "20260101000000-6B86B2-0001",
		UserID:      1,
		Status:      model.OrderStatusCompleted,
	}, nil)
	ordersRepo.On("UpdateStatus", mock.Anything, orderID, model.OrderStatusPending).Return(nil)

	audit.On("Create", mock.Anything, mock.MatchedBy(func(a model.AuditLog) bool {
		// CreatedAt は now なので見ない
		return a.ActorUserID == adminID &&
			a.Action == model.AuditActionUpdateOrderStatus &&
			a.ResourceType == model.AuditResourceOrder &&
			a.ResourceID == orderID &&
			a.BeforeJSON == `{"status":"COMPLETED"}` &&
			a.AfterJSON == `{"status":"PENDING"}`
	})).Return(nil)

	err := uc.UpdateStatus(ctx, adminID, orderID, usecase.AdminUpdateOrderStatusInput{Status: "PENDING"})
	assert.NoError(t, err)

	ordersRepo.AssertExpectations(t)
	audit.AssertExpectations(t)

	assert.Equal(t, []kafka.EventType{kafka.EventTypeOrderStatusChanged}, events.types())
	assert.Equal(t, "PENDING", events.events[0].Status)
	assert.Equal(t, "20260101000000-6B86B2-0001", events.events[0].OrderNumber)
}

func TestAdminOrderUsecase_UpdateStatus_AuditFailure_NoEvent(t *testing.T) {
	ctx := context.Background()
	uc, _, ordersRepo, audit, events := newAdminUsecase()

	ordersRepo.On("FindByID", mock.Anything, int64(1), false).Return(model.Order{ID: 1, Status: model.OrderStatusPending}, nil)
	ordersRepo.On("UpdateStatus", mock.Anything, int64(1), model.OrderStatusShipped).Return(nil)
	audit.On("Create", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

	err := uc.UpdateStatus(ctx, 1, 1, usecase.AdminUpdateOrderStatusInput{Status: "SHIPPED"})
	assert.ErrorIs(t, err, usecase.ErrTransactionFailed)
	assert.Empty(t, events.types())
}
