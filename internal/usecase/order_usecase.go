package usecase

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"ecorder/internal/domain/model"
	"ecorder/internal/domain/ordernumber"
	"ecorder/internal/messaging/kafka"
	"ecorder/internal/metrics"
	"ecorder/internal/payment"
	repo "ecorder/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 呼び出し元（handlerでJWTから解決済み）
type Identity struct {
	UserID int64
	Role   model.Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == model.RoleAdmin
}

// 入力チェック（validatorパッケージが実装）
type OrderValidator interface {
	ValidateCreateOrder(in CreateOrderInput) error
}

// commit後の注文イベント送信
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *kafka.OrderEvent) error
}

type OrderNumberGenerator interface {
	Generate(userID string) string
}

type OrderUsecaseDeps struct {
	Tx              repo.TransactionManager
	Addresses       repo.AddressRepository
	DeliveryMethods repo.DeliveryMethodRepository
	Payments        payment.Gateway
	Events          OrderEventPublisher
	Validator       OrderValidator
	Numbers         OrderNumberGenerator
	Metrics         *metrics.OrderMetrics
	Logger          *logrus.Entry

	Currency       string
	PaymentTimeout time.Duration
	Clock          func() time.Time
}

type OrderUsecase struct {
	tx              repo.TransactionManager
	addresses       repo.AddressRepository
	deliveryMethods repo.DeliveryMethodRepository
	payments        payment.Gateway
	events          OrderEventPublisher
	validator       OrderValidator
	numbers         OrderNumberGenerator
	metrics         *metrics.OrderMetrics
	log             *logrus.Entry

	currency       string
	paymentTimeout time.Duration
	now            func() time.Time
}

func NewOrderUsecase(d OrderUsecaseDeps) *OrderUsecase {
	u := &OrderUsecase{
		tx:              d.Tx,
		addresses:       d.Addresses,
		deliveryMethods: d.DeliveryMethods,
		payments:        d.Payments,
		events:          d.Events,
		validator:       d.Validator,
		numbers:         d.Numbers,
		metrics:         d.Metrics,
		log:             d.Logger,
		currency:        d.Currency,
		paymentTimeout:  d.PaymentTimeout,
		now:             d.Clock,
	}
	if u.events == nil {
		u.events = kafka.NopPublisher{}
	}
	if u.numbers == nil {
		u.numbers = ordernumber.New()
	}
	if u.log == nil {
		u.log = logrus.New().WithField("component", "order")
	}
	if u.currency == "" {
		u.currency = "jpy"
	}
	if u.paymentTimeout <= 0 {
		u.paymentTimeout = 10 * time.Second
	}
	if u.now == nil {
		u.now = time.Now
	}
	return u
}

type CreateOrderItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type CreateOrderInput struct {
	AddressID        int64                  `json:"address_id"`
	DeliveryMethodID int64                  `json:"delivery_method_id"`
	Items            []CreateOrderItemInput `json:"items"`
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type OrderOutput struct {
	ID               int64             `json:"id"`
	OrderNumber      string            `json:"order_number"`
	UserID           int64             `json:"user_id"`
	AddressID        int64             `json:"address_id"`
	DeliveryMethodID int64             `json:"delivery_method_id"`
	Status           string            `json:"status"`
	Subtotal         int64             `json:"subtotal"`
	ShippingPrice    int64             `json:"shipping_price"`
	Total            int64             `json:"total"`
	Currency         string            `json:"currency"`
	PaymentIntentID  string            `json:"payment_intent_id,omitempty"`
	ClientSecret     string            `json:"client_secret,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Items            []OrderItemOutput `json:"items"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// 注文作成
// 全明細の在庫を確認してから減算し、決済intentを作って1トランザクションで保存する。
// Tx失敗時に作成済みのintentがあれば返金（取消）で打ち消す。
func (u *OrderUsecase) CreateOrder(ctx context.Context, id Identity, in CreateOrderInput) (OrderOutput, error) {
	if id.UserID <= 0 {
		return OrderOutput{}, errUnauthenticated()
	}
	if u.validator != nil {
		if err := u.validator.ValidateCreateOrder(in); err != nil {
			u.metrics.RecordRejected("create", "invalid_input")
			return OrderOutput{}, errInvalidInput(err.Error())
		}
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return OrderOutput{}, err
	}

	log := u.log.WithField("user_id", id.UserID)

	//住所（所有者チェックはしない）
	if _, err := u.addresses.FindByID(ctx, in.AddressID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return OrderOutput{}, errNotFound("address")
		}
		log.WithError(err).Error("address lookup failed")
		return OrderOutput{}, errTransactionFailed()
	}

	dm, err := u.deliveryMethods.FindByID(ctx, in.DeliveryMethodID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return OrderOutput{}, errNotFound("deliveryMethod")
		}
		log.WithError(err).Error("delivery method lookup failed")
		return OrderOutput{}, errTransactionFailed()
	}

	var (
		created model.Order
		intent  *payment.Intent
	)

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		intent = nil

		//先に全明細をチェック（1件でも足りなければ何も減らさない）
		products := make([]model.Product, len(lines))
		for i, ln := range lines {
			p, err := r.Products().FindByID(ctx, ln.ProductID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
				return errNotFound("product", ln.ProductID)
			}
			if err != nil {
				log.WithError(err).WithField("product_id", ln.ProductID).Error("product lookup failed")
				return errTransactionFailed()
			}
			if ln.Quantity > p.Stock {
				return errInsufficientStock(p.Name, ln.Quantity, p.Stock)
			}
			products[i] = p
		}

		//在庫を確保。条件付きUPDATEなので同時注文に負けたらここで止まる
		items := make([]model.OrderItem, 0, len(lines))
		for i, ln := range lines {
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, ln.ProductID, ln.Quantity)
			if err != nil {
				log.WithError(err).WithField("product_id", ln.ProductID).Error("stock decrement failed")
				return errTransactionFailed()
			}
			if !ok {
				available := int64(0)
				if cur, err := r.Products().FindByID(ctx, ln.ProductID); err == nil {
					available = cur.Stock
				}
				return errInsufficientStock(products[i].Name, ln.Quantity, available)
			}

			//スナップショット
			items = append(items, model.OrderItem{
				ProductID:           ln.ProductID,
				ProductNameSnapshot: products[i].Name,
				UnitPriceSnapshot:   products[i].Price,
				Quantity:            ln.Quantity,
			})
		}

		subtotal := model.SumItems(items)
		total := subtotal + dm.Price
		number := u.numbers.Generate(strconv.FormatInt(id.UserID, 10))

		pi, err := u.createIntent(ctx, payment.IntentRequest{
			Amount:      total,
			Currency:    u.currency,
			Description: "Order " + number,
			Metadata: map[string]string{
				"order_number": number,
				"user_id":      strconv.FormatInt(id.UserID, 10),
			},
			IdempotencyKey: uuid.NewString(),
		})
		if err != nil {
			log.WithError(err).Warn("payment intent creation failed")
			return errPaymentFailed()
		}
		intent = &pi

		now := u.now()
		order := model.Order{
			OrderNumber:      number,
			UserID:           id.UserID,
			AddressID:        in.AddressID,
			DeliveryMethodID: dm.ID,
			Status:           model.OrderStatusPending,
			Subtotal:         subtotal,
			ShippingPrice:    dm.Price,
			Total:            total,
			Currency:         u.currency,
			PaymentIntentID:  pi.ID,
			ClientSecret:     pi.ClientSecret,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			log.WithError(err).Error("order insert failed")
			return errTransactionFailed()
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
			log.WithError(err).WithField("order_id", orderID).Error("order items insert failed")
			return errTransactionFailed()
		}

		adjustments := make([]model.InventoryAdjustment, 0, len(items))
		for i := range items {
			items[i].OrderID = orderID
			adjustments = append(adjustments, model.InventoryAdjustment{
				ProductID: items[i].ProductID,
				OrderID:   orderID,
				Delta:     -items[i].Quantity,
				Reason:    model.InventoryReasonOrderReserve,
			})
		}
		if err := r.Inventory().CreateAdjustments(ctx, adjustments); err != nil {
			log.WithError(err).WithField("order_id", orderID).Error("inventory ledger insert failed")
			return errTransactionFailed()
		}

		order.ID = orderID
		order.Items = items
		created = order
		return nil
	})

	if err != nil {
		if intent != nil {
			u.compensateIntent(ctx, intent.ID, log)
		}
		u.metrics.RecordRejected("create", rejectReason(err))
		if _, ok := AsHTTPError(err); !ok {
			log.WithError(err).Error("create order transaction failed")
		}
		return OrderOutput{}, asTxError(err)
	}

	u.metrics.RecordOrderCreated()
	log.WithFields(logrus.Fields{
		"order_id":       created.ID,
		"order_number":   created.OrderNumber,
		"payment_intent": created.PaymentIntentID,
		"total":          created.Total,
	}).Info("order created")
	publishOrderEvent(ctx, u.events, u.log, kafka.EventTypeOrderCreated, created, u.now())

	out := toOrderOutput(created, created.Items)
	out.ClientSecret = created.ClientSecret
	return out, nil
}

// 注文キャンセル（補償）
// 在庫戻し・削除を先に済ませ、最後に返金する。返金に失敗したら全部rollback。
func (u *OrderUsecase) CancelOrder(ctx context.Context, id Identity, orderID int64) error {
	if id.UserID <= 0 {
		return errUnauthenticated()
	}
	if orderID <= 0 {
		return errInvalidInput("invalid id")
	}

	log := u.log.WithFields(logrus.Fields{"user_id": id.UserID, "order_id": orderID})

	var cancelled model.Order
	refunded := false

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		refunded = false

		o, err := r.Orders().FindByID(ctx, orderID, true)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("order", orderID)
		}
		if err != nil {
			log.WithError(err).Error("order lookup failed")
			return errTransactionFailed()
		}
		//他人の注文は「存在しない扱い」にする
		if !id.IsAdmin() && o.UserID != id.UserID {
			return errNotFound("order", orderID)
		}
		if o.Status == model.OrderStatusCompleted {
			return errInvalidState("completed order cannot be cancelled")
		}

		before := o.Status

		//versionを進めてWebhook側のCASを失敗させる
		if err := r.Orders().UpdateStatus(ctx, o.ID, model.OrderStatusCancelled); err != nil {
			log.WithError(err).Error("order status update failed")
			return errTransactionFailed()
		}
		o.Status = model.OrderStatusCancelled

		//在庫戻し
		adjustments := make([]model.InventoryAdjustment, 0, len(o.Items))
		for _, it := range o.Items {
			if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
				log.WithError(err).WithField("product_id", it.ProductID).Error("stock restore failed")
				return errTransactionFailed()
			}
			adjustments = append(adjustments, model.InventoryAdjustment{
				ProductID: it.ProductID,
				OrderID:   o.ID,
				Delta:     it.Quantity,
				Reason:    model.InventoryReasonOrderRestore,
			})
		}
		if err := r.Inventory().CreateAdjustments(ctx, adjustments); err != nil {
			log.WithError(err).Error("inventory ledger insert failed")
			return errTransactionFailed()
		}

		//明細→注文の順に物理削除
		if err := r.OrderItems().DeleteByOrderID(ctx, o.ID); err != nil {
			log.WithError(err).Error("order items delete failed")
			return errTransactionFailed()
		}
		if err := r.Orders().Delete(ctx, o.ID); err != nil {
			log.WithError(err).Error("order delete failed")
			return errTransactionFailed()
		}

		if id.IsAdmin() {
			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				ActorUserID:  id.UserID,
				Action:       model.AuditActionCancelOrder,
				ResourceType: model.AuditResourceOrder,
				ResourceID:   o.ID,
				BeforeJSON:   `{"status":"` + string(before) + `"}`,
				AfterJSON:    `{"status":"` + string(model.OrderStatusCancelled) + `"}`,
				CreatedAt:    u.now(),
			}); err != nil {
				log.WithError(err).Error("audit log insert failed")
				return errTransactionFailed()
			}
		}

		//返金（失敗したらキャンセル自体を取り消す）
		if o.PaymentIntentID != "" {
			res, err := u.refund(ctx, o.PaymentIntentID)
			if err != nil {
				log.WithError(err).WithField("payment_intent", o.PaymentIntentID).Warn("refund failed")
				return errRefundFailed("payment gateway error")
			}
			if !res.Success {
				log.WithField("payment_intent", o.PaymentIntentID).Warnf("refund rejected: %s", res.Message)
				return errRefundFailed(res.Message)
			}
			refunded = true
		}

		cancelled = o
		return nil
	})

	if err != nil {
		if refunded {
			//返金後にcommitだけ失敗した。再実行は返金の冪等キーで同じ結果になる
			log.WithError(err).Error("refund issued but cancellation was rolled back")
		}
		u.metrics.RecordRejected("cancel", rejectReason(err))
		return asTxError(err)
	}

	u.metrics.RecordOrderCancelled()
	log.WithField("payment_intent", cancelled.PaymentIntentID).Info("order cancelled")
	publishOrderEvent(ctx, u.events, u.log, kafka.EventTypeOrderCancelled, cancelled, u.now())
	return nil
}

// 注文詳細（本人か管理者）
func (u *OrderUsecase) GetOrder(ctx context.Context, id Identity, orderID int64) (OrderOutput, error) {
	if id.UserID <= 0 {
		return OrderOutput{}, errUnauthenticated()
	}
	if orderID <= 0 {
		return OrderOutput{}, errInvalidInput("invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID, true)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("order", orderID)
		}
		if err != nil {
			return errTransactionFailed()
		}
		if !id.IsAdmin() && o.UserID != id.UserID {
			return errNotFound("order", orderID)
		}
		out = toOrderOutput(o, o.Items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, asTxError(err)
	}
	return out, nil
}

// 注文一覧。管理者以外は自分の注文だけ
func (u *OrderUsecase) ListOrders(ctx context.Context, id Identity, q repo.OrderQuery) (OrderListOutput, error) {
	if id.UserID <= 0 {
		return OrderListOutput{}, errUnauthenticated()
	}
	if !id.IsAdmin() {
		userID := id.UserID
		q.Filter.UserID = &userID
	}
	q = q.Normalize()

	var out OrderListOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().List(ctx, q)
		if err != nil {
			return errTransactionFailed()
		}
		out = OrderListOutput{
			Items: make([]OrderOutput, 0, len(orders)),
			Total: total,
			Page:  q.Page,
			Limit: q.Limit,
		}
		for _, o := range orders {
			out.Items = append(out.Items, toOrderOutput(o, o.Items))
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, asTxError(err)
	}
	return out, nil
}

func (u *OrderUsecase) createIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	pctx, cancel := context.WithTimeout(ctx, u.paymentTimeout)
	defer cancel()

	start := time.Now()
	intent, err := u.payments.CreatePaymentIntent(pctx, req)
	u.metrics.RecordPaymentCall("create_intent", time.Since(start), err)
	return intent, err
}

func (u *OrderUsecase) refund(ctx context.Context, intentID string) (payment.RefundResult, error) {
	pctx, cancel := context.WithTimeout(ctx, u.paymentTimeout)
	defer cancel()

	start := time.Now()
	res, err := u.payments.Refund(pctx, intentID)
	u.metrics.RecordPaymentCall("refund", time.Since(start), err)
	return res, err
}

// 保存できなかった注文のintentを打ち消す。呼び出し元がキャンセルしても実行する
func (u *OrderUsecase) compensateIntent(ctx context.Context, intentID string, log *logrus.Entry) {
	entry := log.WithField("payment_intent", intentID)

	res, err := u.refund(context.WithoutCancel(ctx), intentID)
	switch {
	case err != nil:
		u.metrics.RecordCompensation("failed")
		entry.WithError(err).Error("compensating refund failed; payment intent needs manual review")
	case !res.Success:
		u.metrics.RecordCompensation("failed")
		entry.Errorf("compensating refund rejected: %s", res.Message)
	default:
		u.metrics.RecordCompensation("refunded")
		entry.Info("payment intent compensated")
	}
}

type orderLine struct {
	ProductID int64
	Quantity  int64
}

// 同じ商品の行をまとめ、product_id順に並べる（行ロックの順序を揃える）
func mergeLines(items []CreateOrderItemInput) ([]orderLine, error) {
	if len(items) == 0 {
		return nil, errInvalidInput("items required")
	}
	byID := make(map[int64]int64, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			return nil, errInvalidInput("invalid product_id")
		}
		if it.Quantity <= 0 {
			return nil, errInvalidInput("invalid quantity")
		}
		byID[it.ProductID] += it.Quantity
	}

	lines := make([]orderLine, 0, len(byID))
	for pid, qty := range byID {
		lines = append(lines, orderLine{ProductID: pid, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

// メトリクス用のラベル
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrRefundFailed):
		return "refund_failed"
	case errors.Is(err, ErrConflict), errors.Is(err, repo.ErrConflict):
		return "conflict"
	default:
		return "transaction_failed"
	}
}

func publishOrderEvent(ctx context.Context, pub OrderEventPublisher, log *logrus.Entry, t kafka.EventType, o model.Order, now time.Time) {
	ev := &kafka.OrderEvent{
		EventType:   t,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      string(o.Status),
		Total:       o.Total,
		Currency:    o.Currency,
		Timestamp:   now,
	}
	//commit済みなので失敗してもログだけ
	if err := pub.PublishOrderEvent(ctx, ev); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"order_id":   o.ID,
			"event_type": t,
		}).Warn("order event not published")
	}
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			LineTotal: it.UnitPriceSnapshot * it.Quantity,
		})
	}

	return OrderOutput{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		UserID:           o.UserID,
		AddressID:        o.AddressID,
		DeliveryMethodID: o.DeliveryMethodID,
		Status:           string(o.Status),
		Subtotal:         o.Subtotal,
		ShippingPrice:    o.ShippingPrice,
		Total:            o.Total,
		Currency:         o.Currency,
		PaymentIntentID:  o.PaymentIntentID,
		CreatedAt:        o.CreatedAt,
		Items:            outItems,
	}
}
