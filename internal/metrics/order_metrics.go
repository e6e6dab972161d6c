package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics は注文オーケストレーションのメトリクス。
// nilのままでも呼べる（テスト用）。
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	statusUpdates   *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	paymentDuration *prometheus.HistogramVec
}

// NewOrderMetrics はregistererに登録して返す。nilならDefaultRegisterer。
func NewOrderMetrics(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ec_orders_created_total",
			Help: "Total number of orders committed",
		})),
		ordersCancelled: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ec_orders_cancelled_total",
			Help: "Total number of orders cancelled and compensated",
		})),
		ordersRejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ec_order_operations_rejected_total",
			Help: "Order operations rejected, by operation and reason",
		}, []string{"operation", "reason"})),
		statusUpdates: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ec_order_status_updates_total",
			Help: "Order status writes, by source (admin, webhook) and result",
		}, []string{"source", "result"})),
		compensations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ec_payment_compensations_total",
			Help: "Compensating refunds issued after a failed order commit, by result",
		}, []string{"result"})),
		paymentDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ec_payment_gateway_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"})),
	}
}

// 登録済みなら既存のcollectorを返す
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type: %T", already.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *OrderMetrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

func (m *OrderMetrics) RecordRejected(operation, reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(operation, reason).Inc()
}

func (m *OrderMetrics) RecordStatusUpdate(source, result string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(source, result).Inc()
}

func (m *OrderMetrics) RecordCompensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *OrderMetrics) RecordPaymentCall(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.paymentDuration.WithLabelValues(operation, result).Observe(d.Seconds())
}
