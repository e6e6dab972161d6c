package usecase

import (
	"context"
	"errors"

	"ecorder/internal/domain/model"
	"ecorder/internal/messaging/kafka"
	"ecorder/internal/payment"
	repo "ecorder/internal/repository"

	"github.com/sirupsen/logrus"
)

// Webhook処理の結果
type PaymentEventResult string

const (
	PaymentEventApplied   PaymentEventResult = "applied"
	PaymentEventDuplicate PaymentEventResult = "duplicate"
	PaymentEventIgnored   PaymentEventResult = "ignored"
)

// 決済イベント → 注文ステータス
func paymentEventTarget(t payment.EventType) (model.OrderStatus, bool) {
	switch t {
	case payment.EventPaymentSucceeded:
		return model.OrderStatusConfirmed, true
	case payment.EventPaymentFailed:
		return model.OrderStatusFailedPayment, true
	case payment.EventRefunded:
		return model.OrderStatusReturned, true
	default:
		return "", false
	}
}

// 決済Webhookの反映
// event_idで一度だけ処理し、version一致のときだけステータスを書き換える。
// キャンセル済み（削除済み）・完了済みの注文には何もしない。
func (u *OrderUsecase) HandlePaymentEvent(ctx context.Context, ev payment.Event) (PaymentEventResult, error) {
	if ev.ID == "" {
		return "", errInvalidInput("missing event id")
	}

	log := u.log.WithFields(logrus.Fields{
		"event_id":       ev.ID,
		"event_type":     ev.Type,
		"payment_intent": ev.IntentID,
	})

	target, ok := paymentEventTarget(ev.Type)
	if !ok || ev.IntentID == "" {
		u.metrics.RecordStatusUpdate("webhook", string(PaymentEventIgnored))
		log.Debug("payment event ignored")
		return PaymentEventIgnored, nil
	}

	var (
		result  PaymentEventResult
		changed model.Order
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		result = ""

		occurred := ev.OccurredAt
		if occurred.IsZero() {
			occurred = u.now()
		}
		fresh, err := r.PaymentEvents().MarkProcessed(ctx, model.PaymentEvent{
			EventID:         ev.ID,
			EventType:       string(ev.Type),
			PaymentIntentID: ev.IntentID,
			OccurredAt:      occurred,
		})
		if err != nil {
			log.WithError(err).Error("payment event insert failed")
			return errTransactionFailed()
		}
		if !fresh {
			result = PaymentEventDuplicate
			return nil
		}

		//CASに負けたら読み直して1回だけやり直す
		for attempt := 0; attempt < 2; attempt++ {
			o, err := r.Orders().FindByPaymentIntentID(ctx, ev.IntentID)
			if errors.Is(err, repo.ErrNotFound) {
				result = PaymentEventIgnored
				return nil
			}
			if err != nil {
				log.WithError(err).Error("order lookup failed")
				return errTransactionFailed()
			}

			if o.Status == model.OrderStatusCancelled || o.Status == model.OrderStatusCompleted || o.Status == target {
				result = PaymentEventIgnored
				return nil
			}

			swapped, err := r.Orders().CompareAndSetStatus(ctx, o.ID, o.Version, target)
			if err != nil {
				log.WithError(err).Error("order status update failed")
				return errTransactionFailed()
			}
			if !swapped {
				continue
			}

			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				Action:       model.AuditActionPaymentEvent,
				ResourceType: model.AuditResourceOrder,
				ResourceID:   o.ID,
				BeforeJSON:   `{"status":"` + string(o.Status) + `"}`,
				AfterJSON:    `{"status":"` + string(target) + `","event_id":"` + ev.ID + `"}`,
				CreatedAt:    u.now(),
			}); err != nil {
				log.WithError(err).Error("audit log insert failed")
				return errTransactionFailed()
			}

			o.Status = target
			changed = o
			result = PaymentEventApplied
			return nil
		}

		//rollbackしてプロバイダに再送させる（event_idの記録も消える）
		return errConflict("order changed concurrently")
	})
	if err != nil {
		u.metrics.RecordStatusUpdate("webhook", "error")
		if _, ok := AsHTTPError(err); !ok {
			log.WithError(err).Error("payment event transaction failed")
		}
		return "", asTxError(err)
	}

	u.metrics.RecordStatusUpdate("webhook", string(result))
	if result != PaymentEventApplied {
		log.WithField("result", result).Info("payment event skipped")
		return result, nil
	}

	log.WithFields(logrus.Fields{
		"order_id": changed.ID,
		"status":   changed.Status,
	}).Info("order status changed by payment event")
	publishOrderEvent(ctx, u.events, u.log, kafka.EventTypeOrderStatusChanged, changed, u.now())
	return result, nil
}
