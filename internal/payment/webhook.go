package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ParseStripeWebhook は署名を検証してイベントを取り出す。
// 対象外のイベントはType=EventUnknownで返す（エラーにはしない）。
func ParseStripeWebhook(payload []byte, sigHeader string, secret string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}

	out := Event{
		ID:           ev.ID,
		ProviderType: string(ev.Type),
		Type:         EventUnknown,
		OccurredAt:   time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil {
		return out, nil
	}

	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.IntentID = pi.ID
		out.Type = EventPaymentSucceeded
		if ev.Type == "payment_intent.payment_failed" {
			out.Type = EventPaymentFailed
		}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return Event{}, fmt.Errorf("stripe: decode charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			out.IntentID = ch.PaymentIntent.ID
		}
		// 一部返金はステータスを変えない
		if ch.Refunded {
			out.Type = EventRefunded
		}
	}

	return out, nil
}
