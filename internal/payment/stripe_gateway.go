package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// Stripe接続の設定
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *logrus.Entry

	// テスト用の差し替え口
	Intents stripePaymentIntentAPI
	Refunds stripeRefundAPI
}

// Payment Intentsを使ったGateway実装
type StripeGateway struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
	log     *logrus.Entry
}

func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	intents, refunds := cfg.Intents, cfg.Refunds
	if intents == nil || refunds == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		if intents == nil {
			intents = sc.PaymentIntents
		}
		if refunds == nil {
			refunds = sc.Refunds
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.New().WithField("component", "stripe")
	}

	return &StripeGateway{intents: intents, refunds: refunds, log: log}, nil
}

// 注文合計でintentを作る。冪等キーはusecase側で振る
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if err := validateIntentRequest(req); err != nil {
		return Intent{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.log.WithFields(logrus.Fields{
		"payment_intent": pi.ID,
		"amount":         req.Amount,
		"currency":       req.Currency,
	}).Info("payment intent created")

	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// intentの支払いを取り消す。
// 売上確定済みなら返金、未確定ならintentのキャンセル。
// 返金済み（charge.refunded受信後など）は成功扱い
func (g *StripeGateway) Refund(ctx context.Context, intentID string) (RefundResult, error) {
	if strings.TrimSpace(intentID) == "" {
		return RefundResult{}, errors.Join(ErrInvalidRequest, errors.New("intent id is required"))
	}

	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	getParams.AddExpand("latest_charge")
	pi, err := g.intents.Get(intentID, getParams)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	entry := g.log.WithField("payment_intent", intentID)

	switch pi.Status {
	case stripe.PaymentIntentStatusCanceled:
		return RefundResult{Success: true, Message: "payment intent already canceled"}, nil

	case stripe.PaymentIntentStatusSucceeded:
		if pi.LatestCharge != nil && pi.LatestCharge.Refunded {
			entry.Info("payment already refunded")
			return RefundResult{Success: true, Message: "payment already refunded"}, nil
		}

		params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
		params.Context = ctx
		params.SetIdempotencyKey("refund-" + intentID)
		rf, err := g.refunds.New(params)
		if err != nil {
			return RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
		}
		switch rf.Status {
		case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
			entry.WithField("refund", rf.ID).Info("payment refunded")
			return RefundResult{Success: true, Message: "refund " + string(rf.Status)}, nil
		default:
			entry.WithField("refund_status", rf.Status).Warn("refund not accepted")
			return RefundResult{Success: false, Message: "refund " + string(rf.Status)}, nil
		}

	case stripe.PaymentIntentStatusProcessing:
		// 処理中はキャンセルも返金もできない
		return RefundResult{Success: false, Message: "payment is processing"}, nil

	default:
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		if _, err := g.intents.Cancel(intentID, params); err != nil {
			return RefundResult{}, fmt.Errorf("stripe: cancel payment intent: %w", err)
		}
		entry.Info("payment intent canceled")
		return RefundResult{Success: true, Message: "payment intent canceled"}, nil
	}
}

var _ Gateway = (*StripeGateway)(nil)
