// Package payment は決済ゲートウェイとの境界。
// 注文側から使うのは「payment intentの作成」と「返金」の2つだけ。
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// 決済側で金額・通貨などが不正
	ErrInvalidRequest = errors.New("payment: invalid request")
	// Webhookの署名が不正
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
)

// payment intent作成の入力。Amountは最小通貨単位。
type IntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// 作成されたpayment intent
type Intent struct {
	ID           string
	ClientSecret string
}

// 返金結果
type RefundResult struct {
	Success bool
	Message string
}

type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Refund(ctx context.Context, intentID string) (RefundResult, error)
}

// Webhookイベントの種類（プロバイダ非依存）
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventRefunded         EventType = "refunded"
	EventUnknown          EventType = "unknown"
)

// Webhookから受け取った決済イベント
type Event struct {
	ID           string
	ProviderType string
	Type         EventType
	IntentID     string
	OccurredAt   time.Time
}

func validateIntentRequest(req IntentRequest) error {
	if req.Amount <= 0 {
		return errors.Join(ErrInvalidRequest, errors.New("amount must be positive"))
	}
	if len(req.Currency) != 3 {
		return errors.Join(ErrInvalidRequest, errors.New("currency must be ISO 4217 code"))
	}
	return nil
}
