package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// FakeGateway はStripeキーが無いローカル環境用。
// 作ったintentを覚えておき、返金は一度だけ成功する。
type FakeGateway struct {
	mu      sync.Mutex
	intents map[string]IntentRequest
	refunds map[string]bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		intents: make(map[string]IntentRequest),
		refunds: make(map[string]bool),
	}
}

func (g *FakeGateway) CreatePaymentIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if err := validateIntentRequest(req); err != nil {
		return Intent{}, err
	}
	id := "pi_fake_" + uuid.NewString()

	g.mu.Lock()
	g.intents[id] = req
	g.mu.Unlock()

	return Intent{ID: id, ClientSecret: id + "_secret_" + uuid.NewString()[:8]}, nil
}

func (g *FakeGateway) Refund(_ context.Context, intentID string) (RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.intents[intentID]; !ok {
		return RefundResult{}, errors.New("fake: no such payment intent")
	}
	if g.refunds[intentID] {
		return RefundResult{Success: false, Message: "already refunded"}, nil
	}
	g.refunds[intentID] = true
	return RefundResult{Success: true, Message: "refunded"}, nil
}

var _ Gateway = (*FakeGateway)(nil)
