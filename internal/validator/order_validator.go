package validator

import (
	"errors"
	"fmt"

	"ecorder/internal/usecase"
)

// 1注文あたりの明細上限
const MaxOrderLines = 100

// 1明細あたりの数量上限
const MaxLineQuantity = 10000

var (
	ErrItemsRequired         = errors.New("items required")
	ErrInvalidAddressID      = errors.New("invalid address_id")
	ErrInvalidDeliveryMethod = errors.New("invalid delivery_method_id")
	ErrInvalidProductID      = errors.New("invalid product_id")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrTooManyLines          = fmt.Errorf("too many items (max %d)", MaxOrderLines)
)

type orderValidator struct{}

// Usecaseは interface を依存注入
func NewOrderValidator() usecase.OrderValidator {
	return &orderValidator{}
}

// 注文作成の入力を検証（在庫・存在チェックはusecase側）
func (v *orderValidator) ValidateCreateOrder(in usecase.CreateOrderInput) error {
	if in.AddressID <= 0 {
		return ErrInvalidAddressID
	}
	if in.DeliveryMethodID <= 0 {
		return ErrInvalidDeliveryMethod
	}

	// 必須チェック
	if len(in.Items) == 0 {
		return ErrItemsRequired
	}
	if len(in.Items) > MaxOrderLines {
		return ErrTooManyLines
	}

	for _, it := range in.Items {
		if it.ProductID <= 0 {
			return ErrInvalidProductID
		}
		if it.Quantity <= 0 || it.Quantity > MaxLineQuantity {
			return ErrInvalidQuantity
		}
	}
	return nil
}
