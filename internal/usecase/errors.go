package usecase

import (
	"errors"
	"fmt"
	"net/http"

	repo "ecorder/internal/repository"
)

// 注文まわりのエラー分類。HTTPErrorはこれをUnwrapで返す。
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrRefundFailed      = errors.New("refund failed")
	ErrConflict          = errors.New("conflict")
	ErrTransactionFailed = errors.New("transaction failed")
)

type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func newError(kind error, status int, message string) error {
	return &HTTPError{Status: status, Message: message, Err: kind}
}

func errUnauthenticated() error {
	return newError(ErrUnauthenticated, http.StatusUnauthorized, "unauthorized")
}

func errInvalidInput(message string) error {
	return newError(ErrInvalidInput, http.StatusBadRequest, message)
}

// 例: "address not found" / "product 12 not found"
func errNotFound(resource string, id ...int64) error {
	msg := resource + " not found"
	if len(id) > 0 {
		msg = fmt.Sprintf("%s %d not found", resource, id[0])
	}
	return newError(ErrNotFound, http.StatusNotFound, msg)
}

func errInsufficientStock(productName string, requested, available int64) error {
	return newError(ErrInsufficientStock, http.StatusConflict,
		fmt.Sprintf("insufficient stock for %q: requested %d, available %d", productName, requested, available))
}

func errInvalidState(message string) error {
	return newError(ErrInvalidState, http.StatusConflict, message)
}

func errPaymentFailed() error {
	return newError(ErrPaymentFailed, http.StatusBadGateway, "payment failed")
}

func errRefundFailed(message string) error {
	return newError(ErrRefundFailed, http.StatusBadGateway, "refund failed: "+message)
}

func errConflict(message string) error {
	return newError(ErrConflict, http.StatusConflict, message)
}

func errTransactionFailed() error {
	return newError(ErrTransactionFailed, http.StatusInternalServerError, "db error")
}

// Tx内で返したHTTPErrorはそのまま、それ以外（commit失敗など）はTransactionFailed。
// シリアライズ失敗・デッドロックは再試行できるので409にする
func asTxError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsHTTPError(err); ok {
		return err
	}
	if errors.Is(err, repo.ErrConflict) {
		return errConflict("concurrent update, please retry")
	}
	return errTransactionFailed()
}
