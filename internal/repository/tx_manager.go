package repository

import "context"

// トランザクション内で使う約束
type TxRepos interface {
	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	AuditLogs() AuditLogRepository
	PaymentEvents() PaymentEventRepository
}

// UsecaseからTxの開始/commit/rollbackを隠す。
// fnがnilを返せばcommit、errorかpanicならrollback。
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}
