package models

import "time"

// Wallet transaction types. Amounts are always non-negative; the type
// implies direction.
const (
	TxnTypeCredit     = "credit"
	TxnTypeRedeem     = "redeem"
	TxnTypePending    = "pending"
	TxnTypeCommission = "commission"
	TxnTypeWithdrawal = "withdrawal"
	TxnTypeRedemption = "redemption"
)

// Wallet transaction statuses.
const (
	TxnStatusPending   = "pending"
	TxnStatusCompleted = "completed"
	TxnStatusFailed    = "failed"
	TxnStatusRejected  = "rejected"
)

// Wallet holds the cached cashback balance for one user.
type Wallet struct {
	BaseModel
	UserID      uint    `gorm:"uniqueIndex" json:"user_id"`
	Balance     float64 `json:"balance"`
	TotalEarned float64 `json:"total_earned"`
}

// AffiliateWallet holds the cached commission balance for one affiliate.
type AffiliateWallet struct {
	BaseModel
	UserID         uint    `gorm:"uniqueIndex" json:"user_id"`
	Balance        float64 `json:"balance"`
	TotalEarnings  float64 `json:"total_earnings"`
	TotalWithdrawn float64 `json:"total_withdrawn"`
}

// WalletTransaction is one row in the append-only cashback ledger.
type WalletTransaction struct {
	BaseModel
	UserID            uint    `gorm:"index" json:"user_id"`
	OrderID           *uint   `gorm:"index" json:"order_id"`
	TransactionNumber string  `gorm:"uniqueIndex" json:"transaction_number"`
	Type              string  `json:"type"`
	Status            string  `gorm:"index" json:"status"`
	Amount            float64 `json:"amount"`
	BalanceBefore     float64 `json:"balance_before"`
	BalanceAfter      float64 `json:"balance_after"`
	Description       string  `json:"description"`
	// IsHeld reports whether the amount was already deducted from the
	// balance when the transaction was created, as opposed to deferred
	// until approval.
	IsHeld      bool       `json:"is_held"`
	EligibleAt  *time.Time `json:"eligible_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// AffiliateTransaction is one row in the append-only commission ledger.
// It is intentionally a separate table from WalletTransaction so the two
// ledgers can be audited independently.
type AffiliateTransaction struct {
	BaseModel
	UserID            uint       `gorm:"index" json:"user_id"`
	OrderID           *uint      `gorm:"index" json:"order_id"`
	TransactionNumber string     `gorm:"uniqueIndex" json:"transaction_number"`
	Type              string     `json:"type"`
	Status            string     `gorm:"index" json:"status"`
	Amount            float64    `json:"amount"`
	BalanceBefore     float64    `json:"balance_before"`
	BalanceAfter      float64    `json:"balance_after"`
	Description       string     `json:"description"`
	IsHeld            bool       `json:"is_held"`
	EligibleAt        *time.Time `json:"eligible_at"`
	ProcessedAt       *time.Time `json:"processed_at"`
}
