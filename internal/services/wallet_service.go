package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/models"
)

// WalletKind selects one of the two parallel ledgers.
type WalletKind string

const (
	KindCashback   WalletKind = "cashback"
	KindCommission WalletKind = "commission"
)

var (
	// ErrInsufficientBalance is returned when a debit would take the
	// wallet balance below zero.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrUnknownWalletKind is returned for a kind outside the two ledgers.
	ErrUnknownWalletKind = errors.New("unknown wallet kind")
	// ErrTransactionNotPending is returned when a withdrawal decision
	// targets a transaction that already reached a terminal state.
	ErrTransactionNotPending = errors.New("transaction is not pending")
)

// WalletService owns the append-only ledgers and their cached balances.
// Every balance mutation and its paired transaction row change happen in
// one database transaction.
type WalletService struct {
	db *gorm.DB
}

// NewWalletService constructs WalletService.
func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{db: db}
}

// GetOrCreateWallet returns the cashback wallet for a user, creating the
// row on first access.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	return getOrCreateWallet(s.db.WithContext(ctx), userID)
}

// GetOrCreateAffiliateWallet returns the commission wallet for a user,
// creating the row on first access.
func (s *WalletService) GetOrCreateAffiliateWallet(ctx context.Context, userID uint) (*models.AffiliateWallet, error) {
	return getOrCreateAffiliateWallet(s.db.WithContext(ctx), userID)
}

func getOrCreateWallet(tx *gorm.DB, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := tx.Where(models.Wallet{UserID: userID}).
		FirstOrCreate(&wallet).Error; err != nil {
		return nil, fmt.Errorf("get or create wallet for user %d: %w", userID, err)
	}
	return &wallet, nil
}

func getOrCreateAffiliateWallet(tx *gorm.DB, userID uint) (*models.AffiliateWallet, error) {
	var wallet models.AffiliateWallet
	if err := tx.Where(models.AffiliateWallet{UserID: userID}).
		FirstOrCreate(&wallet).Error; err != nil {
		return nil, fmt.Errorf("get or create affiliate wallet for user %d: %w", userID, err)
	}
	return &wallet, nil
}

// Balance returns the current cached balance for the requested ledger.
func (s *WalletService) Balance(ctx context.Context, userID uint, kind WalletKind) (float64, error) {
	switch kind {
	case KindCashback:
		wallet, err := s.GetOrCreateWallet(ctx, userID)
		if err != nil {
			return 0, err
		}
		return wallet.Balance, nil
	case KindCommission:
		wallet, err := s.GetOrCreateAffiliateWallet(ctx, userID)
		if err != nil {
			return 0, err
		}
		return wallet.Balance, nil
	default:
		return 0, ErrUnknownWalletKind
	}
}

// RecordPendingObligation inserts a pending credit obligation tied to an
// order. If a non-failed transaction already exists for the same
// (user, order, amount, description) tuple, its id is returned instead —
// this is the de-duplication key preventing double-credit on repeated
// delivery events.
func (s *WalletService) RecordPendingObligation(ctx context.Context, userID, orderID uint, kind WalletKind, amount float64, description string) (uint, error) {
	switch kind {
	case KindCashback:
		return s.recordPendingCashback(ctx, userID, orderID, amount, description)
	case KindCommission:
		return s.recordPendingCommission(ctx, userID, orderID, amount, description)
	default:
		return 0, ErrUnknownWalletKind
	}
}

func (s *WalletService) recordPendingCashback(ctx context.Context, userID, orderID uint, amount float64, description string) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.WalletTransaction
		err := tx.Where("user_id = ? AND order_id = ? AND amount = ? AND description = ? AND status <> ?",
			userID, orderID, amount, description, models.TxnStatusFailed).
			First(&existing).Error
		if err == nil {
			id = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		txn := models.WalletTransaction{
			UserID:            userID,
			OrderID:           &orderID,
			TransactionNumber: uuid.NewString(),
			Type:              models.TxnTypePending,
			Status:            models.TxnStatusPending,
			Amount:            amount,
			Description:       description,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("create pending cashback transaction: %w", err)
		}
		id = txn.ID
		return nil
	})
	return id, err
}

func (s *WalletService) recordPendingCommission(ctx context.Context, userID, orderID uint, amount float64, description string) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AffiliateTransaction
		err := tx.Where("user_id = ? AND order_id = ? AND amount = ? AND description = ? AND status <> ?",
			userID, orderID, amount, description, models.TxnStatusFailed).
			First(&existing).Error
		if err == nil {
			id = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		txn := models.AffiliateTransaction{
			UserID:            userID,
			OrderID:           &orderID,
			TransactionNumber: uuid.NewString(),
			Type:              models.TxnTypeCommission,
			Status:            models.TxnStatusPending,
			Amount:            amount,
			Description:       description,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("create pending commission transaction: %w", err)
		}
		id = txn.ID
		return nil
	})
	return id, err
}

// Settle applies a pending transaction's amount to the wallet balance and
// marks it completed. Settling a transaction that is no longer pending is
// a no-op, which makes duplicate delivery events harmless.
func (s *WalletService) Settle(ctx context.Context, kind WalletKind, txnID uint) error {
	switch kind {
	case KindCashback:
		return s.settleCashback(ctx, txnID)
	case KindCommission:
		return s.settleCommission(ctx, txnID)
	default:
		return ErrUnknownWalletKind
	}
}

func (s *WalletService) settleCashback(ctx context.Context, txnID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.WalletTransaction
		if err := tx.First(&txn, txnID).Error; err != nil {
			return fmt.Errorf("load cashback transaction %d: %w", txnID, err)
		}
		if txn.Status != models.TxnStatusPending {
			return nil
		}

		wallet, err := getOrCreateWallet(tx, txn.UserID)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusPending).
			Updates(map[string]any{
				"status":         models.TxnStatusCompleted,
				"balance_before": wallet.Balance,
				"balance_after":  wallet.Balance + txn.Amount,
				"processed_at":   &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.Wallet{}).
			Where("id = ?", wallet.ID).
			Updates(map[string]any{
				"balance":      gorm.Expr("balance + ?", txn.Amount),
				"total_earned": gorm.Expr("total_earned + ?", txn.Amount),
			}).Error
	})
}

func (s *WalletService) settleCommission(ctx context.Context, txnID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.AffiliateTransaction
		if err := tx.First(&txn, txnID).Error; err != nil {
			return fmt.Errorf("load commission transaction %d: %w", txnID, err)
		}
		if txn.Status != models.TxnStatusPending {
			return nil
		}

		wallet, err := getOrCreateAffiliateWallet(tx, txn.UserID)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.AffiliateTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusPending).
			Updates(map[string]any{
				"status":         models.TxnStatusCompleted,
				"balance_before": wallet.Balance,
				"balance_after":  wallet.Balance + txn.Amount,
				"processed_at":   &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.AffiliateWallet{}).
			Where("id = ?", wallet.ID).
			Updates(map[string]any{
				"balance":        gorm.Expr("balance + ?", txn.Amount),
				"total_earnings": gorm.Expr("total_earnings + ?", txn.Amount),
			}).Error
	})
}

// ReverseDebit restores the balance consumed by a completed debit and
// marks the transaction failed. Used when a checkout is compensated after
// its redemption already went through. Reversing a transaction that is
// not a completed debit is a no-op.
func (s *WalletService) ReverseDebit(ctx context.Context, kind WalletKind, txnID uint) error {
	switch kind {
	case KindCashback:
		return s.reverseCashbackDebit(ctx, txnID)
	case KindCommission:
		return s.reverseCommissionDebit(ctx, txnID)
	default:
		return ErrUnknownWalletKind
	}
}

func (s *WalletService) reverseCashbackDebit(ctx context.Context, txnID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.WalletTransaction
		if err := tx.First(&txn, txnID).Error; err != nil {
			return fmt.Errorf("load cashback transaction %d: %w", txnID, err)
		}
		if txn.Status != models.TxnStatusCompleted {
			return nil
		}

		now := time.Now()
		res := tx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusCompleted).
			Updates(map[string]any{
				"status":       models.TxnStatusFailed,
				"processed_at": &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.Wallet{}).
			Where("user_id = ?", txn.UserID).
			Update("balance", gorm.Expr("balance + ?", txn.Amount)).Error
	})
}

func (s *WalletService) reverseCommissionDebit(ctx context.Context, txnID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.AffiliateTransaction
		if err := tx.First(&txn, txnID).Error; err != nil {
			return fmt.Errorf("load commission transaction %d: %w", txnID, err)
		}
		if txn.Status != models.TxnStatusCompleted {
			return nil
		}

		now := time.Now()
		res := tx.Model(&models.AffiliateTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusCompleted).
			Updates(map[string]any{
				"status":       models.TxnStatusFailed,
				"processed_at": &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.AffiliateWallet{}).
			Where("user_id = ?", txn.UserID).
			Update("balance", gorm.Expr("balance + ?", txn.Amount)).Error
	})
}

// Void marks a pending transaction failed without touching the balance.
// Non-pending transactions are left alone.
func (s *WalletService) Void(ctx context.Context, kind WalletKind, txnID uint) error {
	now := time.Now()
	updates := map[string]any{
		"status":       models.TxnStatusFailed,
		"processed_at": &now,
	}

	switch kind {
	case KindCashback:
		return s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusPending).
			Updates(updates).Error
	case KindCommission:
		return s.db.WithContext(ctx).Model(&models.AffiliateTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusPending).
			Updates(updates).Error
	default:
		return ErrUnknownWalletKind
	}
}

// Debit atomically decrements the balance and records a completed debit
// transaction. The balance is re-read inside the transaction so a stale
// earlier check cannot overdraw the wallet.
func (s *WalletService) Debit(ctx context.Context, userID uint, kind WalletKind, amount float64, orderID *uint, txnType, description string) (uint, error) {
	switch kind {
	case KindCashback:
		return s.debitCashback(ctx, userID, amount, orderID, txnType, description)
	case KindCommission:
		return s.debitCommission(ctx, userID, amount, orderID, txnType, description)
	default:
		return 0, ErrUnknownWalletKind
	}
}

func (s *WalletService) debitCashback(ctx context.Context, userID uint, amount float64, orderID *uint, txnType, description string) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := getOrCreateWallet(tx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ErrInsufficientBalance
		}

		if err := tx.Model(&models.Wallet{}).
			Where("id = ?", wallet.ID).
			Update("balance", gorm.Expr("balance - ?", amount)).Error; err != nil {
			return err
		}

		now := time.Now()
		txn := models.WalletTransaction{
			UserID:            userID,
			OrderID:           orderID,
			TransactionNumber: uuid.NewString(),
			Type:              txnType,
			Status:            models.TxnStatusCompleted,
			Amount:            amount,
			BalanceBefore:     wallet.Balance,
			BalanceAfter:      wallet.Balance - amount,
			Description:       description,
			ProcessedAt:       &now,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("create cashback debit transaction: %w", err)
		}
		id = txn.ID
		return nil
	})
	return id, err
}

func (s *WalletService) debitCommission(ctx context.Context, userID uint, amount float64, orderID *uint, txnType, description string) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := getOrCreateAffiliateWallet(tx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ErrInsufficientBalance
		}

		if err := tx.Model(&models.AffiliateWallet{}).
			Where("id = ?", wallet.ID).
			Update("balance", gorm.Expr("balance - ?", amount)).Error; err != nil {
			return err
		}

		now := time.Now()
		txn := models.AffiliateTransaction{
			UserID:            userID,
			OrderID:           orderID,
			TransactionNumber: uuid.NewString(),
			Type:              txnType,
			Status:            models.TxnStatusCompleted,
			Amount:            amount,
			BalanceBefore:     wallet.Balance,
			BalanceAfter:      wallet.Balance - amount,
			Description:       description,
			ProcessedAt:       &now,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("create commission debit transaction: %w", err)
		}
		id = txn.ID
		return nil
	})
	return id, err
}

// RequestWithdrawal records an affiliate withdrawal request. When hold is
// true the amount is deducted from the balance immediately and the
// transaction carries IsHeld; otherwise the deduction is deferred until
// approval.
func (s *WalletService) RequestWithdrawal(ctx context.Context, userID uint, amount float64, hold bool) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := getOrCreateAffiliateWallet(tx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ErrInsufficientBalance
		}

		txn := models.AffiliateTransaction{
			UserID:            userID,
			TransactionNumber: uuid.NewString(),
			Type:              models.TxnTypeWithdrawal,
			Status:            models.TxnStatusPending,
			Amount:            amount,
			BalanceBefore:     wallet.Balance,
			Description:       "Withdrawal request",
			IsHeld:            hold,
		}

		if hold {
			if err := tx.Model(&models.AffiliateWallet{}).
				Where("id = ?", wallet.ID).
				Update("balance", gorm.Expr("balance - ?", amount)).Error; err != nil {
				return err
			}
			txn.BalanceAfter = wallet.Balance - amount
		} else {
			txn.BalanceAfter = wallet.Balance
		}

		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("create withdrawal transaction: %w", err)
		}
		id = txn.ID
		return nil
	})
	return id, err
}

// ApproveWithdrawal finalizes a pending withdrawal. Held funds were
// already deducted at request time; deferred ones are deducted now against
// a fresh balance read.
func (s *WalletService) ApproveWithdrawal(ctx context.Context, txnID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.AffiliateTransaction
		if err := tx.First(&txn, txnID).Error; err != nil {
			return fmt.Errorf("load withdrawal %d: %w", txnID, err)
		}
		if txn.Status != models.TxnStatusPending || txn.Type != models.TxnTypeWithdrawal {
			return ErrTransactionNotPending
		}

		wallet, err := getOrCreateAffiliateWallet(tx, txn.UserID)
		if err != nil {
			return err
		}

		walletUpdates := map[string]any{
			"total_withdrawn": gorm.Expr("total_withdrawn + ?", txn.Amount),
		}
		if !txn.IsHeld {
			if wallet.Balance < txn.Amount {
				return ErrInsufficientBalance
			}
			walletUpdates["balance"] = gorm.Expr("balance - ?", txn.Amount)
		}

		if err := tx.Model(&models.AffiliateWallet{}).
			Where("id = ?", wallet.ID).
			Updates(walletUpdates).Error; err != nil {
			return err
		}

		now := time.Now()
		return tx.Model(&models.AffiliateTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusPending).
			Updates(map[string]any{
				"status":       models.TxnStatusCompleted,
				"processed_at": &now,
			}).Error
	})
}

// RejectWithdrawal rejects a pending withdrawal, refunding held funds.
func (s *WalletService) RejectWithdrawal(ctx context.Context, txnID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn models.AffiliateTransaction
		if err := tx.First(&txn, txnID).Error; err != nil {
			return fmt.Errorf("load withdrawal %d: %w", txnID, err)
		}
		if txn.Status != models.TxnStatusPending || txn.Type != models.TxnTypeWithdrawal {
			return ErrTransactionNotPending
		}

		if txn.IsHeld {
			if err := tx.Model(&models.AffiliateWallet{}).
				Where("user_id = ?", txn.UserID).
				Update("balance", gorm.Expr("balance + ?", txn.Amount)).Error; err != nil {
				return err
			}
			log.Info().Uint("transaction_id", txnID).Uint("user_id", txn.UserID).
				Float64("amount", txn.Amount).Msg("held withdrawal refunded")
		}

		now := time.Now()
		return tx.Model(&models.AffiliateTransaction{}).
			Where("id = ? AND status = ?", txnID, models.TxnStatusPending).
			Updates(map[string]any{
				"status":       models.TxnStatusRejected,
				"processed_at": &now,
			}).Error
	})
}
