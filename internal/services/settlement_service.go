package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/models"
)

// reversalStates are terminal for settlement purposes: once an order lands
// here, its pending obligations are voided and a late delivered event must
// not resurrect them.
var reversalStates = map[string]bool{
	models.OrderStatusCancelled: true,
	models.OrderStatusReturned:  true,
	models.OrderStatusRefunded:  true,
}

// MapCourierStatus maps a courier's free-text status to an internal order
// status via substring matching. Unrecognized text yields ok=false and no
// transition.
func MapCourierStatus(text string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}

	switch {
	// "out for delivery" contains "deliver": check it first.
	case strings.Contains(t, "out for delivery"):
		return models.OrderStatusShipped, true
	case strings.Contains(t, "deliver"):
		return models.OrderStatusDelivered, true
	// Terminal states go before the in-flight ones: "Refund Processed"
	// contains "process" and "Shipment Cancelled" contains "ship".
	case strings.Contains(t, "cancel"):
		return models.OrderStatusCancelled, true
	case strings.Contains(t, "return"), strings.Contains(t, "rto"):
		return models.OrderStatusReturned, true
	case strings.Contains(t, "refund"):
		return models.OrderStatusRefunded, true
	case strings.Contains(t, "ship"), strings.Contains(t, "transit"):
		return models.OrderStatusShipped, true
	case strings.Contains(t, "pick"), strings.Contains(t, "process"), strings.Contains(t, "manifest"):
		return models.OrderStatusProcessing, true
	default:
		return "", false
	}
}

// SettlementService drives order status transitions and reconciles the
// pending ledger obligations exactly once per order.
type SettlementService struct {
	db       *gorm.DB
	wallets  *WalletService
	mailer   *MailService
	telegram *TelegramService
	events   *EventService
}

// NewSettlementService constructs SettlementService.
func NewSettlementService(db *gorm.DB, wallets *WalletService, mailer *MailService, telegram *TelegramService, events *EventService) *SettlementService {
	return &SettlementService{db: db, wallets: wallets, mailer: mailer, telegram: telegram, events: events}
}

// ApplyTransition moves an order to newStatus and settles or voids its
// pending obligations as required. It is safe to invoke twice for the
// same transition: only pending transactions are acted upon, so a
// duplicate delivered event finds nothing left to settle.
func (s *SettlementService) ApplyTransition(ctx context.Context, orderID uint, newStatus string) error {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}

	previous := order.Status

	// A stray delivered event after cancellation/return must not flip the
	// order back; the voided transactions would stay voided either way,
	// but the status itself is also final.
	if reversalStates[previous] && newStatus == models.OrderStatusDelivered {
		log.Info().Uint("order_id", orderID).Str("status", previous).
			Msg("ignoring delivered event for reversed order")
		return nil
	}

	if previous != newStatus {
		updates := map[string]any{"status": newStatus}
		if newStatus == models.OrderStatusDelivered && order.DeliveredAt == nil {
			now := time.Now()
			updates["delivered_at"] = &now
		}
		if err := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", orderID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update order %d status: %w", orderID, err)
		}
	}

	switch {
	case newStatus == models.OrderStatusDelivered:
		if err := s.settleOrder(ctx, &order); err != nil {
			return err
		}
	case reversalStates[newStatus]:
		if err := s.voidOrder(ctx, &order); err != nil {
			return err
		}
	}

	if previous != newStatus {
		go s.notify(&order, previous, newStatus)
	}
	return nil
}

// settleOrder credits every pending cashback and commission transaction
// tied to the order, in ascending id order so the balance-before/after
// audit trail chains consistently, then marks the affiliate sale paid.
func (s *SettlementService) settleOrder(ctx context.Context, order *models.Order) error {
	var cashbackIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("order_id = ? AND status = ?", order.ID, models.TxnStatusPending).
		Order("id asc").
		Pluck("id", &cashbackIDs).Error; err != nil {
		return fmt.Errorf("list pending cashback for order %d: %w", order.ID, err)
	}
	for _, id := range cashbackIDs {
		if err := s.wallets.Settle(ctx, KindCashback, id); err != nil {
			return fmt.Errorf("settle cashback transaction %d: %w", id, err)
		}
	}

	var commissionIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.AffiliateTransaction{}).
		Where("order_id = ? AND status = ?", order.ID, models.TxnStatusPending).
		Order("id asc").
		Pluck("id", &commissionIDs).Error; err != nil {
		return fmt.Errorf("list pending commission for order %d: %w", order.ID, err)
	}
	for _, id := range commissionIDs {
		if err := s.wallets.Settle(ctx, KindCommission, id); err != nil {
			return fmt.Errorf("settle commission transaction %d: %w", id, err)
		}
	}

	if err := s.db.WithContext(ctx).Model(&models.AffiliateSale{}).
		Where("order_id = ? AND status = ?", order.ID, models.SaleStatusPending).
		Update("status", models.SaleStatusPaid).Error; err != nil {
		return fmt.Errorf("mark affiliate sale paid for order %d: %w", order.ID, err)
	}

	if len(cashbackIDs) > 0 || len(commissionIDs) > 0 {
		log.Info().Uint("order_id", order.ID).
			Int("cashback_txns", len(cashbackIDs)).
			Int("commission_txns", len(commissionIDs)).
			Msg("order settled")
	}
	return nil
}

// voidOrder marks every still-pending obligation for the order failed.
// Balances are untouched; the transactions can never be settled after
// this point.
func (s *SettlementService) voidOrder(ctx context.Context, order *models.Order) error {
	var cashbackIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("order_id = ? AND status = ?", order.ID, models.TxnStatusPending).
		Pluck("id", &cashbackIDs).Error; err != nil {
		return fmt.Errorf("list pending cashback for order %d: %w", order.ID, err)
	}
	for _, id := range cashbackIDs {
		if err := s.wallets.Void(ctx, KindCashback, id); err != nil {
			return fmt.Errorf("void cashback transaction %d: %w", id, err)
		}
	}

	var commissionIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.AffiliateTransaction{}).
		Where("order_id = ? AND status = ?", order.ID, models.TxnStatusPending).
		Pluck("id", &commissionIDs).Error; err != nil {
		return fmt.Errorf("list pending commission for order %d: %w", order.ID, err)
	}
	for _, id := range commissionIDs {
		if err := s.wallets.Void(ctx, KindCommission, id); err != nil {
			return fmt.Errorf("void commission transaction %d: %w", id, err)
		}
	}

	if err := s.db.WithContext(ctx).Model(&models.AffiliateSale{}).
		Where("order_id = ? AND status = ?", order.ID, models.SaleStatusPending).
		Update("status", models.SaleStatusFailed).Error; err != nil {
		return fmt.Errorf("mark affiliate sale failed for order %d: %w", order.ID, err)
	}

	if len(cashbackIDs) > 0 || len(commissionIDs) > 0 {
		log.Info().Uint("order_id", order.ID).
			Int("cashback_txns", len(cashbackIDs)).
			Int("commission_txns", len(commissionIDs)).
			Msg("pending obligations voided")
	}
	return nil
}

func (s *SettlementService) notify(order *models.Order, from, to string) {
	if err := s.telegram.NotifyStatusChange(order.ID, from, to); err != nil {
		log.Warn().Uint("order_id", order.ID).Err(err).Msg("status change notification failed")
	}

	switch to {
	case models.OrderStatusDelivered:
		var user models.User
		if err := s.db.First(&user, order.UserID).Error; err == nil {
			s.mailer.SendDeliveryNotice(&user, order)
		}
		s.events.Publish(context.Background(), OrderEvent{
			Event:   EventOrderDelivered,
			OrderID: order.ID,
			UserID:  order.UserID,
			Status:  to,
			Amount:  order.TotalAmount,
		})
	case models.OrderStatusCancelled:
		s.events.Publish(context.Background(), OrderEvent{
			Event:   EventOrderCancelled,
			OrderID: order.ID,
			UserID:  order.UserID,
			Status:  to,
			Amount:  order.TotalAmount,
		})
	}
}
