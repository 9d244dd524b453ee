package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/models"
	"github.com/example/nivora/internal/utils"
)

// ErrValidation marks checkout rejections that happen before any storage
// mutation. Handlers surface these as 4xx with the wrapped message.
var ErrValidation = errors.New("validation failed")

// CheckoutItem is one line of a checkout request, referencing a product,
// combo, or offer by id.
type CheckoutItem struct {
	ProductID *uint   `json:"product_id"`
	ComboID   *uint   `json:"combo_id"`
	OfferID   *uint   `json:"offer_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	// Shades maps product id to the selected shade/variant name.
	Shades map[string]string `json:"shades"`
}

// CheckoutRequest is the normalized checkout payload. UserID and
// AffiliateCode are resolved by the handler (auth context, body else
// attribution cookie) before the service sees them.
type CheckoutRequest struct {
	UserID          uint            `json:"-"`
	TotalAmount     float64         `json:"total_amount"`
	ShippingCharge  float64         `json:"shipping_charge"`
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	DeliveryType    string          `json:"delivery_type"`
	Items           []CheckoutItem  `json:"items"`
	RedeemAmount    float64         `json:"redeem_amount"`
	AffiliateCode   string          `json:"affiliate_code"`
	AffiliateRedeem float64         `json:"affiliate_redeem"`
	PromoCode       string          `json:"promo_code"`
}

// CheckoutResult is returned to the client after order placement. Courier
// failure is reported but is not fatal.
type CheckoutResult struct {
	OrderID         uint   `json:"order_id"`
	DeliveryPartner string `json:"delivery_partner"`
	TrackingNumber  string `json:"tracking_number,omitempty"`
	CourierError    string `json:"courier_error,omitempty"`
}

// OrderService assembles orders: validation, combo expansion, ledger
// obligations, and the courier handoff.
type OrderService struct {
	db         *gorm.DB
	wallets    *WalletService
	commission *CommissionService
	shipping   *ShippingService
	mailer     *MailService
	telegram   *TelegramService
	events     *EventService

	milestoneThreshold float64
	milestoneCashback  float64
}

// NewOrderService constructs OrderService.
func NewOrderService(db *gorm.DB, wallets *WalletService, commission *CommissionService, shipping *ShippingService, mailer *MailService, telegram *TelegramService, events *EventService, milestoneThreshold, milestoneCashback float64) *OrderService {
	return &OrderService{
		db:                 db,
		wallets:            wallets,
		commission:         commission,
		shipping:           shipping,
		mailer:             mailer,
		telegram:           telegram,
		events:             events,
		milestoneThreshold: milestoneThreshold,
		milestoneCashback:  milestoneCashback,
	}
}

// PlaceOrder runs the full checkout sequence. Validation failures return
// before any storage mutation; after the order row exists, an item-insert
// failure triggers a compensating delete of the order.
func (s *OrderService) PlaceOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	recipients, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, req.UserID).Error; err != nil {
		return nil, fmt.Errorf("%w: unknown user", ErrValidation)
	}

	partner := s.resolveDeliveryPartner(ctx, req, recipients)

	deliveryType := req.DeliveryType
	if partner == models.DeliveryPartnerManual {
		deliveryType = "MANUAL"
	}

	order := models.Order{
		UserID:          req.UserID,
		TotalAmount:     req.TotalAmount,
		ShippingCharge:  utils.RoundRupees(req.ShippingCharge),
		Status:          models.OrderStatusPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: string(req.ShippingAddress),
		DeliveryPartner: partner,
		DeliveryType:    deliveryType,
		RedeemAmount:    utils.RoundRupees(req.RedeemAmount),
		AffiliateRedeem: utils.RoundRupees(req.AffiliateRedeem),
		AffiliateCode:   req.AffiliateCode,
		PromoCode:       req.PromoCode,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// Debits re-validate against a fresh balance read inside their own
	// transaction; the earlier gate only rejects obvious overdraws early.
	// Every successful debit is tracked so a later failure can reverse it.
	var debits []recordedDebit
	if order.RedeemAmount > 0 {
		id, err := s.wallets.Debit(ctx, req.UserID, KindCashback, order.RedeemAmount, &order.ID,
			models.TxnTypeRedeem, fmt.Sprintf("Redeemed against order #%d", order.ID))
		if err != nil {
			s.compensateOrder(ctx, order.ID, debits)
			if errors.Is(err, ErrInsufficientBalance) {
				return nil, fmt.Errorf("%w: insufficient cashback balance", ErrValidation)
			}
			return nil, err
		}
		debits = append(debits, recordedDebit{kind: KindCashback, txnID: id})
	}
	if order.AffiliateRedeem > 0 {
		id, err := s.wallets.Debit(ctx, req.UserID, KindCommission, order.AffiliateRedeem, &order.ID,
			models.TxnTypeRedemption, fmt.Sprintf("Commission redeemed against order #%d", order.ID))
		if err != nil {
			s.compensateOrder(ctx, order.ID, debits)
			if errors.Is(err, ErrInsufficientBalance) {
				return nil, fmt.Errorf("%w: insufficient commission balance", ErrValidation)
			}
			return nil, err
		}
		debits = append(debits, recordedDebit{kind: KindCommission, txnID: id})
	}

	items, err := s.insertItems(ctx, &order, req.Items)
	if err != nil {
		s.compensateOrder(ctx, order.ID, debits)
		return nil, err
	}

	s.recordCommission(ctx, &order, req)
	s.recordCashback(ctx, &order, items)

	dispatch := s.shipping.Dispatch(ctx, &order, items, &user, recipients)

	go s.mailer.SendOrderConfirmation(&user, &order, items)
	go s.notifyAdmin(&user, &order, items)
	go s.events.Publish(context.Background(), OrderEvent{
		Event:   EventOrderCreated,
		OrderID: order.ID,
		UserID:  order.UserID,
		Status:  order.Status,
		Amount:  order.TotalAmount,
	})

	result := &CheckoutResult{
		OrderID:         order.ID,
		DeliveryPartner: partner,
		TrackingNumber:  dispatch.TrackingNumber,
	}
	if dispatch.Err != nil {
		result.CourierError = dispatch.Err.Error()
	}
	return result, nil
}

// validate runs the fail-fast gates and returns the parsed recipients.
// Nothing is persisted before this returns nil.
func (s *OrderService) validate(ctx context.Context, req CheckoutRequest) ([]Recipient, error) {
	if req.UserID == 0 {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	if req.PaymentMethod == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: items list is empty", ErrValidation)
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrValidation)
		}
		if item.ProductID == nil && item.ComboID == nil && item.OfferID == nil {
			return nil, fmt.Errorf("%w: item must reference a product, combo, or offer", ErrValidation)
		}
	}

	// A promo code and affiliate attribution cannot both apply to one order.
	if req.PromoCode != "" && (req.AffiliateCode != "" || req.AffiliateRedeem > 0) {
		return nil, fmt.Errorf("%w: promo code cannot be combined with an affiliate code or affiliate redemption", ErrValidation)
	}

	if req.RedeemAmount > 0 {
		balance, err := s.wallets.Balance(ctx, req.UserID, KindCashback)
		if err != nil {
			return nil, err
		}
		if req.RedeemAmount > balance {
			return nil, fmt.Errorf("%w: redeem amount exceeds wallet balance", ErrValidation)
		}
	}
	if req.AffiliateRedeem > 0 {
		balance, err := s.wallets.Balance(ctx, req.UserID, KindCommission)
		if err != nil {
			return nil, err
		}
		if req.AffiliateRedeem > balance {
			return nil, fmt.Errorf("%w: affiliate redemption exceeds commission balance", ErrValidation)
		}
	}

	recipients, err := ParseShippingAddress(req.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	return recipients, nil
}

// resolveDeliveryPartner re-checks courier serviceability for every
// referenced pincode. The decision is made server-side regardless of the
// requested delivery type: if any pincode is unserviceable, the whole
// order ships manually.
func (s *OrderService) resolveDeliveryPartner(ctx context.Context, req CheckoutRequest, recipients []Recipient) string {
	if !s.shipping.CourierEnabled() {
		return models.DeliveryPartnerManual
	}

	weight := s.shipping.CheckoutWeightKg(ctx, req.Items)
	cod := IsCOD(req.PaymentMethod)

	checked := make(map[string]bool)
	for _, r := range recipients {
		if r.Pincode == "" {
			return models.DeliveryPartnerManual
		}
		if checked[r.Pincode] {
			continue
		}
		checked[r.Pincode] = true
		if !s.shipping.CheckServiceability(r.Pincode, weight, cod) {
			log.Info().Str("pincode", r.Pincode).Msg("pincode unserviceable, forcing manual delivery")
			return models.DeliveryPartnerManual
		}
	}

	return models.DeliveryPartnerCourier
}

// insertItems persists order lines, expanding each combo into a header
// row plus one row per constituent product.
func (s *OrderService) insertItems(ctx context.Context, order *models.Order, items []CheckoutItem) ([]models.OrderItem, error) {
	db := s.db.WithContext(ctx)
	inserted := make([]models.OrderItem, 0, len(items))

	for _, item := range items {
		rows, err := s.buildRows(ctx, order.ID, item)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if err := db.Create(&rows[i]).Error; err != nil {
				return nil, fmt.Errorf("insert order item: %w", err)
			}
			inserted = append(inserted, rows[i])
		}
	}

	return inserted, nil
}

func (s *OrderService) buildRows(ctx context.Context, orderID uint, item CheckoutItem) ([]models.OrderItem, error) {
	db := s.db.WithContext(ctx)

	if item.ComboID != nil {
		var combo models.Combo
		if err := db.First(&combo, *item.ComboID).Error; err != nil {
			return nil, fmt.Errorf("%w: unknown combo %d", ErrValidation, *item.ComboID)
		}

		header := models.OrderItem{
			OrderID:       orderID,
			ComboID:       item.ComboID,
			Name:          combo.Name,
			Quantity:      item.Quantity,
			UnitPrice:     item.Price,
			IsComboHeader: true,
		}

		rows := []models.OrderItem{header}
		for _, pid := range comboProductIDs(combo, item.Shades) {
			pid := pid
			name := fmt.Sprintf("Product #%d", pid)
			var product models.Product
			if err := db.First(&product, pid).Error; err == nil {
				name = product.Name
			}
			rows = append(rows, models.OrderItem{
				OrderID:       orderID,
				ProductID:     &pid,
				Name:          name,
				Quantity:      item.Quantity,
				UnitPrice:     0, // value is carried on the header row
				Shade:         item.Shades[strconv.FormatUint(uint64(pid), 10)],
				ParentComboID: item.ComboID,
			})
		}
		return rows, nil
	}

	row := models.OrderItem{
		OrderID:   orderID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		UnitPrice: item.Price,
	}
	if item.ProductID != nil {
		var product models.Product
		if err := db.First(&product, *item.ProductID).Error; err == nil {
			row.Name = product.Name
			if shade, ok := item.Shades[strconv.FormatUint(uint64(*item.ProductID), 10)]; ok {
				row.Shade = shade
			}
		} else {
			row.Name = fmt.Sprintf("Product #%d", *item.ProductID)
		}
	} else if item.OfferID != nil {
		var offer models.Offer
		if err := db.First(&offer, *item.OfferID).Error; err == nil {
			row.Name = offer.Name
		} else {
			row.Name = fmt.Sprintf("Offer #%d", *item.OfferID)
		}
	}
	return []models.OrderItem{row}, nil
}

// comboProductIDs resolves the constituent product ids from the combo's
// stored JSON list, falling back to the shade-selection map keys when the
// stored value is malformed.
func comboProductIDs(combo models.Combo, shades map[string]string) []uint {
	var ids []uint
	if err := json.Unmarshal([]byte(combo.ProductIDs), &ids); err == nil && len(ids) > 0 {
		return ids
	}

	log.Warn().Uint("combo_id", combo.ID).Msg("combo product list malformed, inferring from shade selection")
	for key := range shades {
		if pid, err := strconv.ParseUint(key, 10, 64); err == nil {
			ids = append(ids, uint(pid))
		}
	}
	return ids
}

// recordedDebit identifies a wallet debit taken during checkout so it can
// be reversed if a later step fails.
type recordedDebit struct {
	kind  WalletKind
	txnID uint
}

// compensateOrder deletes an order whose later steps failed and reverses
// any wallet debits the checkout already took. If the compensation itself
// fails there is no further automatic recovery; the inconsistency needs
// manual reconciliation.
func (s *OrderService) compensateOrder(ctx context.Context, orderID uint, debits []recordedDebit) {
	for _, debit := range debits {
		if err := s.wallets.ReverseDebit(ctx, debit.kind, debit.txnID); err != nil {
			log.Error().Uint("order_id", orderID).Uint("transaction_id", debit.txnID).Err(err).
				Msg("FATAL: debit reversal failed, manual reconciliation required")
		}
	}

	db := s.db.WithContext(ctx)
	if err := db.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
		log.Error().Uint("order_id", orderID).Err(err).
			Msg("FATAL: compensating item delete failed, manual reconciliation required")
		return
	}
	if err := db.Delete(&models.Order{}, orderID).Error; err != nil {
		log.Error().Uint("order_id", orderID).Err(err).
			Msg("FATAL: compensating order delete failed, manual reconciliation required")
	}
}

// recordCommission creates the pending commission obligation and the
// AffiliateSale record when an affiliate code resolves to a user and the
// computed commission is positive. Failures here are logged, not fatal:
// the order stands.
func (s *OrderService) recordCommission(ctx context.Context, order *models.Order, req CheckoutRequest) {
	if req.AffiliateCode == "" {
		return
	}

	var affiliate models.User
	err := s.db.WithContext(ctx).
		Where("affiliate_code = ?", req.AffiliateCode).
		First(&affiliate).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Str("affiliate_code", req.AffiliateCode).Err(err).Msg("affiliate lookup failed")
		}
		return
	}
	if affiliate.ID == order.UserID {
		log.Info().Uint("order_id", order.ID).Msg("self-referral ignored")
		return
	}

	items := make([]CommissionItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, CommissionItem{
			ProductID: item.ProductID,
			ComboID:   item.ComboID,
			OfferID:   item.OfferID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	commission, err := s.commission.ComputeOrderCommission(ctx, &affiliate, items, order.TotalAmount)
	if err != nil {
		log.Error().Uint("order_id", order.ID).Err(err).Msg("commission computation failed")
		return
	}
	if commission.Total <= 0 {
		return
	}

	description := fmt.Sprintf("Commission for order #%d", order.ID)
	if _, err := s.wallets.RecordPendingObligation(ctx, affiliate.ID, order.ID, KindCommission, commission.Total, description); err != nil {
		log.Error().Uint("order_id", order.ID).Err(err).Msg("pending commission record failed")
		return
	}

	sale := models.AffiliateSale{
		OrderID:          order.ID,
		AffiliateUserID:  affiliate.ID,
		SaleAmount:       order.TotalAmount,
		CommissionAmount: commission.Total,
		CommissionRate:   commission.EffectiveRate,
		Status:           models.SaleStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&sale).Error; err != nil {
		log.Error().Uint("order_id", order.ID).Err(err).Msg("affiliate sale record failed")
	}
}

// recordCashback creates one pending cashback obligation per line item
// with a configured cashback, plus the milestone gift when the order
// total crosses the configured threshold.
func (s *OrderService) recordCashback(ctx context.Context, order *models.Order, items []models.OrderItem) {
	db := s.db.WithContext(ctx)

	for _, item := range items {
		var amount float64
		var name string

		switch {
		case item.IsComboHeader && item.ComboID != nil:
			var combo models.Combo
			if err := db.First(&combo, *item.ComboID).Error; err != nil {
				continue
			}
			amount = combo.Cashback
			name = combo.Name
		case item.ProductID != nil && item.ParentComboID == nil:
			var product models.Product
			if err := db.First(&product, *item.ProductID).Error; err != nil {
				continue
			}
			amount = product.Cashback
			name = product.Name
		default:
			continue
		}

		if amount <= 0 {
			continue
		}

		total := utils.RoundPaise(amount * float64(item.Quantity))
		description := fmt.Sprintf("Cashback for %s (order #%d)", name, order.ID)
		if _, err := s.wallets.RecordPendingObligation(ctx, order.UserID, order.ID, KindCashback, total, description); err != nil {
			log.Error().Uint("order_id", order.ID).Err(err).Msg("pending cashback record failed")
		}
	}

	if s.milestoneThreshold > 0 && s.milestoneCashback > 0 && order.TotalAmount >= s.milestoneThreshold {
		description := fmt.Sprintf("Milestone gift cashback (order #%d)", order.ID)
		if _, err := s.wallets.RecordPendingObligation(ctx, order.UserID, order.ID, KindCashback, utils.RoundPaise(s.milestoneCashback), description); err != nil {
			log.Error().Uint("order_id", order.ID).Err(err).Msg("milestone cashback record failed")
		}
	}
}

func (s *OrderService) notifyAdmin(user *models.User, order *models.Order, items []models.OrderItem) {
	notification := OrderNotification{
		OrderID:         order.ID,
		TotalAmount:     order.TotalAmount,
		DeliveryPartner: order.DeliveryPartner,
		UserName:        user.Name,
		UserPhone:       user.Phone,
		PaymentMethod:   order.PaymentMethod,
	}
	for _, item := range items {
		if item.ParentComboID != nil {
			continue
		}
		notification.Items = append(notification.Items, OrderItemNotification{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		})
	}
	if err := s.telegram.NotifyNewOrder(notification); err != nil {
		log.Warn().Uint("order_id", order.ID).Err(err).Msg("admin notification failed")
	}
}
