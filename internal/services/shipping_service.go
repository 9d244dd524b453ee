package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/models"
)

// ErrNoShipment is returned when AWB generation is requested for an order
// that never got a courier shipment.
var ErrNoShipment = errors.New("order has no courier shipment")

// DispatchResult reports the outcome of a courier handoff. Err is
// informational: a courier failure never rolls back the order.
type DispatchResult struct {
	ShipmentID     string
	TrackingNumber string
	Err            error
}

// ShippingService decides how an order ships and talks to the courier.
type ShippingService struct {
	db      *gorm.DB
	courier *CourierService
}

// NewShippingService constructs ShippingService.
func NewShippingService(db *gorm.DB, courier *CourierService) *ShippingService {
	return &ShippingService{db: db, courier: courier}
}

// CourierEnabled reports whether courier-integrated delivery is possible.
func (s *ShippingService) CourierEnabled() bool {
	return s.courier.Enabled()
}

// CheckServiceability reports whether any carrier can deliver to the
// pincode. A courier API failure fails open so a third-party outage never
// blocks legitimate orders.
func (s *ShippingService) CheckServiceability(pincode string, weightKg float64, isCOD bool) bool {
	companies, err := s.courier.GetServiceability(s.courier.PickupPincode(), pincode, weightKg, isCOD)
	if err != nil {
		log.Warn().Str("pincode", pincode).Err(err).Msg("serviceability check failed, failing open")
		return true
	}
	return len(companies) > 0
}

// defaultLineGrams stands in for catalog entries with no configured
// weight.
const defaultLineGrams = 500

// WeightKg converts a total catalog weight to chargeable kilograms with
// the carrier's 0.5kg minimum.
func WeightKg(totalGrams int) float64 {
	kg := float64(totalGrams) / 1000
	if kg < 0.5 {
		kg = 0.5
	}
	return kg
}

func (s *ShippingService) lineWeightGrams(ctx context.Context, productID, comboID *uint, quantity int) int {
	grams := defaultLineGrams
	switch {
	case comboID != nil:
		var combo models.Combo
		if err := s.db.WithContext(ctx).First(&combo, *comboID).Error; err == nil && combo.WeightGrams > 0 {
			grams = combo.WeightGrams
		}
	case productID != nil:
		var product models.Product
		if err := s.db.WithContext(ctx).First(&product, *productID).Error; err == nil && product.WeightGrams > 0 {
			grams = product.WeightGrams
		}
	}
	if quantity < 1 {
		quantity = 1
	}
	return grams * quantity
}

// CheckoutWeightKg derives the parcel weight for checkout lines from the
// catalog weights of the referenced products and combos.
func (s *ShippingService) CheckoutWeightKg(ctx context.Context, items []CheckoutItem) float64 {
	total := 0
	for _, item := range items {
		total += s.lineWeightGrams(ctx, item.ProductID, item.ComboID, item.Quantity)
	}
	return WeightKg(total)
}

// OrderWeightKg derives the parcel weight for persisted order lines.
// Combo constituents are skipped; their weight rides on the header row.
func (s *ShippingService) OrderWeightKg(ctx context.Context, items []models.OrderItem) float64 {
	total := 0
	for _, item := range items {
		if item.ParentComboID != nil {
			continue
		}
		total += s.lineWeightGrams(ctx, item.ProductID, item.ComboID, item.Quantity)
	}
	return WeightKg(total)
}

// IsCOD derives the cash-on-delivery flag from the payment method text.
func IsCOD(paymentMethod string) bool {
	m := strings.ToLower(paymentMethod)
	return strings.Contains(m, "cod") || strings.Contains(m, "cash")
}

// Dispatch hands a freshly created order to the courier. Manual-delivery
// orders make no courier call. Any courier failure is recorded as a note
// on the order and returned informationally; the order itself stands.
func (s *ShippingService) Dispatch(ctx context.Context, order *models.Order, items []models.OrderItem, user *models.User, recipients []Recipient) DispatchResult {
	if order.DeliveryPartner != models.DeliveryPartnerCourier {
		return DispatchResult{}
	}
	if !s.courier.Enabled() {
		return DispatchResult{Err: ErrCourierDisabled}
	}

	payload := s.buildPayload(order, items, user, recipients, s.OrderWeightKg(ctx, items))
	result, err := s.courier.CreateOrder(payload)
	if err != nil {
		log.Error().Uint("order_id", order.ID).Err(err).Msg("courier order creation failed")
		s.recordCourierError(ctx, order.ID, err)
		return DispatchResult{Err: err}
	}

	updates := map[string]any{
		"courier_order_id": result.OrderID.String(),
		"shipment_id":      result.ShipmentID.String(),
		"courier_note":     "",
	}
	if result.AWBCode != "" {
		updates["tracking_number"] = result.AWBCode
	}

	// Tracking fields are set exactly once; re-dispatching an order that
	// already has them is not allowed to overwrite.
	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND courier_order_id = ''", order.ID).
		Updates(updates).Error; err != nil {
		log.Error().Uint("order_id", order.ID).Err(err).Msg("failed to persist courier references")
		return DispatchResult{Err: err}
	}

	log.Info().Uint("order_id", order.ID).
		Str("courier_order_id", result.OrderID.String()).
		Str("awb", result.AWBCode).
		Msg("courier shipment created")

	return DispatchResult{
		ShipmentID:     result.ShipmentID.String(),
		TrackingNumber: result.AWBCode,
	}
}

func (s *ShippingService) buildPayload(order *models.Order, items []models.OrderItem, user *models.User, recipients []Recipient, weightKg float64) CourierOrderPayload {
	first := Recipient{}
	if len(recipients) > 0 {
		first = recipients[0]
	}
	if first.Name == "" && user != nil {
		first.Name = user.Name
	}
	if first.Phone == "" && user != nil {
		first.Phone = user.Phone
	}

	email := ""
	if user != nil {
		email = user.Email
	}

	paymentMethod := "Prepaid"
	if IsCOD(order.PaymentMethod) {
		paymentMethod = "COD"
	}

	lines := make([]CourierOrderItem, 0, len(items))
	for _, item := range items {
		if item.ParentComboID != nil {
			// Combo constituents ride inside the header line.
			continue
		}
		lines = append(lines, CourierOrderItem{
			Name:         item.Name,
			SKU:          fmt.Sprintf("SKU-%d", item.ID),
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice,
		})
	}

	return CourierOrderPayload{
		OrderID:           fmt.Sprintf("ORD-%d", order.ID),
		OrderDate:         order.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:    "Primary",
		BillingName:       first.Name,
		BillingAddress:    first.Address,
		BillingPincode:    first.Pincode,
		BillingPhone:      first.Phone,
		BillingEmail:      email,
		ShippingIsBilling: true,
		PaymentMethod:     paymentMethod,
		SubTotal:          order.TotalAmount,
		WeightKg:          weightKg,
		Items:             lines,
	}
}

func (s *ShippingService) recordCourierError(ctx context.Context, orderID uint, courierErr error) {
	note := courierErr.Error()
	if len(note) > 1024 {
		note = note[:1024]
	}
	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("courier_note", note).Error; err != nil {
		log.Error().Uint("order_id", orderID).Err(err).Msg("failed to record courier error note")
	}
}

// GenerateAWB assigns a tracking number to an order's shipment. It is
// idempotent: an existing tracking number is reused. ErrAWBNotReady means
// the carrier accepted the request but the label is not available yet.
func (s *ShippingService) GenerateAWB(ctx context.Context, orderID uint) (string, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, orderID).Error; err != nil {
		return "", fmt.Errorf("load order %d: %w", orderID, err)
	}

	if order.TrackingNumber != "" {
		return order.TrackingNumber, nil
	}
	if order.ShipmentID == "" {
		return "", ErrNoShipment
	}

	recipients, err := ParseShippingAddress(json.RawMessage(order.ShippingAddress))
	if err != nil {
		return "", fmt.Errorf("parse shipping address of order %d: %w", orderID, err)
	}

	companies, err := s.courier.GetServiceability(
		s.courier.PickupPincode(), recipients[0].Pincode, s.OrderWeightKg(ctx, order.Items), IsCOD(order.PaymentMethod))
	if err != nil {
		return "", fmt.Errorf("serviceability for awb: %w", err)
	}
	if len(companies) == 0 {
		return "", fmt.Errorf("no courier serves pincode %s", recipients[0].Pincode)
	}

	awb, err := s.courier.GenerateAWB(order.ShipmentID, companies[0].ID)
	if err != nil {
		return "", err
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND tracking_number = ''", orderID).
		Updates(map[string]any{"tracking_number": awb, "updated_at": now}).Error; err != nil {
		return "", fmt.Errorf("persist awb for order %d: %w", orderID, err)
	}

	log.Info().Uint("order_id", orderID).Str("awb", awb).Msg("awb generated")
	return awb, nil
}
