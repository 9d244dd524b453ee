package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nivora/internal/models"
)

func TestPlaceOrderCourierFlow(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA10")
	lipstick := createProduct(t, env.db, "lipstick", 500, 0, 0)
	serum := createProduct(t, env.db, "serum", 300, 0, 0)

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     800,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items: []CheckoutItem{
			{ProductID: &lipstick.ID, Quantity: 1, Price: 500},
			{ProductID: &serum.ID, Quantity: 1, Price: 300},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPartnerCourier, result.DeliveryPartner)
	assert.Equal(t, "AWB123456", result.TrackingNumber)
	assert.Empty(t, result.CourierError)

	var order models.Order
	require.NoError(t, env.db.Preload("Items").First(&order, result.OrderID).Error)
	assert.Equal(t, 800.0, order.TotalAmount)
	assert.Equal(t, "701001", order.CourierOrderID)
	assert.Equal(t, "801001", order.ShipmentID)
	assert.Equal(t, "AWB123456", order.TrackingNumber)
	require.Len(t, order.Items, 2)

	_, createCalls, _ := env.courier.counts()
	assert.Equal(t, 1, createCalls)
}

func TestPlaceOrderUnserviceablePincodeForcesManual(t *testing.T) {
	env := newOrderEnv(t)
	env.courier.serviceable = false
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA11")
	product := createProduct(t, env.db, "serum", 300, 0, 0)

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     300,
		PaymentMethod:   "cod",
		ShippingAddress: addressJSON("799999"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 300}},
	})
	require.NoError(t, err, "an unserviceable pincode downgrades delivery, it does not reject the order")
	assert.Equal(t, models.DeliveryPartnerManual, result.DeliveryPartner)

	var order models.Order
	require.NoError(t, env.db.First(&order, result.OrderID).Error)
	assert.Equal(t, "MANUAL", order.DeliveryType)
	assert.Empty(t, order.CourierOrderID)

	_, createCalls, _ := env.courier.counts()
	assert.Zero(t, createCalls, "manual orders must not touch the courier")
}

func TestPlaceOrderPromoAndAffiliateAreMutuallyExclusive(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA12")
	product := createProduct(t, env.db, "serum", 300, 0, 0)

	_, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     300,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 300}},
		PromoCode:       "WELCOME10",
		AffiliateCode:   "ASHA10",
	})
	assert.ErrorIs(t, err, ErrValidation)

	var count int64
	require.NoError(t, env.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count, "validation failures must happen before any storage mutation")
}

func TestPlaceOrderRedeemExceedingBalanceIsRejectedEarly(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA13")
	product := createProduct(t, env.db, "serum", 300, 0, 0)

	id, err := env.wallets.RecordPendingObligation(ctx, user.ID, 999, KindCashback, 500, "seed")
	require.NoError(t, err)
	require.NoError(t, env.wallets.Settle(ctx, KindCashback, id))

	_, err = env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     300,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 300}},
		RedeemAmount:    1000,
	})
	assert.ErrorIs(t, err, ErrValidation)

	var count int64
	require.NoError(t, env.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)

	balance, err := env.wallets.Balance(ctx, user.ID, KindCashback)
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance)
}

func TestPlaceOrderRedeemDebitsWallet(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA14")
	product := createProduct(t, env.db, "serum", 300, 0, 0)

	id, err := env.wallets.RecordPendingObligation(ctx, user.ID, 999, KindCashback, 500, "seed")
	require.NoError(t, err)
	require.NoError(t, env.wallets.Settle(ctx, KindCashback, id))

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     100,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 300}},
		RedeemAmount:    200,
	})
	require.NoError(t, err)

	balance, err := env.wallets.Balance(ctx, user.ID, KindCashback)
	require.NoError(t, err)
	assert.Equal(t, 300.0, balance)

	var txn models.WalletTransaction
	require.NoError(t, env.db.Where("order_id = ? AND type = ?", result.OrderID, models.TxnTypeRedeem).
		First(&txn).Error)
	assert.Equal(t, 200.0, txn.Amount)
	assert.Equal(t, models.TxnStatusCompleted, txn.Status)
}

func TestPlaceOrderCompensationRefundsRedeemedBalance(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA19")
	product := createProduct(t, env.db, "serum", 300, 0, 0)

	id, err := env.wallets.RecordPendingObligation(ctx, user.ID, 999, KindCashback, 500, "seed")
	require.NoError(t, err)
	require.NoError(t, env.wallets.Settle(ctx, KindCashback, id))

	// The unknown combo fails item insertion after the redemption debit
	// has already been taken.
	_, err = env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     1100,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items: []CheckoutItem{
			{ProductID: &product.ID, Quantity: 1, Price: 300},
			{ComboID: uintPtr(9999), Quantity: 1, Price: 1000},
		},
		RedeemAmount: 200,
	})
	assert.ErrorIs(t, err, ErrValidation)

	var count int64
	require.NoError(t, env.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)

	balance, err := env.wallets.Balance(ctx, user.ID, KindCashback)
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance, "a compensated checkout must hand the redeemed amount back")

	var txn models.WalletTransaction
	require.NoError(t, env.db.Where("type = ?", models.TxnTypeRedeem).First(&txn).Error)
	assert.Equal(t, models.TxnStatusFailed, txn.Status)
}

func TestPlaceOrderExpandsComboIntoHeaderAndConstituents(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA15")
	kajal := createProduct(t, env.db, "kajal", 400, 0, 0)
	tint := createProduct(t, env.db, "tint", 600, 0, 0)
	combo := createCombo(t, env.db, "festive-set", 900, 0, []uint{kajal.ID, tint.ID})

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     900,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items: []CheckoutItem{{
			ComboID:  &combo.ID,
			Quantity: 1,
			Price:    900,
			Shades:   map[string]string{"1": "Noir"},
		}},
	})
	require.NoError(t, err)

	var items []models.OrderItem
	require.NoError(t, env.db.Where("order_id = ?", result.OrderID).Order("id asc").Find(&items).Error)
	require.Len(t, items, 3)

	assert.True(t, items[0].IsComboHeader)
	assert.Equal(t, 900.0, items[0].UnitPrice)
	assert.Equal(t, "festive-set", items[0].Name)

	lineTotal := 0.0
	for _, item := range items {
		lineTotal += item.UnitPrice * float64(item.Quantity)
		if !item.IsComboHeader {
			assert.Equal(t, &combo.ID, item.ParentComboID)
			assert.Zero(t, item.UnitPrice, "value rides on the header row only")
		}
	}
	assert.Equal(t, 900.0, lineTotal, "expanding the combo must not change the order value")
}

func TestPlaceOrderRecordsPendingCashback(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA16")
	product := createProduct(t, env.db, "serum", 300, 0, 25)

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     600,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 2, Price: 300}},
	})
	require.NoError(t, err)

	var txn models.WalletTransaction
	require.NoError(t, env.db.Where("order_id = ?", result.OrderID).First(&txn).Error)
	assert.Equal(t, models.TxnStatusPending, txn.Status)
	assert.Equal(t, 50.0, txn.Amount, "cashback is per unit")

	balance, err := env.wallets.Balance(ctx, user.ID, KindCashback)
	require.NoError(t, err)
	assert.Zero(t, balance, "cashback stays pending until delivery")
}

func TestPlaceOrderRecordsCommissionForAffiliate(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	buyer := createUser(t, env.db, "buyer", "BUY10")
	affiliate := createUser(t, env.db, "neha", "NEHA15")
	product := createProduct(t, env.db, "serum", 500, 10, 0)

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          buyer.ID,
		TotalAmount:     500,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 500}},
		AffiliateCode:   "NEHA15",
	})
	require.NoError(t, err)

	var txn models.AffiliateTransaction
	require.NoError(t, env.db.Where("order_id = ?", result.OrderID).First(&txn).Error)
	assert.Equal(t, affiliate.ID, txn.UserID)
	assert.Equal(t, models.TxnStatusPending, txn.Status)
	assert.Equal(t, 50.0, txn.Amount)

	var sale models.AffiliateSale
	require.NoError(t, env.db.Where("order_id = ?", result.OrderID).First(&sale).Error)
	assert.Equal(t, affiliate.ID, sale.AffiliateUserID)
	assert.Equal(t, models.SaleStatusPending, sale.Status)
	assert.Equal(t, 500.0, sale.SaleAmount)
}

func TestPlaceOrderIgnoresSelfReferral(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	buyer := createUser(t, env.db, "buyer", "SELF01")
	product := createProduct(t, env.db, "serum", 500, 10, 0)

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          buyer.ID,
		TotalAmount:     500,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 500}},
		AffiliateCode:   "SELF01",
	})
	require.NoError(t, err, "self-referral is ignored, not an error")

	var count int64
	require.NoError(t, env.db.Model(&models.AffiliateTransaction{}).
		Where("order_id = ?", result.OrderID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPlaceOrderCourierFailureIsNotFatal(t *testing.T) {
	env := newOrderEnv(t)
	env.courier.createFail = true
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA17")
	product := createProduct(t, env.db, "serum", 300, 0, 0)

	result, err := env.orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     300,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 300}},
	})
	require.NoError(t, err, "a courier outage must never lose the order")
	assert.NotEmpty(t, result.CourierError)

	var order models.Order
	require.NoError(t, env.db.First(&order, result.OrderID).Error)
	assert.Empty(t, order.CourierOrderID)
	assert.NotEmpty(t, order.CourierNote)
}

func TestPlaceOrderValidationGates(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	user := createUser(t, env.db, "asha", "ASHA18")
	product := createProduct(t, env.db, "serum", 300, 0, 0)

	base := CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     300,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 300}},
	}

	noItems := base
	noItems.Items = nil
	_, err := env.orders.PlaceOrder(ctx, noItems)
	assert.ErrorIs(t, err, ErrValidation)

	zeroQty := base
	zeroQty.Items = []CheckoutItem{{ProductID: &product.ID, Quantity: 0, Price: 300}}
	_, err = env.orders.PlaceOrder(ctx, zeroQty)
	assert.ErrorIs(t, err, ErrValidation)

	danglingItem := base
	danglingItem.Items = []CheckoutItem{{Quantity: 1, Price: 300}}
	_, err = env.orders.PlaceOrder(ctx, danglingItem)
	assert.ErrorIs(t, err, ErrValidation)

	noPayment := base
	noPayment.PaymentMethod = ""
	_, err = env.orders.PlaceOrder(ctx, noPayment)
	assert.ErrorIs(t, err, ErrValidation)

	noAddress := base
	noAddress.ShippingAddress = nil
	_, err = env.orders.PlaceOrder(ctx, noAddress)
	assert.ErrorIs(t, err, ErrValidation)

	var count int64
	require.NoError(t, env.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPlaceOrderMilestoneCashback(t *testing.T) {
	env := newOrderEnv(t)
	ctx := context.Background()

	orders := NewOrderService(env.db, env.wallets, NewCommissionService(env.db), env.shipping,
		NewMailService(MailConfig{}), NewTelegramService("", ""), NewEventService("", ""), 1000, 100)

	user := createUser(t, env.db, "asha", "ASHA19")
	product := createProduct(t, env.db, "hamper", 1200, 0, 0)

	result, err := orders.PlaceOrder(ctx, CheckoutRequest{
		UserID:          user.ID,
		TotalAmount:     1200,
		PaymentMethod:   "prepaid",
		ShippingAddress: addressJSON("560001"),
		Items:           []CheckoutItem{{ProductID: &product.ID, Quantity: 1, Price: 1200}},
	})
	require.NoError(t, err)

	var txn models.WalletTransaction
	require.NoError(t, env.db.Where("order_id = ?", result.OrderID).First(&txn).Error)
	assert.Equal(t, 100.0, txn.Amount)
	assert.Equal(t, models.TxnStatusPending, txn.Status)
}
