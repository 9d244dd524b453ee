package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/nivora/internal/database"
	"github.com/example/nivora/internal/middleware"
	"github.com/example/nivora/internal/models"
	"github.com/example/nivora/internal/services"
)

func newWebhookApp(t *testing.T, secret string) (*fiber.App, *gorm.DB, *services.WalletService) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	wallets := services.NewWalletService(db)
	settlement := services.NewSettlementService(db, wallets,
		services.NewMailService(services.MailConfig{}),
		services.NewTelegramService("", ""),
		services.NewEventService("", ""))

	app := fiber.New()
	handler := NewWebhookHandler(db, settlement)
	app.Post("/api/courier/webhook", middleware.WebhookAuthMiddleware(secret), handler.HandleStatusUpdate)

	return app, db, wallets
}

func postWebhook(t *testing.T, app *fiber.App, body string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/courier/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestWebhookDeliveredSettlesOrder(t *testing.T) {
	app, db, wallets := newWebhookApp(t, "")
	ctx := context.Background()

	user := models.User{Name: "asha", AffiliateCode: "WH01"}
	require.NoError(t, db.Create(&user).Error)
	order := models.Order{UserID: user.ID, Status: models.OrderStatusShipped, CourierOrderID: "701001"}
	require.NoError(t, db.Create(&order).Error)
	_, err := wallets.RecordPendingObligation(ctx, user.ID, order.ID, services.KindCashback, 50, "Cashback")
	require.NoError(t, err)

	resp := postWebhook(t, app,
		`{"awb":"AWB123456","current_status":"Delivered","order_id":"701001"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, true, payload["applied"])
	assert.Equal(t, models.OrderStatusDelivered, payload["status"])

	var updated models.Order
	require.NoError(t, db.First(&updated, order.ID).Error)
	assert.Equal(t, models.OrderStatusDelivered, updated.Status)

	balance, err := wallets.Balance(ctx, user.ID, services.KindCashback)
	require.NoError(t, err)
	assert.Equal(t, 50.0, balance)
}

func TestWebhookResolvesByChannelOrderID(t *testing.T) {
	app, db, _ := newWebhookApp(t, "")

	order := models.Order{UserID: 1, Status: models.OrderStatusPending}
	require.NoError(t, db.Create(&order).Error)

	body := fmt.Sprintf(`{"current_status":"In Transit","channel_order_id":"ORD-%d"}`, order.ID)
	resp := postWebhook(t, app, body, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Order
	require.NoError(t, db.First(&updated, order.ID).Error)
	assert.Equal(t, models.OrderStatusShipped, updated.Status)
}

func TestWebhookUnknownOrder(t *testing.T) {
	app, _, _ := newWebhookApp(t, "")

	resp := postWebhook(t, app,
		`{"current_status":"Delivered","order_id":"999999","channel_order_id":"ORD-999999"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookUnrecognizedStatusIsAcknowledged(t *testing.T) {
	app, db, _ := newWebhookApp(t, "")

	order := models.Order{UserID: 1, Status: models.OrderStatusPending, CourierOrderID: "701002"}
	require.NoError(t, db.Create(&order).Error)

	resp := postWebhook(t, app,
		`{"current_status":"Some Courier Noise","order_id":"701002"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, false, payload["applied"])

	var updated models.Order
	require.NoError(t, db.First(&updated, order.ID).Error)
	assert.Equal(t, models.OrderStatusPending, updated.Status)
}

func TestWebhookAuth(t *testing.T) {
	app, db, _ := newWebhookApp(t, "hook-secret")

	order := models.Order{UserID: 1, Status: models.OrderStatusPending, CourierOrderID: "701003"}
	require.NoError(t, db.Create(&order).Error)
	body := `{"current_status":"Picked Up","order_id":"701003"}`

	resp := postWebhook(t, app, body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postWebhook(t, app, body, map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postWebhook(t, app, body, map[string]string{"x-api-key": "hook-secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
