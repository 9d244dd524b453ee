package routes

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/cache"
	"github.com/example/nivora/internal/config"
	"github.com/example/nivora/internal/handlers"
	"github.com/example/nivora/internal/middleware"
	"github.com/example/nivora/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	var store cache.Store = cache.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory cache")
		} else {
			store = redisStore
		}
	}

	courier := services.NewCourierService(services.CourierConfig{
		BaseURL:       cfg.CourierBaseURL,
		Email:         cfg.CourierEmail,
		Password:      cfg.CourierPassword,
		PickupPincode: cfg.CourierPickupPincode,
	})
	pincode := services.NewPincodeService(services.PincodeConfig{
		PrimaryURL: cfg.PincodeAPIURL,
		PrimaryKey: cfg.PincodeAPIKey,
		PostalURL:  cfg.PostalAPIURL,
	}, store)

	wallets := services.NewWalletService(db)
	commission := services.NewCommissionService(db)
	shipping := services.NewShippingService(db, courier)
	mailer := services.NewMailService(services.MailConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})
	telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)
	events := services.NewEventService(cfg.KafkaBrokers, cfg.KafkaTopic)

	orders := services.NewOrderService(db, wallets, commission, shipping, mailer, telegram, events,
		cfg.MilestoneThreshold, cfg.MilestoneCashback)
	settlement := services.NewSettlementService(db, wallets, mailer, telegram, events)

	orderHandler := handlers.NewOrderHandler(db, orders, courier)
	pincodeHandler := handlers.NewPincodeHandler(pincode)
	walletHandler := handlers.NewWalletHandler(db, wallets)
	webhookHandler := handlers.NewWebhookHandler(db, settlement)
	adminHandler := handlers.NewAdminHandler(db, settlement, shipping, wallets)

	api := app.Group("/api")

	api.Get("/pincode/:code", pincodeHandler.Validate)

	webhook := api.Group("/courier", middleware.WebhookAuthMiddleware(cfg.CourierWebhookToken))
	webhook.Post("/webhook", webhookHandler.HandleStatusUpdate)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(cfg))

	protected.Post("/orders", orderHandler.Checkout)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)
	protected.Get("/orders/:id/track", orderHandler.TrackOrder)

	protected.Get("/wallet", walletHandler.GetWallet)
	protected.Get("/wallet/transactions", walletHandler.ListTransactions)
	protected.Get("/affiliate/wallet", walletHandler.GetAffiliateWallet)
	protected.Post("/affiliate/withdraw", walletHandler.RequestWithdrawal)

	// Admin routes
	admin := protected.Group("/admin", middleware.AdminMiddleware())
	admin.Put("/orders/:id/status", adminHandler.UpdateOrderStatus)
	admin.Post("/orders/:id/awb", adminHandler.GenerateAWB)
	admin.Put("/withdrawals/:id", adminHandler.DecideWithdrawal)
}
