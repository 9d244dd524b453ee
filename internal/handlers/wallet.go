package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/middleware"
	"github.com/example/nivora/internal/models"
	"github.com/example/nivora/internal/services"
	"github.com/example/nivora/internal/utils"
)

// WalletHandler exposes wallet balances, ledgers, and affiliate
// withdrawals.
type WalletHandler struct {
	db      *gorm.DB
	wallets *services.WalletService
}

// NewWalletHandler constructs WalletHandler.
func NewWalletHandler(db *gorm.DB, wallets *services.WalletService) *WalletHandler {
	return &WalletHandler{db: db, wallets: wallets}
}

// GetWallet returns the cashback wallet with recent transactions.
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	wallet, err := h.wallets.GetOrCreateWallet(c.Context(), userID)
	if err != nil {
		return err
	}

	var recent []models.WalletTransaction
	if err := h.db.Where("user_id = ?", userID).
		Order("id desc").Limit(10).
		Find(&recent).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"wallet":              wallet,
			"recent_transactions": recent,
		},
	})
}

// ListTransactions returns the paginated cashback ledger.
func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.WalletTransaction{}).Where("user_id = ?", userID)

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var txns []models.WalletTransaction
	if err := query.Order("id desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&txns).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    txns,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// GetAffiliateWallet returns the commission wallet.
func (h *WalletHandler) GetAffiliateWallet(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	wallet, err := h.wallets.GetOrCreateAffiliateWallet(c.Context(), userID)
	if err != nil {
		return err
	}

	var sales []models.AffiliateSale
	if err := h.db.Where("affiliate_user_id = ?", userID).
		Order("id desc").Limit(10).
		Find(&sales).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"wallet":       wallet,
			"recent_sales": sales,
		},
	})
}

type withdrawRequest struct {
	Amount float64 `json:"amount"`
	// Hold deducts the balance immediately instead of at approval time.
	Hold bool `json:"hold"`
}

// RequestWithdrawal records an affiliate withdrawal request.
func (h *WalletHandler) RequestWithdrawal(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Amount <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "amount must be positive")
	}

	txnID, err := h.wallets.RequestWithdrawal(c.Context(), userID, req.Amount, req.Hold)
	if err != nil {
		if errors.Is(err, services.ErrInsufficientBalance) {
			return fiber.NewError(fiber.StatusBadRequest, "insufficient commission balance")
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"transaction_id": txnID},
	})
}
