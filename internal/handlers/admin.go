package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/models"
	"github.com/example/nivora/internal/services"
)

var validStatuses = map[string]bool{
	models.OrderStatusPending:    true,
	models.OrderStatusConfirmed:  true,
	models.OrderStatusProcessing: true,
	models.OrderStatusShipped:    true,
	models.OrderStatusDelivered:  true,
	models.OrderStatusCancelled:  true,
	models.OrderStatusReturned:   true,
	models.OrderStatusRefunded:   true,
}

// AdminHandler manages admin order and withdrawal operations.
type AdminHandler struct {
	db         *gorm.DB
	settlement *services.SettlementService
	shipping   *services.ShippingService
	wallets    *services.WalletService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB, settlement *services.SettlementService, shipping *services.ShippingService, wallets *services.WalletService) *AdminHandler {
	return &AdminHandler{db: db, settlement: settlement, shipping: shipping, wallets: wallets}
}

type statusUpdateRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
}

// UpdateOrderStatus drives a settlement transition synchronously with the
// response.
func (h *AdminHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req statusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !validStatuses[req.Status] {
		return fiber.NewError(fiber.StatusBadRequest, "unknown status")
	}

	if req.TrackingNumber != "" {
		// Tracking is set once; an existing number is never overwritten here.
		if err := h.db.Model(&models.Order{}).
			Where("id = ? AND tracking_number = ''", id).
			Update("tracking_number", req.TrackingNumber).Error; err != nil {
			return err
		}
	}

	if err := h.settlement.ApplyTransition(c.Context(), uint(id), req.Status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "status": req.Status})
}

// GenerateAWB (re)generates the tracking number for an order's shipment.
func (h *AdminHandler) GenerateAWB(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	awb, err := h.shipping.GenerateAWB(c.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAWBNotReady):
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"success": false,
				"message": "awb not yet available, retry later",
			})
		case errors.Is(err, services.ErrNoShipment):
			return fiber.NewError(fiber.StatusConflict, "order has no courier shipment")
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"tracking_number": awb}})
}

type withdrawalDecisionRequest struct {
	Action string `json:"action"` // approve | reject
}

// DecideWithdrawal approves or rejects a pending affiliate withdrawal.
func (h *AdminHandler) DecideWithdrawal(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req withdrawalDecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	switch req.Action {
	case "approve":
		err = h.wallets.ApproveWithdrawal(c.Context(), uint(id))
	case "reject":
		err = h.wallets.RejectWithdrawal(c.Context(), uint(id))
	default:
		return fiber.NewError(fiber.StatusBadRequest, "action must be approve or reject")
	}

	if err != nil {
		switch {
		case errors.Is(err, services.ErrTransactionNotPending):
			return fiber.NewError(fiber.StatusConflict, "withdrawal already decided")
		case errors.Is(err, services.ErrInsufficientBalance):
			return fiber.NewError(fiber.StatusConflict, "insufficient balance to approve")
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fiber.NewError(fiber.StatusNotFound, "withdrawal not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "action": req.Action})
}
