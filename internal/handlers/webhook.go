package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/example/nivora/internal/models"
	"github.com/example/nivora/internal/services"
)

// WebhookHandler accepts courier delivery-status callbacks.
type WebhookHandler struct {
	db         *gorm.DB
	settlement *services.SettlementService
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(db *gorm.DB, settlement *services.SettlementService) *WebhookHandler {
	return &WebhookHandler{db: db, settlement: settlement}
}

type courierWebhookPayload struct {
	AWB            string `json:"awb"`
	CurrentStatus  string `json:"current_status"`
	OrderID        string `json:"order_id"`
	ChannelOrderID string `json:"channel_order_id"`
}

// HandleStatusUpdate maps the courier's free-text status to an internal
// transition and applies it. Couriers fire the same event multiple times;
// settlement is idempotent, so duplicates are acknowledged and absorbed.
func (h *WebhookHandler) HandleStatusUpdate(c *fiber.Ctx) error {
	var payload courierWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid webhook payload")
	}

	order, err := h.resolveOrder(payload)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("courier_order_id", payload.OrderID).
				Str("channel_order_id", payload.ChannelOrderID).
				Msg("webhook for unknown order")
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	status, ok := services.MapCourierStatus(payload.CurrentStatus)
	if !ok {
		log.Info().Uint("order_id", order.ID).Str("status", payload.CurrentStatus).
			Msg("unrecognized courier status, ignoring")
		return c.JSON(fiber.Map{"success": true, "applied": false})
	}

	if err := h.settlement.ApplyTransition(c.Context(), order.ID, status); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "applied": true, "status": status})
}

// resolveOrder finds the internal order by the courier-assigned order id,
// falling back to the merchant order id embedded in the channel reference
// ("ORD-<id>").
func (h *WebhookHandler) resolveOrder(payload courierWebhookPayload) (*models.Order, error) {
	var order models.Order

	if payload.OrderID != "" {
		err := h.db.Where("courier_order_id = ?", payload.OrderID).First(&order).Error
		if err == nil {
			return &order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	ref := strings.TrimPrefix(strings.TrimSpace(payload.ChannelOrderID), "ORD-")
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		if err := h.db.First(&order, uint(id)).Error; err != nil {
			return nil, err
		}
		return &order, nil
	}

	return nil, gorm.ErrRecordNotFound
}
