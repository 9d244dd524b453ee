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

// affiliateCookie carries a previously-set attribution, consulted when
// the checkout body has no affiliate code.
const affiliateCookie = "affiliate_code"

// OrderHandler manages checkout and order endpoints.
type OrderHandler struct {
	db      *gorm.DB
	orders  *services.OrderService
	courier *services.CourierService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(db *gorm.DB, orders *services.OrderService, courier *services.CourierService) *OrderHandler {
	return &OrderHandler{db: db, orders: orders, courier: courier}
}

// Checkout places an order for the authenticated user.
func (h *OrderHandler) Checkout(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req services.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.UserID = userID
	if req.AffiliateCode == "" {
		req.AffiliateCode = c.Cookies(affiliateCookie)
	}

	result, err := h.orders.PlaceOrder(c.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// ListOrders returns orders for the authenticated user.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	query := h.db.Where("user_id = ?", userID).Model(&models.Order{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// GetOrder returns a single order for the authenticated user.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.Preload("Items").
		First(&order, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

// TrackOrder proxies the courier's current status for one of the
// authenticated user's orders.
func (h *OrderHandler) TrackOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.First(&order, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	if order.CourierOrderID == "" {
		return c.JSON(fiber.Map{
			"success": true,
			"data": fiber.Map{
				"status":           order.Status,
				"delivery_partner": order.DeliveryPartner,
			},
		})
	}

	status, err := h.courier.TrackOrder(order.CourierOrderID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "tracking unavailable")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"status":          order.Status,
			"courier_status":  status,
			"tracking_number": order.TrackingNumber,
		},
	})
}
