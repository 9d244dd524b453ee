package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/nivora/internal/services"
)

// PincodeHandler exposes pincode validation.
type PincodeHandler struct {
	pincode *services.PincodeService
}

// NewPincodeHandler constructs PincodeHandler.
func NewPincodeHandler(pincode *services.PincodeService) *PincodeHandler {
	return &PincodeHandler{pincode: pincode}
}

// Validate checks whether a delivery pincode exists. A lookup-service
// outage is reported as 503, distinct from a confirmed invalid pincode.
func (h *PincodeHandler) Validate(c *fiber.Ctx) error {
	result := h.pincode.ValidatePincode(c.Context(), c.Params("code"))

	status := fiber.StatusOK
	if result.Status == services.PincodeStatusError {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"success": result.Status != services.PincodeStatusError,
		"data":    result,
	})
}
