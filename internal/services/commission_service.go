package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/example/nivora/internal/models"
	"github.com/example/nivora/internal/utils"
)

// CommissionItem identifies one order line for commission purposes.
// Exactly one of ProductID, ComboID, OfferID is expected to be set.
type CommissionItem struct {
	ProductID *uint
	ComboID   *uint
	OfferID   *uint
	Quantity  int
	UnitPrice float64
}

// ItemCommission is the per-line commission breakdown.
type ItemCommission struct {
	Item       CommissionItem
	Rate       float64
	Commission float64
}

// OrderCommission is the commission computed for a whole order.
type OrderCommission struct {
	Total         float64
	EffectiveRate float64
	Breakdown     []ItemCommission
}

// CommissionService derives affiliate commission from server-side catalog
// configuration. Client-submitted commission values are never trusted.
type CommissionService struct {
	db *gorm.DB
}

// NewCommissionService constructs CommissionService.
func NewCommissionService(db *gorm.DB) *CommissionService {
	return &CommissionService{db: db}
}

// ComputeOrderCommission resolves a commission rate for every line item
// and returns the per-item breakdown plus totals. A positive per-affiliate
// rate on the referring user overrides the catalog rate for every line.
// It has no side effects and is deterministic for a fixed catalog state,
// so it can be re-run idempotently.
func (s *CommissionService) ComputeOrderCommission(ctx context.Context, affiliate *models.User, items []CommissionItem, orderTotal float64) (*OrderCommission, error) {
	result := &OrderCommission{Breakdown: make([]ItemCommission, 0, len(items))}

	for _, item := range items {
		rate, err := s.resolveRate(ctx, item)
		if err != nil {
			return nil, err
		}
		if affiliate != nil && affiliate.CommissionRate > 0 {
			rate = affiliate.CommissionRate
		}

		commission := utils.RoundPaise(item.UnitPrice * float64(item.Quantity) * rate / 100)
		result.Total += commission
		result.Breakdown = append(result.Breakdown, ItemCommission{
			Item:       item,
			Rate:       rate,
			Commission: commission,
		})
	}

	result.Total = utils.RoundPaise(result.Total)
	if orderTotal > 0 {
		result.EffectiveRate = utils.RoundPaise(result.Total / orderTotal * 100)
	}

	return result, nil
}

// resolveRate reads the commission percent from the referenced catalog
// entity. A missing entity or an unset field yields 0, never an error.
func (s *CommissionService) resolveRate(ctx context.Context, item CommissionItem) (float64, error) {
	db := s.db.WithContext(ctx)

	switch {
	case item.ProductID != nil:
		var product models.Product
		if err := db.First(&product, *item.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, nil
			}
			return 0, fmt.Errorf("load product %d: %w", *item.ProductID, err)
		}
		return product.CommissionPercent, nil
	case item.ComboID != nil:
		var combo models.Combo
		if err := db.First(&combo, *item.ComboID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, nil
			}
			return 0, fmt.Errorf("load combo %d: %w", *item.ComboID, err)
		}
		return combo.CommissionPercent, nil
	case item.OfferID != nil:
		var offer models.Offer
		if err := db.First(&offer, *item.OfferID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, nil
			}
			return 0, fmt.Errorf("load offer %d: %w", *item.OfferID, err)
		}
		return offer.CommissionPercent, nil
	default:
		return 0, nil
	}
}
