package models

type Product struct {
	BaseModel
	Name              string  `json:"name"`
	Slug              string  `gorm:"uniqueIndex" json:"slug"`
	Price             float64 `json:"price"`
	WeightGrams       int     `json:"weight_grams"`
	CommissionPercent float64 `json:"commission_percent"`
	// Cashback is a flat amount credited per unit once the order is delivered.
	Cashback float64 `json:"cashback"`
	Shades   string  `json:"shades"`
	IsActive bool    `gorm:"default:true" json:"is_active"`
}

// Combo bundles several products under a single price.
type Combo struct {
	BaseModel
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	WeightGrams       int     `json:"weight_grams"`
	CommissionPercent float64 `json:"commission_percent"`
	Cashback          float64 `json:"cashback"`
	// ProductIDs holds a JSON-encoded array of constituent product ids.
	// Legacy rows may carry malformed values; consumers fall back to the
	// shade-selection map supplied at checkout.
	ProductIDs string `json:"product_ids"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`
}

type Offer struct {
	BaseModel
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	CommissionPercent float64 `json:"commission_percent"`
	IsActive          bool    `gorm:"default:true" json:"is_active"`
}
