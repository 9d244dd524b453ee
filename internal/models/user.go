package models

type User struct {
	BaseModel
	Name          string `json:"name"`
	Email         string `gorm:"index" json:"email"`
	Phone         string `json:"phone"`
	IsAdmin       bool   `json:"is_admin"`
	// Most users never generate a code, so uniqueness is only enforced on
	// non-empty values.
	AffiliateCode string `gorm:"index:idx_users_affiliate_code,unique,where:affiliate_code <> ''" json:"affiliate_code"`
	// CommissionRate overrides the per-product rate when non-zero.
	CommissionRate float64 `json:"commission_rate"`
}
