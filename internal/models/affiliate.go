package models

// AffiliateSale statuses mirror the lifecycle of the underlying commission
// transaction.
const (
	SaleStatusPending = "pending"
	SaleStatusPaid    = "paid"
	SaleStatusFailed  = "failed"
)

// AffiliateSale is a denormalized record of one sale attributed to an
// affiliate code.
type AffiliateSale struct {
	BaseModel
	OrderID          uint    `gorm:"index" json:"order_id"`
	AffiliateUserID  uint    `gorm:"index" json:"affiliate_user_id"`
	SaleAmount       float64 `json:"sale_amount"`
	CommissionAmount float64 `json:"commission_amount"`
	CommissionRate   float64 `json:"commission_rate"`
	Status           string  `gorm:"index;default:pending" json:"status"`
}
