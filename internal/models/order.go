package models

import "time"

// Order lifecycle statuses.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusReturned   = "returned"
	OrderStatusRefunded   = "refunded"
)

// Delivery partners.
const (
	DeliveryPartnerCourier = "COURIER"
	DeliveryPartnerManual  = "MANUAL"
)

type Order struct {
	BaseModel
	UserID         uint    `gorm:"index" json:"user_id"`
	User           *User   `json:"user,omitempty"`
	TotalAmount    float64 `json:"total_amount"`
	ShippingCharge float64 `json:"shipping_charge"`
	Status         string  `gorm:"index;default:pending" json:"status"`
	PaymentMethod  string  `json:"payment_method"`
	// ShippingAddress stores the raw address payload: a plain string, a
	// single recipient object, or an array of recipients for split delivery.
	ShippingAddress string      `gorm:"type:text" json:"shipping_address"`
	DeliveryPartner string      `json:"delivery_partner"`
	DeliveryType    string      `json:"delivery_type"`
	CourierOrderID  string      `gorm:"index" json:"courier_order_id"`
	ShipmentID      string      `json:"shipment_id"`
	TrackingNumber  string      `json:"tracking_number"`
	CourierNote     string      `json:"courier_note"`
	RedeemAmount    float64     `json:"redeem_amount"`
	AffiliateRedeem float64     `json:"affiliate_redeem"`
	AffiliateCode   string      `gorm:"index" json:"affiliate_code"`
	PromoCode       string      `json:"promo_code"`
	DeliveredAt     *time.Time  `json:"delivered_at"`
	Items           []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID   uint    `gorm:"index" json:"order_id"`
	ProductID *uint   `gorm:"index" json:"product_id"`
	ComboID   *uint   `gorm:"index" json:"combo_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	// Shade holds the JSON-encoded shade/variant selection for this line.
	Shade string `json:"shade"`
	// IsComboHeader marks the synthetic row representing the combo itself;
	// constituent rows reference it through ParentComboID.
	IsComboHeader bool  `json:"is_combo_header"`
	ParentComboID *uint `json:"parent_combo_id"`
}
