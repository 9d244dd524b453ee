package services

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"

	"github.com/example/nivora/internal/models"
)

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// MailService sends transactional emails. Sends are best-effort: failures
// are logged and never surfaced to the caller.
type MailService struct {
	cfg    MailConfig
	dialer *gomail.Dialer
}

// NewMailService constructs MailService. With no SMTP host configured the
// service becomes a no-op.
func NewMailService(cfg MailConfig) *MailService {
	s := &MailService{cfg: cfg}
	if cfg.Host != "" {
		s.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	}
	return s
}

// SendOrderConfirmation emails the customer a summary of their order.
func (s *MailService) SendOrderConfirmation(user *models.User, order *models.Order, items []models.OrderItem) {
	if s.dialer == nil || user == nil || user.Email == "" {
		return
	}

	var lines strings.Builder
	for _, item := range items {
		if item.ParentComboID != nil {
			fmt.Fprintf(&lines, "    - %s x%d\n", item.Name, item.Quantity)
			continue
		}
		fmt.Fprintf(&lines, "  %s x%d — ₹%.2f\n", item.Name, item.Quantity, item.UnitPrice*float64(item.Quantity))
	}

	body := fmt.Sprintf(
		"Hi %s,\n\nThanks for your order #%d.\n\nItems:\n%s\nTotal: ₹%.2f (shipping ₹%.0f)\nDelivery: %s\n\nWe'll let you know as soon as it ships.\n",
		user.Name, order.ID, lines.String(), order.TotalAmount, order.ShippingCharge, order.DeliveryPartner)

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", user.Email)
	msg.SetHeader("Subject", fmt.Sprintf("Order #%d confirmed", order.ID))
	msg.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		log.Warn().Uint("order_id", order.ID).Err(err).Msg("order confirmation email failed")
	}
}

// SendDeliveryNotice emails the customer that their order was delivered.
func (s *MailService) SendDeliveryNotice(user *models.User, order *models.Order) {
	if s.dialer == nil || user == nil || user.Email == "" {
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", user.Email)
	msg.SetHeader("Subject", fmt.Sprintf("Order #%d delivered", order.ID))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Hi %s,\n\nYour order #%d has been delivered. Any cashback earned on it has been credited to your wallet.\n",
		user.Name, order.ID))

	if err := s.dialer.DialAndSend(msg); err != nil {
		log.Warn().Uint("order_id", order.ID).Err(err).Msg("delivery notice email failed")
	}
}
