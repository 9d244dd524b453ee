package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// TelegramService sends admin notifications to a Telegram chat. With no
// bot token configured it is a no-op.
type TelegramService struct {
	botToken    string
	adminChatID string
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to the specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("telegram send failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("telegram unexpected status")
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(text string) error {
	if s.adminChatID == "" {
		return nil
	}
	return s.SendMessage(s.adminChatID, text)
}

// OrderNotification contains order data for an admin notification.
type OrderNotification struct {
	OrderID         uint
	Items           []OrderItemNotification
	TotalAmount     float64
	DeliveryPartner string
	UserName        string
	UserPhone       string
	PaymentMethod   string
}

// OrderItemNotification contains order item data.
type OrderItemNotification struct {
	Name     string
	Quantity int
	Price    float64
}

// NotifyNewOrder sends a new-order notification to the admin chat.
func (s *TelegramService) NotifyNewOrder(order OrderNotification) error {
	if s.adminChatID == "" {
		return nil
	}

	var itemsList strings.Builder
	for i, item := range order.Items {
		itemsList.WriteString(fmt.Sprintf("%d. <b>%s</b> x%d — ₹%.2f\n",
			i+1, item.Name, item.Quantity, item.Price*float64(item.Quantity)))
	}

	message := fmt.Sprintf(`<b>🛒 NEW ORDER #%d</b>
<b>👤 Customer:</b> %s
<b>📞 Phone:</b> %s
<b>📦 Items:</b>
%s<b>💰 Total:</b> ₹%.2f
<b>💳 Payment:</b> %s
<b>🚚 Delivery:</b> %s`,
		order.OrderID,
		order.UserName,
		order.UserPhone,
		itemsList.String(),
		order.TotalAmount,
		order.PaymentMethod,
		order.DeliveryPartner,
	)

	return s.SendToAdmin(strings.TrimSpace(message))
}

// NotifyStatusChange sends an order status transition to the admin chat.
func (s *TelegramService) NotifyStatusChange(orderID uint, from, to string) error {
	if s.adminChatID == "" {
		return nil
	}
	return s.SendToAdmin(fmt.Sprintf("<b>📍 Order #%d:</b> %s → %s", orderID, from, to))
}
