package email

import (
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/shopspring/decimal"
)

// Service handles email sending via SMTP
type Service struct {
	addr string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(host string, port int, from string) *Service {
	return &Service{
		addr: host + ":" + strconv.Itoa(port),
		from: from,
		send: smtp.SendMail,
	}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(to string, orderID int64, total decimal.Decimal, items []OrderItem) error {
	subject := fmt.Sprintf("Order confirmation #%d", orderID)
	return s.deliver(to, subject, BuildOrderConfirmationBody(orderID, total, items))
}

// SendStatusUpdate tells the buyer one item of their order moved on.
func (s *Service) SendStatusUpdate(to string, orderID int64, itemName, status string) error {
	subject := fmt.Sprintf("Order #%d update: %s", orderID, status)
	return s.deliver(to, subject, BuildStatusUpdateBody(orderID, itemName, status))
}

func (s *Service) deliver(to, subject, body string) error {
	return s.send(s.addr, nil, s.from, []string{to}, BuildMessage(s.from, to, subject, body))
}

// BuildMessage assembles an RFC 5322 HTML message.
func BuildMessage(from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body))
}
