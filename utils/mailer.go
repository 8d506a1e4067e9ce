package utils

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// OutboundMail is one rendered email handed to the mail collaborator.
type OutboundMail struct {
	From     string
	FromName string
	ReplyTo  string
	To       string
	Subject  string
	HTML     string
}

// Mailer sends one email and returns the message id recorded on the
// job. Delivery tracking is out of scope here.
type Mailer interface {
	Send(mail OutboundMail) (string, error)
}

// SMTPMailer sends through the configured SMTP relay.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
}

func NewSMTPMailer(host string, port int, username, password string) *SMTPMailer {
	return &SMTPMailer{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
	}
}

func (s *SMTPMailer) Send(mail OutboundMail) (string, error) {
	messageID := uuid.New().String()

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", mail.FromName, mail.From))
	m.SetHeader("To", mail.To)
	if mail.ReplyTo != "" {
		m.SetHeader("Reply-To", mail.ReplyTo)
	}
	m.SetHeader("Subject", mail.Subject)
	m.SetHeader("X-Membermail-ID", messageID)
	m.SetBody("text/html", mail.HTML)

	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	if err := d.DialAndSend(m); err != nil {
		return "", fmt.Errorf("error sending email: %w", err)
	}

	return messageID, nil
}
