package notify

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSink forwards notifications by e-mail, for unattended daily runs.
// Delivery happens in the background; failures are logged, never surfaced.
type EmailSink struct {
	apiKey      string
	fromName    string
	fromAddress string
	to          string
}

func NewEmailSink(apiKey, fromName, fromAddress, to string) *EmailSink {
	return &EmailSink{
		apiKey:      apiKey,
		fromName:    fromName,
		fromAddress: fromAddress,
		to:          to,
	}
}

func (s *EmailSink) Notify(n Notification) {
	go s.send(n)
}

func (s *EmailSink) send(n Notification) {
	subject := fmt.Sprintf("[crawlwatch] %s", n.Title)
	body := n.Message

	from := mail.NewEmail(s.fromName, s.fromAddress)
	to := mail.NewEmail("", s.to)
	email := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.Send(email)
	if err != nil {
		log.Error("failed to send notification email", "error", err)
		return
	}
	if response.StatusCode >= 400 {
		log.Error("sendgrid rejected notification email", "status", response.StatusCode)
		return
	}

	log.Debug("notification email sent", "to", s.to, "status", response.StatusCode)
}
