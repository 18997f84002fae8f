package mailer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends plain notification emails through SES.
type Mailer struct {
	ses  SESService
	from string
}

func New(client SESService, from string) *Mailer {
	return &Mailer{ses: client, from: from}
}

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("recipient address is required")
	}

	htmlBody := "<p>" + html.EscapeString(msg.Body) + "</p>"
	out, err := m.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body)},
				Html: &types.Content{Data: aws.String(htmlBody)},
			},
		},
		Source: aws.String(m.from),
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Debug("email sent", "to", msg.To, "message_id", aws.ToString(out.MessageId))
	return nil
}
