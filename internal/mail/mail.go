package mail

import (
	"context"
	"fmt"
	"net"
	"strconv"

	gomail "github.com/wneessen/go-mail"
)

// Transport delivers the rendered report. Delivery failure is a run-level
// warning for the caller, never a reason to re-run cleanup.
type Transport interface {
	Send(ctx context.Context, body, subject, to, from, endpoint string) error
}

type smtpTransport struct{}

func New() Transport {
	return smtpTransport{}
}

func (smtpTransport) Send(ctx context.Context, body, subject, to, from, endpoint string) error {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return fmt.Errorf("set from %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(host,
		gomail.WithPort(port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithSMTPAuth(gomail.SMTPAuthNoAuth),
	)
	if err != nil {
		return fmt.Errorf("smtp client for %s: %w", endpoint, err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send report via %s: %w", endpoint, err)
	}
	return nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, 25, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("smtp endpoint %q: %w", endpoint, err)
	}
	return host, port, nil
}
