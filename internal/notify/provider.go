package notify

import "context"

// Provider delivers rendered messages to users. Delivery failures are
// logged by callers and never abort the operation that triggered them.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}
