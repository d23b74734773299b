package event

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/invoice"
	"github.com/xammer/billops/internal/domain/shared"
)

// Message is an outbound notification.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer delivers notifications. Transport is deployment specific.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs msg
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// InvoiceFinalizedMailHandler notifies the billing team that an invoice
// was finalized.
type InvoiceFinalizedMailHandler struct {
	mailer Mailer
	from   string
	to     []string
}

// NewInvoiceFinalizedMailHandler creates the handler. to is a comma
// separated recipient list.
func NewInvoiceFinalizedMailHandler(mailer Mailer, from, to string) *InvoiceFinalizedMailHandler {
	recipients := make([]string, 0)
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &InvoiceFinalizedMailHandler{mailer: mailer, from: from, to: recipients}
}

// EventTypes returns the invoice finalized event type
func (h *InvoiceFinalizedMailHandler) EventTypes() []string {
	return []string{invoice.EventTypeInvoiceFinalized}
}

// Handle sends one notice per finalized invoice. Without recipients it does nothing.
func (h *InvoiceFinalizedMailHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*invoice.FinalizedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T for %s", event, event.EventType())
	}
	if len(h.to) == 0 {
		return nil
	}
	msg := Message{
		From:    h.from,
		To:      h.to,
		Subject: fmt.Sprintf("Invoice %s finalized for account %s (%s)", e.InvoiceNumber, e.AccountID, e.BillingPeriod),
		Body: fmt.Sprintf("Invoice %s for account %s, billing period %s, was finalized.\nAmount due: $%s\n",
			e.InvoiceNumber, e.AccountID, e.BillingPeriod, shared.DisplayMoney(e.Amount)),
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send finalized notice for %s: %w", e.InvoiceNumber, err)
	}
	return nil
}

var _ shared.EventHandler = (*InvoiceFinalizedMailHandler)(nil)
