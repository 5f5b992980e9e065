package market

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/libs/kafka"
)

const (
	paymentRequestedEventType = "payment.requested"
	paymentEventVersion       = 1
)

// PaymentRequestedEvent instructs the payment service to move funds to
// the receiver. TokenID is a fungible-token contract account, or
// registry.NativeToken for the base currency.
type PaymentRequestedEvent struct {
	kafka.Envelope
	ReceiverID string          `json:"receiver_id"`
	TokenID    string          `json:"token_id"`
	Amount     decimal.Decimal `json:"amount"`
	Memo       string          `json:"memo,omitempty"`
}

// publishPayment emits a transfer instruction. Payments are
// fire-and-forget: a publish failure is logged and counted but never
// fails the operation that earned the funds.
func (m *Market) publishPayment(ctx context.Context, receiver, tokenID string, amount decimal.Decimal, memo, correlationID string) {
	envelope, err := kafka.NewEnvelope(paymentRequestedEventType, paymentEventVersion, correlationID)
	if err != nil {
		m.logger.Error("build payment envelope", "receiver", receiver, "error", err)
		return
	}

	event := PaymentRequestedEvent{
		Envelope:   envelope,
		ReceiverID: receiver,
		TokenID:    tokenID,
		Amount:     amount,
		Memo:       memo,
	}

	status := "success"
	if _, _, err := m.producer.PublishJSON(ctx, m.paymentsTopic, receiver, event); err != nil {
		status = "error"
		m.logger.Error("publish payment request",
			"receiver", receiver,
			"token_id", tokenID,
			"amount", amount,
			"error", err,
		)
	}
	if m.metrics != nil {
		m.metrics.PaymentsPublished.WithLabelValues(status).Inc()
	}
}
