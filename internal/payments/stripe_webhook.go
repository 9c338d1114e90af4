package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrIgnoredEvent marks webhook deliveries the order surface does not act on.
var ErrIgnoredEvent = errors.New("stripe: ignored webhook event")

// StripeWebhook verifies signed webhook deliveries and extracts the payment
// outcome the lifecycle engine needs.
type StripeWebhook struct {
	secret string
}

// NewStripeWebhook constructs a webhook verifier from the endpoint secret.
func NewStripeWebhook(secret string) (*StripeWebhook, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhook{secret: secret}, nil
}

// ParsePaidEvent verifies the signature and, for settlement events, returns
// the payment details carrying the order id from the intent metadata.
// Deliveries for other event types return ErrIgnoredEvent.
func (w *StripeWebhook) ParsePaidEvent(payload []byte, signatureHeader string) (PaymentDetails, error) {
	if w == nil {
		return PaymentDetails{}, errors.New("stripe: webhook verifier is nil")
	}

	event, err := webhook.ConstructEvent(payload, signatureHeader, w.secret)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: verify webhook signature: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return PaymentDetails{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		return stripePaymentDetails(&intent), nil
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return PaymentDetails{}, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		details := PaymentDetails{
			OrderID:  session.Metadata[metadataOrderKey],
			Status:   StatusSucceeded,
			Amount:   session.AmountTotal,
			Currency: strings.ToUpper(string(session.Currency)),
		}
		if session.PaymentIntent != nil {
			details.IntentID = session.PaymentIntent.ID
		}
		return details, nil
	default:
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}
}
