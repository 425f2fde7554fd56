package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// FingerprintStrategy recovers a payment-instrument fingerprint for ev.
// It returns an empty string when it has nothing to offer; an error means the
// lookup failed and the next strategy should be tried.
type FingerprintStrategy func(ctx context.Context, ev *Event) (string, error)

// FingerprintSource is a named strategy.
type FingerprintSource struct {
	Name string
	Find FingerprintStrategy
}

// FingerprintChain tries its sources in order and stops at the first hit.
type FingerprintChain []FingerprintSource

// Resolve returns the first fingerprint found and the name of the source that
// produced it. Failed lookups are logged and skipped.
func (c FingerprintChain) Resolve(ctx context.Context, ev *Event, log *slog.Logger) (fingerprint, source string) {
	for _, src := range c {
		fp, err := src.Find(ctx, ev)
		if err != nil {
			log.WarnContext(ctx, "fingerprint lookup failed",
				slog.String("source", src.Name),
				logger.Error(err),
			)
			continue
		}
		if fp = strings.TrimSpace(fp); fp != "" {
			return fp, src.Name
		}
	}
	return "", ""
}

// CardFingerprint returns the processor fingerprint of card, or a stable
// digest of its type, last four digits and expiry when the processor does not
// expose one. It returns an empty string when the card carries neither.
func CardFingerprint(card *Card) string {
	if card == nil {
		return ""
	}
	if fp := strings.TrimSpace(card.Fingerprint); fp != "" {
		return fp
	}
	if card.Last4 == "" || card.ExpiryYear == 0 {
		return ""
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%02d|%04d",
		strings.ToLower(card.Type), card.Last4, card.ExpiryMonth, card.ExpiryYear))
	return "card_" + hex.EncodeToString(sum[:16])
}

// EventCardSource reads the fingerprint carried on the event itself.
func EventCardSource() FingerprintSource {
	return FingerprintSource{
		Name: "event",
		Find: func(_ context.Context, ev *Event) (string, error) {
			switch {
			case ev.Subscription != nil:
				return CardFingerprint(ev.Subscription.Card), nil
			case ev.Transaction != nil:
				for _, p := range ev.Transaction.Payments {
					if fp := CardFingerprint(p.Card); fp != "" {
						return fp, nil
					}
				}
			}
			return "", nil
		},
	}
}

// PaymentMethodSource fetches the payment method referenced by the event.
func PaymentMethodSource(p Processor) FingerprintSource {
	return FingerprintSource{
		Name: "payment_method",
		Find: func(ctx context.Context, ev *Event) (string, error) {
			customerID, methodIDs := eventCustomer(ev), eventPaymentMethods(ev)
			if customerID == "" || len(methodIDs) == 0 {
				return "", nil
			}
			for _, id := range methodIDs {
				pm, err := p.GetPaymentMethod(ctx, customerID, id)
				if err != nil {
					return "", err
				}
				if fp := CardFingerprint(pm.Card); fp != "" {
					return fp, nil
				}
			}
			return "", nil
		},
	}
}

// CustomerMethodsSource scans every payment method stored for the customer.
func CustomerMethodsSource(p Processor) FingerprintSource {
	return FingerprintSource{
		Name: "customer_methods",
		Find: func(ctx context.Context, ev *Event) (string, error) {
			customerID := eventCustomer(ev)
			if customerID == "" {
				return "", nil
			}
			methods, err := p.ListPaymentMethods(ctx, customerID)
			if err != nil {
				return "", err
			}
			for _, pm := range methods {
				if fp := CardFingerprint(pm.Card); fp != "" {
					return fp, nil
				}
			}
			return "", nil
		},
	}
}

// DefaultFingerprintChain is event field, then payment method fetch, then a
// scan of the customer's stored methods.
func DefaultFingerprintChain(p Processor) FingerprintChain {
	return FingerprintChain{
		EventCardSource(),
		PaymentMethodSource(p),
		CustomerMethodsSource(p),
	}
}

func eventCustomer(ev *Event) string {
	switch {
	case ev.Subscription != nil:
		return ev.Subscription.CustomerID
	case ev.Transaction != nil:
		return ev.Transaction.CustomerID
	}
	return ""
}

func eventPaymentMethods(ev *Event) []string {
	var ids []string
	switch {
	case ev.Subscription != nil:
		if ev.Subscription.PaymentMethodID != "" {
			ids = append(ids, ev.Subscription.PaymentMethodID)
		}
	case ev.Transaction != nil:
		for _, p := range ev.Transaction.Payments {
			if p.PaymentMethodID != "" {
				ids = append(ids, p.PaymentMethodID)
			}
		}
	}
	return ids
}
