package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Paddle-Signature"

// PaddleConfig holds the processor credentials.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

var (
	_ Processor       = (*PaddleProcessor)(nil)
	_ WebhookVerifier = (*PaddleProcessor)(nil)
)

// PaddleProcessor implements Processor and WebhookVerifier on top of the Paddle SDK.
type PaddleProcessor struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProcessor creates a client for the configured environment.
func NewPaddleProcessor(cfg PaddleConfig) (*PaddleProcessor, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleProcessor{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// Verify checks signature over the exact raw payload.
func (p *PaddleProcessor) Verify(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set(SignatureHeader, signature)

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

func (p *PaddleProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, fmt.Errorf("get paddle subscription: %w", err)
	}

	out := &ProcessorSubscription{
		ID:         sub.ID,
		Status:     ParseStatus(string(sub.Status)),
		CustomerID: sub.CustomerID,
		TenantHint: tenantHint(sub.CustomData),
	}
	if len(sub.Items) > 0 {
		out.PriceID = sub.Items[0].Price.ID
	}
	if sub.CurrentBillingPeriod != nil {
		out.PeriodEndsAt = parseTime(sub.CurrentBillingPeriod.EndsAt)
	}
	if sub.NextBilledAt != nil {
		out.NextBilledAt = parseTime(*sub.NextBilledAt)
	}
	if sub.ScheduledChange != nil {
		out.ScheduledAt = parseTime(sub.ScheduledChange.EffectiveAt)
	}
	return out, nil
}

func (p *PaddleProcessor) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	c, err := p.client.CustomersClient.GetCustomer(ctx, &paddle.GetCustomerRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, fmt.Errorf("get paddle customer: %w", err)
	}

	out := &Customer{ID: c.ID, Email: c.Email}
	if c.Name != nil {
		out.Name = *c.Name
	}
	return out, nil
}

func (p *PaddleProcessor) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	res, err := p.client.PaymentMethodsClient.ListCustomerPaymentMethods(ctx, &paddle.ListCustomerPaymentMethodsRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, fmt.Errorf("list paddle payment methods: %w", err)
	}

	var methods []PaymentMethod
	err = res.Iter(ctx, func(pm *paddle.PaymentMethod) (bool, error) {
		methods = append(methods, convertPaymentMethod(pm))
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate paddle payment methods: %w", err)
	}
	return methods, nil
}

func (p *PaddleProcessor) GetPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethod, error) {
	pm, err := p.client.PaymentMethodsClient.GetCustomerPaymentMethod(ctx, &paddle.GetCustomerPaymentMethodRequest{
		CustomerID:      customerID,
		PaymentMethodID: paymentMethodID,
	})
	if err != nil {
		return nil, fmt.Errorf("get paddle payment method: %w", err)
	}
	out := convertPaymentMethod(pm)
	return &out, nil
}

func (p *PaddleProcessor) CancelSubscription(ctx context.Context, subscriptionID string, when CancelTiming) error {
	effective := paddle.EffectiveFromNextBillingPeriod
	if when == CancelImmediately {
		effective = paddle.EffectiveFromImmediately
	}

	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return fmt.Errorf("cancel paddle subscription: %w", err)
	}
	return nil
}

func (p *PaddleProcessor) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string, mode ProrationMode) error {
	item := paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	_, err := p.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       subscriptionID,
		Items:                paddle.NewPatchField([]paddle.UpdateSubscriptionItems{*item}),
		ProrationBillingMode: paddle.NewPatchField(paddleProration(mode)),
	})
	if err != nil {
		return fmt.Errorf("update paddle subscription: %w", err)
	}
	return nil
}

func (p *PaddleProcessor) CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemCreateWithPrice(&paddle.TransactionItemCreateWithPrice{
		Quantity: 1,
		Price: paddle.TransactionPriceCreateWithProductID{
			ProductID:   req.ProductID,
			Description: req.Description,
			UnitPrice: paddle.Money{
				Amount:       strconv.FormatInt(req.Amount.Amount, 10),
				CurrencyCode: paddle.CurrencyCode(strings.ToUpper(req.Amount.Currency)),
			},
		},
	})

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(req.CustomerID),
		CustomData: paddle.CustomData{
			CustomDataTenantID:       req.TenantID,
			CustomDataSubscriptionID: req.SubscriptionID,
			CustomDataTargetPrice:    req.TargetPriceID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create paddle transaction: %w", err)
	}

	out := &Transaction{ID: tx.ID, Status: string(tx.Status)}
	if tx.Checkout != nil && tx.Checkout.URL != nil {
		out.CheckoutURL = *tx.Checkout.URL
	}
	return out, nil
}

func (p *PaddleProcessor) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	price, err := p.client.PricesClient.GetPrice(ctx, &paddle.GetPriceRequest{
		PriceID: priceID,
	})
	if err != nil {
		return nil, fmt.Errorf("get paddle price: %w", err)
	}

	amount, err := strconv.ParseInt(price.UnitPrice.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse paddle price amount %q: %w", price.UnitPrice.Amount, err)
	}

	out := &Price{
		ID:        price.ID,
		ProductID: price.ProductID,
		Name:      price.Description,
		UnitPrice: Money{Amount: amount, Currency: string(price.UnitPrice.CurrencyCode)},
	}
	if price.Name != nil {
		out.Name = *price.Name
	}
	return out, nil
}

func (p *PaddleProcessor) CreatePortalSession(ctx context.Context, customerID string, subscriptionIDs ...string) (*PortalLink, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID:      customerID,
		SubscriptionIDs: subscriptionIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("create paddle portal session: %w", err)
	}

	return &PortalLink{
		URL:       session.URLs.General.Overview,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func convertPaymentMethod(pm *paddle.PaymentMethod) PaymentMethod {
	out := PaymentMethod{ID: pm.ID, Type: string(pm.Type)}
	if pm.Card != nil {
		out.Card = &Card{
			Type:        string(pm.Card.Type),
			Last4:       pm.Card.Last4,
			ExpiryMonth: pm.Card.ExpiryMonth,
			ExpiryYear:  pm.Card.ExpiryYear,
		}
	}
	return out
}

func paddleProration(m ProrationMode) paddle.ProrationBillingMode {
	switch m {
	case ProrationProratedImmediately:
		return paddle.ProrationBillingModeProratedImmediately
	case ProrationProratedNextBilling:
		return paddle.ProrationBillingModeProratedNextBillingPeriod
	case ProrationDoNotBill:
		return paddle.ProrationBillingModeDoNotBill
	default:
		return paddle.ProrationBillingModeFullNextBillingPeriod
	}
}
