// Package payments adapts Stripe Checkout to the checkout and reconciliation
// services. Provider error shapes stop here; callers only see the error
// classes from internal/common.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Provider is the payment provider contract.
type Provider interface {
	CreateSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
	// ExpireSession closes an open session so it can no longer be paid.
	ExpireSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
	ValidatePrice(ctx context.Context, priceID string) error
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}

// Event is a verified webhook notification. Session is set for checkout
// session events only.
type Event struct {
	ID      string
	Type    string
	Session *models.CheckoutSession
}

// Checkout session events that may carry a settled payment.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded  = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed     = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired = "checkout.session.expired"
)

type sessionBackend interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

type priceBackend interface {
	Get(id string, params *stripe.PriceParams) (*stripe.Price, error)
}

// StripeProvider implements Provider with the stripe-go client.
type StripeProvider struct {
	sessions      sessionBackend
	prices        priceBackend
	webhookSecret string
}

func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProvider{
		sessions:      sc.CheckoutSessions,
		prices:        sc.Prices,
		webhookSecret: webhookSecret,
	}
}

// CreateSession opens a one-item hosted checkout session bound to the record
// through both metadata and client_reference_id.
func (p *StripeProvider) CreateSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(req.ReturnURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.RecordID),
		Metadata:          map[string]string{common.RecordIDMetadataKey: req.RecordID},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	s, err := p.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", mapError(err))
	}
	return toModel(s), nil
}

func (p *StripeProvider) GetSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, common.ErrorNotFound
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", mapError(err))
	}
	return toModel(s), nil
}

// ExpireSession expires an open session. Stripe refuses to expire a session
// that is already complete or expired; that refusal comes back as a plain
// provider error and the caller re-reads the session to learn why.
func (p *StripeProvider) ExpireSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, common.ErrorNotFound
	}

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	s, err := p.sessions.Expire(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("expire checkout session: %w", mapError(err))
	}
	return toModel(s), nil
}

// ValidatePrice fails with common.ErrConfiguration unless priceID names an
// active price. Transient provider failures pass through as transient.
func (p *StripeProvider) ValidatePrice(ctx context.Context, priceID string) error {
	if strings.TrimSpace(priceID) == "" {
		return fmt.Errorf("%w: price id is not set", common.ErrConfiguration)
	}

	params := &stripe.PriceParams{}
	params.Context = ctx

	price, err := p.prices.Get(priceID, params)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, common.ErrTransient) {
			return fmt.Errorf("get price: %w", err)
		}
		return fmt.Errorf("%w: price %s: %v", common.ErrConfiguration, priceID, err)
	}
	if !price.Active {
		return fmt.Errorf("%w: price %s is inactive", common.ErrConfiguration, priceID)
	}
	return nil
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not set", common.ErrConfiguration)
	}
	if strings.TrimSpace(signature) == "" {
		return nil, common.ErrorUnauthorized
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "checkout.session.") {
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout.session: %w", err)
	}
	out.Session = toModel(&s)
	return out, nil
}

func toModel(s *stripe.CheckoutSession) *models.CheckoutSession {
	out := &models.CheckoutSession{
		ID:            s.ID,
		RecordID:      s.Metadata[common.RecordIDMetadataKey],
		Status:        models.SessionStatus(s.Status),
		PaymentStatus: models.PaymentUnpaid,
		PayerEmail:    s.CustomerEmail,
		ClientSecret:  s.ClientSecret,
		URL:           s.URL,
	}
	if out.RecordID == "" {
		out.RecordID = s.ClientReferenceID
	}
	if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		out.PaymentStatus = models.PaymentPaid
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		out.PayerEmail = s.CustomerDetails.Email
	}
	return out
}

// mapError folds Stripe errors into the common error classes. Anything else
// is flattened to text so no *stripe.Error reaches the caller.
func mapError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == stripe.ErrorCodeResourceMissing, se.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", common.ErrorNotFound, err)
		case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", common.ErrTransient, err)
		}
		return fmt.Errorf("payment provider error: %s", se.Error())
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	return fmt.Errorf("payment provider error: %v", err)
}
