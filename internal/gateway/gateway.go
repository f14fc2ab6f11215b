// Package gateway wraps the payment provider's REST API behind the three
// capabilities the pipeline needs: create a Pix payment, create a hosted
// checkout preference, and look a payment up by ID. Every call carries
// the credential of one tenant.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a payment ID is unknown to the account
	// the lookup ran under. Probing treats it as "try the next tenant".
	ErrNotFound = errors.New("payment not found")
	// ErrUnauthorized is returned on credential rejection, which probing
	// also swallows.
	ErrUnauthorized = errors.New("credential rejected")
)

const StatusApproved = "approved"

// Payment is the subset of the provider's payment object the pipeline reads.
type Payment struct {
	ID                string
	Status            string
	Amount            float64
	ExternalReference string
	QRCode            string
	QRBase64          string
}

// Preference is a hosted-checkout session.
type Preference struct {
	ID        string
	InitPoint string
}

type PaymentParams struct {
	Amount            float64
	Description       string
	ExternalReference string
	PayerEmail        string
}

type PreferenceParams struct {
	Title             string
	Amount            float64
	ExternalReference string
}

type Client interface {
	CreatePayment(ctx context.Context, accessToken string, params PaymentParams) (*Payment, error)
	CreatePreference(ctx context.Context, accessToken string, params PreferenceParams) (*Preference, error)
	GetPaymentByID(ctx context.Context, accessToken, paymentID string) (*Payment, error)
}
