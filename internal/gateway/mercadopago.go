package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MercadoPagoClient talks to the Mercado Pago REST API. The base URL is
// configurable so tests can point it at a local server.
type MercadoPagoClient struct {
	baseURL string
	client  *http.Client
}

func NewMercadoPagoClient(baseURL string, timeout time.Duration) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type mpPayment struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	TransactionAmount  float64     `json:"transaction_amount"`
	ExternalReference  string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (p *mpPayment) toPayment() *Payment {
	return &Payment{
		ID:                p.ID.String(),
		Status:            p.Status,
		Amount:            p.TransactionAmount,
		ExternalReference: p.ExternalReference,
		QRCode:            p.PointOfInteraction.TransactionData.QRCode,
		QRBase64:          p.PointOfInteraction.TransactionData.QRCodeBase64,
	}
}

func (m *MercadoPagoClient) CreatePayment(ctx context.Context, accessToken string, params PaymentParams) (*Payment, error) {
	body := map[string]interface{}{
		"transaction_amount": params.Amount,
		"description":        params.Description,
		"payment_method_id":  "pix",
		"payer":              map[string]string{"email": params.PayerEmail},
		"external_reference": params.ExternalReference,
	}

	var out mpPayment
	if err := m.do(ctx, http.MethodPost, "/v1/payments", accessToken, body, &out, true); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (m *MercadoPagoClient) GetPaymentByID(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	var out mpPayment
	path := "/v1/payments/" + paymentID
	if err := m.do(ctx, http.MethodGet, path, accessToken, nil, &out, false); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (m *MercadoPagoClient) CreatePreference(ctx context.Context, accessToken string, params PreferenceParams) (*Preference, error) {
	body := map[string]interface{}{
		"items": []map[string]interface{}{{
			"title":      params.Title,
			"quantity":   1,
			"unit_price": params.Amount,
		}},
		"external_reference": params.ExternalReference,
	}

	var out struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := m.do(ctx, http.MethodPost, "/checkout/preferences", accessToken, body, &out, true); err != nil {
		return nil, err
	}
	return &Preference{ID: out.ID, InitPoint: out.InitPoint}, nil
}

func (m *MercadoPagoClient) do(ctx context.Context, method, path, accessToken string, body, out interface{}, idempotent bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotent {
		req.Header.Set("X-Idempotency-Key", uuid.New().String())
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, data)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
