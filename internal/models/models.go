package models

import "time"

// TenantCredential holds one operator's gateway access and price source.
// Loaded once at startup, never mutated.
type TenantCredential struct {
	TenantID      string `json:"tenant_id"`
	Owner         string `json:"owner"`
	AccessToken   string `json:"access_token"`
	PriceTableURL string `json:"price_table_url"`
}

// MachineRecord binds a machine to its owning tenant. Machine IDs are
// globally unique across tenants.
type MachineRecord struct {
	MachineID      string `json:"machine_id"`
	TenantID       string `json:"tenant_id"`
	TopicNamespace string `json:"topic_namespace"`
}

// PriceRow is one price-table entry. MachineID may be the fallback key
// ("default" or "padrao") instead of a concrete machine.
type PriceRow struct {
	MachineID       string
	DurationMinutes int
	CycleLabel      string
	Price           float64
}

// PaymentEvent is the ephemeral view of one gateway notification. It lives
// only for the duration of a single webhook handling.
type PaymentEvent struct {
	PaymentID        string
	Status           string
	Amount           float64
	Reference        string
	ResolvedTenantID string
}

// CommandMessage is the instruction published to a machine's command topic.
type CommandMessage struct {
	MachineID       string `json:"-"`
	DurationMinutes int    `json:"duration_minutes"`
	CycleLabel      string `json:"cycle_label"`
}

type CreatePaymentRequest struct {
	MachineID string `json:"machine_id" binding:"required"`
	Duration  string `json:"duration" binding:"required"`
}

type CreatePaymentResponse struct {
	Status    string  `json:"status"`
	Price     float64 `json:"price"`
	PaymentID string  `json:"payment_id"`
	QRCode    string  `json:"qr_code,omitempty"`
	QRBase64  string  `json:"qr_base64,omitempty"`
}

// OutboxRecord is one persisted dispatch intent. Status moves from
// "pending" to "dispatched"; a sweeper retries pending records.
type OutboxRecord struct {
	ID              string
	PaymentID       string
	MachineID       string
	Topic           string
	DurationMinutes int
	CycleLabel      string
	Status          string
	Attempts        int
	CreatedAt       time.Time
	DispatchedAt    *time.Time
}
