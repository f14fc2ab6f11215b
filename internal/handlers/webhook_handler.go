package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/dispatch"
	"github.com/lavsmart/cyclebridge/internal/events"
	"github.com/lavsmart/cyclebridge/internal/gateway"
	"github.com/lavsmart/cyclebridge/internal/interfaces"
	"github.com/lavsmart/cyclebridge/internal/models"
	"github.com/lavsmart/cyclebridge/internal/pricing"
	"github.com/lavsmart/cyclebridge/internal/registry"
	"github.com/lavsmart/cyclebridge/internal/resolver"
	"github.com/lavsmart/cyclebridge/internal/signature"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

// processTimeout bounds the async pipeline that continues after the
// webhook has been acknowledged.
const processTimeout = 30 * time.Second

type webhookBody struct {
	Action string `json:"action"`
	Type   string `json:"type"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// WebhookHandler receives gateway payment notifications. It acknowledges
// every delivery immediately, as the gateway retries on slow or
// non-success responses, and runs resolution and dispatch after the
// response is sent.
type WebhookHandler struct {
	verifier   *signature.Verifier
	resolver   resolver.Resolver
	registry   *registry.Registry
	prices     pricing.Source
	store      interfaces.OutboxStore
	dispatcher *dispatch.Dispatcher
	emitter    *events.Emitter
	namespace  string
}

func NewWebhookHandler(
	verifier *signature.Verifier,
	res resolver.Resolver,
	reg *registry.Registry,
	prices pricing.Source,
	store interfaces.OutboxStore,
	dispatcher *dispatch.Dispatcher,
	emitter *events.Emitter,
	namespace string,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		resolver:   res,
		registry:   reg,
		prices:     prices,
		store:      store,
		dispatcher: dispatcher,
		emitter:    emitter,
		namespace:  namespace,
	}
}

// Webhook handles POST /webhook. The response is always 200 "OK": any
// internal failure is a logged no-op toward the device.
func (h *WebhookHandler) Webhook(c *gin.Context) {
	kind, paymentID := extractNotification(c)
	if paymentID == "" || kind != "payment" {
		c.String(http.StatusOK, "OK")
		return
	}

	verdict := h.verifier.Verify(
		c.GetHeader("x-signature"),
		c.GetHeader("x-request-id"),
		paymentID,
	)
	telemetry.WebhooksReceived.WithLabelValues(verdict.String()).Inc()

	if verdict != signature.Valid {
		telemetry.Logger.Warn("Rejected webhook delivery",
			zap.String("payment_id", paymentID),
			zap.String("verdict", verdict.String()),
		)
		c.String(http.StatusOK, "OK")
		return
	}

	// Ack now; the gateway's delivery timeout must not wait on
	// resolution or dispatch.
	c.String(http.StatusOK, "OK")

	go h.process(paymentID)
}

// extractNotification reads the discriminator and payment ID from either
// the JSON body or the legacy query-parameter form.
func extractNotification(c *gin.Context) (kind, paymentID string) {
	var body webhookBody
	if err := c.ShouldBindJSON(&body); err == nil && body.Data.ID != "" {
		kind = body.Type
		if kind == "" {
			kind = body.Action
		}
		return kind, body.Data.ID
	}

	kind = c.Query("topic")
	if kind == "" {
		kind = c.Query("type")
	}
	paymentID = c.Query("id")
	if paymentID == "" {
		paymentID = c.Query("data.id")
	}
	return kind, paymentID
}

func (h *WebhookHandler) process(paymentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	res, err := h.resolver.Resolve(ctx, paymentID, "")
	if err != nil {
		telemetry.Logger.Warn("Payment resolution failed",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return
	}

	if res.Status != gateway.StatusApproved {
		telemetry.Logger.Info("Ignoring non-approved payment",
			zap.String("payment_id", paymentID),
			zap.String("status", res.Status),
		)
		return
	}

	if res.MachineID == "" {
		telemetry.Logger.Warn("Approved payment carries no machine reference",
			zap.String("payment_id", paymentID),
			zap.String("tenant_id", res.TenantID),
		)
		return
	}

	row, err := h.resolveCycle(ctx, res)
	if err != nil {
		telemetry.Logger.Error("Cycle resolution failed",
			zap.String("payment_id", paymentID),
			zap.String("machine_id", res.MachineID),
			zap.Error(err),
		)
		return
	}

	machine, err := h.registry.Machine(res.MachineID)
	if err != nil {
		telemetry.Logger.Warn("Resolved machine not registered",
			zap.String("payment_id", paymentID),
			zap.String("machine_id", res.MachineID),
		)
		return
	}
	namespace := machine.TopicNamespace
	if namespace == "" {
		namespace = h.namespace
	}

	rec := &models.OutboxRecord{
		ID:              uuid.New().String(),
		PaymentID:       paymentID,
		MachineID:       res.MachineID,
		Topic:           dispatch.Topic(namespace, res.MachineID),
		DurationMinutes: row.DurationMinutes,
		CycleLabel:      row.CycleLabel,
	}

	inserted, err := h.store.InsertPending(ctx, rec)
	if err != nil {
		telemetry.Logger.Error("Failed to record dispatch intent",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return
	}
	if !inserted {
		telemetry.Logger.Info("Duplicate delivery, dispatch already recorded",
			zap.String("payment_id", paymentID),
		)
		return
	}

	h.emitter.Emit(ctx, events.Event{
		Type:      events.TypePaymentApproved,
		PaymentID: paymentID,
		TenantID:  res.TenantID,
		MachineID: res.MachineID,
		Amount:    res.Amount,
	})

	cmd := models.CommandMessage{
		MachineID:       res.MachineID,
		DurationMinutes: row.DurationMinutes,
		CycleLabel:      row.CycleLabel,
	}

	if err := h.dispatcher.DispatchTo(rec.Topic, cmd); err != nil {
		// Intent is persisted; the sweeper retries until the
		// transport accepts it.
		telemetry.Logger.Warn("Dispatch failed, left pending in outbox",
			zap.String("payment_id", paymentID),
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		h.store.IncrementAttempts(ctx, rec.ID)
		return
	}

	if err := h.store.MarkDispatched(ctx, rec.ID); err != nil {
		telemetry.Logger.Error("Failed to mark record dispatched",
			zap.String("outbox_id", rec.ID),
			zap.Error(err),
		)
	}

	h.emitter.Emit(ctx, events.Event{
		Type:      events.TypeCommandDispatched,
		PaymentID: paymentID,
		TenantID:  res.TenantID,
		MachineID: res.MachineID,
	})

	telemetry.Logger.Info("Cycle started",
		zap.String("payment_id", paymentID),
		zap.String("machine_id", res.MachineID),
		zap.Int("duration_minutes", row.DurationMinutes),
	)
}

// resolveCycle turns a resolution into a concrete price row: by duration
// or dry token when the reference carried one, otherwise by matching the
// charged amount against the tenant's table.
func (h *WebhookHandler) resolveCycle(ctx context.Context, res *resolver.Resolution) (models.PriceRow, error) {
	tenant, ok := h.registry.Tenant(res.TenantID)
	if !ok {
		return models.PriceRow{}, fmt.Errorf("tenant %s not in registry", res.TenantID)
	}

	table, err := h.prices.Fetch(ctx, tenant.PriceTableURL)
	if err != nil {
		return models.PriceRow{}, err
	}

	switch {
	case res.Dry:
		return table.ForDry(res.MachineID)
	case res.Minutes > 0:
		return table.ForDuration(res.MachineID, res.Minutes)
	default:
		return table.ForAmount(res.Amount)
	}
}
