package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/gateway"
	"github.com/lavsmart/cyclebridge/internal/middleware"
	"github.com/lavsmart/cyclebridge/internal/models"
	"github.com/lavsmart/cyclebridge/internal/pricing"
	"github.com/lavsmart/cyclebridge/internal/reference"
	"github.com/lavsmart/cyclebridge/internal/registry"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

// InitiationHandler creates gateway payments for a machine and requested
// duration. The reference encoded here is what the webhook path decodes
// after the gateway confirms the payment.
type InitiationHandler struct {
	registry    *registry.Registry
	prices      pricing.Source
	client      gateway.Client
	redisClient *redis.Client
}

func NewInitiationHandler(reg *registry.Registry, prices pricing.Source, client gateway.Client, redisClient *redis.Client) *InitiationHandler {
	return &InitiationHandler{
		registry:    reg,
		prices:      prices,
		client:      client,
		redisClient: redisClient,
	}
}

// CreatePayment handles POST /payments: embedded Pix checkout.
func (h *InitiationHandler) CreatePayment(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Warn("Invalid initiation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant, err := h.registry.TenantFor(req.MachineID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine not registered"})
		return
	}

	row, encodedRef, err := h.priceFor(c, tenant, req.MachineID, req.Duration)
	if err != nil {
		return // priceFor already wrote the response
	}

	telemetry.Logger.Info("Creating payment",
		zap.String("machine_id", req.MachineID),
		zap.String("tenant_id", tenant.TenantID),
		zap.Float64("amount", row.Price),
		zap.String("reference", encodedRef),
	)

	payment, err := h.client.CreatePayment(ctx, tenant.AccessToken, gateway.PaymentParams{
		Amount:            row.Price,
		Description:       fmt.Sprintf("Lavanderia %s - %s", tenant.Owner, req.MachineID),
		ExternalReference: encodedRef,
		PayerEmail:        "cliente@email.com",
	})
	if err != nil {
		telemetry.Logger.Error("Gateway payment creation failed",
			zap.String("machine_id", req.MachineID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create payment"})
		return
	}

	telemetry.PaymentsInitiated.WithLabelValues(tenant.TenantID).Inc()

	resp := models.CreatePaymentResponse{
		Status:    "ok",
		Price:     row.Price,
		PaymentID: payment.ID,
		QRCode:    payment.QRCode,
		QRBase64:  payment.QRBase64,
	}
	middleware.CacheResponse(c, h.redisClient, resp)
	c.JSON(http.StatusOK, resp)
}

// Checkout handles GET /checkout: hosted-checkout preference flow,
// redirecting the browser to the gateway's init point.
func (h *InitiationHandler) Checkout(c *gin.Context) {
	ctx := c.Request.Context()

	machineID := c.Query("machine_id")
	duration := c.Query("duration")
	if machineID == "" || duration == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine_id and duration are required"})
		return
	}

	tenant, err := h.registry.TenantFor(machineID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine not registered"})
		return
	}

	row, encodedRef, err := h.priceFor(c, tenant, machineID, duration)
	if err != nil {
		return
	}

	pref, err := h.client.CreatePreference(ctx, tenant.AccessToken, gateway.PreferenceParams{
		Title:             fmt.Sprintf("Lavanderia %s - %s", tenant.Owner, machineID),
		Amount:            row.Price,
		ExternalReference: encodedRef,
	})
	if err != nil {
		telemetry.Logger.Error("Preference creation failed",
			zap.String("machine_id", machineID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create checkout"})
		return
	}

	c.Redirect(http.StatusFound, pref.InitPoint)
}

// priceFor fetches the tenant's table and resolves the requested cycle.
// On failure it writes the error response and returns a non-nil error.
func (h *InitiationHandler) priceFor(c *gin.Context, tenant models.TenantCredential, machineID, duration string) (models.PriceRow, string, error) {
	table, err := h.prices.Fetch(c.Request.Context(), tenant.PriceTableURL)
	if err != nil {
		telemetry.Logger.Error("Price table fetch failed",
			zap.String("tenant_id", tenant.TenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "price table unavailable"})
		return models.PriceRow{}, "", err
	}

	if duration == reference.DryToken {
		row, err := table.ForDry(machineID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no price configured for dry cycle"})
			return models.PriceRow{}, "", err
		}
		return row, reference.EncodeToken(machineID, reference.DryToken), nil
	}

	minutes, err := strconv.Atoi(duration)
	if err != nil || minutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
		return models.PriceRow{}, "", errors.New("invalid duration")
	}

	row, err := table.ForDuration(machineID, minutes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no price configured for requested duration"})
		return models.PriceRow{}, "", err
	}
	return row, reference.Encode(machineID, minutes), nil
}
