package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/lavsmart/cyclebridge/internal/models"
	"github.com/lavsmart/cyclebridge/internal/pricing"
)

func newInitiationRouter(t *testing.T, gw *fakeGateway, source pricing.Source) *gin.Engine {
	t.Helper()
	// Redis is only touched when an Idempotency-Key is present; these
	// tests do not send one.
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	handler := NewInitiationHandler(testRegistry(t), source, gw, rdb)

	r := gin.New()
	r.POST("/payments", handler.CreatePayment)
	r.GET("/checkout", handler.Checkout)
	return r
}

func postPayment(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreatePayment_OK(t *testing.T) {
	gw := newFakeGateway()
	r := newInitiationRouter(t, gw, &fakeSource{table: pedroTable()})

	w := postPayment(r, `{"machine_id": "lavadora01", "duration": "45"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.CreatePaymentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Status != "ok" || resp.Price != 12.50 || resp.PaymentID != "777" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.QRCode == "" || resp.QRBase64 == "" {
		t.Error("expected embedded Pix checkout payload")
	}

	if len(gw.created) != 1 {
		t.Fatalf("expected 1 gateway payment, got %d", len(gw.created))
	}
	params := gw.created[0]
	if params.ExternalReference != "lavadora01-45" {
		t.Errorf("reference = %q, want lavadora01-45", params.ExternalReference)
	}
	if params.Amount != 12.50 {
		t.Errorf("amount = %v, want 12.50", params.Amount)
	}
	if !strings.Contains(params.Description, "Pedro") || !strings.Contains(params.Description, "lavadora01") {
		t.Errorf("description = %q", params.Description)
	}
}

func TestCreatePayment_DryCycle(t *testing.T) {
	gw := newFakeGateway()
	r := newInitiationRouter(t, gw, &fakeSource{table: pedroTable()})

	w := postPayment(r, `{"machine_id": "lavadora01", "duration": "secar"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if gw.created[0].ExternalReference != "lavadora01-secar" {
		t.Errorf("reference = %q, want lavadora01-secar", gw.created[0].ExternalReference)
	}
	if gw.created[0].Amount != 6.00 {
		t.Errorf("amount = %v, want 6.00", gw.created[0].Amount)
	}
}

func TestCreatePayment_UnknownMachine(t *testing.T) {
	r := newInitiationRouter(t, newFakeGateway(), &fakeSource{table: pedroTable()})

	w := postPayment(r, `{"machine_id": "lavadora99", "duration": "45"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreatePayment_PriceNotFound(t *testing.T) {
	r := newInitiationRouter(t, newFakeGateway(), &fakeSource{table: pricing.NewTable([]models.PriceRow{
		{MachineID: "lavadora01", DurationMinutes: 15, CycleLabel: "RAPIDO", Price: 8.00},
	})})

	w := postPayment(r, `{"machine_id": "lavadora01", "duration": "90"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreatePayment_InvalidDuration(t *testing.T) {
	r := newInitiationRouter(t, newFakeGateway(), &fakeSource{table: pedroTable()})

	for _, duration := range []string{"0", "-5", "abc"} {
		w := postPayment(r, `{"machine_id": "lavadora01", "duration": "`+duration+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("duration %q: expected 400, got %d", duration, w.Code)
		}
	}
}

func TestCreatePayment_PriceTableUnavailable(t *testing.T) {
	r := newInitiationRouter(t, newFakeGateway(), &fakeSource{err: errors.New("fetch failed")})

	w := postPayment(r, `{"machine_id": "lavadora01", "duration": "45"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestCreatePayment_GatewayFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = errors.New("gateway down")
	r := newInitiationRouter(t, gw, &fakeSource{table: pedroTable()})

	w := postPayment(r, `{"machine_id": "lavadora01", "duration": "45"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestCheckout_RedirectsToHostedCheckout(t *testing.T) {
	gw := newFakeGateway()
	r := newInitiationRouter(t, gw, &fakeSource{table: pedroTable()})

	req := httptest.NewRequest(http.MethodGet, "/checkout?machine_id=lavadora01&duration=45", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://checkout.example.com/pref-1" {
		t.Errorf("Location = %q", loc)
	}
	if len(gw.preferences) != 1 || gw.preferences[0].ExternalReference != "lavadora01-45" {
		t.Errorf("unexpected preference params: %+v", gw.preferences)
	}
}

func TestCheckout_MissingParams(t *testing.T) {
	r := newInitiationRouter(t, newFakeGateway(), &fakeSource{table: pedroTable()})

	req := httptest.NewRequest(http.MethodGet, "/checkout?machine_id=lavadora01", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
