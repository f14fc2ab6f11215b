package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lavsmart/cyclebridge/internal/dispatch"
	"github.com/lavsmart/cyclebridge/internal/gateway"
	"github.com/lavsmart/cyclebridge/internal/resolver"
	"github.com/lavsmart/cyclebridge/internal/signature"
)

type webhookFixture struct {
	router  *gin.Engine
	gateway *fakeGateway
	store   *memStore
	pub     *syncPublisher
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	reg := testRegistry(t)
	gw := newFakeGateway()
	store := newMemStore()
	pub := newSyncPublisher()

	verifier := signature.NewVerifier(testSecret, 5*time.Minute)
	chain := resolver.NewChainResolver(
		resolver.NewReferenceResolver(reg, gw),
		resolver.NewProbingResolver(reg, gw),
	)

	handler := NewWebhookHandler(
		verifier,
		chain,
		reg,
		&fakeSource{table: pedroTable()},
		store,
		dispatch.NewDispatcher(pub),
		nil,
		"lavanderia",
	)

	r := gin.New()
	r.POST("/webhook", handler.Webhook)

	return &webhookFixture{router: r, gateway: gw, store: store, pub: pub}
}

func (f *webhookFixture) deliver(t *testing.T, paymentID string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{
		"action": "payment.updated",
		"type":   "payment",
		"data":   map[string]string{"id": paymentID},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	sig, requestID := signHeaders(paymentID)
	req.Header.Set("x-signature", sig)
	req.Header.Set("x-request-id", requestID)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestWebhook_ApprovedPaymentStartsCycle(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.addApproved("tok-pedro", gateway.Payment{
		ID: "777", Amount: 12.50, ExternalReference: "lavadora01-45",
	})

	w := f.deliver(t, "777")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("expected 200 OK ack, got %d %q", w.Code, w.Body.String())
	}

	waitFor(t, func() bool { return len(f.pub.messages()) == 1 })

	msg := f.pub.messages()[0]
	if msg.Topic != "lavanderia/lavadora01/comandos" {
		t.Errorf("topic = %q", msg.Topic)
	}

	var cmd map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if cmd["duration_minutes"] != float64(45) || cmd["cycle_label"] != "AUTO" {
		t.Errorf("unexpected command: %v", cmd)
	}

	waitFor(t, func() bool { return f.store.statusFor("777") == "dispatched" })
}

func TestWebhook_InvalidSignatureIsRejectedButAcked(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.addApproved("tok-pedro", gateway.Payment{
		ID: "777", Amount: 12.50, ExternalReference: "lavadora01-45",
	})

	body, _ := json.Marshal(map[string]interface{}{
		"type": "payment",
		"data": map[string]string{"id": "777"},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("x-signature", "ts=1,v1=deadbeef")
	req.Header.Set("x-request-id", "req-777")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	// Gateway contract: always ack
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// No processing must have started
	time.Sleep(200 * time.Millisecond)
	if len(f.pub.messages()) != 0 {
		t.Error("rejected delivery must not dispatch")
	}
	if f.store.statusFor("777") != "" {
		t.Error("rejected delivery must not record intent")
	}
}

func TestWebhook_DuplicateDeliveryDispatchesOnce(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.addApproved("tok-pedro", gateway.Payment{
		ID: "777", Amount: 12.50, ExternalReference: "lavadora01-45",
	})

	f.deliver(t, "777")
	waitFor(t, func() bool { return f.store.statusFor("777") == "dispatched" })

	// Redelivery of the same notification
	w := f.deliver(t, "777")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", w.Code)
	}

	time.Sleep(200 * time.Millisecond)
	if got := len(f.pub.messages()); got != 1 {
		t.Errorf("expected exactly 1 dispatch across redeliveries, got %d", got)
	}
}

func TestWebhook_AmountResolvesCycleWhenReferenceHasNoDuration(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.addApproved("tok-pedro", gateway.Payment{
		ID: "888", Amount: 12.50, ExternalReference: "lavadora01",
	})

	f.deliver(t, "888")
	waitFor(t, func() bool { return len(f.pub.messages()) == 1 })

	var cmd map[string]interface{}
	json.Unmarshal(f.pub.messages()[0].Payload, &cmd)
	if cmd["duration_minutes"] != float64(45) || cmd["cycle_label"] != "AUTO" {
		t.Errorf("amount 12.50 should resolve the AUTO cycle, got %v", cmd)
	}
}

func TestWebhook_DryCycle(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.addApproved("tok-pedro", gateway.Payment{
		ID: "999", Amount: 6.00, ExternalReference: "lavadora01-secar",
	})

	f.deliver(t, "999")
	waitFor(t, func() bool { return len(f.pub.messages()) == 1 })

	var cmd map[string]interface{}
	json.Unmarshal(f.pub.messages()[0].Payload, &cmd)
	if cmd["duration_minutes"] != float64(30) || cmd["cycle_label"] != "SECAR" {
		t.Errorf("unexpected dry command: %v", cmd)
	}
}

func TestWebhook_NonApprovedPaymentIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	// Created but never approved
	f.gateway.CreatePayment(nil, "tok-pedro", gateway.PaymentParams{
		Amount: 12.50, ExternalReference: "lavadora01-45",
	})

	f.deliver(t, "777")

	time.Sleep(200 * time.Millisecond)
	if len(f.pub.messages()) != 0 {
		t.Error("pending payment must not dispatch")
	}
}

func TestWebhook_NonPaymentNotificationIgnored(t *testing.T) {
	f := newWebhookFixture(t)

	body, _ := json.Marshal(map[string]interface{}{
		"type": "test",
		"data": map[string]string{"id": "777"},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	time.Sleep(100 * time.Millisecond)
	if len(f.pub.messages()) != 0 {
		t.Error("non-payment notification must not dispatch")
	}
}

func TestWebhook_QueryParameterForm(t *testing.T) {
	f := newWebhookFixture(t)
	f.gateway.addApproved("tok-pedro", gateway.Payment{
		ID: "777", Amount: 12.50, ExternalReference: "lavadora01-45",
	})

	sig, requestID := signHeaders("777")
	url := fmt.Sprintf("/webhook?topic=payment&id=%s", "777")
	req := httptest.NewRequest(http.MethodPost, url, nil)
	req.Header.Set("x-signature", sig)
	req.Header.Set("x-request-id", requestID)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	waitFor(t, func() bool { return len(f.pub.messages()) == 1 })
}

func TestWebhook_TransportDownLeavesIntentPending(t *testing.T) {
	f := newWebhookFixture(t)
	f.pub.connected = false
	f.gateway.addApproved("tok-pedro", gateway.Payment{
		ID: "777", Amount: 12.50, ExternalReference: "lavadora01-45",
	})

	f.deliver(t, "777")

	// Intent recorded, publish failed, record stays pending for the sweeper
	waitFor(t, func() bool { return f.store.statusFor("777") == "pending" })
	if len(f.pub.messages()) != 0 {
		t.Error("no message should reach the transport while disconnected")
	}
}
