package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

const testSecret = "whk_test_secret"

func signedHeader(t *testing.T, secret, paymentID, requestID string, ts time.Time) string {
	t.Helper()
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%d;", paymentID, requestID, ts.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func verifierAt(secret string, now time.Time) *Verifier {
	v := NewVerifier(secret, 5*time.Minute)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Unix(1704908010, 0)
	header := signedHeader(t, testSecret, "12345", "req-1", now)

	v := verifierAt(testSecret, now)
	if got := v.Verify(header, "req-1", "12345"); got != Valid {
		t.Errorf("expected Valid, got %s", got)
	}
}

func TestVerify_FlippedDigestCharacter(t *testing.T) {
	now := time.Unix(1704908010, 0)
	header := signedHeader(t, testSecret, "12345", "req-1", now)

	// Flip the last character of the digest
	last := header[len(header)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	tampered := header[:len(header)-1] + string(flipped)

	v := verifierAt(testSecret, now)
	if got := v.Verify(tampered, "req-1", "12345"); got != Invalid {
		t.Errorf("expected Invalid for tampered digest, got %s", got)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1704908010, 0)
	header := signedHeader(t, "other_secret", "12345", "req-1", now)

	v := verifierAt(testSecret, now)
	if got := v.Verify(header, "req-1", "12345"); got != Invalid {
		t.Errorf("expected Invalid, got %s", got)
	}
}

func TestVerify_MissingMaterial(t *testing.T) {
	now := time.Unix(1704908010, 0)
	v := verifierAt(testSecret, now)

	cases := []struct {
		name      string
		header    string
		requestID string
		paymentID string
	}{
		{"empty header", "", "req-1", "12345"},
		{"no digest", fmt.Sprintf("ts=%d", now.Unix()), "req-1", "12345"},
		{"no timestamp", "v1=deadbeef", "req-1", "12345"},
		{"no request id", signedHeader(t, testSecret, "12345", "req-1", now), "", "12345"},
		{"no payment id", signedHeader(t, testSecret, "12345", "req-1", now), "req-1", ""},
		{"garbage timestamp", "ts=notanumber,v1=deadbeef", "req-1", "12345"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.Verify(tc.header, tc.requestID, tc.paymentID); got != Unverifiable {
				t.Errorf("expected Unverifiable, got %s", got)
			}
		})
	}
}

func TestVerify_StaleTimestamp(t *testing.T) {
	now := time.Unix(1704908010, 0)
	stale := now.Add(-6 * time.Minute)
	header := signedHeader(t, testSecret, "12345", "req-1", stale)

	v := verifierAt(testSecret, now)
	if got := v.Verify(header, "req-1", "12345"); got != Unverifiable {
		t.Errorf("expected Unverifiable for stale timestamp, got %s", got)
	}
}

func TestVerify_InsideFreshnessWindow(t *testing.T) {
	now := time.Unix(1704908010, 0)
	recent := now.Add(-4 * time.Minute)
	header := signedHeader(t, testSecret, "12345", "req-1", recent)

	v := verifierAt(testSecret, now)
	if got := v.Verify(header, "req-1", "12345"); got != Valid {
		t.Errorf("expected Valid inside freshness window, got %s", got)
	}
}

func TestVerify_NoSecretConfigured(t *testing.T) {
	now := time.Unix(1704908010, 0)
	header := signedHeader(t, testSecret, "12345", "req-1", now)

	v := verifierAt("", now)
	if got := v.Verify(header, "req-1", "12345"); got != Unverifiable {
		t.Errorf("expected Unverifiable without a secret, got %s", got)
	}
}
