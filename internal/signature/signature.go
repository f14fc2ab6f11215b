// Package signature validates the gateway's webhook signature header. The
// header is a comma-separated list of key=value fields carrying a unix
// timestamp (ts) and an HMAC-SHA256 hex digest (v1) over the canonical
// manifest "id:{payment_id};request-id:{request_id};ts:{ts};".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Verdict int

const (
	// Valid means the digest matched and the timestamp is fresh.
	Valid Verdict = iota
	// Invalid means the digest did not match.
	Invalid
	// Unverifiable means required material was missing or stale. Treated
	// the same as Invalid by callers: the delivery is rejected.
	Unverifiable
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unverifiable"
	}
}

type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, maxAge time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

// Verify checks the x-signature header against the payment and request IDs.
func (v *Verifier) Verify(header, requestID, paymentID string) Verdict {
	if len(v.secret) == 0 || header == "" || requestID == "" || paymentID == "" {
		return Unverifiable
	}

	ts, digest := parseHeader(header)
	if ts == "" || digest == "" {
		return Unverifiable
	}

	// Freshness window blocks replay of captured deliveries
	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Unverifiable
	}
	age := v.now().Sub(time.Unix(tsUnix, 0))
	if age > v.maxAge || age < -time.Minute {
		return Unverifiable
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", paymentID, requestID, ts)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(digest)) {
		return Invalid
	}
	return Valid
}

// parseHeader extracts ts and v1 from "ts=1704908010,v1=abc…".
func parseHeader(header string) (ts, digest string) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			digest = strings.TrimSpace(value)
		}
	}
	return ts, digest
}
