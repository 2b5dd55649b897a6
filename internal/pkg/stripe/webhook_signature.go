package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrNoSignature      = errors.New("missing Stripe-Signature header")
	ErrInvalidSignature = errors.New("invalid stripe signature")
	ErrSignatureExpired = errors.New("stripe signature timestamp outside tolerance")
)

// VerifySignature checks a Stripe-Signature header ("t=...,v1=...") against
// the payload. Any v1 entry may match, which allows secret rotation.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	header = strings.TrimSpace(header)
	secret = strings.TrimSpace(secret)
	if header == "" {
		return ErrNoSignature
	}
	if secret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is not configured")
	}

	var (
		ts   int64
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = n
		case "v1":
			if sig, err := hex.DecodeString(v); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	if tolerance > 0 {
		signedAt := time.Unix(ts, 0)
		if now.Sub(signedAt) > tolerance || signedAt.Sub(now) > tolerance {
			return ErrSignatureExpired
		}
	}

	expected := ComputeSignature(payload, secret, ts)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ComputeSignature returns the v1 HMAC-SHA256 of "<timestamp>.<payload>".
func ComputeSignature(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeader builds a Stripe-Signature header value.
func SignatureHeader(payload []byte, secret string, timestamp int64) string {
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + hex.EncodeToString(ComputeSignature(payload, secret, timestamp))
}
