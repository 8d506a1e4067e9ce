package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook signatures arrive as "t=<unix-seconds>,v1=<hex-hmac>" where the
// hmac is computed over "{timestamp}.{body}" with the tenant's secret.

const SignatureMaxSkew = 5 * time.Minute

var (
	ErrSignatureMissing   = errors.New("signature header missing")
	ErrSignatureMalformed = errors.New("signature header malformed")
	ErrSignatureExpired   = errors.New("signature timestamp outside allowed window")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// VerifyWebhookSignature checks an inbound webhook body against its
// signature header. Pure check, no side effects; the caller resolves
// which secret to try.
func VerifyWebhookSignature(body []byte, header, secret string, now time.Time) error {
	if header == "" {
		return ErrSignatureMissing
	}

	var timestamp, provided string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return ErrSignatureMalformed
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			provided = kv[1]
		}
	}
	if timestamp == "" || provided == "" {
		return ErrSignatureMalformed
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrSignatureMalformed, timestamp)
	}

	signedAt := time.Unix(ts, 0)
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > SignatureMaxSkew {
		return ErrSignatureExpired
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
