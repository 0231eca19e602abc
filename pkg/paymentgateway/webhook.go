/**
 * @description
 * This file implements verification and decoding of gateway webhook
 * notifications. Verification recomputes an HMAC-SHA256 signature over the raw
 * body and checks the embedded timestamp against a freshness window before any
 * payload field is trusted.
 *
 * Key properties:
 * - Pure: verification is a function of the body bytes, the header, the shared
 *   secret, and the clock; it performs no I/O.
 * - Closed decoding: only the recognized event types map to typed events;
 *   everything else decodes to EventIgnored so the caller can acknowledge
 *   receipt without acting on it.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex, encoding/json: For signature
 *   validation and payload decoding.
 */
package paymentgateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "X-Gateway-Signature"

// DefaultTolerance bounds how old a webhook timestamp may be before the
// notification is treated as a replay.
const DefaultTolerance = 5 * time.Minute

// ErrVerification is returned for any forged, malformed, or stale
// notification. It is the only webhook outcome the HTTP layer rejects.
var ErrVerification = errors.New("webhook verification failed")

// EventKind is the closed set of recognized gateway notification types.
type EventKind int

const (
	// EventIgnored marks a valid notification of a type this service does not
	// act on. The caller acknowledges it without further processing.
	EventIgnored EventKind = iota
	EventPaymentCompleted
	EventPaymentFailed
)

// VerifiedEvent is a gateway notification that passed signature and freshness
// checks, decoded into the fields the reconciliation engine needs.
type VerifiedEvent struct {
	Kind          EventKind
	EventID       string
	SessionID     string
	PaymentID     string
	OrderID       string
	CustomerEmail string
}

// webhookEnvelope mirrors the gateway's notification wire format.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentIntent string            `json:"payment_intent"`
			CustomerEmail string            `json:"customer_email"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ConstructEvent verifies the signature header against the raw body and
// decodes the payload into a VerifiedEvent. The signature header format is
// "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<body>'>". Any verification failure
// returns ErrVerification (wrapped); unrecognized event types are not errors.
func ConstructEvent(body []byte, signatureHeader, secret string, tolerance time.Duration, now time.Time) (VerifiedEvent, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	timestamp, signature, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return VerifiedEvent{}, err
	}

	if drift := now.Sub(time.Unix(timestamp, 0)); drift > tolerance || drift < -tolerance {
		return VerifiedEvent{}, fmt.Errorf("%w: timestamp outside tolerance", ErrVerification)
	}

	expected := ComputeSignature(body, timestamp, secret)
	provided, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(provided, expected) {
		return VerifiedEvent{}, fmt.Errorf("%w: signature mismatch", ErrVerification)
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return VerifiedEvent{}, fmt.Errorf("%w: invalid payload: %v", ErrVerification, err)
	}

	event := VerifiedEvent{EventID: envelope.ID}
	object := envelope.Data.Object

	switch envelope.Type {
	case "checkout.session.completed":
		event.Kind = EventPaymentCompleted
		event.SessionID = object.ID
		event.PaymentID = object.PaymentIntent
		event.CustomerEmail = object.CustomerEmail
		event.OrderID = object.Metadata["order_id"]
	case "payment_intent.payment_failed":
		event.Kind = EventPaymentFailed
		event.PaymentID = object.ID
		event.OrderID = object.Metadata["order_id"]
	default:
		event.Kind = EventIgnored
	}

	return event, nil
}

// ComputeSignature returns the expected HMAC-SHA256 signature bytes for a body
// at a given timestamp. Exposed so tests and gateway simulators can sign
// payloads the same way the gateway does.
func ComputeSignature(body []byte, timestamp int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (timestamp int64, signature string, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, "", fmt.Errorf("%w: missing signature header", ErrVerification)
	}

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: invalid timestamp", ErrVerification)
			}
		case "v1":
			signature = value
		}
	}

	if timestamp == 0 || signature == "" {
		return 0, "", fmt.Errorf("%w: malformed signature header", ErrVerification)
	}
	return timestamp, signature, nil
}
