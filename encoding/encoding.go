// Package encoding provides the transport codecs for x402 payment data:
// JSON marshaled then base64-encoded, the representation used by the
// X-Payment and X-Payment-Response headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/solventlabs/x402pay"
)

func encode[T any](v T, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode[T any](encoded, what string) (T, error) {
	var v T
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return v, fmt.Errorf("failed to decode %s base64: %w", what, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return v, nil
}

// EncodePayment renders a PaymentPayload for the X-Payment header.
func EncodePayment(payment x402pay.PaymentPayload) (string, error) {
	return encode(payment, "payment")
}

// DecodePayment parses an X-Payment header value.
func DecodePayment(encoded string) (x402pay.PaymentPayload, error) {
	return decode[x402pay.PaymentPayload](encoded, "payment")
}

// EncodeSettlement renders a SettlementResponse for the X-Payment-Response
// header.
func EncodeSettlement(settlement x402pay.SettlementResponse) (string, error) {
	return encode(settlement, "settlement")
}

// DecodeSettlement parses an X-Payment-Response header value.
func DecodeSettlement(encoded string) (x402pay.SettlementResponse, error) {
	return decode[x402pay.SettlementResponse](encoded, "settlement")
}
