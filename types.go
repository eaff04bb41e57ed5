package x402pay

import (
	"encoding/json"
	"math/big"
	"time"
)

// X402Version is the protocol version this module emits. Legacy v1 challenge
// shapes are still accepted on input; see the challenge package.
const X402Version = 2

// Transport header names used by the negotiation.
const (
	// HeaderPayment carries the base64-encoded signed payment on resubmission.
	HeaderPayment = "X-Payment"

	// HeaderPaymentRequired optionally carries the challenge on a 402 response,
	// as raw JSON or base64-wrapped JSON.
	HeaderPaymentRequired = "X-Payment-Required"

	// HeaderPaymentResponse carries the server's settlement result.
	HeaderPaymentResponse = "X-Payment-Response"

	// HeaderPaymentNetworks advertises which networks the client can pay on.
	// Sent with the initial request as a hint to the resource server.
	HeaderPaymentNetworks = "X-Payment-Networks"
)

// PaymentRequirement is one accepted way to pay for a resource, normalized
// from whichever wire shape (v1 or v2 field names) the server used.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network is the chain identifier, canonically CAIP-2
	// (e.g., "eip155:8453", "solana:mainnet").
	Network string `json:"network" validate:"required"`

	// Amount is the payment amount in the asset's smallest unit, as a
	// non-negative decimal integer string. Never a float.
	Amount string `json:"amount" validate:"required"`

	// PayTo is the recipient address in chain-native format.
	PayTo string `json:"payTo" validate:"required"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset" validate:"required"`

	// MaxTimeoutSeconds is the validity window for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Resource is the URL of the protected resource, when the server sent one.
	Resource string `json:"resource,omitempty"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// Extra carries scheme-specific metadata, e.g. the EIP-712 domain
	// name/version an EVM signer needs.
	Extra map[string]interface{} `json:"extra,omitempty"`

	// Raw is the original accepts entry exactly as the server sent it.
	// Normalization is lossy; signers that need wire-level fields read it here.
	Raw json.RawMessage `json:"-"`
}

// AtomicAmount parses Amount as a non-negative integer in smallest units.
func (r *PaymentRequirement) AtomicAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return amount, nil
}

// ExtraString returns a string value from Extra, or "" when absent.
func (r *PaymentRequirement) ExtraString(key string) string {
	if r.Extra == nil {
		return ""
	}
	s, _ := r.Extra[key].(string)
	return s
}

// ChallengeSource records which transport encoding a challenge arrived in.
type ChallengeSource string

const (
	ChallengeSourceHeaderJSON   ChallengeSource = "header-json"
	ChallengeSourceHeaderBase64 ChallengeSource = "header-base64"
	ChallengeSourceBody         ChallengeSource = "body-json"
)

// PaymentChallenge is the parsed form of a 402 response: the server's
// acceptable payment options in its preference order, plus which transport
// shape it used.
type PaymentChallenge struct {
	// X402Version is the protocol version the server spoke (1 or 2).
	X402Version int

	// ErrorMessage is the server's human-readable reason, if any.
	ErrorMessage string

	// Accepts is the ordered list of payment options. Always non-empty;
	// a challenge with no usable options parses to nil instead.
	Accepts []PaymentRequirement

	// Source is the transport encoding the challenge arrived in.
	Source ChallengeSource
}

// PaymentPayload is the scheme-tagged envelope for a signed payment,
// ready for transport in the X-Payment header.
type PaymentPayload struct {
	// X402Version is the protocol version (2).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the chain identifier the payment settles on.
	Network string `json:"network"`

	// Payload is the chain-specific signed payment data:
	// EVMPayload for EVM networks, SVMPayload for Solana.
	Payload interface{} `json:"payload"`
}

// EVMPayload is an EVM payment: an off-chain EIP-3009 transfer authorization.
// The resource server's facilitator redeems it on-chain; the payer never
// spends gas on this path.
type EVMPayload struct {
	// Signature is the hex-encoded EIP-712 signature over the authorization.
	Signature string `json:"signature"`

	// Authorization holds the transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization mirrors the EIP-3009 TransferWithAuthorization struct.
// Numeric fields are decimal strings; Nonce is 0x-prefixed hex.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SVMPayload is a Solana payment: a fully signed SPL token transfer,
// serialized and base64-encoded. Unlike the EVM path, settlement here is
// the payer's own on-chain action.
type SVMPayload struct {
	Transaction string `json:"transaction"`
}

// SettlementResponse is the server's report after redeeming a payment,
// decoded from the X-Payment-Response header.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// PaymentOutcome is the terminal result of one paid fetch. The orchestrator
// never raises: every failure mode lands here with Success=false and a
// diagnostic Error. The core does not retry; retry policy belongs to the
// caller.
type PaymentOutcome struct {
	// Success mirrors the final HTTP response's ok-ness.
	Success bool `json:"success"`

	// StatusCode is the final HTTP status, when a response was received.
	StatusCode int `json:"statusCode,omitempty"`

	// Response is the final response body: raw JSON when the body is valid
	// JSON, otherwise the body text as a JSON string.
	Response json.RawMessage `json:"response,omitempty"`

	// Error describes why the call failed. Settlement rejections carry the
	// server's own text verbatim so callers can tell "insufficient funds"
	// from "expired deadline".
	Error string `json:"error,omitempty"`

	// Settlement is the decoded X-Payment-Response header, when present.
	Settlement *SettlementResponse `json:"settlement,omitempty"`
}

// TokenConfig is an entry in a signer's token allow-list.
type TokenConfig struct {
	// Address is the token contract address (EVM) or mint address (Solana).
	Address string

	// Symbol is the token symbol (e.g., "USDC").
	Symbol string

	// Decimals is the number of decimal places for the token.
	Decimals int

	// Priority orders tokens within a signer. Lower is preferred.
	Priority int
}

// PaymentEventType identifies a payment lifecycle event.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent carries telemetry about one payment attempt. The agent's
// survival loop subscribes to these to track spend.
type PaymentEvent struct {
	Type        PaymentEventType
	Timestamp   time.Time
	URL         string
	Network     string
	Scheme      string
	Amount      string
	Asset       string
	Recipient   string
	Transaction string
	Payer       string
	Duration    time.Duration
	Error       error
}

// PaymentCallback observes payment events. Callbacks must be fast and must
// not block; they run inline on the fetch path.
type PaymentCallback func(PaymentEvent)
