package x402pay

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the module.
var (
	// ErrInvalidKey indicates unusable signing key material.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrInvalidKeystore indicates an unreadable or undecryptable keystore.
	ErrInvalidKeystore = errors.New("invalid keystore")

	// ErrInvalidMnemonic indicates an invalid BIP-39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidNetwork indicates an unrecognized network identifier.
	ErrInvalidNetwork = errors.New("invalid network")

	// ErrInvalidAmount indicates an amount that does not parse as a
	// non-negative integer in smallest units.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmountExceeded indicates a payment above the signer's per-call cap.
	ErrAmountExceeded = errors.New("amount exceeds per-call limit")

	// ErrInvalidRequirements indicates a 402 response whose payment terms
	// could not be parsed.
	ErrInvalidRequirements = errors.New("invalid payment requirements")

	// ErrNoValidSigner indicates no wallet can satisfy any accepted network.
	ErrNoValidSigner = errors.New("no compatible wallet for accepted networks")

	// ErrMissingDomain indicates an EVM requirement without the EIP-712
	// domain name/version in extra. The domain is never guessed: a wrong
	// guess would let a signature be replayed against a different contract.
	ErrMissingDomain = errors.New("missing EIP-712 domain metadata")

	// ErrMalformedHeader indicates an undecodable X-Payment header.
	ErrMalformedHeader = errors.New("malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("unsupported x402 version")

	// ErrInsufficientFunds indicates the payer's token balance cannot cover
	// the requested amount.
	ErrInsufficientFunds = errors.New("insufficient token balance")

	// ErrInsufficientGas indicates the payer cannot cover the native fee for
	// a directly settled transaction.
	ErrInsufficientGas = errors.New("insufficient native balance for fees")

	// ErrPaymentRejected indicates the server refused the signed payment
	// (a second 402 after paying).
	ErrPaymentRejected = errors.New("payment rejected by server")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("settlement failed")
)

// ErrorCode classifies a PaymentError for programmatic handling.
type ErrorCode string

const (
	ErrCodeInvalidRequirements ErrorCode = "invalid_requirements"
	ErrCodeNoValidSigner       ErrorCode = "no_valid_signer"
	ErrCodeSigningFailed       ErrorCode = "signing_failed"
	ErrCodeNetworkError        ErrorCode = "network_error"
	ErrCodeSettlementRejected  ErrorCode = "settlement_rejected"
)

// PaymentError is a structured error with a code and optional key/value
// details. Details carry debugging context (amount, recipient, network);
// key material never goes in here.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// NewPaymentError builds a PaymentError wrapping err.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// WithDetails attaches a key/value pair and returns the same error for
// chaining.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *PaymentError) Unwrap() error {
	return e.Err
}
