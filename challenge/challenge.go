// Package challenge parses HTTP 402 responses into normalized payment
// challenges. Servers in the wild disagree on transport (X-Payment-Required
// header vs response body), on encoding (raw JSON vs base64-wrapped JSON),
// and on field names (v1 vs v2 envelope); all of that tolerance lives here,
// behind an ordered list of pure decode strategies, so the signers and the
// orchestrator only ever see one canonical shape.
//
// Nothing in this package returns an error or panics on bad input: a
// response that isn't a usable challenge parses to nil.
package challenge

import (
	"encoding/base64"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/solventlabs/x402pay"
)

// envelope is the raw wire challenge before normalization. Accepts entries
// are kept as raw JSON so each option's original bytes survive alongside the
// normalized form.
type envelope struct {
	X402Version int               `json:"x402Version"`
	Error       string            `json:"error"`
	Accepts     []json.RawMessage `json:"accepts"`
}

// wireRequirement tolerates both the v1 and v2 field vocabularies. When both
// are present, v2 wins.
type wireRequirement struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`

	// v2 / v1 amount
	Amount            string `json:"amount"`
	MaxAmountRequired string `json:"maxAmountRequired"`

	// v2 / v1 recipient
	PayTo        string `json:"payTo"`
	PayToAddress string `json:"payToAddress"`

	// v2 / v1 asset
	Asset       string `json:"asset"`
	USDCAddress string `json:"usdcAddress"`

	// v2 / v1 deadline
	MaxTimeoutSeconds       int `json:"maxTimeoutSeconds"`
	RequiredDeadlineSeconds int `json:"requiredDeadlineSeconds"`

	Resource    string                 `json:"resource"`
	Description string                 `json:"description"`
	MimeType    string                 `json:"mimeType"`
	Extra       map[string]interface{} `json:"extra"`
}

// Strategy is one pure transport decoding: bytes in, envelope or nothing out.
// Strategies never partially succeed and never error.
type Strategy struct {
	Name   string
	Source x402pay.ChallengeSource
	Decode func(data []byte) (*envelope, bool)
}

// HeaderStrategies is the ordered list tried against the
// X-Payment-Required header value: raw JSON first, then base64-wrapped JSON
// (some deployments double-encode).
func HeaderStrategies() []Strategy {
	return []Strategy{
		{Name: "header-json", Source: x402pay.ChallengeSourceHeaderJSON, Decode: decodeJSON},
		{Name: "header-base64", Source: x402pay.ChallengeSourceHeaderBase64, Decode: decodeBase64JSON},
	}
}

// BodyStrategy decodes a challenge from the response body.
func BodyStrategy() Strategy {
	return Strategy{Name: "body-json", Source: x402pay.ChallengeSourceBody, Decode: decodeJSON}
}

func decodeJSON(data []byte) (*envelope, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	return &env, true
}

func decodeBase64JSON(data []byte) (*envelope, bool) {
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, false
	}
	return decodeJSON(decoded)
}

// Parse extracts a payment challenge from a 402 response's
// X-Payment-Required header value and body. The header is tried first (raw
// JSON, then base64); the body is the fallback. Returns nil when no strategy
// yields a challenge with at least one usable payment option — the caller
// treats that as "payment required but terms unknown", a hard failure.
func Parse(headerValue string, body []byte) *x402pay.PaymentChallenge {
	if headerValue != "" {
		for _, strategy := range HeaderStrategies() {
			if env, ok := strategy.Decode([]byte(headerValue)); ok {
				if ch := normalize(env, strategy.Source); ch != nil {
					return ch
				}
			}
		}
	}

	if len(body) > 0 {
		strategy := BodyStrategy()
		if env, ok := strategy.Decode(body); ok {
			return normalize(env, strategy.Source)
		}
	}

	return nil
}

var validate = validator.New()

// normalize converts a wire envelope into the canonical challenge, dropping
// accepts entries that fail validation. An envelope with no surviving
// entries is not a challenge.
func normalize(env *envelope, source x402pay.ChallengeSource) *x402pay.PaymentChallenge {
	if env == nil || len(env.Accepts) == 0 {
		return nil
	}

	accepts := make([]x402pay.PaymentRequirement, 0, len(env.Accepts))
	for _, raw := range env.Accepts {
		req, ok := normalizeRequirement(raw)
		if !ok {
			continue
		}
		accepts = append(accepts, req)
	}

	if len(accepts) == 0 {
		return nil
	}

	version := env.X402Version
	if version == 0 {
		version = 1
	}

	return &x402pay.PaymentChallenge{
		X402Version:  version,
		ErrorMessage: env.Error,
		Accepts:      accepts,
		Source:       source,
	}
}

func normalizeRequirement(raw json.RawMessage) (x402pay.PaymentRequirement, bool) {
	var wire wireRequirement
	if err := json.Unmarshal(raw, &wire); err != nil {
		return x402pay.PaymentRequirement{}, false
	}

	req := x402pay.PaymentRequirement{
		Scheme:            wire.Scheme,
		Network:           wire.Network,
		Amount:            firstNonEmpty(wire.Amount, wire.MaxAmountRequired),
		PayTo:             firstNonEmpty(wire.PayTo, wire.PayToAddress),
		Asset:             firstNonEmpty(wire.Asset, wire.USDCAddress),
		MaxTimeoutSeconds: firstPositive(wire.MaxTimeoutSeconds, wire.RequiredDeadlineSeconds),
		Resource:          wire.Resource,
		Description:       wire.Description,
		MimeType:          wire.MimeType,
		Extra:             wire.Extra,
		Raw:               raw,
	}

	if err := validate.Struct(&req); err != nil {
		return x402pay.PaymentRequirement{}, false
	}
	if _, err := req.AtomicAmount(); err != nil {
		return x402pay.PaymentRequirement{}, false
	}
	if _, err := x402pay.ParseNetwork(req.Network); err != nil {
		return x402pay.PaymentRequirement{}, false
	}

	return req, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
