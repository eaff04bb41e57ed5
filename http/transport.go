package http

import (
	"bytes"
	"io"
	"net/http"

	"github.com/solventlabs/x402pay"
	"github.com/solventlabs/x402pay/challenge"
	"github.com/solventlabs/x402pay/encoding"
)

// Transport is an http.RoundTripper that pays 402 challenges in-flight, for
// callers that want to keep using a plain *http.Client. Unlike Fetcher it
// surfaces failures as errors from RoundTrip, matching RoundTripper
// semantics.
type Transport struct {
	// Base is the underlying RoundTripper; nil means http.DefaultTransport.
	Base http.RoundTripper

	// Signers are the wallets available for payment.
	Signers []x402pay.Signer

	// Selector picks the rail; nil means the default Solana-then-EVM policy.
	Selector x402pay.Selector
}

// NewClient wraps signers into a ready-to-use *http.Client.
func NewClient(signers ...x402pay.Signer) *http.Client {
	return &http.Client{
		Transport: &Transport{Signers: signers},
	}
}

// RoundTrip implements http.RoundTripper. On a 402 it signs one payment and
// replays the request with the payment header; a second 402 is returned to
// the caller untouched.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	selector := t.Selector
	if selector == nil {
		selector = x402pay.NewChainPreferenceSelector()
	}

	// Buffer the body so it survives the replay.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	resp, err := base.RoundTrip(withBody(req, bodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challengeBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	chal := challenge.Parse(resp.Header.Get(x402pay.HeaderPaymentRequired), challengeBody)
	if chal == nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeInvalidRequirements, "could not parse payment requirements", x402pay.ErrInvalidRequirements)
	}

	requirement, signer, err := selector.Select(chal.Accepts, t.Signers)
	if err != nil {
		return nil, err
	}

	payment, err := signer.Sign(req.Context(), requirement)
	if err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "failed to sign payment", err)
	}
	header, err := encoding.EncodePayment(*payment)
	if err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "failed to encode payment", err)
	}

	retry := withBody(req, bodyBytes)
	retry.Header.Set(x402pay.HeaderPayment, header)
	return base.RoundTrip(retry)
}

// GetSettlement decodes the settlement header from a response, or nil when
// absent or malformed.
func GetSettlement(resp *http.Response) *x402pay.SettlementResponse {
	return decodeSettlement(resp)
}

func withBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
	}
	return clone
}
