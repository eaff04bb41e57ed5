package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/solventlabs/x402pay"
	"github.com/solventlabs/x402pay/challenge"
	"github.com/solventlabs/x402pay/encoding"
	"github.com/solventlabs/x402pay/metrics"
)

// Request describes one fetch. Method defaults to GET.
type Request struct {
	URL    string
	Method string
	Body   []byte
	Header http.Header
}

// Fetch performs the request, paying at most once if the server answers 402.
// It never returns an error: every failure mode, including panics from
// buggy signers, lands in the outcome with Success=false. Retry policy is
// the caller's; Fetch itself makes exactly one payment attempt.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (outcome x402pay.PaymentOutcome) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("fetch panicked", "url", req.URL, "panic", r)
			outcome = failure(0, fmt.Sprintf("network error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()

	resp, body, err := f.do(ctx, req, "")
	if err != nil {
		return failure(0, "network error: "+err.Error())
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		f.recorder.ObserveLatency(metrics.LatencyFetch, time.Since(start), map[string]string{"network": ""})
		return mirror(resp.StatusCode, body)
	}

	return f.pay(ctx, req, resp, body, start)
}

// pay handles the 402 branch: parse, select, sign, resubmit once.
func (f *Fetcher) pay(ctx context.Context, req Request, resp *http.Response, body []byte, start time.Time) x402pay.PaymentOutcome {
	chal := challenge.Parse(resp.Header.Get(x402pay.HeaderPaymentRequired), body)
	if chal == nil {
		f.logger.Warn("unparseable payment challenge", "url", req.URL)
		return failure(resp.StatusCode, "could not parse payment requirements")
	}

	requirement, signer, err := f.selector.Select(chal.Accepts, f.signers)
	if err != nil {
		f.logger.Warn("no signer for challenge", "url", req.URL, "error", err)
		return failure(resp.StatusCode, "no compatible wallet for accepted networks")
	}

	labels := map[string]string{"network": requirement.Network}
	f.recorder.IncCounter(metrics.CounterPaymentAttempted, labels)
	f.emit(f.onAttempt, x402pay.PaymentEvent{
		Type:      x402pay.PaymentEventAttempt,
		Timestamp: time.Now(),
		URL:       req.URL,
		Network:   requirement.Network,
		Scheme:    requirement.Scheme,
		Amount:    requirement.Amount,
		Asset:     requirement.Asset,
		Recipient: requirement.PayTo,
	})

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return f.fail(req, requirement, resp.StatusCode, "network error: "+err.Error(), start)
		}
	}

	signStart := time.Now()
	payment, err := signer.Sign(ctx, requirement)
	f.recorder.ObserveLatency(metrics.LatencySign, time.Since(signStart), labels)
	if err != nil {
		f.logger.Error("payment signing failed",
			"url", req.URL,
			"network", requirement.Network,
			"amount", requirement.Amount,
			"payTo", requirement.PayTo,
			"error", err)
		// A settlement rejection is not a signing failure: a directly settled
		// signer may have already submitted the transaction, so the outcome
		// must say so and carry the signature for reconciliation.
		var perr *x402pay.PaymentError
		if errors.As(err, &perr) && perr.Code == x402pay.ErrCodeSettlementRejected {
			f.recorder.IncCounter(metrics.CounterPaymentRejected, labels)
			return f.fail(req, requirement, resp.StatusCode, settlementText(perr), start)
		}
		return f.fail(req, requirement, resp.StatusCode, "failed to sign payment", start)
	}

	header, err := encoding.EncodePayment(*payment)
	if err != nil {
		f.logger.Error("payment encoding failed", "url", req.URL, "error", err)
		return f.fail(req, requirement, resp.StatusCode, "failed to sign payment", start)
	}

	paidResp, paidBody, err := f.do(ctx, req, header)
	if err != nil {
		f.recorder.IncCounter(metrics.CounterPaymentFailed, labels)
		return f.fail(req, requirement, 0, "network error: "+err.Error(), start)
	}
	f.recorder.ObserveLatency(metrics.LatencyFetch, time.Since(start), labels)

	settlement := decodeSettlement(paidResp)

	if paidResp.StatusCode == http.StatusPaymentRequired {
		// The server rejected the payment. Its own text goes back verbatim
		// so the caller can tell insufficient funds from a stale deadline.
		f.recorder.IncCounter(metrics.CounterPaymentRejected, labels)
		out := f.fail(req, requirement, paidResp.StatusCode, rejectionText(settlement, paidBody), start)
		out.Settlement = settlement
		return out
	}

	out := mirror(paidResp.StatusCode, paidBody)
	out.Settlement = settlement

	if out.Success {
		f.recorder.IncCounter(metrics.CounterPaymentSettled, labels)
		event := x402pay.PaymentEvent{
			Type:      x402pay.PaymentEventSuccess,
			Timestamp: time.Now(),
			URL:       req.URL,
			Network:   requirement.Network,
			Scheme:    requirement.Scheme,
			Amount:    requirement.Amount,
			Asset:     requirement.Asset,
			Recipient: requirement.PayTo,
			Duration:  time.Since(start),
		}
		if settlement != nil {
			event.Transaction = settlement.Transaction
			event.Payer = settlement.Payer
		}
		f.emit(f.onSuccess, event)
	} else {
		f.recorder.IncCounter(metrics.CounterPaymentFailed, labels)
		f.emit(f.onFailure, x402pay.PaymentEvent{
			Type:      x402pay.PaymentEventFailure,
			Timestamp: time.Now(),
			URL:       req.URL,
			Network:   requirement.Network,
			Duration:  time.Since(start),
			Error:     fmt.Errorf("status %d after payment", paidResp.StatusCode),
		})
	}

	return out
}

// do issues one HTTP round trip, optionally with a payment header, and
// drains the body.
func (f *Fetcher) do(ctx context.Context, req Request, paymentHeader string) (*http.Response, []byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if hint := f.networkHint(); hint != "" {
		httpReq.Header.Set(x402pay.HeaderPaymentNetworks, hint)
	}
	if paymentHeader != "" {
		httpReq.Header.Set(x402pay.HeaderPayment, paymentHeader)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// networkHint advertises the networks the client can pay on, so servers
// with multiple rails can tailor the challenge.
func (f *Fetcher) networkHint() string {
	networks := make([]string, 0, len(f.signers))
	for _, signer := range f.signers {
		networks = append(networks, signer.Network())
	}
	return strings.Join(networks, ",")
}

func (f *Fetcher) fail(req Request, requirement *x402pay.PaymentRequirement, status int, message string, start time.Time) x402pay.PaymentOutcome {
	f.emit(f.onFailure, x402pay.PaymentEvent{
		Type:      x402pay.PaymentEventFailure,
		Timestamp: time.Now(),
		URL:       req.URL,
		Network:   requirement.Network,
		Scheme:    requirement.Scheme,
		Amount:    requirement.Amount,
		Asset:     requirement.Asset,
		Recipient: requirement.PayTo,
		Duration:  time.Since(start),
		Error:     fmt.Errorf("%s", message),
	})
	return failure(status, message)
}

func (f *Fetcher) emit(callback x402pay.PaymentCallback, event x402pay.PaymentEvent) {
	if callback != nil {
		callback(event)
	}
}

// mirror converts a terminal HTTP response into an outcome.
func mirror(status int, body []byte) x402pay.PaymentOutcome {
	return x402pay.PaymentOutcome{
		Success:    status >= 200 && status < 300,
		StatusCode: status,
		Response:   bodyJSON(body),
	}
}

func failure(status int, message string) x402pay.PaymentOutcome {
	return x402pay.PaymentOutcome{
		Success:    false,
		StatusCode: status,
		Error:      message,
	}
}

// bodyJSON keeps valid JSON bodies as-is and wraps everything else as a
// JSON string, so Response is always valid JSON.
func bodyJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}

// settlementText renders a signer-side settlement failure, appending the
// on-chain transaction signature when the signer recorded one.
func settlementText(perr *x402pay.PaymentError) string {
	text := "payment settlement failed: " + perr.Message
	if sig, ok := perr.Details["signature"].(string); ok && sig != "" {
		text += " (transaction " + sig + ")"
	}
	return text
}

// rejectionText prefers the settlement header's reason, then the response
// body, then a generic message.
func rejectionText(settlement *x402pay.SettlementResponse, body []byte) string {
	if settlement != nil && settlement.ErrorReason != "" {
		return settlement.ErrorReason
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return "payment rejected"
}

func decodeSettlement(resp *http.Response) *x402pay.SettlementResponse {
	header := resp.Header.Get(x402pay.HeaderPaymentResponse)
	if header == "" {
		return nil
	}
	settlement, err := encoding.DecodeSettlement(header)
	if err != nil {
		return nil
	}
	return &settlement
}
