package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/solventlabs/x402pay"
	"github.com/solventlabs/x402pay/encoding"
	"github.com/solventlabs/x402pay/signers/evm"
)

const evmChallengeBody = `{
	"x402Version": 2,
	"accepts": [{
		"scheme": "exact",
		"network": "eip155:8453",
		"amount": "10000",
		"payTo": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"asset": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"maxTimeoutSeconds": 60,
		"extra": {"name": "USD Coin", "version": "2"}
	}]
}`

// stubSigner is a minimal x402pay.Signer for orchestrator tests; real
// signing is covered in the signer packages.
type stubSigner struct {
	network string
	signErr error
	panics  bool
	signed  atomic.Int32
}

func (s *stubSigner) Network() string { return s.network }
func (s *stubSigner) Scheme() string  { return "exact" }
func (s *stubSigner) CanSign(req *x402pay.PaymentRequirement) bool {
	return x402pay.SameNetwork(req.Network, s.network)
}
func (s *stubSigner) Sign(_ context.Context, req *x402pay.PaymentRequirement) (*x402pay.PaymentPayload, error) {
	s.signed.Add(1)
	if s.panics {
		panic("boom")
	}
	if s.signErr != nil {
		return nil, s.signErr
	}
	return &x402pay.PaymentPayload{
		X402Version: x402pay.X402Version,
		Scheme:      "exact",
		Network:     s.network,
		Payload:     x402pay.SVMPayload{Transaction: "c3R1Yg=="},
	}, nil
}
func (s *stubSigner) GetPriority() int                 { return 0 }
func (s *stubSigner) GetTokens() []x402pay.TokenConfig { return nil }
func (s *stubSigner) GetMaxAmount() *big.Int           { return nil }

func newFetcher(t *testing.T, opts ...FetcherOption) *Fetcher {
	t.Helper()
	f, err := NewFetcher(opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f
}

func TestFetchFreeResource(t *testing.T) {
	var paymentSeen atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402pay.HeaderPayment) != "" {
			paymentSeen.Store(true)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":"free"}`))
	}))
	defer server.Close()

	f := newFetcher(t, WithSigner(&stubSigner{network: "eip155:8453"}))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", outcome.StatusCode)
	}
	if string(outcome.Response) != `{"data":"free"}` {
		t.Errorf("response = %s", outcome.Response)
	}
	if paymentSeen.Load() {
		t.Error("payment header sent for a free resource")
	}
}

func TestFetchNon402Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nothing here", http.StatusNotFound)
	}))
	defer server.Close()

	signer := &stubSigner{network: "eip155:8453"}
	f := newFetcher(t, WithSigner(signer))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("404 reported as success")
	}
	if outcome.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", outcome.StatusCode)
	}
	if signer.signed.Load() != 0 {
		t.Error("payment attempted for a non-402 response")
	}
}

func TestFetchUnparseableChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	f := newFetcher(t, WithSigner(&stubSigner{network: "eip155:8453"}))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("unparseable challenge reported as success")
	}
	if outcome.Error != "could not parse payment requirements" {
		t.Errorf("error = %q", outcome.Error)
	}
}

func TestFetchNoCompatibleWallet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(evmChallengeBody))
	}))
	defer server.Close()

	signer := &stubSigner{network: "solana:mainnet"}
	f := newFetcher(t, WithSigner(signer))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("incompatible challenge reported as success")
	}
	if outcome.Error != "no compatible wallet for accepted networks" {
		t.Errorf("error = %q", outcome.Error)
	}
	if signer.signed.Load() != 0 {
		t.Error("signer invoked despite network mismatch")
	}
}

func TestFetchPaysAndSucceeds(t *testing.T) {
	var requests atomic.Int32
	var attemptSeen, successSeen bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get(x402pay.HeaderPayment) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(evmChallengeBody))
			return
		}
		settlement, _ := encoding.EncodeSettlement(x402pay.SettlementResponse{
			Success:     true,
			Transaction: "0xdeadbeef",
			Network:     "eip155:8453",
			Payer:       "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		})
		w.Header().Set(x402pay.HeaderPaymentResponse, settlement)
		w.Write([]byte(`{"data":"paid"}`))
	}))
	defer server.Close()

	f := newFetcher(t,
		WithSigner(&stubSigner{network: "eip155:8453"}),
		WithPaymentCallbacks(
			func(e x402pay.PaymentEvent) { attemptSeen = true },
			func(e x402pay.PaymentEvent) { successSeen = true },
			nil,
		),
	)
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if string(outcome.Response) != `{"data":"paid"}` {
		t.Errorf("response = %s", outcome.Response)
	}
	if outcome.Settlement == nil || outcome.Settlement.Transaction != "0xdeadbeef" {
		t.Errorf("settlement = %+v", outcome.Settlement)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("request count = %d, want 2", got)
	}
	if !attemptSeen || !successSeen {
		t.Errorf("callbacks: attempt=%v success=%v, want both", attemptSeen, successSeen)
	}
}

func TestFetchPaymentRejectedNoThirdAttempt(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		if r.Header.Get(x402pay.HeaderPayment) == "" {
			w.Write([]byte(evmChallengeBody))
			return
		}
		w.Write([]byte("insufficient_funds: authorization exceeds balance"))
	}))
	defer server.Close()

	f := newFetcher(t, WithSigner(&stubSigner{network: "eip155:8453"}))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("rejected payment reported as success")
	}
	if !strings.Contains(outcome.Error, "insufficient_funds") {
		t.Errorf("error = %q, want the server's verbatim rejection", outcome.Error)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("request count = %d, want exactly 2 (one payment attempt)", got)
	}
}

func TestFetchSigningFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(evmChallengeBody))
	}))
	defer server.Close()

	signer := &stubSigner{network: "eip155:8453", signErr: errors.New("hsm offline")}
	f := newFetcher(t, WithSigner(signer))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("signing failure reported as success")
	}
	if outcome.Error != "failed to sign payment" {
		t.Errorf("error = %q", outcome.Error)
	}
}

func TestFetchSettlementFailureSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(evmChallengeBody))
	}))
	defer server.Close()

	// A directly settled signer can fail after the transaction is already
	// on chain. The outcome must distinguish that from a signing failure
	// and carry the signature.
	signErr := x402pay.NewPaymentError(
		x402pay.ErrCodeSettlementRejected, "transaction failed on chain", x402pay.ErrSettlementFailed).
		WithDetails("signature", "5vJv3qBazKq")
	signer := &stubSigner{network: "eip155:8453", signErr: signErr}
	f := newFetcher(t, WithSigner(signer))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("settlement failure reported as success")
	}
	if outcome.Error == "failed to sign payment" {
		t.Fatalf("settlement failure collapsed into a signing failure")
	}
	if !strings.Contains(outcome.Error, "transaction failed on chain") {
		t.Errorf("error = %q, want the settlement reason", outcome.Error)
	}
	if !strings.Contains(outcome.Error, "5vJv3qBazKq") {
		t.Errorf("error = %q, want the transaction signature", outcome.Error)
	}
}

func TestFetchSignerPanicContained(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(evmChallengeBody))
	}))
	defer server.Close()

	f := newFetcher(t, WithSigner(&stubSigner{network: "eip155:8453", panics: true}))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("panic reported as success")
	}
	if !strings.HasPrefix(outcome.Error, "network error:") {
		t.Errorf("error = %q, want network error prefix", outcome.Error)
	}
}

func TestFetchConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	f := newFetcher(t)
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if outcome.Success {
		t.Error("dead server reported as success")
	}
	if !strings.HasPrefix(outcome.Error, "network error:") {
		t.Errorf("error = %q, want network error prefix", outcome.Error)
	}
}

func TestFetchSendsNetworkHint(t *testing.T) {
	var hint string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hint = r.Header.Get(x402pay.HeaderPaymentNetworks)
	}))
	defer server.Close()

	f := newFetcher(t,
		WithSigner(&stubSigner{network: "solana:mainnet"}),
		WithSigner(&stubSigner{network: "eip155:8453"}),
	)
	f.Fetch(context.Background(), Request{URL: server.URL})

	if hint != "solana:mainnet,eip155:8453" {
		t.Errorf("hint = %q", hint)
	}
}

func TestFetchHeaderChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402pay.HeaderPayment) == "" {
			encoded := base64.StdEncoding.EncodeToString([]byte(evmChallengeBody))
			w.Header().Set(x402pay.HeaderPaymentRequired, encoded)
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		w.Write([]byte(`{"data":"paid"}`))
	}))
	defer server.Close()

	f := newFetcher(t, WithSigner(&stubSigner{network: "eip155:8453"}))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
}

func TestFetchPostBodyResubmitted(t *testing.T) {
	var paidBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get(x402pay.HeaderPayment) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(evmChallengeBody))
			return
		}
		paidBody = string(body)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	f := newFetcher(t, WithSigner(&stubSigner{network: "eip155:8453"}))
	outcome := f.Fetch(context.Background(), Request{
		URL:    server.URL,
		Method: http.MethodPost,
		Body:   []byte(`{"query":"q"}`),
	})

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if paidBody != `{"query":"q"}` {
		t.Errorf("resubmitted body = %q, want the original body", paidBody)
	}
}

// End to end with a real EVM signer: the server decodes the payment header
// and checks the authorization it carries.
func TestFetchEndToEndEVM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(x402pay.HeaderPayment)
		if header == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(evmChallengeBody))
			return
		}

		payment, err := encoding.DecodePayment(header)
		if err != nil {
			t.Errorf("payment header did not decode: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, _ := json.Marshal(payment.Payload)
		var evmPayload x402pay.EVMPayload
		if err := json.Unmarshal(raw, &evmPayload); err != nil {
			t.Errorf("payload shape: %v", err)
		}
		if evmPayload.Authorization.Value != "10000" {
			t.Errorf("authorized value = %s, want 10000", evmPayload.Authorization.Value)
		}
		if evmPayload.Authorization.To != "0x209693Bc6afc0C5328bA36FaF03C514EF312287C" {
			t.Errorf("authorized to = %s", evmPayload.Authorization.To)
		}
		w.Write([]byte(`{"data":"paid"}`))
	}))
	defer server.Close()

	signer, err := evm.NewSigner(
		evm.WithPrivateKey("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"),
		evm.WithNetwork("eip155:8453"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := newFetcher(t, WithSigner(signer))
	outcome := f.Fetch(context.Background(), Request{URL: server.URL})

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
}
