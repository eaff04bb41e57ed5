package http

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/solventlabs/x402pay"
	"github.com/solventlabs/x402pay/encoding"
)

func TestTransportPays402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402pay.HeaderPayment) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(evmChallengeBody))
			return
		}
		settlement, _ := encoding.EncodeSettlement(x402pay.SettlementResponse{
			Success: true,
			Network: "eip155:8453",
		})
		w.Header().Set(x402pay.HeaderPaymentResponse, settlement)
		w.Write([]byte("paid content"))
	}))
	defer server.Close()

	client := NewClient(&stubSigner{network: "eip155:8453"})
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "paid content" {
		t.Errorf("body = %q", body)
	}
	settlement := GetSettlement(resp)
	if settlement == nil || !settlement.Success {
		t.Errorf("settlement = %+v", settlement)
	}
}

func TestTransportPassesThroughNon402(t *testing.T) {
	signer := &stubSigner{network: "eip155:8453"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	resp, err := NewClient(signer).Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want 418", resp.StatusCode)
	}
	if signer.signed.Load() != 0 {
		t.Error("signer invoked without a 402")
	}
}

func TestTransportNoCompatibleSigner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(evmChallengeBody))
	}))
	defer server.Close()

	_, err := NewClient(&stubSigner{network: "solana:mainnet"}).Get(server.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, x402pay.ErrNoValidSigner) {
		t.Errorf("error = %v, want ErrNoValidSigner", err)
	}
}

func TestTransportSecond402Returned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(evmChallengeBody))
	}))
	defer server.Close()

	resp, err := NewClient(&stubSigner{network: "eip155:8453"}).Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want the second 402 surfaced", resp.StatusCode)
	}
}
