// Command x402fetch fetches a URL, paying an x402 challenge if one comes
// back. Wallets are read from the environment (see the wallet package);
// the outcome is printed as JSON on stdout. With -mcp it instead serves the
// fetch_with_payment tool over stdio for MCP hosts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"

	"github.com/joho/godotenv"

	"github.com/solventlabs/x402pay"
	xhttp "github.com/solventlabs/x402pay/http"
	"github.com/solventlabs/x402pay/mcp"
	"github.com/solventlabs/x402pay/retry"
	"github.com/solventlabs/x402pay/wallet"
)

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }
func (h *headerFlags) Set(v string) error {
	*h = append(*h, v)
	return nil
}

func main() {
	var (
		url      = flag.String("url", "", "target URL (required unless -mcp)")
		method   = flag.String("method", "GET", "HTTP method")
		body     = flag.String("body", "", "request body")
		timeout  = flag.Duration("timeout", 30*time.Second, "per-fetch timeout")
		retries  = flag.Int("retries", 1, "attempts for transient network failures")
		networks = flag.String("networks", "eip155:8453,solana:mainnet", "comma-separated networks to pay on")
		mcpMode  = flag.Bool("mcp", false, "serve the fetch_with_payment MCP tool over stdio")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	var headers headerFlags
	flag.Var(&headers, "header", "extra request header as 'Name: value' (repeatable)")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	signers, err := wallet.FromEnv(strings.Split(*networks, ",")...)
	if err != nil {
		fatalf("wallet: %v", err)
	}

	opts := []xhttp.FetcherOption{
		xhttp.WithLogger(logger),
		xhttp.WithTimeout(*timeout),
	}
	for _, signer := range signers {
		opts = append(opts, xhttp.WithSigner(signer))
	}
	fetcher, err := xhttp.NewFetcher(opts...)
	if err != nil {
		fatalf("fetcher: %v", err)
	}

	if *mcpMode {
		if err := mcp.ServeStdio("x402fetch", "1.0.0", fetcher); err != nil {
			fatalf("mcp: %v", err)
		}
		return
	}

	if *url == "" {
		flag.Usage()
		os.Exit(2)
	}

	req := xhttp.Request{URL: *url, Method: *method}
	if *body != "" {
		req.Body = []byte(*body)
	}
	for _, raw := range headers {
		name, value, ok := strings.Cut(raw, ":")
		if !ok {
			fatalf("bad -header %q, want 'Name: value'", raw)
		}
		if req.Header == nil {
			req.Header = map[string][]string{}
		}
		req.Header[strings.TrimSpace(name)] = []string{strings.TrimSpace(value)}
	}

	config := retry.DefaultConfig
	config.MaxAttempts = *retries

	outcome, err := retry.Do(context.Background(), config, retry.Transient,
		func() (x402pay.PaymentOutcome, error) {
			out := fetcher.Fetch(context.Background(), req)
			// Surface transient transport failures to the retry loop; every
			// other outcome, success or not, is final.
			if !out.Success && strings.HasPrefix(out.Error, "network error:") {
				return out, x402pay.NewPaymentError(x402pay.ErrCodeNetworkError, out.Error, nil)
			}
			return out, nil
		})
	if err != nil {
		var payErr *x402pay.PaymentError
		if errors.As(err, &payErr) {
			outcome = x402pay.PaymentOutcome{Success: false, Error: payErr.Message}
		} else {
			outcome = x402pay.PaymentOutcome{Success: false, Error: err.Error()}
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(outcome); err != nil {
		fatalf("encode outcome: %v", err)
	}
	if !outcome.Success {
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
