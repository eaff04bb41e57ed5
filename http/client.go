// Package http contains the payment-aware HTTP client. Fetcher drives the
// full negotiation: issue the request, read a 402 challenge, pick a rail,
// sign, resubmit once, and report a PaymentOutcome. Transport wraps the
// same flow as an http.RoundTripper for callers that want a drop-in
// http.Client.
package http

import (
	"net/http"
	"time"

	"log/slog"

	"golang.org/x/time/rate"

	"github.com/solventlabs/x402pay"
	"github.com/solventlabs/x402pay/metrics"
)

const defaultTimeout = 30 * time.Second

// Fetcher performs paid HTTP requests. Construct it once and share it; all
// fields are read-only after NewFetcher returns, so concurrent Fetch calls
// are safe.
type Fetcher struct {
	httpClient *http.Client
	signers    []x402pay.Signer
	selector   x402pay.Selector
	logger     *slog.Logger
	recorder   metrics.Recorder
	limiter    *rate.Limiter
	timeout    time.Duration

	onAttempt x402pay.PaymentCallback
	onSuccess x402pay.PaymentCallback
	onFailure x402pay.PaymentCallback
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher) error

// NewFetcher creates a payment-aware HTTP client. Without signers it still
// works for free resources; any 402 then reports no compatible wallet.
func NewFetcher(opts ...FetcherOption) (*Fetcher, error) {
	f := &Fetcher{
		httpClient: &http.Client{},
		selector:   x402pay.NewChainPreferenceSelector(),
		logger:     slog.Default(),
		recorder:   metrics.Noop{},
		timeout:    defaultTimeout,
	}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) error {
		f.httpClient = client
		return nil
	}
}

// WithSigner adds a payment signer. Signers may be added for multiple
// networks; the selector picks among them per challenge.
func WithSigner(signer x402pay.Signer) FetcherOption {
	return func(f *Fetcher) error {
		f.signers = append(f.signers, signer)
		return nil
	}
}

// WithSelector replaces the default Solana-then-EVM selection policy.
func WithSelector(selector x402pay.Selector) FetcherOption {
	return func(f *Fetcher) error {
		f.selector = selector
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) error {
		f.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder metrics.Recorder) FetcherOption {
	return func(f *Fetcher) error {
		f.recorder = recorder
		return nil
	}
}

// WithPaymentRateLimit caps how many payments the fetcher may sign per
// second, smoothing spend during request storms. Free requests are not
// limited.
func WithPaymentRateLimit(perSecond float64, burst int) FetcherOption {
	return func(f *Fetcher) error {
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithTimeout bounds each fetch, covering both the initial request and the
// paid resubmission. The default is 30 seconds.
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) error {
		f.timeout = timeout
		return nil
	}
}

// WithPaymentCallbacks registers lifecycle observers. Pass nil for events
// you do not care about.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure x402pay.PaymentCallback) FetcherOption {
	return func(f *Fetcher) error {
		f.onAttempt = onAttempt
		f.onSuccess = onSuccess
		f.onFailure = onFailure
		return nil
	}
}
