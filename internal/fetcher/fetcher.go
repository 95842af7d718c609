package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "obyra-pricing/1.0"
	maxBodyBytes     = 4 << 20
)

// Quote is one exchange-rate observation: ARS paid per 1 USD.
type Quote struct {
	Rate      decimal.Decimal
	AsOf      time.Time
	Source    string
	SourceURL string
}

// ExchangeRateFetcher retrieves the current ARS/USD rate from a provider.
type ExchangeRateFetcher interface {
	Name() string
	FetchRate(ctx context.Context) (Quote, error)
}

// CACQuote is a published construction-cost index value.
type CACQuote struct {
	Value     decimal.Decimal
	SourceURL string
}

// CACFetcher retrieves the CAC index for a calendar month.
type CACFetcher interface {
	Name() string
	FetchCAC(ctx context.Context, year, month int) (CACQuote, error)
}

// HTTPOptions are shared by every HTTP-backed provider.
type HTTPOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func getBody(ctx context.Context, client *http.Client, url, userAgent, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if ua := strings.TrimSpace(userAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(url, resp.StatusCode, payload)
	}
	return payload, nil
}

func parseHTTPError(url string, status int, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if len(body) > 200 {
		body = body[:200]
	}
	if body != "" {
		return fmt.Errorf("provider %s error (%d): %s", url, status, body)
	}
	return fmt.Errorf("provider %s error (%d)", url, status)
}
