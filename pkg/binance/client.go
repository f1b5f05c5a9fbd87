package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/SUIXIN531/Monitor/pkg/models"
)

var ErrNoBorrowData = errors.New("no borrow data")

// BorrowFetcher looks up isolated-margin borrow terms for a base asset.
type BorrowFetcher interface {
	FetchBorrowData(ctx context.Context, symbol string) (*models.BorrowData, error)
}

type MarginClient struct {
	baseURL    string
	quote      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewMarginClient(baseURL, quote string, rps float64) *MarginClient {
	if baseURL == "" {
		baseURL = DefaultMarginAPIURL
	}
	if quote == "" {
		quote = DefaultQuote
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &MarginClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		quote:      strings.ToUpper(quote),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type vipSpecResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		DailyInterestRate decimal.Decimal `json:"dailyInterestRate"`
		BorrowLimit       decimal.Decimal `json:"borrowLimit"`
	} `json:"data"`
}

var daysPerYear = decimal.NewFromInt(365)

// FetchBorrowData returns the borrow terms of the first (standard) tier.
// ErrNoBorrowData is returned when the venue has none.
func (c *MarginClient) FetchBorrowData(ctx context.Context, symbol string) (*models.BorrowData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol)+c.quote)
	path := "/bapi/margin/v1/public/isolated-margin/pair/vip-spec?" + q.Encode()

	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch borrow data for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("borrow data for %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload vipSpecResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode borrow data for %s: %w", symbol, err)
	}
	if !payload.Success || len(payload.Data) == 0 {
		return nil, ErrNoBorrowData
	}

	tier := payload.Data[0]
	daily, _ := tier.DailyInterestRate.Float64()
	yearly, _ := tier.DailyInterestRate.Mul(daysPerYear).Float64()
	limit, _ := tier.BorrowLimit.Float64()

	return &models.BorrowData{
		DailyInterestRate:  daily,
		YearlyInterestRate: yearly,
		BorrowLimit:        limit,
		IsBorrowable:       tier.BorrowLimit.IsPositive(),
	}, nil
}

func (c *MarginClient) doRequest(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}
