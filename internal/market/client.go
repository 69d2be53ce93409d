// Package market fetches OHLCV candles for one trading pair from an
// upstream REST feed (Binance-shaped: GET /api/v3/klines).
//
// Grounded in the teacher's internal/market/dhan_data.go provider idiom
// (a *http.Client wrapped in a small config struct) but targets a
// Binance-style array-of-arrays klines REST shape rather than Dhan's
// POST /v2/charts/historical.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nitinkhare/cognitivetrader/internal/errs"
	"github.com/nitinkhare/cognitivetrader/internal/signal"
)

const (
	// retryBaseDelay is the initial backoff before the first retry.
	retryBaseDelay = 1 * time.Second
	// maxRetries is the number of *extra* attempts after the first try.
	maxRetries = 3
	// defaultTimeout is the per-request upstream timeout.
	defaultTimeout = 10 * time.Second
)

// Client fetches candles from the upstream klines endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client against baseURL (e.g. https://api.binance.com).
// A dedicated *http.Client with defaultTimeout is used unless httpClient is
// non-nil, matching the teacher's pattern of a shared, stateless client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

// FetchCandles retrieves the latest `limit` candles for (symbol, timeframe).
// It retries transport failures with exponential backoff (base 1s, doubled
// each attempt, up to maxRetries extra attempts). A non-array body or any
// malformed row fails the call with errs.ErrUpstreamUnavailable.
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Candle, error) {
	reqURL, err := c.buildURL(symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("market: build request url: %w", err)
	}

	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("market: %w: %w", errs.ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		candles, err := c.fetchOnce(ctx, reqURL, symbol, timeframe)
		if err == nil {
			return candles, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("market: %s %s: %w: %v", symbol, timeframe, errs.ErrUpstreamUnavailable, lastErr)
}

func (c *Client) buildURL(symbol, timeframe string, limit int) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = "/api/v3/klines"
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchOnce(ctx context.Context, reqURL, symbol, timeframe string) ([]signal.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("response is not a JSON array of arrays: %w", err)
	}

	candles := make([]signal.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseRow(row, symbol, timeframe)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// parseRow consumes only the first six columns of a klines row:
// [open_time_ms, open, high, low, close, volume, close_time_ms, ...].
func parseRow(row []json.RawMessage, symbol, timeframe string) (signal.Candle, error) {
	if len(row) < 6 {
		return signal.Candle{}, fmt.Errorf("expected at least 6 columns, got %d", len(row))
	}

	openTimeMs, err := decodeNumber(row[0])
	if err != nil {
		return signal.Candle{}, fmt.Errorf("open_time: %w", err)
	}
	open, err := decodeFloatish(row[1])
	if err != nil {
		return signal.Candle{}, fmt.Errorf("open: %w", err)
	}
	high, err := decodeFloatish(row[2])
	if err != nil {
		return signal.Candle{}, fmt.Errorf("high: %w", err)
	}
	low, err := decodeFloatish(row[3])
	if err != nil {
		return signal.Candle{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := decodeFloatish(row[4])
	if err != nil {
		return signal.Candle{}, fmt.Errorf("close: %w", err)
	}
	volume, err := decodeFloatish(row[5])
	if err != nil {
		return signal.Candle{}, fmt.Errorf("volume: %w", err)
	}

	if high < open || high < closePrice || low > open || low > closePrice || volume < 0 {
		return signal.Candle{}, fmt.Errorf("malformed OHLCV: high/low bounds violated")
	}

	return signal.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		OpenTime:  time.UnixMilli(int64(openTimeMs)).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

// decodeNumber parses a bare JSON number.
func decodeNumber(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	// Some feeds quote timestamps as strings; accept that too.
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(s, 64)
}

// decodeFloatish parses a JSON number that may be encoded as a string
// (Binance-style klines quote OHLCV columns as strings).
func decodeFloatish(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number or numeric string: %s", raw)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not parseable as float: %s", s)
	}
	return v, nil
}
