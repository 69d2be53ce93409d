package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchCandles_ParsesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			[1700000000000, "100.0", "105.0", "99.0", "103.0", "10.5", 1700003600000],
			[1700003600000, "103.0", "108.0", "102.0", "107.0", "8.2", 1700007200000]
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	candles, err := c.FetchCandles(context.Background(), "ETHUSDT", "1h", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Close != 103.0 || candles[1].High != 108.0 {
		t.Errorf("unexpected parsed values: %+v", candles)
	}
	if candles[0].Symbol != "ETHUSDT" || candles[0].Timeframe != "1h" {
		t.Errorf("expected symbol/timeframe stamped on candle, got %+v", candles[0])
	}
}

func TestFetchCandles_MalformedRowFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000, "100.0", "90.0", "99.0", "103.0", "10.5"]]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	c.HTTP.Timeout = 0
	_, err := c.FetchCandles(context.Background(), "ETHUSDT", "1h", 1)
	if err == nil {
		t.Fatal("expected error for high < open")
	}
}

func TestFetchCandles_NonArrayBodyFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.FetchCandles(context.Background(), "ETHUSDT", "1h", 1)
	if err == nil {
		t.Fatal("expected error for non-array body")
	}
	if attempts != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, attempts)
	}
}
