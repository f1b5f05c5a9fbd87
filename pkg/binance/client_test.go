package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchBorrowData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bapi/margin/v1/public/isolated-margin/pair/vip-spec" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q, want BTCUSDT", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":[{"dailyInterestRate":"0.0002","borrowLimit":"150"},{"dailyInterestRate":"0.0001","borrowLimit":"300"}]}`))
	}))
	defer server.Close()

	client := NewMarginClient(server.URL, "USDT", 0)
	data, err := client.FetchBorrowData(context.Background(), "btc")
	if err != nil {
		t.Fatalf("FetchBorrowData() error = %v", err)
	}
	if data.DailyInterestRate != 0.0002 {
		t.Errorf("DailyInterestRate = %v, want 0.0002", data.DailyInterestRate)
	}
	if data.YearlyInterestRate != 0.073 {
		t.Errorf("YearlyInterestRate = %v, want 0.073", data.YearlyInterestRate)
	}
	if data.BorrowLimit != 150 || !data.IsBorrowable {
		t.Errorf("BorrowLimit = %v, IsBorrowable = %v", data.BorrowLimit, data.IsBorrowable)
	}
}

func TestFetchBorrowDataZeroLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[{"dailyInterestRate":"0.001","borrowLimit":"0"}]}`))
	}))
	defer server.Close()

	data, err := NewMarginClient(server.URL, "", 0).FetchBorrowData(context.Background(), "XYZ")
	if err != nil {
		t.Fatalf("FetchBorrowData() error = %v", err)
	}
	if data.IsBorrowable {
		t.Error("IsBorrowable = true for zero limit")
	}
}

func TestFetchBorrowDataFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"empty data", http.StatusOK, `{"success":true,"data":[]}`, ErrNoBorrowData},
		{"unsuccessful", http.StatusOK, `{"success":false}`, ErrNoBorrowData},
		{"server error", http.StatusInternalServerError, `oops`, nil},
		{"malformed", http.StatusOK, `{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			data, err := NewMarginClient(server.URL, "USDT", 0).FetchBorrowData(context.Background(), "BTC")
			if err == nil {
				t.Fatalf("expected error, got %+v", data)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
