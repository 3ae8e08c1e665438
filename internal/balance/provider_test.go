package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

type stubClient struct {
	balances []common.Balance
	err      error
}

func (s *stubClient) Exchange() common.Exchange                    { return common.Binance }
func (s *stubClient) ValidateCredentials(ctx context.Context) bool { return s.err == nil }
func (s *stubClient) GetBalance(ctx context.Context) ([]common.Balance, error) {
	return s.balances, s.err
}
func (s *stubClient) GetPositions(ctx context.Context) ([]common.Position, error) { return nil, nil }
func (s *stubClient) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	return common.OrderResponse{}, nil
}
func (s *stubClient) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func TestExchangeBalance(t *testing.T) {
	tests := []struct {
		name    string
		client  *stubClient
		want    string
		unavail bool
	}{
		{
			name: "usdt present",
			client: &stubClient{balances: []common.Balance{
				{Asset: "BTC", Free: decimal.NewFromInt(1)},
				{Asset: "usdt", Free: decimal.NewFromInt(5000)},
			}},
			want: "5000",
		},
		{"missing asset", &stubClient{balances: []common.Balance{{Asset: "BTC", Free: decimal.NewFromInt(1)}}}, "", true},
		{"zero free", &stubClient{balances: []common.Balance{{Asset: "USDT"}}}, "", true},
		{"fetch error", &stubClient{err: errors.New("timeout")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewExchangeBalance(tt.client, "", nil)
			got, err := b.AvailableBalance(context.Background())
			if tt.unavail {
				if !common.IsDataUnavailable(err) {
					t.Fatalf("err=%v, expected DataUnavailableError", err)
				}
				return
			}
			if err != nil || got.String() != tt.want {
				t.Fatalf("balance=%s err=%v, expected %s", got, err, tt.want)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	if got, err := Static(decimal.NewFromInt(10)).AvailableBalance(context.Background()); err != nil || !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("got=%s err=%v", got, err)
	}
	if _, err := Static(decimal.Zero).AvailableBalance(context.Background()); !common.IsDataUnavailable(err) {
		t.Fatalf("err=%v, expected DataUnavailableError", err)
	}
}
