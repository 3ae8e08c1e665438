package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/pkg/logging"
)

const (
	DefaultStreamURL = "wss://stream.binance.com:9443"
	readTimeout      = 60 * time.Second
)

// StreamClient dials the combined-stream endpoint.
type StreamClient struct {
	BaseURL string
	Dialer  *websocket.Dialer
	log     logrus.FieldLogger
}

func NewStreamClient(baseURL string, log logrus.FieldLogger) *StreamClient {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &StreamClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Dialer:  websocket.DefaultDialer,
		log:     logging.OrDiscard(log).WithField("component", "binance_stream"),
	}
}

// AggTradeURL builds /stream?streams=btcusdt@aggTrade/ethusdt@aggTrade.
func (c *StreamClient) AggTradeURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@aggTrade")
	}
	return c.BaseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Stream is one live connection. C is closed when the connection ends; Err
// then reports why (nil after Close).
type Stream struct {
	C <-chan AggTrade

	conn *websocket.Conn
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Close ends the stream.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// Err returns the error that ended the stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		select {
		case <-s.done:
		default:
			s.err = err
		}
	}
	s.mu.Unlock()
}

// SubscribeAggTrades dials the aggTrade stream for symbols.
func (c *StreamClient) SubscribeAggTrades(ctx context.Context, symbols []string) (*Stream, error) {
	if len(symbols) == 0 {
		return nil, errors.New("no symbols to stream")
	}
	conn, _, err := c.Dialer.DialContext(ctx, c.AggTradeURL(symbols), nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance aggTrade stream: %w", err)
	}

	out := make(chan AggTrade, 256)
	s := &Stream{C: out, conn: conn, done: make(chan struct{})}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	go func() {
		defer close(out)
		defer s.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.fail(err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

			trade, ok, err := ParseAggTrade(msg)
			if err != nil {
				c.log.WithError(err).Warn("skip malformed aggTrade message")
				continue
			}
			if !ok {
				continue
			}
			select {
			case out <- trade:
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

// ParseAggTrade decodes a combined-stream or raw aggTrade payload. ok is false
// for other event types.
func ParseAggTrade(msg []byte) (AggTrade, bool, error) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return AggTrade{}, false, err
	}
	payload := msg
	if len(envelope.Data) > 0 {
		payload = envelope.Data
	}

	var raw struct {
		Event      string          `json:"e"`
		ID         int64           `json:"a"`
		Symbol     string          `json:"s"`
		Price      decimal.Decimal `json:"p"`
		Quantity   decimal.Decimal `json:"q"`
		TradeTime  int64           `json:"T"`
		BuyerMaker bool            `json:"m"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return AggTrade{}, false, err
	}
	if raw.Event != "aggTrade" {
		return AggTrade{}, false, nil
	}
	if raw.Symbol == "" || !raw.Price.IsPositive() {
		return AggTrade{}, false, fmt.Errorf("aggTrade missing symbol or price")
	}
	return AggTrade{
		ID:         raw.ID,
		Symbol:     raw.Symbol,
		Price:      raw.Price,
		Quantity:   raw.Quantity,
		TradeTime:  raw.TradeTime,
		BuyerMaker: raw.BuyerMaker,
	}, true, nil
}
