package signal

import (
	"fmt"
	"math"
	"time"
)

// Technical readings. All but RSI range over [-100,100]; PriceChange and
// VolumeChange are percentages over the same lookback.
type Technical struct {
	RSI                float64 `json:"rsi"`
	MACD               float64 `json:"macd"`
	VolumeChange       float64 `json:"volumeChange"`
	OrderBookImbalance float64 `json:"orderBookImbalance"`
	PriceChange        float64 `json:"priceChange"`
}

type OnChain struct {
	WhaleActivity  float64 `json:"whaleActivity"`
	StablecoinFlow float64 `json:"stablecoinFlow"`
	ExchangeFlow   float64 `json:"exchangeFlow"`
}

// Sentiment readings; FearGreedIndex is 0-100.
type Sentiment struct {
	TwitterSentiment float64 `json:"twitterSentiment"`
	NewsSentiment    float64 `json:"newsSentiment"`
	FearGreedIndex   float64 `json:"fearGreedIndex"`
}

type Macro struct {
	DXYChange           float64 `json:"dxyChange"`
	StockMarketChange   float64 `json:"stockMarketChange"`
	TokenUnlockPressure float64 `json:"tokenUnlockPressure"`
}

// Inputs is everything the scorer needs for one symbol.
type Inputs struct {
	Symbol    string    `json:"symbol"`
	Technical Technical `json:"technical"`
	OnChain   OnChain   `json:"onChain"`
	Sentiment Sentiment `json:"sentiment"`
	Macro     Macro     `json:"macro"`
}

// Score is the scorer output; Signal carries the tradeable part.
type Score struct {
	Signal TradeSignal `json:"signal"`
	Final  float64     `json:"score"`
	// FakePump is set when a buy was downgraded because price rose on
	// falling volume.
	FakePump bool `json:"fakePump,omitempty"`
}

// Scorer turns factor readings into a TradeSignal. Each component starts at a
// neutral 50 and is clamped to [0,100]; the final score weights technical and
// on-chain at 0.3 and sentiment and macro at 0.2.
type Scorer struct {
	Now func() time.Time
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func technicalScore(t Technical) float64 {
	s := 50.0
	switch {
	case t.RSI < 30:
		s += 15
	case t.RSI > 70:
		s -= 15
	}
	s += t.MACD / 100 * 12.5
	s += t.VolumeChange / 100 * 12.5
	s += t.OrderBookImbalance / 100 * 10
	return clamp(s, 0, 100)
}

func onChainScore(o OnChain) float64 {
	s := 50 + o.WhaleActivity/100*20 + o.StablecoinFlow/100*17.5 + o.ExchangeFlow/100*12.5
	return clamp(s, 0, 100)
}

func sentimentScore(m Sentiment) float64 {
	s := 50 + m.TwitterSentiment/100*25 + m.NewsSentiment/100*15
	switch {
	case m.FearGreedIndex < 25:
		s += 10
	case m.FearGreedIndex > 75:
		s -= 10
	}
	return clamp(s, 0, 100)
}

func macroScore(m Macro) float64 {
	s := 50 - m.DXYChange/100*20 + m.StockMarketChange/100*17.5 - m.TokenUnlockPressure/100*12.5
	return clamp(s, 0, 100)
}

// Evaluate scores in and maps the final score onto an action band.
func (sc Scorer) Evaluate(in Inputs) Score {
	tech := technicalScore(in.Technical)
	chain := onChainScore(in.OnChain)
	sent := sentimentScore(in.Sentiment)
	mac := macroScore(in.Macro)
	final := tech*0.3 + chain*0.3 + sent*0.2 + mac*0.2

	var (
		action Action
		conf   float64
		reason string
	)
	switch {
	case final >= 75:
		action, conf = ActionBuy, (final-75)/25
		reason = fmt.Sprintf("Strong buy: technicals bullish (RSI %.1f), on-chain accumulation, positive sentiment.", in.Technical.RSI)
	case final >= 60:
		action, conf = ActionBuy, (final-60)/15
		reason = "Buy: multiple indicators aligned bullish."
	case final >= 40:
		action, conf = ActionHold, 0.5
		reason = "Neutral: no clear directional bias."
	case final >= 25:
		action, conf = ActionSell, (40-final)/15
		reason = "Sell: multiple bearish indicators present."
	default:
		action, conf = ActionSell, (25-final)/25
		reason = "Strong sell: technicals bearish, on-chain distribution, negative sentiment."
	}

	fake, fakeConf := DetectFakePump(in.Technical.PriceChange, in.Technical.VolumeChange)
	fake = fake && action == ActionBuy
	if fake {
		action, conf = ActionHold, fakeConf
		reason = fmt.Sprintf("Fake pump suspected: price %+.1f%% on volume %+.1f%%.", in.Technical.PriceChange, in.Technical.VolumeChange)
	}

	now := time.Now
	if sc.Now != nil {
		now = sc.Now
	}
	return Score{
		Final:    final,
		FakePump: fake,
		Signal: TradeSignal{
			Symbol:         in.Symbol,
			Action:         action,
			Confidence:     Confidence(clamp(conf, 0, 1)),
			TechnicalScore: tech,
			OnChainScore:   chain,
			SentimentScore: sent,
			MacroScore:     mac,
			Reasoning:      reason,
			Timestamp:      now(),
		},
	}
}

// DetectFakePump flags a price spike that volume does not confirm.
func DetectFakePump(priceChangePct, volumeChangePct float64) (fake bool, confidence float64) {
	switch {
	case priceChangePct > 10 && volumeChangePct < -20:
		return true, 0.85
	case priceChangePct < -10 && volumeChangePct > 20:
		return false, 0.9
	}
	return false, 0
}
