package engine

import (
	"errors"

	"signal-trader/internal/autotrade"
	"signal-trader/internal/gateway"
	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/pkg/exchanges/common"
)

// CredentialMessage is the only text returned for rejected keys.
const CredentialMessage = "Invalid API credentials. Please check your keys."

// userMessage maps err onto text safe to return to the caller. Connector
// errors never embed keys or signatures, so their text passes through.
func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case common.IsCredentialError(err):
		return CredentialMessage
	case errors.Is(err, gateway.ErrConnectionNotFound):
		return "Exchange not connected"
	case errors.Is(err, gateway.ErrGatewayUnhealthy):
		return "Exchange temporarily unavailable, try again later"
	case errors.Is(err, common.ErrInvalidOrder),
		errors.Is(err, risk.ErrInvalidConfig),
		errors.Is(err, signal.ErrInvalidSignal),
		errors.Is(err, autotrade.ErrInvalidManualTrade),
		common.IsUnsupported(err):
		return err.Error()
	}
	var te *common.TransportError
	if errors.As(err, &te) {
		return te.Error()
	}
	return err.Error()
}
