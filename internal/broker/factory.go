package broker

import (
	"fmt"
	"time"

	"talon/internal/config"
)

// New builds the configured adapter. Paper trading overrides the adapter
// choice so a misconfigured live venue can never receive orders in dry runs.
func New(cfg *config.Config) (Broker, error) {
	bc := cfg.Broker
	if cfg.Trading.PaperTrading {
		return NewPaper(cfg.Trading.SimulateImmediateFill), nil
	}
	switch bc.Adapter {
	case "paper":
		return NewPaper(cfg.Trading.SimulateImmediateFill), nil
	case "rest":
		return NewREST(RESTOptions{
			BaseURL:          bc.BaseURL,
			APIKey:           bc.APIKey,
			APISecret:        bc.APISecret,
			Timeout:          time.Duration(bc.TimeoutSeconds) * time.Second,
			BreakerThreshold: bc.BreakerThreshold,
			BreakerCooldown:  time.Duration(bc.BreakerCooldownSecond) * time.Second,
		}), nil
	case "binance":
		return NewBinance(bc.APIKey, bc.APISecret, bc.Symbols), nil
	default:
		return nil, fmt.Errorf("broker: unknown adapter %q", bc.Adapter)
	}
}
