package config

import (
	"fmt"
	"strings"
)

// validate performs basic sanity checks on the loaded configuration.
func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Adapter)) {
	case "rest":
		if strings.TrimSpace(b.BaseURL) == "" {
			return fmt.Errorf("broker.base_url is required for the rest adapter")
		}
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return fmt.Errorf("broker.api_key and broker.api_secret are required for the rest adapter")
		}
	case "binance":
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return fmt.Errorf("broker.api_key and broker.api_secret are required for the binance adapter")
		}
	case "paper":
	default:
		return fmt.Errorf("broker.adapter must be one of rest, binance, paper (got %q)", b.Adapter)
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if strings.TrimSpace(d.LedgerPath) == "" {
		return fmt.Errorf("database.ledger_path cannot be empty")
	}
	if strings.TrimSpace(d.AuditPath) == "" {
		return fmt.Errorf("database.audit_path cannot be empty")
	}
	return nil
}
