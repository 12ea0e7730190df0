package instrument

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssetClass partitions instruments into the categories the execution
// engine treats differently.
type AssetClass string

const (
	ClassEquity AssetClass = "equity"
	ClassCrypto AssetClass = "crypto"
)

// PatternTable drives classification. Crypto-likeness is decided by symbol
// shape alone: a separator anywhere, or one of the quote suffixes.
type PatternTable struct {
	Separators    []string `yaml:"separators"`
	QuoteSuffixes []string `yaml:"quote_suffixes"`
}

// DefaultPatterns matches the broker's symbol conventions: "BTC/USD" style
// pairs and suffix-quoted symbols like "BTCUSD" or "ETH-USD".
func DefaultPatterns() PatternTable {
	return PatternTable{
		Separators:    []string{"/"},
		QuoteSuffixes: []string{"USD", "-USD"},
	}
}

// LoadPatterns reads a YAML override table. Missing fields fall back to the
// defaults so an override file can extend just one list.
func LoadPatterns(path string) (PatternTable, error) {
	table := DefaultPatterns()
	raw, err := os.ReadFile(path)
	if err != nil {
		return table, err
	}
	var loaded PatternTable
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return table, err
	}
	if len(loaded.Separators) > 0 {
		table.Separators = loaded.Separators
	}
	if len(loaded.QuoteSuffixes) > 0 {
		table.QuoteSuffixes = loaded.QuoteSuffixes
	}
	return table, nil
}

// Classify returns the asset class for a symbol under the given table.
func (t PatternTable) Classify(symbol string) AssetClass {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return ClassEquity
	}
	for _, sep := range t.Separators {
		if strings.Contains(s, sep) {
			return ClassCrypto
		}
	}
	for _, suffix := range t.QuoteSuffixes {
		if strings.HasSuffix(s, strings.ToUpper(suffix)) {
			return ClassCrypto
		}
	}
	return ClassEquity
}

// IsCrypto reports whether symbol classifies as crypto under this table.
func (t PatternTable) IsCrypto(symbol string) bool {
	return t.Classify(symbol) == ClassCrypto
}

// IsCrypto reports whether symbol classifies as crypto under the default
// table. Call sites must not duplicate the substring heuristics.
func IsCrypto(symbol string) bool {
	return DefaultPatterns().IsCrypto(symbol)
}

// Normalize upper-cases and trims a symbol for use as a ledger key.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
