package alert

import (
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"
)

// Rule kinds understood by the engine. Each kind documents its own
// parameter schema; unknown parameters are ignored.
const (
	// KindPriceThreshold fires on ticks outside [min_price, max_price].
	KindPriceThreshold = "price_threshold"
	// KindPriceChange fires on candles whose open-to-close move exceeds
	// max_change_pct percent.
	KindPriceChange = "price_change"
	// KindVolumeSpike fires on candles whose volume reaches min_volume.
	KindVolumeSpike = "volume_spike"
	// KindVolatility fires on window metrics whose volatility reaches
	// max_volatility.
	KindVolatility = "volatility"
)

// RuleConfig is one alert rule. Parameters are untyped string pairs parsed
// per kind at evaluation time; a rule with unparsable parameters is skipped
// and logged, never fatal.
//
// The optional "cooldown" parameter (a Go duration string) suppresses
// repeat firings of the same rule for the same source and symbol.
type RuleConfig struct {
	Name       string            `json:"name" yaml:"name"`
	Kind       string            `json:"kind" yaml:"kind"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Exchange   string            `json:"exchange,omitempty" yaml:"exchange"`
	Symbol     string            `json:"symbol,omitempty" yaml:"symbol"`
	Parameters map[string]string `json:"parameters" yaml:"parameters"`
}

// Matches reports whether the rule's optional filters accept the event.
// An absent filter matches everything.
func (r RuleConfig) Matches(exchange, symbol string) bool {
	if len(r.Exchange) > 0 && !strings.EqualFold(r.Exchange, exchange) {
		return false
	}
	if len(r.Symbol) > 0 && !strings.EqualFold(r.Symbol, symbol) {
		return false
	}
	return true
}

func (r RuleConfig) floatParam(key string) (float64, bool, error) {
	raw, ok := r.Parameters[key]
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "rule %s: parameter %s", r.Name, key)
	}
	return v, true, nil
}

func (r RuleConfig) cooldown() (time.Duration, error) {
	raw, ok := r.Parameters["cooldown"]
	if !ok {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "rule %s: parameter cooldown", r.Name)
	}
	return d, nil
}

// ValidateRules checks a rule set before it is swapped in: names must be
// well formed and unique, kinds known.
func ValidateRules(rules []RuleConfig) error {
	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if len(name) == 0 {
			return errors.Wrapf(ErrInvalidRuleSet, "rule with empty name")
		}
		if _, dup := seen[name]; dup {
			return errors.Wrapf(ErrInvalidRuleSet, "duplicate rule name %q", name)
		}
		seen[name] = struct{}{}
		switch rule.Kind {
		case KindPriceThreshold, KindPriceChange, KindVolumeSpike, KindVolatility:
		default:
			return errors.Wrapf(ErrInvalidRuleSet, "rule %q: unknown kind %q", name, rule.Kind)
		}
	}
	return nil
}
