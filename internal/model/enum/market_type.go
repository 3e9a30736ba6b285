package enum

// MarketType is the market segment a channel profile subscribes to.
type MarketType uint8

const (
	_market_type_beg MarketType = iota
	MarketTypeSpot
	MarketTypeFutures
	_market_type_end
)

func (m MarketType) IsAvailable() bool {
	return m > _market_type_beg && m < _market_type_end
}

func (m MarketType) String() string {
	switch m {
	case MarketTypeSpot:
		return "spot"
	case MarketTypeFutures:
		return "futures"
	default:
		return "unknown"
	}
}

// ParseMarketType maps a config string to a MarketType.
func ParseMarketType(s string) (MarketType, bool) {
	switch s {
	case "spot":
		return MarketTypeSpot, true
	case "futures":
		return MarketTypeFutures, true
	default:
		return 0, false
	}
}
