package normalize

import (
	"encoding/json"
	"strings"

	"github.com/yanun0323/errors"
)

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type krakenSubscribeRequest struct {
	Method string `json:"method"`
	Params struct {
		Channel string   `json:"channel"`
		Symbol  []string `json:"symbol"`
	} `json:"params"`
}

// SubscribeFrames builds the subscribe messages a websocket transport must
// replay after each dial to receive trades for the given symbols.
func SubscribeFrames(exchange string, symbols []string) ([][]byte, error) {
	switch strings.ToLower(exchange) {
	case "binance":
		params := make([]string, 0, len(symbols))
		for _, symbol := range symbols {
			stream := strings.ToLower(strings.ReplaceAll(symbol, "-", "")) + "@trade"
			params = append(params, stream)
		}
		frame, err := json.Marshal(binanceSubscribeRequest{
			Method: "SUBSCRIBE",
			Params: params,
			ID:     1,
		})
		if err != nil {
			return nil, errors.Wrap(err, "marshal binance subscribe")
		}
		return [][]byte{frame}, nil
	case "kraken":
		req := krakenSubscribeRequest{Method: "subscribe"}
		req.Params.Channel = "trade"
		req.Params.Symbol = append(req.Params.Symbol, symbols...)
		frame, err := json.Marshal(req)
		if err != nil {
			return nil, errors.Wrap(err, "marshal kraken subscribe")
		}
		return [][]byte{frame}, nil
	case "synthetic", "":
		return nil, nil
	default:
		return nil, errors.Errorf("no subscribe dialect for exchange %q", exchange)
	}
}
