package channel

import (
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/model/enum"
)

// Profile is the desired configuration of one ingestion channel.
type Profile struct {
	Exchange       string
	MarketType     enum.MarketType
	Transport      enum.Transport
	Endpoint       string
	Symbols        []string
	UpdateInterval time.Duration
	Enabled        bool
}

// Key identifies the profile: exactly one live channel may exist per key.
func (p Profile) Key() string {
	symbols := append([]string(nil), p.Symbols...)
	sort.Strings(symbols)
	return p.Exchange + "/" + p.Transport.String() + "/" + strings.Join(symbols, ",")
}

// Validate rejects profiles that can never produce a working channel.
func (p Profile) Validate() error {
	if p.Exchange == "" {
		return errors.Wrap(ErrChannelStart, "empty exchange")
	}
	if !p.Transport.IsAvailable() {
		return errors.Wrap(ErrChannelStart, "unknown transport")
	}
	if len(p.Symbols) == 0 {
		return errors.Wrap(ErrChannelStart, "no symbols")
	}
	if p.Transport == enum.TransportWebsocket && !strings.HasPrefix(p.Endpoint, "ws") {
		return errors.Wrapf(ErrChannelStart, "bad endpoint %q", p.Endpoint)
	}
	if p.UpdateInterval <= 0 {
		return errors.Wrap(ErrChannelStart, "non-positive update interval")
	}
	return nil
}
