package enum

// Transport identifies the wire mechanism a channel uses to reach a feed.
type Transport uint8

const (
	_transport_beg Transport = iota
	TransportWebsocket
	TransportSynthetic
	_transport_end
)

func (t Transport) IsAvailable() bool {
	return t > _transport_beg && t < _transport_end
}

func (t Transport) String() string {
	switch t {
	case TransportWebsocket:
		return "websocket"
	case TransportSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// ParseTransport maps a config string to a Transport.
func ParseTransport(s string) (Transport, bool) {
	switch s {
	case "websocket", "ws":
		return TransportWebsocket, true
	case "synthetic", "test":
		return TransportSynthetic, true
	default:
		return 0, false
	}
}
