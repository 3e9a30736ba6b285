package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

const wsHandshakeTimeout = 10 * time.Second

// WebsocketTransport connects to an exchange websocket feed and replays the
// configured subscribe frames after every successful dial.
type WebsocketTransport struct {
	url             string
	subscribeFrames [][]byte

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketTransport builds a transport for the given endpoint.
func NewWebsocketTransport(url string, subscribeFrames [][]byte) *WebsocketTransport {
	return &WebsocketTransport{
		url:             url,
		subscribeFrames: subscribeFrames,
	}
}

func (t *WebsocketTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return errors.Wrapf(ErrTransportFault, "dial %s: %v", t.url, err)
	}

	for _, frame := range t.subscribeFrames {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			_ = conn.Close()
			return errors.Wrapf(ErrTransportFault, "write subscribe frame: %v", err)
		}
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (t *WebsocketTransport) Read(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Close unblocks this read when the channel is stopped or forced down.
	_, payload, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(ErrTransportFault, "read: %v", err)
	}
	return payload, nil
}

func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
