package channel

import "errors"

var (
	// ErrChannelStart marks an invalid profile or endpoint. Fatal to that
	// channel's start attempt, never to the process.
	ErrChannelStart = errors.New("channel: invalid profile or endpoint")

	// ErrTransportFault marks a recoverable transport fault that triggers
	// a reconnect attempt.
	ErrTransportFault = errors.New("channel: transport fault")

	// ErrExhaustedRetries is surfaced when the reconnect budget is spent
	// and the channel becomes faulted.
	ErrExhaustedRetries = errors.New("channel: reconnect retries exhausted")

	// ErrNotConnected is returned by transport reads before Connect.
	ErrNotConnected = errors.New("channel: transport not connected")
)
