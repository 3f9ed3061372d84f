// Package commsutil provides COMMS connection helpers and utilities.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

const (
	connectTimeout = 10 * time.Second
	reconnectWait  = 2 * time.Second
	// With reconnectWait this covers roughly two minutes of broker outage
	// before the connection gives up and the closed handler fires.
	maxReconnects = 60
)

// Connect dials the COMMS broker at url, identifying as name. The connection
// reconnects on its own; state changes are logged so an operator can follow
// broker trouble from the registry's own logs.
func Connect(url, name string) (*comms.Conn, error) {
	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(connectTimeout),
		comms.ReconnectWait(reconnectWait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - disconnected from COMMS: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - reconnected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to %s: %w", logPrefix, url, err)
	}

	slog.Info(fmt.Sprintf("%s - connected to COMMS at %s as %s", logPrefix, nc.ConnectedUrl(), name))
	return nc, nil
}
