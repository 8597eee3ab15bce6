package mqtt

import (
	"crypto/tls"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultOperationTimeout bounds subscribe, unsubscribe and publish
	// acknowledgements.
	defaultOperationTimeout = 5 * time.Second

	// connectGrace is added to the endpoint connect timeout when waiting
	// on the connect token, so paho reports its own timeout first.
	connectGrace = 2 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix prefixes generated client identifiers.
	clientIDPrefix = "brokerlink-"
)

// buildClientOptions creates paho MQTT options for one endpoint.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID, generated when the endpoint leaves it empty
//   - Authentication credentials (if provided)
//   - Clean session mode with paho's own reconnect disabled
//   - Connect timeout and keepalive from the endpoint
//   - TLS configuration (if enabled)
//   - Last will (if both topic and payload are set)
//
// Retrying is owned by session.Connection, so paho must never reconnect on
// its own.
func buildClientOptions(ep config.Endpoint) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(ep.String())
	opts.SetClientID(clientID(ep))

	if ep.Username != "" {
		opts.SetUsername(ep.Username)
		opts.SetPassword(ep.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(ep.ConnectTimeout)
	if ep.KeepAlive > 0 {
		opts.SetKeepAlive(ep.KeepAlive)
	}

	if ep.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: ep.Host,
		})
	}

	configureLWT(opts, ep)

	return opts
}

// configureLWT sets the endpoint's last will, published by the broker if the
// client drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, ep config.Endpoint) {
	if !ep.HasLastWill() {
		return
	}
	opts.SetWill(ep.LastWillTopic, ep.LastWillPayload, ep.QoS, false)
}

func clientID(ep config.Endpoint) string {
	if ep.ClientID != "" {
		return ep.ClientID
	}
	return clientIDPrefix + uuid.NewString()
}

// connectWait returns how long to wait on a connect token.
func connectWait(ep config.Endpoint) time.Duration {
	return ep.ConnectTimeout + connectGrace
}
