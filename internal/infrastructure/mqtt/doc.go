// Package mqtt provides the paho-backed broker client used by brokerlink
// sessions.
//
// A Client targets exactly one endpoint and exposes asynchronous
// connect, subscribe, unsubscribe and publish operations that report
// completion through callbacks:
//   - Connection to one broker, plain TCP or TLS 1.2+
//   - Last Will and Testament taken from the endpoint configuration
//   - Topic name and filter validation before anything hits the wire
//   - Inbound messages and link loss forwarded to Callbacks
//
// # Architecture
//
// Reconnection, subscription replay and publish retry are deliberately
// absent here. paho's auto-reconnect is disabled and session.Connection
// drives the retry cycle through this client:
//
//	cluster.Supervisor → session.Connection → mqtt.Client → broker
//
// # Security Considerations
//
//   - TLS is required for production deployments (endpoint tls: true)
//   - Credentials are validated against broker ACL
//   - Endpoint.String never includes credentials
//
// # Usage
//
//	client := mqtt.New(ep, mqtt.Callbacks{
//	    OnConnectionLost: func(err error) { log.Printf("lost: %v", err) },
//	    OnMessage: func(topic string, payload []byte) {
//	        log.Printf("received: %s = %s", topic, payload)
//	    },
//	})
//	client.Connect(func(err error) {
//	    if err != nil {
//	        return
//	    }
//	    client.Subscribe("site/#", func(err error) {})
//	})
package mqtt
