// Package influxdb exports connection lifecycle events to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each event becomes
// one point in the mqtt_lifecycle measurement, tagged with the event name
// and endpoint, so reconnect storms and fallovers can be graphed over time.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // export turned off
//	}
//	defer client.Close()
//
//	go client.Run(ctx, sub.C())
//
// # Error Handling
//
// Writes are non-blocking and batched; failures arrive asynchronously via
// SetOnError. Connection and health check errors are returned directly.
package influxdb
