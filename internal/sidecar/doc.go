// Package sidecar runs a local MQTT broker alongside brokerlink.
//
// On edge hosts the remote cluster can be unreachable for long stretches.
// With the sidecar enabled, brokerlink starts a broker binary (typically
// mosquitto) in its own process group, waits for its port to accept
// connections and appends it to the endpoint list as the last resort.
//
// Features:
//   - Readiness wait on the listening port before the session starts
//   - Restart after unexpected exits, bounded by MaxRestarts
//   - Watchdog that kills the broker after repeated failed port probes
//   - Line-based capture of the broker's stdout and stderr
//   - SIGTERM to the process group on Stop, SIGKILL after StopTimeout
//
// Example usage:
//
//	b := sidecar.New(sidecar.FromConfig(cfg.Sidecar))
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
//	cfg.Cluster.Endpoints = append(cfg.Cluster.Endpoints, b.Overrides())
package sidecar
