// Package discovery finds MQTT brokers on the local network via mDNS.
//
// Brokers advertising _mqtt._tcp (or the configured service type) are
// collected for a bounded browse window and turned into endpoint overrides
// that the cluster configuration appends after its static endpoints.
//
// Usage:
//
//	services, err := discovery.Browse(ctx, cfg.Discovery)
//	if err != nil {
//	    return err
//	}
//	for _, svc := range services {
//	    cfg.Cluster.Endpoints = append(cfg.Cluster.Endpoints, svc.Overrides())
//	}
package discovery
