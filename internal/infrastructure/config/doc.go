// Package config handles loading and validating brokerlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - The three-tier endpoint merge (built-in defaults, cluster template,
//     per-endpoint overrides)
//
// Security Considerations:
//   - Broker credentials should be set via BROKERLINK_MQTT_USERNAME and
//     BROKERLINK_MQTT_PASSWORD rather than committed to the config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, ep := range cfg.Cluster.BuildEndpoints() {
//	    fmt.Println(ep)
//	}
package config
