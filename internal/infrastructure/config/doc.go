// Package config handles loading and validating rollcall configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ROLLCALL_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Reader.Device)
package config
