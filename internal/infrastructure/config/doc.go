// Package config handles loading and validating the aircon bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file beside the YAML file
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling, including per-device defaults
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables or the .env file, not config.yaml
//   - The config and .env files should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.ID, d.Host, d.Port)
//	}
package config
