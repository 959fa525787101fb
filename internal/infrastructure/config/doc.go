// Package config handles loading and validating devsync core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DEVSYNC_*)
//   - Validation of required fields
//   - Default value handling, including queue retry policy and sync retention
//
// Sensitive values (MQTT password, remote token, JWT secret) should be set via
// environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Queue.BaseDelayDuration())
package config
