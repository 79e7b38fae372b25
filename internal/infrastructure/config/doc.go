// Package config handles loading and validating AP Gateway configuration.
//
// Configuration comes from a YAML file with APGW_* environment variable
// overrides for deployment-specific and sensitive values (JWT secret,
// broker credentials, InfluxDB token). Validation runs once at load and
// rejects incomplete configuration before anything starts.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
