// Package config handles loading and validating Haier bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HAIER_* environment variables
//   - Validation of required fields
//   - Default vendor endpoints and app credentials
//
// Security Considerations:
//   - The account refresh token grants full control of the household's
//     appliances; set it via HAIER_REFRESH_TOKEN rather than the file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Account.ClientID)
package config
