// Package config loads the settings of the Citizen OS connect server from
// environment variables.
//
// Every field carries cleanenv `env` and `env-default` tags, so the whole
// tree is read with a single call:
//
//	settings, err := config.Load()
//	if err != nil {
//		slog.Error("Invalid configuration", "err", err)
//		os.Exit(-1)
//	}
//
// Load fills URLs that depend on others (home and login URL fall back to
// the site URL) and validates the result. Validation errors are collected
// into ValidationErrors so all problems are reported at once.
package config
