// Package config loads runtime configuration from multiple sources (.settings
// files in JSON or YAML form, environment variables, CLI flags) with
// precedence: CLI flags > settings file > Environment variables > Defaults.
// It exposes strongly typed settings to the rest of the application.
package config
