// Package config loads gamefeed configuration from defaults, an optional
// YAML file and GAMEFEED_* environment variables, and hands each component
// its own configuration struct.
package config
