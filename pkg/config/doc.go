// Package config loads runtime configuration from the environment. Every
// setting has a default; nothing is required to start the daemon.
package config
