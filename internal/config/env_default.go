//go:build !dev

package config

// Release builds read configuration from the process environment only.
func loadDotEnv() error { return nil }
