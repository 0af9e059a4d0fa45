package env

import "os"

const prefix = "TOPUP_"

// Get reads TOPUP_<key>, then the bare key, then falls back. Used for the few
// settings read before config.Load runs.
func Get(key, fallback string) string {
	if val := os.Getenv(prefix + key); val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
